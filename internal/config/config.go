// Package config holds the relay's runtime settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

const (
	DefaultAddr            = ":8443"
	DefaultStaticDir       = "./static"
	DefaultMaxMessageBytes = int64(64 * 1024)
	DefaultSendQueue       = 64
	DefaultPingInterval    = 20 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatConsole
)

// minSendQueue leaves room for hello and iceServers.
const minSendQueue = 2

type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string
	StaticDir   string

	ICE ICEConfig

	MaxMessageBytes int64
	SendQueue       int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat LogFormat

	MetricsAddr string
}

func Default() Config {
	return Config{
		Addr:            DefaultAddr,
		StaticDir:       DefaultStaticDir,
		ICE:             ICEConfig{STUNURLs: DefaultSTUNURL},
		MaxMessageBytes: DefaultMaxMessageBytes,
		SendQueue:       DefaultSendQueue,
		PingInterval:    DefaultPingInterval,
		PongWait:        DefaultPongWait,
		WriteWait:       DefaultWriteWait,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max message bytes must be > 0, got %d", c.MaxMessageBytes))
	}
	if c.SendQueue < minSendQueue {
		errs = append(errs, fmt.Errorf("send queue must be >= %d, got %d", minSendQueue, c.SendQueue))
	}
	if c.PingInterval <= 0 || c.PongWait <= 0 || c.WriteWait <= 0 {
		errs = append(errs, errors.New("ping interval, pong wait and write wait must be > 0"))
	} else if c.PingInterval >= c.PongWait {
		errs = append(errs, fmt.Errorf("ping interval (%s) must be shorter than pong wait (%s)", c.PingInterval, c.PongWait))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be > 0, got %s", c.ShutdownTimeout))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if _, err := c.ICE.Servers(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
