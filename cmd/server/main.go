package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Sets GOMEMLIMIT from the cgroup memory limit when there is one.
	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/AxelAdjami/Projet-SIR/internal/adapter/driven/gateway/ws"
	"github.com/AxelAdjami/Projet-SIR/internal/adapter/driven/metrics"
	handler "github.com/AxelAdjami/Projet-SIR/internal/adapter/driving/http"
	"github.com/AxelAdjami/Projet-SIR/internal/config"
	"github.com/AxelAdjami/Projet-SIR/internal/core/port"
	"github.com/AxelAdjami/Projet-SIR/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:          "signal-relay",
		Short:        "WebRTC signaling relay",
		Long:         "Assigns each websocket client an id and relays offer/answer/candidate/bye messages between ids.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnv(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	f.StringVar(&cfg.TLSCertFile, "tls-cert", "", "TLS certificate file (PEM); serves HTTPS when set with --tls-key")
	f.StringVar(&cfg.TLSKeyFile, "tls-key", "", "TLS private key file (PEM)")
	f.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory of client assets served at /; empty disables")
	f.StringVar(&cfg.ICE.ServersJSON, "ice-servers-json", "", `JSON list of ICE servers, e.g. [{"urls":"stun:host:3478"}]; overrides --stun-urls/--turn-*`)
	f.StringVar(&cfg.ICE.STUNURLs, "stun-urls", cfg.ICE.STUNURLs, "comma-separated STUN urls")
	f.StringVar(&cfg.ICE.TURNURLs, "turn-urls", "", "comma-separated TURN urls")
	f.StringVar(&cfg.ICE.TURNUsername, "turn-username", "", "TURN username")
	f.StringVar(&cfg.ICE.TURNCredential, "turn-credential", "", "TURN credential")
	f.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "largest inbound websocket message; larger ones close the connection")
	f.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "outbound messages buffered per client before relayed messages are dropped")
	f.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "websocket ping interval")
	f.DurationVar(&cfg.PongWait, "pong-wait", cfg.PongWait, "how long a silent client is kept before its connection is dropped")
	f.DurationVar(&cfg.WriteWait, "write-wait", cfg.WriteWait, "websocket write timeout")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	f.StringVar((*string)(&cfg.LogFormat), "log-format", string(cfg.LogFormat), "log format (console, json)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address for the Prometheus metrics server (e.g. :9090); disabled if empty")

	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// envFlags maps flags to the environment variables read when the flag is
// not given on the command line.
var envFlags = map[string]string{
	"addr":             "SIGNAL_ADDR",
	"tls-cert":         "SIGNAL_TLS_CERT",
	"tls-key":          "SIGNAL_TLS_KEY",
	"static-dir":       "SIGNAL_STATIC_DIR",
	"ice-servers-json": "SIGNAL_ICE_SERVERS_JSON",
	"stun-urls":        "SIGNAL_STUN_URLS",
	"turn-urls":        "SIGNAL_TURN_URLS",
	"turn-username":    "SIGNAL_TURN_USERNAME",
	"turn-credential":  "SIGNAL_TURN_CREDENTIAL",
	"log-level":        "SIGNAL_LOG_LEVEL",
	"log-format":       "SIGNAL_LOG_FORMAT",
	"metrics-addr":     "SIGNAL_METRICS_ADDR",
}

func applyEnv(cmd *cobra.Command) {
	for name, env := range envFlags {
		if cmd.Flags().Changed(name) {
			continue
		}
		if v, ok := os.LookupEnv(env); ok {
			_ = cmd.Flags().Set(name, v)
		}
	}
}

func newLogger(out io.Writer, level string, format config.LogFormat) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	if format == config.LogFormatConsole {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger(), nil
}

func run(ctx context.Context, cfg config.Config) error {
	l, err := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log.Logger = l

	iceServers, err := cfg.ICE.Servers()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var relayMetrics port.RelayMetrics
	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listen on %s: %w", cfg.MetricsAddr, err)
		}
		m := metrics.New()
		relayMetrics = m
		go func() {
			if err := m.Serve(ctx, ln); err != nil {
				l.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	hub := ws.NewHub()
	go hub.Run()

	relay := service.NewRelayService(hub, iceServers, relayMetrics)
	h := handler.NewHandler(relay, handler.Options{
		StaticDir:       cfg.StaticDir,
		HSTS:            cfg.TLSEnabled(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendQueue:       cfg.SendQueue,
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Addr).Bool("tls", cfg.TLSEnabled()).Int("ice_servers", len(iceServers)).Msg("Starting server")
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		hub.Stop()
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	l.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Websocket connections are hijacked and not covered by Shutdown.
	hub.Stop()
	l.Info().Msg("Server exited")
	return nil
}
