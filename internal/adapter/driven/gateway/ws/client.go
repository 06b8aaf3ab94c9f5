package ws

import (
	"sync"
	"time"

	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type ClientOptions struct {
	SendQueue    int
	WriteWait    time.Duration
	PingInterval time.Duration
}

// WSClient is the outbound side of one websocket. Send only queues; the
// frames are written by WritePump.
//
// implements port.Peer
type WSClient struct {
	id   domain.PeerID
	conn *websocket.Conn
	opts ClientOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSClient(id domain.PeerID, conn *websocket.Conn, opts ClientOptions) *WSClient {
	return &WSClient{
		id:   id,
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendQueue),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() domain.PeerID {
	return c.id
}

func (c *WSClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return domain.ErrPeerClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

// Close stops the write pump, which sends a close frame and releases the
// connection.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// WritePump owns all data writes on the connection until the client is
// closed or a write fails. It also sends the keepalive pings.
func (c *WSClient) WritePump() {
	l := log.With().Str("client_id", c.id.String()).Logger()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
			return

		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				l.Error().Err(err).Msg("Error setting write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				l.Error().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				l.Debug().Err(err).Msg("Error sending ping")
				return
			}
		}
	}
}
