package http

import (
	"context"
	"net/http"
	"time"

	"github.com/AxelAdjami/Projet-SIR/internal/adapter/driven/gateway/ws"
	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
	"github.com/AxelAdjami/Projet-SIR/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// No origin policy: the relay does not authenticate its peers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	clientOpts := ws.ClientOptions{
		SendQueue:    h.opts.SendQueue,
		WriteWait:    h.opts.WriteWait,
		PingInterval: h.opts.PingInterval,
	}
	peer, err := h.Relay.OnConnect(r.Context(), func(id domain.PeerID) port.Peer {
		return ws.NewWSClient(id, conn, clientOpts)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to register client")
		conn.Close()
		return
	}
	client := peer.(*ws.WSClient)

	l := log.With().Str("client_id", client.ID().String()).Logger()

	go client.WritePump()

	defer func() {
		if rec := recover(); rec != nil {
			l.Error().Interface("panic", rec).Msg("Panic in read loop")
		}
		if err := h.Relay.OnDisconnect(context.Background(), client); err != nil {
			l.Debug().Err(err).Msg("Client already gone from routing table")
		}
		client.Close()
	}()

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	}
	if err := extend(); err != nil {
		l.Error().Err(err).Msg("Error setting read deadline")
		return
	}
	conn.SetPongHandler(func(string) error { return extend() })

	// listening for browser
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		if err := extend(); err != nil {
			break
		}
		if mt != websocket.TextMessage {
			h.Relay.OnNonTextFrame(client.ID())
			continue
		}

		h.Relay.OnMessage(r.Context(), client.ID(), data)
	}
}
