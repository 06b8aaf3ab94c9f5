package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
	"github.com/AxelAdjami/Projet-SIR/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Reasons a message was not delivered.
const (
	DropMalformed     = "malformed"
	DropMissingTarget = "missing_target"
	DropInvalidTarget = "invalid_target"
	DropPeerNotFound  = "peer_not_found"
	DropSendFailed    = "send_failed"
)

const maxIDAttempts = 8

// RelayService assigns identities and routes signaling messages between
// them. It never answers a sender: undeliverable messages are dropped.
type RelayService struct {
	registry   port.PeerRegistry
	iceServers []webrtc.ICEServer
	metrics    port.RelayMetrics
}

func NewRelayService(registry port.PeerRegistry, iceServers []webrtc.ICEServer, metrics port.RelayMetrics) *RelayService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &RelayService{
		registry:   registry,
		iceServers: iceServers,
		metrics:    metrics,
	}
}

// OnConnect picks a fresh identity, builds the peer for it and registers it.
// The peer's first two messages are hello and iceServers.
func (s *RelayService) OnConnect(ctx context.Context, newPeer func(domain.PeerID) port.Peer) (port.Peer, error) {
	iceServers, err := domain.NewICEServers(s.iceServers)
	if err != nil {
		return nil, fmt.Errorf("encode ice servers: %w", err)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := domain.NewPeerID()
		hello, err := domain.NewHello(id)
		if err != nil {
			return nil, fmt.Errorf("encode hello: %w", err)
		}

		peer := newPeer(id)
		err = s.registry.Register(ctx, id, peer, hello, iceServers)
		if errors.Is(err, domain.ErrPeerExists) {
			log.Warn().Str("client_id", id.String()).Msg("Peer id collision, drawing a new one")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("register peer: %w", err)
		}

		s.metrics.PeerConnected()
		log.Info().Str("client_id", id.String()).Msg("Peer connected")
		return peer, nil
	}
	return nil, fmt.Errorf("register peer: %w after %d attempts", domain.ErrPeerExists, maxIDAttempts)
}

// OnMessage routes one raw client message from sender to the peer named in
// its "id" field, with "id" rewritten to sender.
func (s *RelayService) OnMessage(ctx context.Context, sender domain.PeerID, raw []byte) {
	l := log.With().Str("client_id", sender.String()).Logger()

	env, err := domain.DecodeEnvelope(raw)
	if err != nil {
		reason := DropMalformed
		switch {
		case errors.Is(err, domain.ErrMissingTarget):
			reason = DropMissingTarget
		case errors.Is(err, domain.ErrInvalidTarget):
			reason = DropInvalidTarget
		}
		l.Warn().Err(err).Msg("Dropping invalid message")
		s.metrics.MessageDropped(reason)
		return
	}

	payload, err := env.Rewrite(sender)
	if err != nil {
		l.Error().Err(err).Str("type", string(env.Kind)).Msg("Failed to encode relayed message")
		s.metrics.MessageDropped(DropMalformed)
		return
	}

	err = s.registry.Forward(ctx, env.Target, payload)
	switch {
	case err == nil:
		l.Debug().Str("type", string(env.Kind)).Str("peer_id", env.Target.String()).Msg("Relayed message")
		s.metrics.MessageRelayed(env.Kind)
	case errors.Is(err, domain.ErrPeerNotFound):
		l.Debug().Str("type", string(env.Kind)).Str("peer_id", env.Target.String()).Msg("Peer not found")
		s.metrics.MessageDropped(DropPeerNotFound)
	default:
		l.Warn().Err(err).Str("type", string(env.Kind)).Str("peer_id", env.Target.String()).Msg("Failed to relay message")
		s.metrics.MessageDropped(DropSendFailed)
	}
}

// OnNonTextFrame records a frame that is not a signaling message. The frame
// is not routed.
func (s *RelayService) OnNonTextFrame(sender domain.PeerID) {
	log.Debug().Str("client_id", sender.String()).Msg("Ignoring non-text frame")
	s.metrics.MessageDropped(DropMalformed)
}

// OnDisconnect drops peer from the routing table. Nobody is notified.
func (s *RelayService) OnDisconnect(ctx context.Context, peer port.Peer) error {
	if err := s.registry.Unregister(ctx, peer.ID(), peer); err != nil {
		return err
	}
	s.metrics.PeerDisconnected()
	log.Info().Str("client_id", peer.ID().String()).Msg("Peer disconnected")
	return nil
}

type nopMetrics struct{}

func (nopMetrics) PeerConnected() {}

func (nopMetrics) PeerDisconnected() {}

func (nopMetrics) MessageRelayed(domain.Kind) {}

func (nopMetrics) MessageDropped(string) {}
