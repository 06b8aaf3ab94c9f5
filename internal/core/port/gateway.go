package port

import (
	"context"

	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
)

// PeerRegistry is the routing table: identity -> live peer.
type PeerRegistry interface {
	// Register inserts peer under id after queueing preamble to it, so the
	// preamble precedes anything routed to id. A live duplicate id yields
	// domain.ErrPeerExists.
	Register(ctx context.Context, id domain.PeerID, peer Peer, preamble ...[]byte) error
	// Unregister removes id if it still maps to peer, else it returns
	// domain.ErrPeerNotFound. The removal is applied when Unregister returns.
	Unregister(ctx context.Context, id domain.PeerID, peer Peer) error
	// Forward looks up target and queues payload to it in one step.
	Forward(ctx context.Context, target domain.PeerID, payload []byte) error
}

// RelayMetrics receives relay events. Implementations must be safe for
// concurrent use.
type RelayMetrics interface {
	PeerConnected()
	PeerDisconnected()
	MessageRelayed(kind domain.Kind)
	MessageDropped(reason string)
}
