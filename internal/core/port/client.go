package port

import "github.com/AxelAdjami/Projet-SIR/internal/core/domain"

// Peer is the outbound half of one live connection.
type Peer interface {
	ID() domain.PeerID
	// Send queues payload without waiting for the transport. It fails with
	// domain.ErrSendQueueFull or domain.ErrPeerClosed.
	Send(payload []byte) error
	Close() error
}
