package domain

import (
	"github.com/google/uuid"
)

// PeerID is the opaque identity the relay hands to a connection. It is the
// only addressing key in the routing table.
type PeerID uuid.UUID

// NilPeerID is never assigned to a connection.
var NilPeerID PeerID

func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

func ParsePeerID(s string) (PeerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilPeerID, err
	}
	return PeerID(id), nil
}

func (id PeerID) String() string {
	return uuid.UUID(id).String()
}
