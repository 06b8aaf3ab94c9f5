package domain

import "errors"

var (
	// Inbound decoding.
	ErrMalformed     = errors.New("malformed signaling message")
	ErrMissingTarget = errors.New("signaling message has no target id")
	ErrInvalidTarget = errors.New("signaling message target id is not a peer id")

	// Routing table.
	ErrPeerNotFound   = errors.New("peer not found")
	ErrPeerExists     = errors.New("peer id already registered")
	ErrRegistryClosed = errors.New("peer registry closed")

	// Outbound handle.
	ErrPeerClosed    = errors.New("peer closed")
	ErrSendQueueFull = errors.New("peer send queue full")
)
