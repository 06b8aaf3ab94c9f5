package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
	"github.com/AxelAdjami/Projet-SIR/internal/core/port"
	"github.com/rs/zerolog/log"
)

type registerRequest struct {
	id       domain.PeerID
	peer     port.Peer
	preamble [][]byte
	reply    chan error
}

type unregisterRequest struct {
	id    domain.PeerID
	peer  port.Peer
	reply chan error
}

type forwardRequest struct {
	target  domain.PeerID
	payload []byte
	reply   chan error
}

// Hub is the routing table. The map is owned by the Run goroutine; every
// insert, delete and lookup-then-send is a request it serves in turn, so a
// message can never be handed to a peer that has already been removed.
//
// implements port.PeerRegistry
type Hub struct {
	peers      map[domain.PeerID]port.Peer
	register   chan registerRequest
	unregister chan unregisterRequest
	forward    chan forwardRequest
	count      chan chan int
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		peers:      make(map[domain.PeerID]port.Peer),
		register:   make(chan registerRequest),
		unregister: make(chan unregisterRequest),
		forward:    make(chan forwardRequest),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for id, peer := range h.peers {
				if err := peer.Close(); err != nil {
					log.Error().Err(err).Str("client_id", id.String()).Msg("Error closing peer")
				}
				delete(h.peers, id)
			}
			return

		case req := <-h.register:
			req.reply <- h.add(req)

		case req := <-h.unregister:
			if cur, ok := h.peers[req.id]; ok && cur == req.peer {
				delete(h.peers, req.id)
				log.Debug().Int("count", len(h.peers)).Str("client_id", req.id.String()).Msg("Peer unregistered")
				req.reply <- nil
			} else {
				req.reply <- domain.ErrPeerNotFound
			}

		case req := <-h.forward:
			peer, ok := h.peers[req.target]
			if !ok {
				req.reply <- domain.ErrPeerNotFound
				continue
			}
			req.reply <- peer.Send(req.payload)

		case reply := <-h.count:
			reply <- len(h.peers)
		}
	}
}

func (h *Hub) add(req registerRequest) error {
	if _, ok := h.peers[req.id]; ok {
		return domain.ErrPeerExists
	}
	for _, msg := range req.preamble {
		if err := req.peer.Send(msg); err != nil {
			return fmt.Errorf("queue preamble: %w", err)
		}
	}
	h.peers[req.id] = req.peer
	log.Debug().Int("count", len(h.peers)).Str("client_id", req.id.String()).Msg("Peer registered")
	return nil
}

func (h *Hub) Register(ctx context.Context, id domain.PeerID, peer port.Peer, preamble ...[]byte) error {
	reply := make(chan error, 1)
	return call(ctx, h, h.register, registerRequest{id: id, peer: peer, preamble: preamble, reply: reply}, reply)
}

func (h *Hub) Unregister(ctx context.Context, id domain.PeerID, peer port.Peer) error {
	reply := make(chan error, 1)
	return call(ctx, h, h.unregister, unregisterRequest{id: id, peer: peer, reply: reply}, reply)
}

func (h *Hub) Forward(ctx context.Context, target domain.PeerID, payload []byte) error {
	reply := make(chan error, 1)
	return call(ctx, h, h.forward, forwardRequest{target: target, payload: payload, reply: reply}, reply)
}

// Len returns the number of registered peers, or 0 once the hub is stopped.
func (h *Hub) Len() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Stop closes every registered peer and waits for Run to return. Calls made
// afterwards fail with domain.ErrRegistryClosed.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// call hands req to the Run goroutine. Once accepted, a reply is always sent.
func call[T any](ctx context.Context, h *Hub, ch chan<- T, req T, reply <-chan error) error {
	select {
	case ch <- req:
		return <-reply
	case <-h.done:
		return domain.ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
