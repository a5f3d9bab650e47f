package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/pkg/rapiderrors"
)

// MemoryNetwork is an in-process Sender/Handler fabric: every registered
// endpoint delivers directly into its Handler with no serialization and no
// socket involved. It exists so the protocol layers above transport can be
// tested without a real network, while still exercising the exact Sender
// and Handler interfaces the TCP implementation satisfies.
type MemoryNetwork struct {
	mu       sync.RWMutex
	handlers map[membership.Endpoint]Handler
}

// NewMemoryNetwork builds an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{handlers: make(map[membership.Endpoint]Handler)}
}

// Register binds endpoint to h. Any Sender created against this network can
// now reach endpoint.
func (n *MemoryNetwork) Register(endpoint membership.Endpoint, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[endpoint] = h
}

// Unregister removes endpoint, simulating that node going offline: further
// sends to it fail as unavailable.
func (n *MemoryNetwork) Unregister(endpoint membership.Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, endpoint)
}

// NewSender returns a Sender that presents as self to every peer it talks
// to over this network.
func (n *MemoryNetwork) NewSender(self membership.Endpoint) Sender {
	return &memorySender{network: n, self: self}
}

type memorySender struct {
	network *MemoryNetwork
	self    membership.Endpoint
}

func (s *memorySender) Send(ctx context.Context, to membership.Endpoint, msg *Message) (*Message, error) {
	s.network.mu.RLock()
	h, ok := s.network.handlers[to]
	s.network.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: %s unavailable: %w", to, rapiderrors.ErrUnavailable)
	}

	type result struct {
		reply *Message
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := h.HandleMessage(ctx, s.self, msg)
		done <- result{reply, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.reply, r.err
	}
}

func (s *memorySender) SendBestEffort(to membership.Endpoint, msg *Message) {
	s.network.mu.RLock()
	h, ok := s.network.handlers[to]
	s.network.mu.RUnlock()
	if !ok {
		return
	}
	go func() {
		_, _ = h.HandleMessage(context.Background(), s.self, msg)
	}()
}

func (s *memorySender) Close() error { return nil }
