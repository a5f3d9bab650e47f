// Package broadcast implements the best-effort unreliable broadcast layer
// every higher protocol component (link updates, consensus proposals,
// Paxos messages) fans its messages out through.
package broadcast

import (
	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/transport"
)

// Layer fans a message out to a set of destinations over a Sender,
// fire-and-forget. It gives no delivery or ordering guarantee: both the TCP
// and the in-memory sender run each best-effort send on its own goroutine,
// so two messages to the same destination may arrive in either order.
// Callers must treat message loss as the common case.
type Layer struct {
	sender transport.Sender
}

// New builds a broadcast layer over sender.
func New(sender transport.Sender) *Layer {
	return &Layer{sender: sender}
}

// Broadcast fires msg at every endpoint in destinations without waiting for
// any reply.
func (l *Layer) Broadcast(destinations []membership.Endpoint, msg *transport.Message) {
	for _, dst := range destinations {
		l.sender.SendBestEffort(dst, msg)
	}
}

// BroadcastExcept is Broadcast with self omitted, the common case for a
// node fanning a message out to the rest of the configuration.
func (l *Layer) BroadcastExcept(destinations []membership.Endpoint, self membership.Endpoint, msg *transport.Message) {
	for _, dst := range destinations {
		if dst == self {
			continue
		}
		l.sender.SendBestEffort(dst, msg)
	}
}
