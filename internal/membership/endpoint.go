// Package membership implements the ring topology and view that together
// answer "who is a member, and who watches whom" for a single configuration.
package membership

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Endpoint uniquely identifies a process on the network by host and port.
// It is totally ordered by its string form, used for deterministic
// tie-breaking anywhere a stable sort over endpoints is required.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint builds an Endpoint from host and port.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port}
}

// ParseEndpoint parses the "host:port" wire form produced by String.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing port", s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return Endpoint{Host: s[:idx], Port: port}, nil
}

// String returns the canonical "host:port" wire form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Less orders endpoints by their string form, for tie-breaking.
func (e Endpoint) Less(other Endpoint) bool {
	return e.String() < other.String()
}

// NodeId is an opaque 128-bit identifier assigned at join time. It decouples
// "this process incarnation" from its Endpoint, so a crash-restart on the
// same endpoint is recognizably a different member.
type NodeId uuid.UUID

// NewNodeId generates a fresh, random NodeId.
func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

// ParseNodeId parses the canonical 36-char textual form of a NodeId.
func ParseNodeId(s string) (NodeId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeId(id), nil
}

// String returns the canonical 36-char textual form.
func (n NodeId) String() string {
	return uuid.UUID(n).String()
}

// Equal reports whether two NodeIds refer to the same incarnation.
func (n NodeId) Equal(other NodeId) bool {
	return uuid.UUID(n) == uuid.UUID(other)
}
