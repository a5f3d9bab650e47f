package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/transport"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []membership.Endpoint
}

func (h *recordingHandler) HandleMessage(ctx context.Context, from membership.Endpoint, msg *transport.Message) (*transport.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, from)
	return nil, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestBroadcastFansOutToAllDestinations(t *testing.T) {
	net := transport.NewMemoryNetwork()
	self := membership.NewEndpoint("10.0.0.1", 1)
	a := membership.NewEndpoint("10.0.0.2", 2)
	b := membership.NewEndpoint("10.0.0.3", 3)

	handlerA := &recordingHandler{}
	handlerB := &recordingHandler{}
	net.Register(a, handlerA)
	net.Register(b, handlerB)

	layer := New(net.NewSender(self))
	layer.Broadcast([]membership.Endpoint{a, b}, &transport.Message{
		Type:  transport.MsgProbe,
		Probe: &transport.ProbeMessage{Sender: self},
	})

	deadline := time.Now().Add(time.Second)
	for (handlerA.count() == 0 || handlerB.count() == 0) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if handlerA.count() != 1 {
		t.Fatalf("handlerA received %d messages, want 1", handlerA.count())
	}
	if handlerB.count() != 1 {
		t.Fatalf("handlerB received %d messages, want 1", handlerB.count())
	}
}

func TestBroadcastExceptSkipsSelf(t *testing.T) {
	net := transport.NewMemoryNetwork()
	self := membership.NewEndpoint("10.0.0.1", 1)
	other := membership.NewEndpoint("10.0.0.2", 2)

	selfHandler := &recordingHandler{}
	otherHandler := &recordingHandler{}
	net.Register(self, selfHandler)
	net.Register(other, otherHandler)

	layer := New(net.NewSender(self))
	layer.BroadcastExcept([]membership.Endpoint{self, other}, self, &transport.Message{
		Type:  transport.MsgProbe,
		Probe: &transport.ProbeMessage{Sender: self},
	})

	deadline := time.Now().Add(time.Second)
	for otherHandler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if selfHandler.count() != 0 {
		t.Fatal("BroadcastExcept must not send to self")
	}
	if otherHandler.count() != 1 {
		t.Fatalf("otherHandler received %d messages, want 1", otherHandler.count())
	}
}
