package transport

import (
	"context"
	"fmt"

	"github.com/mdhvn/rapid/internal/detector"
	"github.com/mdhvn/rapid/internal/membership"
)

// Handler processes an inbound Message and returns the reply to write back
// to the sender, or nil for fire-and-forget message types that expect no
// reply (e.g. BatchedLinkUpdate). A call may block until its reply is ready
// (a phase-2 join waits for the next configuration); the TCP server runs
// each connection on its own goroutine and handles that connection's frames
// one at a time.
type Handler interface {
	HandleMessage(ctx context.Context, from membership.Endpoint, msg *Message) (*Message, error)
}

// Sender is the narrow outbound dependency every protocol component needs.
// Implementations own connection lifecycle, retries, and deadlines; callers
// only see a request/response or fire-and-forget call.
type Sender interface {
	// Send performs a request/response round trip to to and returns the
	// reply. It is subject to the caller's deadline via ctx.
	Send(ctx context.Context, to membership.Endpoint, msg *Message) (*Message, error)

	// SendBestEffort fires msg at to without waiting for a reply. Used by
	// the broadcast layer, where message loss is the common case.
	SendBestEffort(to membership.Endpoint, msg *Message)

	// Close releases all resources held by the sender (connection pools,
	// background goroutines).
	Close() error
}

// Prober adapts a Sender into the detector.Prober interface the failure
// detector depends on, so the failure detector never needs to know the
// wire format of a probe.
type Prober struct {
	Sender Sender
	Self   membership.Endpoint
}

// Probe implements detector.Prober.
func (p Prober) Probe(ctx context.Context, target membership.Endpoint) error {
	reply, err := p.Sender.Send(ctx, target, &Message{
		Type:  MsgProbe,
		Probe: &ProbeMessage{Sender: p.Self},
	})
	if err != nil {
		return err
	}
	if reply == nil || reply.Type != MsgProbeResponse || reply.ProbeResponse == nil {
		return fmt.Errorf("transport: malformed probe response from %s", target)
	}
	return nil
}

var _ detector.Prober = Prober{}

// Interceptor wraps one call to next, on either side of the wire: a server
// interceptor wraps Handler.HandleMessage, a client interceptor wraps
// Sender.Send. Both have the same shape, so one type serves both chains.
type Interceptor func(ctx context.Context, peer membership.Endpoint, msg *Message, next func(context.Context, membership.Endpoint, *Message) (*Message, error)) (*Message, error)

// chain composes interceptors around final so the first interceptor in the
// slice runs outermost.
func chain(interceptors []Interceptor, final func(context.Context, membership.Endpoint, *Message) (*Message, error)) func(context.Context, membership.Endpoint, *Message) (*Message, error) {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		prev := next
		next = func(ctx context.Context, peer membership.Endpoint, msg *Message) (*Message, error) {
			return ic(ctx, peer, msg, prev)
		}
	}
	return next
}

type interceptedHandler struct {
	call func(context.Context, membership.Endpoint, *Message) (*Message, error)
}

func (h interceptedHandler) HandleMessage(ctx context.Context, from membership.Endpoint, msg *Message) (*Message, error) {
	return h.call(ctx, from, msg)
}

// WithServerInterceptors wraps handler so every inbound call passes through
// interceptors, first-listed outermost, before reaching handler itself.
func WithServerInterceptors(handler Handler, interceptors ...Interceptor) Handler {
	if len(interceptors) == 0 {
		return handler
	}
	return interceptedHandler{call: chain(interceptors, handler.HandleMessage)}
}

type interceptedSender struct {
	Sender
	call func(context.Context, membership.Endpoint, *Message) (*Message, error)
}

func (s interceptedSender) Send(ctx context.Context, to membership.Endpoint, msg *Message) (*Message, error) {
	return s.call(ctx, to, msg)
}

// WithClientInterceptors wraps sender so every outbound Send passes through
// interceptors, first-listed outermost, before reaching sender itself.
// SendBestEffort and Close are passed through unwrapped.
func WithClientInterceptors(sender Sender, interceptors ...Interceptor) Sender {
	if len(interceptors) == 0 {
		return sender
	}
	return interceptedSender{Sender: sender, call: chain(interceptors, sender.Send)}
}
