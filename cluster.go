// Package rapid is the public entry point for running a node in a
// membership cluster: starting the first node of a cluster, joining an
// existing one, reading the current view, and subscribing to membership
// change events.
package rapid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mdhvn/rapid/internal/detector"
	"github.com/mdhvn/rapid/internal/join"
	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/service"
	"github.com/mdhvn/rapid/internal/transport"
)

// joinTimeout bounds the whole two-phase handshake a Join call runs before
// giving up, independent of the per-RPC timeouts inside it.
const joinTimeout = 30 * time.Second

// options collects everything an Option can customize about a Cluster
// before it is built.
type options struct {
	metadata           map[string]string
	detectorFactory    detector.Factory
	serverInterceptors []transport.Interceptor
	clientInterceptors []transport.Interceptor
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option customizes a Cluster at Start or Join time.
type Option func(*options)

// WithMetadata attaches application metadata to this node's entry in its
// own Metadata(). Members hand their configuration's metadata to nodes that
// join through them, but a joiner's metadata is not taken from its join
// request, so members already in the cluster do not learn it.
func WithMetadata(metadata map[string]string) Option {
	return func(o *options) { o.metadata = metadata }
}

// WithLinkFailureDetectorFactory overrides the default ping-pong failure
// detector with a custom one, wired the same way: called once with the
// node's own edge-status callback.
func WithLinkFailureDetectorFactory(factory detector.Factory) Option {
	return func(o *options) { o.detectorFactory = factory }
}

// WithServerInterceptors wraps every inbound RPC this node answers with
// the given interceptors, outermost first.
func WithServerInterceptors(interceptors ...transport.Interceptor) Option {
	return func(o *options) { o.serverInterceptors = append(o.serverInterceptors, interceptors...) }
}

// WithClientInterceptors wraps every outbound RPC this node sends with the
// given interceptors, outermost first.
func WithClientInterceptors(interceptors ...transport.Interceptor) Option {
	return func(o *options) { o.clientInterceptors = append(o.clientInterceptors, interceptors...) }
}

// Cluster is a running membership node: a protocol loop (internal/service),
// a TCP listener answering inbound RPCs, and a sender dialing out to peers.
type Cluster struct {
	self   membership.Endpoint
	svc    *service.Service
	server *transport.TCPServer
	sender transport.Sender
	cancel context.CancelFunc

	mu              sync.Mutex
	lastMembers     map[membership.Endpoint]struct{}
	pendingProposal []NodeStatusChange
}

// Start brings up a brand-new single-node cluster listening on listenAddr.
// Other nodes join it by calling Join against listenAddr as their seed.
func Start(listenAddr membership.Endpoint, opts ...Option) (*Cluster, error) {
	o := buildOptions(opts)

	nodeId := membership.NewNodeId()
	view, err := membership.NewView(service.DefaultOptions().K, []membership.NodeId{nodeId}, []membership.Endpoint{listenAddr})
	if err != nil {
		return nil, fmt.Errorf("rapid: start: building initial view: %w", err)
	}
	initial := membership.Configuration{
		ConfigurationID: view.ConfigurationID(),
		Members:         []membership.Endpoint{listenAddr},
		Ids:             []membership.NodeId{nodeId},
		Metadata:        map[membership.Endpoint]map[string]string{listenAddr: o.metadata},
	}

	sender := transport.WithClientInterceptors(transport.NewTCPSender(listenAddr, transport.DefaultConf()), o.clientInterceptors...)
	return bootstrap(listenAddr, initial, o, sender)
}

// Join runs the two-phase join handshake against seedAddr and, once
// admitted, brings up a node listening on listenAddr as a member of the
// configuration it was admitted into.
func Join(listenAddr, seedAddr membership.Endpoint, opts ...Option) (*Cluster, error) {
	o := buildOptions(opts)

	sender := transport.WithClientInterceptors(transport.NewTCPSender(listenAddr, transport.DefaultConf()), o.clientInterceptors...)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	result, err := join.Join(ctx, sender, listenAddr, seedAddr, o.metadata, join.DefaultConfig())
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("rapid: join: %w", err)
	}

	metadata := result.ClusterMetadata
	if metadata == nil {
		metadata = make(map[membership.Endpoint]map[string]string, len(result.Hosts))
	}
	if o.metadata != nil {
		metadata[listenAddr] = o.metadata
	}
	initial := membership.Configuration{
		ConfigurationID: result.ConfigurationID,
		Members:         result.Hosts,
		Ids:             result.Identifiers,
		Metadata:        metadata,
	}

	c, err := bootstrap(listenAddr, initial, o, sender)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func bootstrap(self membership.Endpoint, initial membership.Configuration, o options, sender transport.Sender) (*Cluster, error) {
	detectorFactory := o.detectorFactory
	if detectorFactory == nil {
		detectorFactory = defaultDetectorFactory(sender, self)
	}

	svc, err := service.New(self, service.DefaultOptions(), sender, detectorFactory, initial)
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("rapid: building service: %w", err)
	}

	c := &Cluster{
		self:        self,
		svc:         svc,
		sender:      sender,
		lastMembers: make(map[membership.Endpoint]struct{}, len(initial.Members)),
	}
	for _, e := range initial.Members {
		c.lastMembers[e] = struct{}{}
	}

	handler := transport.WithServerInterceptors(svc, o.serverInterceptors...)
	server, err := transport.Listen(self.String(), handler)
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("rapid: listen on %s: %w", self, err)
	}
	c.server = server

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	svc.Run(ctx)

	return c, nil
}

func defaultDetectorFactory(sender transport.Sender, self membership.Endpoint) detector.Factory {
	prober := transport.Prober{Sender: sender, Self: self}
	return func(onChange detector.StatusChangeFunc) detector.LinkFailureDetector {
		return detector.NewPingPongDetector(prober, detector.DefaultProbeInterval, detector.DefaultFailureThreshold, onChange)
	}
}

// MemberList returns the current configuration's members.
func (c *Cluster) MemberList() []membership.Endpoint { return c.svc.MemberList() }

// MembershipSize returns the current configuration's member count.
func (c *Cluster) MembershipSize() int { return c.svc.MembershipSize() }

// Metadata returns the per-endpoint application metadata attached at Start
// or Join time, keyed by endpoint.
func (c *Cluster) Metadata() map[membership.Endpoint]map[string]string { return c.svc.Metadata() }

// Subscribe registers cb to be called whenever event fires. cb receives
// the set of endpoints affected and their resulting status; it runs on the
// protocol loop and must not block.
func (c *Cluster) Subscribe(event Event, cb func([]NodeStatusChange)) {
	switch event {
	case EventViewChangeProposal:
		c.svc.Subscribe(service.EventViewChangeProposal, func(payload any) {
			p, ok := payload.(service.ViewChangeProposal)
			if !ok {
				return
			}
			changes := c.diffProposal(p.Proposal)
			c.mu.Lock()
			c.pendingProposal = changes
			c.mu.Unlock()
			cb(changes)
		})
	case EventViewChange:
		c.svc.Subscribe(service.EventViewChange, func(payload any) {
			v, ok := payload.(service.ViewChange)
			if !ok {
				return
			}
			cb(c.diffMembers(v.Hosts))
		})
	case EventViewChangeOneStepFailed:
		c.svc.Subscribe(service.EventViewChangeOneStepFailed, func(payload any) {
			c.mu.Lock()
			changes := c.pendingProposal
			c.mu.Unlock()
			cb(changes)
		})
	case EventKicked:
		c.svc.Subscribe(service.EventKicked, func(payload any) {
			k, ok := payload.(service.Kicked)
			if !ok {
				return
			}
			cb([]NodeStatusChange{{Endpoint: k.Endpoint, Status: membership.EdgeStatusDown}})
		})
	}
}

// diffMembers computes the set of endpoints that joined or left relative
// to the last committed configuration this Cluster observed, and advances
// that baseline to newHosts.
func (c *Cluster) diffMembers(newHosts []membership.Endpoint) []NodeStatusChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	newSet := make(map[membership.Endpoint]struct{}, len(newHosts))
	for _, e := range newHosts {
		newSet[e] = struct{}{}
	}

	metadata := c.svc.Metadata()
	var changes []NodeStatusChange
	for e := range newSet {
		if _, ok := c.lastMembers[e]; !ok {
			changes = append(changes, NodeStatusChange{Endpoint: e, Status: membership.EdgeStatusUp, Metadata: metadata[e]})
		}
	}
	for e := range c.lastMembers {
		if _, ok := newSet[e]; !ok {
			changes = append(changes, NodeStatusChange{Endpoint: e, Status: membership.EdgeStatusDown})
		}
	}

	c.lastMembers = newSet
	return changes
}

// diffProposal labels each proposed endpoint UP or DOWN by whether it is
// currently a member: a proposal naming a current member is proposing its
// removal, one naming a stranger is proposing its admission.
func (c *Cluster) diffProposal(proposal []membership.Endpoint) []NodeStatusChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := make([]NodeStatusChange, len(proposal))
	for i, e := range proposal {
		status := membership.EdgeStatusUp
		if _, ok := c.lastMembers[e]; ok {
			status = membership.EdgeStatusDown
		}
		changes[i] = NodeStatusChange{Endpoint: e, Status: status}
	}
	return changes
}

// Shutdown stops the protocol loop, closes the listener, and tears down
// every pooled outbound connection.
func (c *Cluster) Shutdown() error {
	c.cancel()
	c.svc.Stop()

	err := c.server.Stop()
	if cerr := c.sender.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
