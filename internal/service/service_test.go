package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mdhvn/rapid/internal/detector"
	"github.com/mdhvn/rapid/internal/join"
	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/transport"
)

func noopDetectorFactory(net *transport.MemoryNetwork, self membership.Endpoint) func(detector.StatusChangeFunc) detector.LinkFailureDetector {
	return func(onChange detector.StatusChangeFunc) detector.LinkFailureDetector {
		prober := transport.Prober{Sender: net.NewSender(self), Self: self}
		return detector.NewPingPongDetector(prober, time.Hour, detector.DefaultFailureThreshold, onChange)
	}
}

func singleMemberConfig(self membership.Endpoint) membership.Configuration {
	id := membership.NewNodeId()
	view, err := membership.NewView(1, []membership.NodeId{id}, []membership.Endpoint{self})
	if err != nil {
		panic(err)
	}
	return membership.Configuration{
		ConfigurationID: view.ConfigurationID(),
		Members:         []membership.Endpoint{self},
		Ids:             []membership.NodeId{id},
	}
}

func TestServiceInstallsInitialConfiguration(t *testing.T) {
	net := transport.NewMemoryNetwork()
	self := membership.NewEndpoint("10.0.0.1", 1)
	initial := singleMemberConfig(self)

	opts := Options{K: 1, L: 0, H: 1, RPCTimeout: time.Second, FastPathWindow: time.Second, FallbackBaseTimeout: 50 * time.Millisecond}
	svc, err := New(self, opts, net.NewSender(self), noopDetectorFactory(net, self), initial)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := svc.MembershipSize(); got != 1 {
		t.Fatalf("MembershipSize() = %d, want 1", got)
	}
	members := svc.MemberList()
	if len(members) != 1 || members[0] != self {
		t.Fatalf("MemberList() = %v, want [%v]", members, self)
	}
	if svc.ConfigurationID() != initial.ConfigurationID {
		t.Fatalf("ConfigurationID() = %d, want %d", svc.ConfigurationID(), initial.ConfigurationID)
	}
}

// bootstrapCluster builds a running n-node cluster sharing one
// MemoryNetwork and one initial Configuration, and registers each
// Service as the handler for its own endpoint.
func bootstrapCluster(t *testing.T, n int, opts Options) (*transport.MemoryNetwork, []membership.Endpoint, []*Service) {
	t.Helper()

	net := transport.NewMemoryNetwork()
	endpoints := make([]membership.Endpoint, n)
	ids := make([]membership.NodeId, n)
	for i := 0; i < n; i++ {
		endpoints[i] = membership.NewEndpoint("10.0.0.1", 100+i)
		ids[i] = membership.NewNodeId()
	}
	view, err := membership.NewView(opts.K, ids, endpoints)
	if err != nil {
		t.Fatalf("NewView: %v", err)
	}
	initial := membership.Configuration{
		ConfigurationID: view.ConfigurationID(),
		Members:         endpoints,
		Ids:             ids,
	}

	services := make([]*Service, n)
	for i, e := range endpoints {
		svc, err := New(e, opts, net.NewSender(e), noopDetectorFactory(net, e), initial)
		if err != nil {
			t.Fatalf("New(%s): %v", e, err)
		}
		net.Register(e, svc)
		services[i] = svc
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		for _, svc := range services {
			svc.Stop()
		}
	})
	for _, svc := range services {
		svc.Run(ctx)
	}
	return net, endpoints, services
}

func TestServiceJoinEndToEndCommitsNewConfiguration(t *testing.T) {
	opts := Options{K: 4, L: 1, H: 3, RPCTimeout: time.Second, FastPathWindow: time.Second, FallbackBaseTimeout: 50 * time.Millisecond}
	net, endpoints, services := bootstrapCluster(t, 3, opts)

	var viewChanges int
	var mu sync.Mutex
	for _, svc := range services {
		svc.Subscribe(EventViewChange, func(payload any) {
			mu.Lock()
			viewChanges++
			mu.Unlock()
		})
	}

	joiner := membership.NewEndpoint("10.0.0.1", 200)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := join.Join(ctx, net.NewSender(joiner), joiner, endpoints[0], map[string]string{"role": "test"}, join.DefaultConfig())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	found := false
	for _, e := range result.Hosts {
		if e == joiner {
			found = true
		}
	}
	if !found {
		t.Fatalf("committed configuration %v does not include the joiner %v", result.Hosts, joiner)
	}
	if len(result.Hosts) != 4 {
		t.Fatalf("committed configuration has %d members, want 4", len(result.Hosts))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := viewChanges >= 3
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if viewChanges < 3 {
		t.Fatalf("expected all 3 original members to fire VIEW_CHANGE, got %d", viewChanges)
	}

	for _, svc := range services {
		if svc.ConfigurationID() != result.ConfigurationID {
			t.Errorf("node %s did not converge: ConfigurationID() = %d, want %d", svc.Self(), svc.ConfigurationID(), result.ConfigurationID)
		}
		if svc.MembershipSize() != 4 {
			t.Errorf("node %s MembershipSize() = %d, want 4", svc.Self(), svc.MembershipSize())
		}
	}
}

func TestServiceAnswersHostnameAlreadyInRingForExistingEndpoint(t *testing.T) {
	opts := Options{K: 4, L: 1, H: 3, RPCTimeout: time.Second, FastPathWindow: time.Second, FallbackBaseTimeout: 50 * time.Millisecond}
	net, _, services := bootstrapCluster(t, 1, opts)

	svc := services[0]
	existing := svc.MemberList()[0]
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, existing, &transport.Message{
		Type: transport.MsgJoin,
		Join: &transport.JoinMessage{
			Sender:          existing,
			NodeId:          membership.NewNodeId(),
			ConfigurationID: transport.UnknownConfigurationID,
		},
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.JoinResponse.StatusCode != transport.JoinStatusHostnameAlreadyInRing {
		t.Fatalf("StatusCode = %v, want HOSTNAME_ALREADY_IN_RING", reply.JoinResponse.StatusCode)
	}
	_ = net
}

func TestServiceSubscribeFiresViewChangeProposalOnWatermarkEmission(t *testing.T) {
	opts := Options{K: 2, L: 0, H: 2, RPCTimeout: time.Second, FastPathWindow: time.Second, FallbackBaseTimeout: 50 * time.Millisecond}
	_, endpoints, services := bootstrapCluster(t, 2, opts)
	svc := services[0]
	other := endpoints[1]

	received := make(chan ViewChangeProposal, 1)
	svc.Subscribe(EventViewChangeProposal, func(payload any) {
		if p, ok := payload.(ViewChangeProposal); ok {
			received <- p
		}
	})

	// Drive the detector's own callback directly, as PingPongDetector
	// would after debouncing a real failed probe.
	svc.handleEdgeStatusChange(other, membership.EdgeStatusDown)

	select {
	case p := <-received:
		if len(p.Proposal) != 1 || p.Proposal[0] != other {
			t.Fatalf("proposal = %v, want [%v]", p.Proposal, other)
		}
	case <-time.After(time.Second):
		t.Fatal("expected VIEW_CHANGE_PROPOSAL after a 2-member watermark buffer crosses both watermarks on a single edge report")
	}
}
