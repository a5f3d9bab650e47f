package rapid

import (
	"net"
	"testing"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
)

// freeEndpoint asks the OS for an unused TCP port on localhost and returns
// it as an Endpoint without holding the listener open, so the caller's own
// Listen call can bind it.
func freeEndpoint(t *testing.T) membership.Endpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeEndpoint: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()
	return membership.NewEndpoint("127.0.0.1", addr.Port)
}

func TestStartBringsUpSingleNodeCluster(t *testing.T) {
	seed := freeEndpoint(t)
	c, err := Start(seed)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Shutdown()

	if got := c.MembershipSize(); got != 1 {
		t.Fatalf("MembershipSize() = %d, want 1", got)
	}
	members := c.MemberList()
	if len(members) != 1 || members[0] != seed {
		t.Fatalf("MemberList() = %v, want [%v]", members, seed)
	}
}

func TestJoinAdmitsSecondNode(t *testing.T) {
	seedAddr := freeEndpoint(t)
	seed, err := Start(seedAddr, WithMetadata(map[string]string{"role": "seed"}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer seed.Shutdown()

	viewChanged := make(chan []NodeStatusChange, 1)
	seed.Subscribe(EventViewChange, func(changes []NodeStatusChange) {
		select {
		case viewChanged <- changes:
		default:
		}
	})

	joinerAddr := freeEndpoint(t)
	joiner, err := Join(joinerAddr, seedAddr, WithMetadata(map[string]string{"role": "joiner"}))
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer joiner.Shutdown()

	if got := joiner.MembershipSize(); got != 2 {
		t.Fatalf("joiner MembershipSize() = %d, want 2", got)
	}

	select {
	case changes := <-viewChanged:
		found := false
		for _, ch := range changes {
			if ch.Endpoint == joinerAddr && ch.Status == membership.EdgeStatusUp {
				found = true
			}
		}
		if !found {
			t.Fatalf("VIEW_CHANGE changes = %v, want an UP entry for %v", changes, joinerAddr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("seed never fired VIEW_CHANGE after the join")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seed.MembershipSize() != 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := seed.MembershipSize(); got != 2 {
		t.Fatalf("seed MembershipSize() = %d, want 2", got)
	}
}
