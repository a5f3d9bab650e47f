package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
)

type fakeProber struct {
	mu   sync.Mutex
	fail map[membership.Endpoint]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{fail: make(map[membership.Endpoint]bool)}
}

func (f *fakeProber) Probe(ctx context.Context, target membership.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[target] {
		return errors.New("probe failed")
	}
	return nil
}

func (f *fakeProber) setFailing(target membership.Endpoint, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[target] = failing
}

func TestPingPongDetectorDebouncesBeforeMarkingDown(t *testing.T) {
	prober := newFakeProber()
	target := membership.NewEndpoint("10.0.0.2", 2)
	prober.setFailing(target, true)

	var transitions []membership.EdgeStatus
	d := NewPingPongDetector(prober, time.Hour, 3, func(_ membership.Endpoint, status membership.EdgeStatus) {
		transitions = append(transitions, status)
	})

	for i := 0; i < 2; i++ {
		_ = d.Check(context.Background(), target)
		if d.HasFailed(target) {
			t.Fatalf("detector marked DOWN after only %d consecutive failures, threshold is 3", i+1)
		}
	}

	_ = d.Check(context.Background(), target)
	if !d.HasFailed(target) {
		t.Fatal("detector should be DOWN after 3 consecutive failures")
	}
	if len(transitions) != 1 || transitions[0] != membership.EdgeStatusDown {
		t.Fatalf("expected exactly one DOWN transition, got %v", transitions)
	}
}

func TestPingPongDetectorRecoversOnSuccessfulProbe(t *testing.T) {
	prober := newFakeProber()
	target := membership.NewEndpoint("10.0.0.2", 2)
	prober.setFailing(target, true)

	var transitions []membership.EdgeStatus
	d := NewPingPongDetector(prober, time.Hour, 2, func(_ membership.Endpoint, status membership.EdgeStatus) {
		transitions = append(transitions, status)
	})

	_ = d.Check(context.Background(), target)
	_ = d.Check(context.Background(), target)
	if !d.HasFailed(target) {
		t.Fatal("expected target to be DOWN")
	}

	prober.setFailing(target, false)
	_ = d.Check(context.Background(), target)
	if d.HasFailed(target) {
		t.Fatal("expected target to recover to UP after a successful probe")
	}
	if len(transitions) != 2 || transitions[1] != membership.EdgeStatusUp {
		t.Fatalf("expected UP transition to follow DOWN, got %v", transitions)
	}
}

func TestPingPongDetectorDoesNotNotifyOnEveryFailure(t *testing.T) {
	prober := newFakeProber()
	target := membership.NewEndpoint("10.0.0.2", 2)
	prober.setFailing(target, true)

	notifyCount := 0
	d := NewPingPongDetector(prober, time.Hour, 2, func(_ membership.Endpoint, _ membership.EdgeStatus) {
		notifyCount++
	})

	for i := 0; i < 10; i++ {
		_ = d.Check(context.Background(), target)
	}
	if notifyCount != 1 {
		t.Fatalf("expected exactly one notification despite repeated failures, got %d", notifyCount)
	}
}

func TestOnMembershipChangeDiscardsStateForDroppedEndpoints(t *testing.T) {
	prober := newFakeProber()
	a := membership.NewEndpoint("10.0.0.2", 2)
	b := membership.NewEndpoint("10.0.0.3", 3)
	prober.setFailing(a, true)

	d := NewPingPongDetector(prober, time.Hour, 1, nil)
	_ = d.Check(context.Background(), a)
	if !d.HasFailed(a) {
		t.Fatal("expected a to be DOWN")
	}

	d.OnMembershipChange([]membership.Endpoint{b})
	if d.HasFailed(a) {
		t.Fatal("OnMembershipChange should discard bookkeeping for endpoints no longer observed")
	}
}

func TestNewPingPongDetectorAppliesDefaults(t *testing.T) {
	d := NewPingPongDetector(newFakeProber(), 0, 0, nil)
	if d.interval != DefaultProbeInterval {
		t.Fatalf("interval = %v, want default %v", d.interval, DefaultProbeInterval)
	}
	if d.failureThreshold != DefaultFailureThreshold {
		t.Fatalf("failureThreshold = %d, want default %d", d.failureThreshold, DefaultFailureThreshold)
	}
}
