package membership

import "testing"

type report struct {
	observer, observed Endpoint
	ring               int
	status             EdgeStatus
}

func TestNewWatermarkBufferRejectsBadThresholds(t *testing.T) {
	if _, err := NewWatermarkBuffer(10, 9, 4, 1); err == nil {
		t.Fatal("expected error when l >= h")
	}
	if _, err := NewWatermarkBuffer(10, 4, 11, 1); err == nil {
		t.Fatal("expected error when h > k")
	}
}

func TestWatermarkBufferEmitsOnlyWhenNoEndpointIsUnstable(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	observed := NewEndpoint("10.0.0.2", 2)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}

	var proposal *Proposal
	for ring := 0; ring < 8; ring++ {
		p, err := w.ReportEdgeStatus(observer, observed, ring, EdgeStatusDown, 1)
		if err != nil {
			t.Fatalf("ReportEdgeStatus: %v", err)
		}
		if p != nil {
			t.Fatalf("unexpected emission at ring %d: crossed L (4) but not H (9) yet", ring)
		}
		proposal = p
	}
	if proposal != nil {
		t.Fatal("buffer emitted before any endpoint crossed H")
	}

	// The 9th distinct ring report crosses H; since observed is the only
	// endpoint above L, aboveL == aboveH and the buffer must emit now.
	p, err := w.ReportEdgeStatus(observer, observed, 8, EdgeStatusDown, 1)
	if err != nil {
		t.Fatalf("ReportEdgeStatus: %v", err)
	}
	if p == nil {
		t.Fatal("expected emission once the sole unstable endpoint crosses H")
	}
	if len(p.Endpoints) != 1 || p.Endpoints[0] != observed {
		t.Fatalf("unexpected proposal endpoints: %v", p.Endpoints)
	}
}

func TestWatermarkBufferWithholdsWhileAnyEndpointStillUnstable(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	stable := NewEndpoint("10.0.0.2", 2)
	unstable := NewEndpoint("10.0.0.3", 3)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}

	// unstable only crosses L, never H: the buffer must withhold emission
	// for as long as unstable sits in the gap between L and H, even once
	// stable crosses H.
	for ring := 0; ring < 5; ring++ {
		p, err := w.ReportEdgeStatus(observer, unstable, ring, EdgeStatusDown, 1)
		if err != nil {
			t.Fatalf("ReportEdgeStatus(unstable): %v", err)
		}
		if p != nil {
			t.Fatal("buffer must not emit while an endpoint remains between L and H")
		}
	}
	for ring := 0; ring < 9; ring++ {
		p, err := w.ReportEdgeStatus(observer, stable, ring, EdgeStatusDown, 1)
		if err != nil {
			t.Fatalf("ReportEdgeStatus(stable): %v", err)
		}
		if p != nil {
			t.Fatal("buffer must not emit while an endpoint remains between L and H")
		}
	}
}

func TestWatermarkBufferIsOrderInsensitive(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	a := NewEndpoint("10.0.0.2", 2)
	b := NewEndpoint("10.0.0.3", 3)

	var reports []report
	for ring := 0; ring < 9; ring++ {
		reports = append(reports, report{observer, a, ring, EdgeStatusDown})
		reports = append(reports, report{observer, b, ring, EdgeStatusDown})
	}

	run := func(order []report) *Proposal {
		w, err := NewWatermarkBuffer(10, 4, 9, 1)
		if err != nil {
			t.Fatalf("NewWatermarkBuffer: %v", err)
		}
		var last *Proposal
		for _, r := range order {
			p, err := w.ReportEdgeStatus(r.observer, r.observed, r.ring, r.status, 1)
			if err != nil {
				t.Fatalf("ReportEdgeStatus: %v", err)
			}
			if p != nil {
				last = p
			}
		}
		return last
	}

	forward := run(reports)

	reversed := make([]report, len(reports))
	for i, r := range reports {
		reversed[len(reports)-1-i] = r
	}
	backward := run(reversed)

	if forward == nil || backward == nil {
		t.Fatal("expected both orderings to emit a proposal")
	}
	if len(forward.Endpoints) != len(backward.Endpoints) {
		t.Fatalf("orderings disagree on proposal size: %d vs %d", len(forward.Endpoints), len(backward.Endpoints))
	}
	for i := range forward.Endpoints {
		if forward.Endpoints[i] != backward.Endpoints[i] {
			t.Fatalf("orderings disagree on proposal contents: %v vs %v", forward.Endpoints, backward.Endpoints)
		}
	}
}

func TestWatermarkBufferIdempotentWithinSameRing(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	observed := NewEndpoint("10.0.0.2", 2)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := w.ReportEdgeStatus(observer, observed, 0, EdgeStatusDown, 1); err != nil {
			t.Fatalf("ReportEdgeStatus: %v", err)
		}
	}
	if _, ok := w.aboveL[observed]; ok {
		t.Fatal("20 duplicate reports on the same ring must not cross L (duplicates are idempotent)")
	}
}

func TestWatermarkBufferDropsReportsForWrongConfiguration(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	observed := NewEndpoint("10.0.0.2", 2)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}
	p, err := w.ReportEdgeStatus(observer, observed, 0, EdgeStatusDown, 2)
	if err != nil {
		t.Fatalf("ReportEdgeStatus: %v", err)
	}
	if p != nil {
		t.Fatal("report for a stale configurationId must be dropped")
	}
	if len(w.reportedRings) != 0 {
		t.Fatal("dropped report must not be recorded")
	}
}

func TestWatermarkBufferFreezesAfterEmission(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	observed := NewEndpoint("10.0.0.2", 2)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}
	for ring := 0; ring < 9; ring++ {
		if _, err := w.ReportEdgeStatus(observer, observed, ring, EdgeStatusDown, 1); err != nil {
			t.Fatalf("ReportEdgeStatus: %v", err)
		}
	}
	if !w.IsFrozen() {
		t.Fatal("buffer should be frozen after emitting")
	}

	other := NewEndpoint("10.0.0.3", 3)
	for ring := 0; ring < 9; ring++ {
		p, err := w.ReportEdgeStatus(observer, other, ring, EdgeStatusDown, 1)
		if err != nil {
			t.Fatalf("ReportEdgeStatus: %v", err)
		}
		if p != nil {
			t.Fatal("frozen buffer must not emit a second proposal for the same configuration")
		}
	}
}

func TestWatermarkBufferResetClearsState(t *testing.T) {
	observer := NewEndpoint("10.0.0.1", 1)
	observed := NewEndpoint("10.0.0.2", 2)

	w, err := NewWatermarkBuffer(10, 4, 9, 1)
	if err != nil {
		t.Fatalf("NewWatermarkBuffer: %v", err)
	}
	for ring := 0; ring < 9; ring++ {
		if _, err := w.ReportEdgeStatus(observer, observed, ring, EdgeStatusDown, 1); err != nil {
			t.Fatalf("ReportEdgeStatus: %v", err)
		}
	}

	w.Reset(2)
	if w.IsFrozen() {
		t.Fatal("Reset must unfreeze the buffer")
	}
	if w.ConfigurationID() != 2 {
		t.Fatalf("ConfigurationID = %d, want 2", w.ConfigurationID())
	}
	if len(w.reportedRings) != 0 || len(w.aboveL) != 0 || len(w.aboveH) != 0 {
		t.Fatal("Reset must clear all accumulated report state")
	}
}
