package membership

import (
	"fmt"
	"sort"
)

// EdgeStatus is the verdict a LinkFailureDetector reports for one observed
// edge on one ring.
type EdgeStatus int

const (
	// EdgeStatusUp means the observer currently believes the observed
	// endpoint is reachable.
	EdgeStatusUp EdgeStatus = iota
	// EdgeStatusDown means the observer currently believes the observed
	// endpoint has failed.
	EdgeStatusDown
)

func (s EdgeStatus) String() string {
	switch s {
	case EdgeStatusUp:
		return "UP"
	case EdgeStatusDown:
		return "DOWN"
	default:
		return fmt.Sprintf("EdgeStatus(%d)", int(s))
	}
}

// Proposal is the stable coalition of endpoints a WatermarkBuffer emits once
// it judges the current round of edge reports settled.
type Proposal struct {
	ConfigurationID uint64
	Endpoints       []Endpoint
}

// WatermarkBuffer converts noisy, possibly duplicated, possibly
// out-of-order per-ring edge reports into a single stable Proposal per
// configuration. It holds no notion of time; callers drive it purely by
// feeding reports and reacting to the Proposal it hands back, if any.
//
// The buffer is intentionally order-insensitive: delivering the same
// multiset of reports in any order produces the same emit decision.
type WatermarkBuffer struct {
	k, h, l int

	currentConfigID uint64
	reportedRings   map[Endpoint]map[int]struct{}
	aboveL          map[Endpoint]struct{}
	aboveH          map[Endpoint]struct{}
	frozen          bool
}

// NewWatermarkBuffer builds a buffer for ring count k with low/high
// watermarks l and h. l must be strictly less than h, and h must not
// exceed k.
func NewWatermarkBuffer(k, l, h int, configID uint64) (*WatermarkBuffer, error) {
	if l >= h {
		return nil, fmt.Errorf("membership: low watermark %d must be less than high watermark %d", l, h)
	}
	if h > k {
		return nil, fmt.Errorf("membership: high watermark %d must not exceed ring count %d", h, k)
	}
	return &WatermarkBuffer{
		k:               k,
		h:               h,
		l:               l,
		currentConfigID: configID,
		reportedRings:   make(map[Endpoint]map[int]struct{}),
		aboveL:          make(map[Endpoint]struct{}),
		aboveH:          make(map[Endpoint]struct{}),
	}, nil
}

// ReportEdgeStatus records one (observer, observed, ring, status) report
// for the given configuration and returns the Proposal if this report
// happens to be the one that crystallizes a decision. It returns (nil, nil)
// on every other in-range report, and an error for a ring number outside
// [0, k).
//
// Reports for a configuration other than the buffer's current one are
// dropped silently, as are reports delivered after the buffer has already
// emitted for this configuration.
func (w *WatermarkBuffer) ReportEdgeStatus(observer, observed Endpoint, ringNumber int, status EdgeStatus, configID uint64) (*Proposal, error) {
	if configID != w.currentConfigID {
		return nil, nil
	}
	if w.frozen {
		return nil, nil
	}
	if ringNumber < 0 || ringNumber >= w.k {
		return nil, fmt.Errorf("membership: ring number %d out of range [0,%d)", ringNumber, w.k)
	}

	rings, ok := w.reportedRings[observed]
	if !ok {
		rings = make(map[int]struct{})
		w.reportedRings[observed] = rings
	}
	rings[ringNumber] = struct{}{}

	count := len(rings)
	if count >= w.l {
		w.aboveL[observed] = struct{}{}
	}
	if count >= w.h {
		w.aboveH[observed] = struct{}{}
	}

	return w.maybeEmit(), nil
}

// maybeEmit implements the aggregation principle: a Proposal is only ready
// once no endpoint remains in the unstable zone between L and H, i.e. every
// endpoint that crossed L has also crossed H.
func (w *WatermarkBuffer) maybeEmit() *Proposal {
	if len(w.aboveH) == 0 {
		return nil
	}
	if len(w.aboveL) != len(w.aboveH) {
		return nil
	}

	endpoints := make([]Endpoint, 0, len(w.aboveH))
	for e := range w.aboveH {
		endpoints = append(endpoints, e)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Less(endpoints[j]) })

	w.frozen = true
	return &Proposal{
		ConfigurationID: w.currentConfigID,
		Endpoints:       endpoints,
	}
}

// Reset discards all accumulated reports and unfreezes the buffer for a new
// configuration. Called whenever MembershipView advances.
func (w *WatermarkBuffer) Reset(configID uint64) {
	w.currentConfigID = configID
	w.reportedRings = make(map[Endpoint]map[int]struct{})
	w.aboveL = make(map[Endpoint]struct{})
	w.aboveH = make(map[Endpoint]struct{})
	w.frozen = false
}

// ConfigurationID reports the configuration this buffer is currently
// accumulating reports for.
func (w *WatermarkBuffer) ConfigurationID() uint64 { return w.currentConfigID }

// IsFrozen reports whether this buffer has already emitted a Proposal for
// its current configuration.
func (w *WatermarkBuffer) IsFrozen() bool { return w.frozen }
