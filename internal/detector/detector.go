// Package detector implements link failure detection: the layer that turns
// raw network probes into the stable UP/DOWN edge verdicts the watermark
// buffer aggregates into proposals.
package detector

import (
	"context"

	"github.com/mdhvn/rapid/internal/membership"
)

// LinkFailureDetector watches a set of observed endpoints and reports
// whether the edge to each of them is currently believed healthy. A
// detector is symmetric: the same type both probes its observed peers and
// answers probes from the peers that observe it.
type LinkFailureDetector interface {
	// Check performs one probe cycle against observed. Implementations
	// may batch multiple observed endpoints into a single round; callers
	// should not assume Check blocks for the full round-trip.
	Check(ctx context.Context, observed membership.Endpoint) error

	// HasFailed is a pure, non-blocking query of the current verdict for
	// observed. It reflects the last debounced transition, not the
	// outcome of any single probe.
	HasFailed(observed membership.Endpoint) bool

	// HandleProbe is the receiver side of a probe arriving from a peer
	// that observes this node. It exists so that detectors can be
	// symmetric: the same wire message type drives both directions.
	HandleProbe(ctx context.Context, from membership.Endpoint) error

	// OnMembershipChange is called on every view change with the new set
	// of endpoints this node must observe. Endpoints no longer observed
	// have their state discarded; newly observed ones start UP.
	OnMembershipChange(observedList []membership.Endpoint)
}

// StatusChangeFunc is invoked exactly once per debounced verdict
// transition, never on every probe outcome.
type StatusChangeFunc func(observed membership.Endpoint, status membership.EdgeStatus)

// Factory builds a LinkFailureDetector wired to onChange. The service
// package calls this once per node at construction time rather than taking
// a detector value directly, since the detector needs a callback that
// closes over the service's own inbox.
type Factory func(onChange StatusChangeFunc) LinkFailureDetector

// Prober is the narrow network dependency a LinkFailureDetector needs: the
// ability to round-trip a probe to an endpoint and learn whether it
// succeeded. Transport implementations satisfy this without the detector
// package depending on any concrete wire format.
type Prober interface {
	Probe(ctx context.Context, target membership.Endpoint) error
}
