package rapid

import "github.com/mdhvn/rapid/internal/membership"

// Event identifies one of the four lifecycle events a Cluster subscriber
// can observe.
type Event int

const (
	EventViewChangeProposal Event = iota
	EventViewChange
	EventViewChangeOneStepFailed
	EventKicked
)

func (e Event) String() string {
	switch e {
	case EventViewChangeProposal:
		return "VIEW_CHANGE_PROPOSAL"
	case EventViewChange:
		return "VIEW_CHANGE"
	case EventViewChangeOneStepFailed:
		return "VIEW_CHANGE_ONE_STEP_FAILED"
	case EventKicked:
		return "KICKED"
	default:
		return "UNKNOWN"
	}
}

// NodeStatusChange describes one endpoint's membership transition as
// delivered to a subscriber: UP for an endpoint joining or being proposed
// to join, DOWN for one leaving, being proposed for removal, or being
// kicked.
type NodeStatusChange struct {
	Endpoint membership.Endpoint
	Status   membership.EdgeStatus
	Metadata map[string]string
}
