// Package rapiderrors defines sentinel errors used across the membership
// service.
package rapiderrors

import "errors"

// Sentinel errors for the join protocol.
var (
	// ErrConfigChanged indicates the configuration moved out from under a
	// join attempt; the joiner should retry against the new configuration.
	ErrConfigChanged = errors.New("configuration changed during join")

	// ErrUUIDAlreadyInRing indicates the joiner's NodeId collided with an
	// existing member; the joiner should regenerate its NodeId and retry.
	ErrUUIDAlreadyInRing = errors.New("node id already present in ring")

	// ErrMembershipRejected indicates a seed explicitly refused the join,
	// and the joiner must not retry.
	ErrMembershipRejected = errors.New("membership rejected join request")

	// ErrHostnameAlreadyInRing indicates the endpoint rejoined with a new
	// NodeId while its old incarnation was still being evicted.
	ErrHostnameAlreadyInRing = errors.New("endpoint already present in ring")

	// ErrJoinPhase2Failed indicates not enough observers returned a
	// successful phase-2 response to proceed.
	ErrJoinPhase2Failed = errors.New("join phase two failed")
)

// Sentinel errors for membership and consensus.
var (
	// ErrNotAMember indicates an operation was attempted against an
	// endpoint absent from the current configuration.
	ErrNotAMember = errors.New("endpoint is not a member of this configuration")

	// ErrStaleConfiguration indicates a message carried a configurationId
	// older than the locally held configuration.
	ErrStaleConfiguration = errors.New("stale configuration id")

	// ErrProposalInvalid indicates a ConsensusProposal failed structural
	// validation (unsorted members, empty set, etc).
	ErrProposalInvalid = errors.New("invalid consensus proposal")

	// ErrKicked indicates this node's own endpoint was voted out of the
	// ring by the rest of the membership.
	ErrKicked = errors.New("node was kicked from the cluster")

	// ErrViewChangeFailed indicates a one-step consensus round failed to
	// reach either a fast-path or classic-path decision before timing out.
	ErrViewChangeFailed = errors.New("view change failed to decide")
)

// Sentinel errors for connection and wire protocol.
var (
	// ErrClosed indicates the resource has already been closed.
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates an RPC did not complete before its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates the remote endpoint could not be reached
	// at all, as distinct from a timeout on an established connection.
	ErrUnavailable = errors.New("remote endpoint unavailable")

	// ErrMessageTooLarge indicates a framed message exceeded the maximum
	// accepted size and was rejected before being decoded.
	ErrMessageTooLarge = errors.New("message exceeds maximum frame size")

	// ErrUnknownMessageType indicates a frame carried a message type this
	// build does not recognize.
	ErrUnknownMessageType = errors.New("unknown message type")
)
