// Package transport carries protocol messages between members: message
// shapes, the gob wire codec, and both a TCP and an in-memory Sender/Handler
// implementation.
package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/pkg/rapiderrors"
)

// MessageType tags which payload field of Message is populated.
type MessageType uint8

const (
	MsgJoin MessageType = iota + 1
	MsgJoinResponse
	MsgBatchedLinkUpdate
	MsgConsensusProposal
	MsgProbe
	MsgProbeResponse
	MsgPaxosPrepare
	MsgPaxosPromise
	MsgPaxosAccept
	MsgPaxosAccepted
	MsgPaxosLearn
)

func (t MessageType) String() string {
	switch t {
	case MsgJoin:
		return "JOIN"
	case MsgJoinResponse:
		return "JOIN_RESPONSE"
	case MsgBatchedLinkUpdate:
		return "BATCHED_LINK_UPDATE"
	case MsgConsensusProposal:
		return "CONSENSUS_PROPOSAL"
	case MsgProbe:
		return "PROBE"
	case MsgProbeResponse:
		return "PROBE_RESPONSE"
	case MsgPaxosPrepare:
		return "PAXOS_PREPARE"
	case MsgPaxosPromise:
		return "PAXOS_PROMISE"
	case MsgPaxosAccept:
		return "PAXOS_ACCEPT"
	case MsgPaxosAccepted:
		return "PAXOS_ACCEPTED"
	case MsgPaxosLearn:
		return "PAXOS_LEARN"
	default:
		return "UNKNOWN"
	}
}

// JoinStatusCode is a seed or observer's verdict on a join attempt.
type JoinStatusCode uint8

const (
	JoinStatusSafeToJoin JoinStatusCode = iota + 1
	JoinStatusUUIDAlreadyInRing
	JoinStatusConfigChanged
	JoinStatusHostnameAlreadyInRing
	JoinStatusMembershipRejected
)

func (s JoinStatusCode) String() string {
	switch s {
	case JoinStatusSafeToJoin:
		return "SAFE_TO_JOIN"
	case JoinStatusUUIDAlreadyInRing:
		return "UUID_ALREADY_IN_RING"
	case JoinStatusConfigChanged:
		return "CONFIG_CHANGED"
	case JoinStatusHostnameAlreadyInRing:
		return "HOSTNAME_ALREADY_IN_RING"
	case JoinStatusMembershipRejected:
		return "MEMBERSHIP_REJECTED"
	default:
		return "UNKNOWN"
	}
}

// UnknownConfigurationID is the sentinel a phase-1 joiner uses when it has
// no configuration to report yet, and the value a HOSTNAME_ALREADY_IN_RING
// responder tells the joiner to proceed to phase 2 with.
const UnknownConfigurationID int64 = -1

// JoinMessage is used for both join phases. In phase 1, ConfigurationID is
// UnknownConfigurationID and RingNumbers is empty. In phase 2, both are
// populated: ConfigurationID names the configuration the joiner is trying
// to join, and RingNumbers lists which of the observer's K ring slots the
// joiner believes it occupies.
type JoinMessage struct {
	Sender          membership.Endpoint
	NodeId          membership.NodeId
	ConfigurationID int64
	RingNumbers     []int
	Metadata        map[string]string
}

// JoinResponse answers a JoinMessage at either phase.
type JoinResponse struct {
	Sender          membership.Endpoint
	StatusCode      JoinStatusCode
	ConfigurationID uint64
	Hosts           []membership.Endpoint
	Identifiers     []membership.NodeId
	ClusterMetadata map[membership.Endpoint]map[string]string
}

// LinkUpdate is one edge-status report destined for a BatchedLinkUpdateMessage.
type LinkUpdate struct {
	LinkSrc    membership.Endpoint
	LinkDst    membership.Endpoint
	LinkStatus membership.EdgeStatus
	RingNumber int
}

// BatchedLinkUpdateMessage carries a batch of edge-status reports for a
// single configuration, broadcast to the other members of that
// configuration.
type BatchedLinkUpdateMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Updates         []LinkUpdate
}

// ConsensusProposalMessage is the fast-path proposal broadcast once a
// WatermarkBuffer crystallizes a Proposal.
type ConsensusProposalMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Hosts           []membership.Endpoint
}

// ProbeMessage is a liveness probe; ProbeResponseMessage its reply.
type ProbeMessage struct {
	Sender membership.Endpoint
}

// ProbeResponseMessage acknowledges a ProbeMessage. Status is carried for
// symmetry with the wire format even though any successful reply means UP.
type ProbeResponseMessage struct {
	Status string
}

// Ballot is a ClassicPaxos ballot number, lexicographically ordered by
// (Round, ProposerID).
type Ballot struct {
	Round      uint64
	ProposerID membership.Endpoint
}

// Less reports whether b sorts strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.Round != other.Round {
		return b.Round < other.Round
	}
	return b.ProposerID.String() < other.ProposerID.String()
}

// PrepareMessage is ClassicPaxos phase 1a.
type PrepareMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Ballot          Ballot
}

// PromiseMessage is ClassicPaxos phase 1b. AcceptedBallot/AcceptedValue are
// nil when the acceptor has not yet accepted anything for this configuration.
type PromiseMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Ballot          Ballot
	AcceptedBallot  *Ballot
	AcceptedValue   []membership.Endpoint
}

// AcceptMessage is ClassicPaxos phase 2a.
type AcceptMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Ballot          Ballot
	Value           []membership.Endpoint
}

// AcceptedMessage is ClassicPaxos phase 2b.
type AcceptedMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Ballot          Ballot
	Value           []membership.Endpoint
}

// LearnMessage announces a decided value once an accept-quorum is reached.
type LearnMessage struct {
	Sender          membership.Endpoint
	ConfigurationID uint64
	Value           []membership.Endpoint
}

// Message is the envelope every frame carries: Type selects exactly one of
// the payload fields below.
type Message struct {
	Type MessageType

	Join              *JoinMessage
	JoinResponse      *JoinResponse
	BatchedLinkUpdate *BatchedLinkUpdateMessage
	ConsensusProposal *ConsensusProposalMessage
	Probe             *ProbeMessage
	ProbeResponse     *ProbeResponseMessage
	PaxosPrepare      *PrepareMessage
	PaxosPromise      *PromiseMessage
	PaxosAccept       *AcceptMessage
	PaxosAccepted     *AcceptedMessage
	PaxosLearn        *LearnMessage
}

// Encode serializes m into a type byte followed by a gob-encoded body.
func (m *Message) Encode() ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	buf.WriteByte(byte(m.Type))
	enc := gob.NewEncoder(buf)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("transport: encode %s: %w", m.Type, err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeMessage parses a frame produced by Encode.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, rapiderrors.ErrUnknownMessageType
	}
	buf := bytes.NewBuffer(data[1:])
	var m Message
	dec := gob.NewDecoder(buf)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("transport: decode: %w", err)
	}
	m.Type = MessageType(data[0])
	return &m, nil
}
