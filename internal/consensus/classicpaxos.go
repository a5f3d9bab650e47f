package consensus

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/transport"
)

// ClassicPaxosQuorumSize returns a strict majority of n, the quorum a
// ClassicPaxos accept round requires.
func ClassicPaxosQuorumSize(n int) int {
	return n/2 + 1
}

// ProposerBackoff returns a randomized delay in [0, base*2^round), used to
// space out duelling proposers across fallback rounds.
func ProposerBackoff(round uint64, base time.Duration) time.Duration {
	if round > 20 {
		round = 20 // avoid overflowing the shift for pathological round counts
	}
	max := base * time.Duration(uint64(1)<<round)
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// ClassicPaxos runs the fallback path for a single configurationId. One
// instance plays both acceptor (responding to any proposer, including
// itself) and proposer (driving this node's own round) roles, mirroring
// how every member can equally originate a fallback round.
type ClassicPaxos struct {
	self       membership.Endpoint
	n          int
	quorumSize int

	mu sync.Mutex

	// Acceptor state.
	promisedBallot *transport.Ballot
	acceptedBallot *transport.Ballot
	acceptedValue  []membership.Endpoint

	// Proposer state for this node's in-flight round, if any.
	proposerBallot *transport.Ballot
	candidateValue []membership.Endpoint
	promises       map[membership.Endpoint]*transport.PromiseMessage
	accepted       map[membership.Endpoint]struct{}
	decided        bool
	decidedValue   []membership.Endpoint
}

// NewClassicPaxos builds an instance for a configuration of n members.
func NewClassicPaxos(self membership.Endpoint, n int) *ClassicPaxos {
	return &ClassicPaxos{
		self:       self,
		n:          n,
		quorumSize: ClassicPaxosQuorumSize(n),
		promises:   make(map[membership.Endpoint]*transport.PromiseMessage),
		accepted:   make(map[membership.Endpoint]struct{}),
	}
}

// StartRound begins a new proposer round for candidateValue at ballot, and
// returns the PrepareMessage to broadcast. It discards any prior in-flight
// round this node was driving.
func (c *ClassicPaxos) StartRound(configID uint64, ballot transport.Ballot, candidateValue []membership.Endpoint) *transport.PrepareMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := append([]membership.Endpoint(nil), candidateValue...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	c.proposerBallot = &ballot
	c.candidateValue = sorted
	c.promises = make(map[membership.Endpoint]*transport.PromiseMessage)
	c.accepted = make(map[membership.Endpoint]struct{})

	return &transport.PrepareMessage{
		Sender:          c.self,
		ConfigurationID: configID,
		Ballot:          ballot,
	}
}

// HandlePrepare is the acceptor side of phase 1. It promises not to accept
// any ballot lower than msg.Ballot, but only if msg.Ballot is strictly
// greater than any ballot already promised; otherwise it returns
// (nil, false) and the proposer must eventually time out and retry at a
// higher ballot.
func (c *ClassicPaxos) HandlePrepare(msg *transport.PrepareMessage) (*transport.PromiseMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.promisedBallot != nil && !c.promisedBallot.Less(msg.Ballot) {
		return nil, false
	}
	c.promisedBallot = &msg.Ballot

	return &transport.PromiseMessage{
		Sender:          c.self,
		ConfigurationID: msg.ConfigurationID,
		Ballot:          msg.Ballot,
		AcceptedBallot:  c.acceptedBallot,
		AcceptedValue:   c.acceptedValue,
	}, true
}

// HandlePromise folds one promise into this node's in-flight proposer
// round. Once a quorum of promises has arrived, it returns the
// AcceptMessage to broadcast: the value carried by the highest-ballot
// accepted value among the promises, if any, else the proposer's own
// candidate — the standard ClassicPaxos safety rule for value selection.
func (c *ClassicPaxos) HandlePromise(msg *transport.PromiseMessage) (*transport.AcceptMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proposerBallot == nil || msg.Ballot != *c.proposerBallot {
		return nil, false
	}
	c.promises[msg.Sender] = msg

	if len(c.promises) < c.quorumSize {
		return nil, false
	}

	value := c.candidateValue
	var highest *transport.Ballot
	for _, p := range c.promises {
		if p.AcceptedBallot == nil {
			continue
		}
		if highest == nil || highest.Less(*p.AcceptedBallot) {
			highest = p.AcceptedBallot
			value = p.AcceptedValue
		}
	}

	return &transport.AcceptMessage{
		Sender:          c.self,
		ConfigurationID: msg.ConfigurationID,
		Ballot:          *c.proposerBallot,
		Value:           value,
	}, true
}

// HandleAccept is the acceptor side of phase 2. It accepts any ballot at
// least as high as the one it last promised, updating both its accepted
// state and its promised ballot.
func (c *ClassicPaxos) HandleAccept(msg *transport.AcceptMessage) (*transport.AcceptedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.promisedBallot != nil && msg.Ballot.Less(*c.promisedBallot) {
		return nil, false
	}
	c.promisedBallot = &msg.Ballot
	c.acceptedBallot = &msg.Ballot
	c.acceptedValue = msg.Value

	return &transport.AcceptedMessage{
		Sender:          c.self,
		ConfigurationID: msg.ConfigurationID,
		Ballot:          msg.Ballot,
		Value:           msg.Value,
	}, true
}

// HandleAccepted folds one accepted-ack into this node's in-flight
// proposer round. Once a quorum of acks for the proposer's own ballot
// arrives, it returns (true, value, learn) with the LearnMessage to
// broadcast, the decision being final for this configurationId.
func (c *ClassicPaxos) HandleAccepted(msg *transport.AcceptedMessage) (bool, []membership.Endpoint, *transport.LearnMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decided {
		return false, nil, nil
	}
	if c.proposerBallot == nil || msg.Ballot != *c.proposerBallot {
		return false, nil, nil
	}
	c.accepted[msg.Sender] = struct{}{}

	if len(c.accepted) < c.quorumSize {
		return false, nil, nil
	}

	c.decided = true
	c.decidedValue = msg.Value
	return true, msg.Value, &transport.LearnMessage{
		Sender:          c.self,
		ConfigurationID: msg.ConfigurationID,
		Value:           msg.Value,
	}
}

// HandleLearn processes a LearnMessage received from a peer's successful
// round, short-circuiting this node's own in-flight round if any.
func (c *ClassicPaxos) HandleLearn(msg *transport.LearnMessage) []membership.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decided {
		return c.decidedValue
	}
	c.decided = true
	c.decidedValue = msg.Value
	return c.decidedValue
}

// Decided reports whether this instance has reached a final decision,
// whether by driving its own round or by observing a peer's Learn.
func (c *ClassicPaxos) Decided() (bool, []membership.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decided, c.decidedValue
}
