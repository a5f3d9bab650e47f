// Package consensus implements the two-path decision procedure for a
// configuration change: an optimistic FastPaxos path, and a ClassicPaxos
// fallback for when the fast path fails to gather a quorum.
package consensus

import (
	"sort"
	"strings"
	"sync"

	"github.com/mdhvn/rapid/internal/membership"
)

// FastPaxosQuorumSize returns floor(3*n/4)+1, the smallest quorum size
// guaranteeing that any two such quorums intersect in more than n/2
// members — the property that makes a fast-path decision unique.
func FastPaxosQuorumSize(n int) int {
	return (3*n)/4 + 1
}

// FastPaxos tallies ConsensusProposal votes for a single configurationId
// and declares a decision once one candidate value has been proposed by a
// quorum of distinct senders.
type FastPaxos struct {
	n          int
	quorumSize int

	mu      sync.Mutex
	votes   map[string]map[membership.Endpoint]struct{}
	decided bool
	value   []membership.Endpoint
}

// NewFastPaxos builds a FastPaxos instance sized for a configuration with
// n members.
func NewFastPaxos(n int) *FastPaxos {
	return &FastPaxos{
		n:          n,
		quorumSize: FastPaxosQuorumSize(n),
		votes:      make(map[string]map[membership.Endpoint]struct{}),
	}
}

// HandleProposal records one vote for hosts from sender. It returns
// (true, value) exactly once, on the call that first reaches quorum for
// some candidate value; every other call returns (false, nil).
func (f *FastPaxos) HandleProposal(sender membership.Endpoint, hosts []membership.Endpoint) (bool, []membership.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.decided {
		return false, nil
	}

	sorted := append([]membership.Endpoint(nil), hosts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	key := proposalKey(sorted)

	senders, ok := f.votes[key]
	if !ok {
		senders = make(map[membership.Endpoint]struct{})
		f.votes[key] = senders
	}
	senders[sender] = struct{}{}

	if len(senders) >= f.quorumSize {
		f.decided = true
		f.value = sorted
		return true, sorted
	}
	return false, nil
}

// Decided reports whether this instance has already reached a decision.
func (f *FastPaxos) Decided() (bool, []membership.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decided, f.value
}

func proposalKey(sorted []membership.Endpoint) string {
	parts := make([]string, len(sorted))
	for i, e := range sorted {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}
