package membership

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Configuration is the immutable, versioned tuple of member identities at a
// point in time. configurationId changes iff the member set changes; it is
// the version number every protocol message carries.
type Configuration struct {
	ConfigurationID uint64
	Members         []Endpoint
	Ids             []NodeId
	Metadata        map[Endpoint]map[string]string
}

// View builds the MembershipView implied by this configuration for a ring
// count of k.
func (c Configuration) View(k int) (*View, error) {
	return NewView(k, c.Ids, c.Members)
}

// View is a pure data structure mapping every member to a stable set of
// observers/observed peers across k deterministic rings. Two views built
// from the same (k, ids, endpoints) produce byte-identical configurationIds,
// in any conforming implementation.
type View struct {
	k               int
	orderedMembers  []Endpoint
	idOf            map[Endpoint]NodeId
	memberIndex     map[Endpoint]int
	rings           [][]Endpoint         // rings[ringNum] is the circular order of members on that ring
	ringPos         []map[Endpoint]int   // ringPos[ringNum][endpoint] -> index into rings[ringNum]
	configurationID uint64
}

// NewView builds a View from k rings and a positional list of ids/endpoints.
// ids and endpoints must have the same length; ids[i] is the NodeId of
// endpoints[i].
func NewView(k int, ids []NodeId, endpoints []Endpoint) (*View, error) {
	if k <= 0 {
		return nil, fmt.Errorf("membership: ring count k must be positive, got %d", k)
	}
	if len(ids) != len(endpoints) {
		return nil, fmt.Errorf("membership: ids and endpoints must be the same length (%d != %d)", len(ids), len(endpoints))
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("membership: view must have at least one member")
	}

	idOf := make(map[Endpoint]NodeId, len(endpoints))
	for i, e := range endpoints {
		idOf[e] = ids[i]
	}

	orderedMembers := append([]Endpoint(nil), endpoints...)
	sort.Slice(orderedMembers, func(i, j int) bool { return orderedMembers[i].Less(orderedMembers[j]) })

	memberIndex := make(map[Endpoint]int, len(orderedMembers))
	for i, e := range orderedMembers {
		memberIndex[e] = i
	}

	rings := make([][]Endpoint, k)
	ringPos := make([]map[Endpoint]int, k)
	for ringNum := 0; ringNum < k; ringNum++ {
		ring := append([]Endpoint(nil), orderedMembers...)
		seed := ringSeed(ringNum)
		sort.Slice(ring, func(i, j int) bool {
			hi, hj := ringHash(seed, ring[i]), ringHash(seed, ring[j])
			if hi != hj {
				return hi < hj
			}
			return ring[i].Less(ring[j])
		})
		rings[ringNum] = ring
		pos := make(map[Endpoint]int, len(ring))
		for i, e := range ring {
			pos[e] = i
		}
		ringPos[ringNum] = pos
	}

	return &View{
		k:               k,
		orderedMembers:  orderedMembers,
		idOf:            idOf,
		memberIndex:     memberIndex,
		rings:           rings,
		ringPos:         ringPos,
		configurationID: configurationID(ids, endpoints),
	}, nil
}

// ringSeed derives the deterministic per-ring salt used to build ring k's
// ordering. Rings are numbered 0..k-1; the salt is a fixed string per ring
// number, so every node builds the same ring orders from the same members,
// which the observer lists handed out during join and the ring numbers in
// broadcast edge reports rely on.
func ringSeed(ringNum int) string {
	return "rapid-ring-" + strconv.Itoa(ringNum)
}

// ringHash is H(ring_seed_k, endpoint) from spec §4.1.
func ringHash(seed string, e Endpoint) uint64 {
	return xxhash.Sum64String(seed + "#" + e.String())
}

// configurationID computes a stable 64-bit hash over (sorted member ids,
// sorted endpoints), identical across conforming implementations.
func configurationID(ids []NodeId, endpoints []Endpoint) uint64 {
	sortedEndpoints := append([]string(nil), endpointStrings(endpoints)...)
	sort.Strings(sortedEndpoints)

	sortedIds := make([]string, len(ids))
	for i, id := range ids {
		sortedIds[i] = id.String()
	}
	sort.Strings(sortedIds)

	h := xxhash.New()
	for _, s := range sortedIds {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	for _, s := range sortedEndpoints {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func endpointStrings(endpoints []Endpoint) []string {
	out := make([]string, len(endpoints))
	for i, e := range endpoints {
		out[i] = e.String()
	}
	return out
}

// ConfigurationID returns the stable hash identifying this view's member set.
func (v *View) ConfigurationID() uint64 { return v.configurationID }

// K returns the ring count this view was built with.
func (v *View) K() int { return v.k }

// Size returns the number of members in this view.
func (v *View) Size() int { return len(v.orderedMembers) }

// Members returns the member endpoints sorted by their string form.
func (v *View) Members() []Endpoint {
	return append([]Endpoint(nil), v.orderedMembers...)
}

// NodeIds returns the NodeId of every member, in the same order as Members.
func (v *View) NodeIds() []NodeId {
	ids := make([]NodeId, len(v.orderedMembers))
	for i, e := range v.orderedMembers {
		ids[i] = v.idOf[e]
	}
	return ids
}

// IsMember reports whether e is present in this view.
func (v *View) IsMember(e Endpoint) bool {
	_, ok := v.memberIndex[e]
	return ok
}

// IdOf returns the NodeId registered for member e.
func (v *View) IdOf(e Endpoint) (NodeId, bool) {
	id, ok := v.idOf[e]
	return id, ok
}

// HasNodeId reports whether any member currently holds id.
func (v *View) HasNodeId(id NodeId) bool {
	for _, existing := range v.idOf {
		if existing.Equal(id) {
			return true
		}
	}
	return false
}

// ObserversOf returns, for member e, its observer on each of the k rings:
// the predecessor of e in that ring's circular order. The result has
// exactly K entries and may contain duplicates when membership is small;
// callers tallying per-ring votes must preserve those duplicates.
func (v *View) ObserversOf(e Endpoint) ([]Endpoint, error) {
	return v.ringNeighbors(e, -1)
}

// ObservedBy returns, for member e, the peers it observes on each of the k
// rings: the successor of e in that ring's circular order. Symmetric to
// ObserversOf but computed independently — the two must never be collapsed
// into a single lookup reused for both directions.
func (v *View) ObservedBy(e Endpoint) ([]Endpoint, error) {
	return v.ringNeighbors(e, 1)
}

func (v *View) ringNeighbors(e Endpoint, direction int) ([]Endpoint, error) {
	if !v.IsMember(e) {
		return nil, fmt.Errorf("membership: %s is not a member of this view", e)
	}
	out := make([]Endpoint, v.k)
	for ringNum := 0; ringNum < v.k; ringNum++ {
		ring := v.rings[ringNum]
		n := len(ring)
		pos := v.ringPos[ringNum][e]
		neighborPos := ((pos+direction)%n + n) % n
		out[ringNum] = ring[neighborPos]
	}
	return out, nil
}

// RingNumbersFor returns the indices of the rings on which observer watches
// observed, i.e. the rings where observed is observer's successor. Used by
// the join protocol to group the K observer slots by endpoint.
func (v *View) RingNumbersFor(observer, observed Endpoint) ([]int, error) {
	observedRings, err := v.ObservedBy(observer)
	if err != nil {
		return nil, err
	}
	var rings []int
	for ringNum, e := range observedRings {
		if e == observed {
			rings = append(rings, ringNum)
		}
	}
	return rings, nil
}
