// Package service implements the MembershipService orchestrator: the
// single-threaded protocol loop that owns the current Configuration, the
// WatermarkBuffer, the LinkFailureDetector, and all in-flight consensus
// state, and that answers every inbound RPC.
package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdhvn/rapid/internal/broadcast"
	"github.com/mdhvn/rapid/internal/consensus"
	"github.com/mdhvn/rapid/internal/detector"
	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/metrics"
	"github.com/mdhvn/rapid/internal/transport"
	"github.com/mdhvn/rapid/pkg/rapiderrors"
)

// Event identifies one of the four subscribable lifecycle events.
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

// ViewChangeProposal is the payload for EventViewChangeProposal.
type ViewChangeProposal struct {
	ConfigurationID uint64
	Proposal        []membership.Endpoint
}

// ViewChange is the payload for EventViewChange.
type ViewChange struct {
	ConfigurationID uint64
	Hosts           []membership.Endpoint
}

// ViewChangeOneStepFailed is the payload for EventViewChangeOneStepFailed.
type ViewChangeOneStepFailed struct {
	ConfigurationID uint64
}

// Kicked is the payload for EventKicked.
type Kicked struct {
	Endpoint membership.Endpoint
}

// Callback receives an event payload. It must not block; a panicking
// callback is caught, logged, and isolated from the rest of the loop.
type Callback func(payload any)

// Options configures a Service.
type Options struct {
	K, L, H             int
	RPCTimeout          time.Duration
	FastPathWindow      time.Duration
	FallbackBaseTimeout time.Duration
}

// DefaultOptions returns the package's default ring count, watermarks, and
// timing tunables.
func DefaultOptions() Options {
	return Options{
		K:                   10,
		L:                   4,
		H:                   9,
		RPCTimeout:          time.Second,
		FastPathWindow:      2 * time.Second,
		FallbackBaseTimeout: 500 * time.Millisecond,
	}
}

type snapshot struct {
	config membership.Configuration
	view   *membership.View
}

type joinWaiter struct {
	askedConfigID int64
	reply         chan *transport.JoinResponse
}

// Service is the MembershipService orchestrator. It implements
// transport.Handler and drives the protocol loop for one node.
type Service struct {
	self    membership.Endpoint
	k, l, h int

	sender      transport.Sender
	broadcaster *broadcast.Layer
	det         detector.LinkFailureDetector

	rpcTimeout          time.Duration
	fastPathWindow      time.Duration
	fallbackBaseTimeout time.Duration

	current atomic.Pointer[snapshot]

	inbox  chan func()
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Everything below is touched only from the protocol loop goroutine;
	// no lock is needed because the loop serializes all access.
	epoch                 uint64
	buffer                *membership.WatermarkBuffer
	knownIds              map[membership.Endpoint]membership.NodeId
	fastPaxosInstances    map[uint64]*consensus.FastPaxos
	classicPaxosInstances map[uint64]*consensus.ClassicPaxos
	lastProposalValue     map[uint64][]membership.Endpoint
	joinWaiters           []joinWaiter
	subscribers           map[Event][]Callback
}

// New builds a Service for self, seeded with the given initial
// Configuration. detectorFactory is invoked once with the service's own
// edge-status callback, so a fresh LinkFailureDetector can be wired in
// without the detector package knowing anything about the protocol loop.
func New(self membership.Endpoint, opts Options, sender transport.Sender, detectorFactory func(detector.StatusChangeFunc) detector.LinkFailureDetector, initial membership.Configuration) (*Service, error) {
	view, err := initial.View(opts.K)
	if err != nil {
		return nil, fmt.Errorf("service: building initial view: %w", err)
	}
	buffer, err := membership.NewWatermarkBuffer(opts.K, opts.L, opts.H, initial.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("service: building watermark buffer: %w", err)
	}

	s := &Service{
		self:                  self,
		k:                     opts.K,
		l:                     opts.L,
		h:                     opts.H,
		sender:                sender,
		broadcaster:           broadcast.New(sender),
		rpcTimeout:            opts.RPCTimeout,
		fastPathWindow:        opts.FastPathWindow,
		fallbackBaseTimeout:   opts.FallbackBaseTimeout,
		buffer:                buffer,
		inbox:                 make(chan func(), 256),
		knownIds:              make(map[membership.Endpoint]membership.NodeId),
		fastPaxosInstances:    make(map[uint64]*consensus.FastPaxos),
		classicPaxosInstances: make(map[uint64]*consensus.ClassicPaxos),
		lastProposalValue:     make(map[uint64][]membership.Endpoint),
		subscribers:           make(map[Event][]Callback),
	}
	s.current.Store(&snapshot{config: initial, view: view})

	s.det = detectorFactory(s.handleEdgeStatusChange)
	if view.IsMember(self) {
		observed, _ := view.ObservedBy(self)
		s.det.OnMembershipChange(observed)
	}
	return s, nil
}

// Run starts the protocol loop and, if the configured detector supports
// it, its background probing. Run returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (s *Service) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	if starter, ok := s.det.(interface{ Start(context.Context) }); ok {
		starter.Start(ctx)
	}
}

// Stop halts the protocol loop, stops the detector, and resolves any
// parked join waiters with a shutdown-status failure.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if stopper, ok := s.det.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	s.wg.Wait()
	for _, w := range s.joinWaiters {
		close(w.reply)
	}
}

func (s *Service) runLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.inbox:
			metrics.EventLoopQueueDepth.Set(float64(len(s.inbox)))
			task()
		}
	}
}

// exec enqueues fn onto the protocol loop and blocks the caller until it
// has run, or ctx is done. fn must not block: it runs on the loop
// goroutine and every other pending task waits behind it.
func (s *Service) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.inbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Self returns this node's own endpoint.
func (s *Service) Self() membership.Endpoint { return s.self }

// MemberList returns a snapshot of the current configuration's members.
func (s *Service) MemberList() []membership.Endpoint { return s.current.Load().view.Members() }

// MembershipSize returns the current configuration's member count.
func (s *Service) MembershipSize() int { return s.current.Load().view.Size() }

// ConfigurationID returns the current configuration's id.
func (s *Service) ConfigurationID() uint64 { return s.current.Load().config.ConfigurationID }

// Metadata returns a copy of the current configuration's per-endpoint
// metadata map.
func (s *Service) Metadata() map[membership.Endpoint]map[string]string {
	snap := s.current.Load()
	out := make(map[membership.Endpoint]map[string]string, len(snap.config.Metadata))
	for e, m := range snap.config.Metadata {
		out[e] = m
	}
	return out
}

// Subscribe registers cb for event. Delivery happens on the protocol loop,
// serialized with every state transition.
func (s *Service) Subscribe(event Event, cb Callback) {
	s.inbox <- func() { s.subscribers[event] = append(s.subscribers[event], cb) }
}

func (s *Service) fireEvent(event Event, payload any) {
	for _, cb := range s.subscribers[event] {
		func(cb Callback) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("service: subscriber for %v panicked: %v", event, r)
				}
			}()
			cb(payload)
		}(cb)
	}
}

// HandleMessage implements transport.Handler.
func (s *Service) HandleMessage(ctx context.Context, from membership.Endpoint, msg *transport.Message) (*transport.Message, error) {
	switch msg.Type {
	case transport.MsgProbe:
		if err := s.det.HandleProbe(ctx, from); err != nil {
			return nil, err
		}
		return &transport.Message{Type: transport.MsgProbeResponse, ProbeResponse: &transport.ProbeResponseMessage{Status: "OK"}}, nil

	case transport.MsgJoin:
		if len(msg.Join.RingNumbers) == 0 {
			return s.handleJoinPhase1(ctx, msg.Join)
		}
		return s.handleJoinPhase2(ctx, msg.Join)

	case transport.MsgBatchedLinkUpdate:
		err := s.exec(ctx, func() { s.applyBatchedLinkUpdate(msg.BatchedLinkUpdate) })
		return nil, err

	case transport.MsgConsensusProposal:
		err := s.exec(ctx, func() { s.applyConsensusProposal(msg.ConsensusProposal) })
		return nil, err

	case transport.MsgPaxosPrepare:
		return s.handlePaxosPrepare(ctx, msg.PaxosPrepare)

	case transport.MsgPaxosAccept:
		return s.handlePaxosAccept(ctx, msg.PaxosAccept)

	case transport.MsgPaxosLearn:
		err := s.exec(ctx, func() {
			value := s.classicPaxosFor(msg.PaxosLearn.ConfigurationID).HandleLearn(msg.PaxosLearn)
			s.onDecide(value, msg.PaxosLearn.ConfigurationID)
		})
		return nil, err

	default:
		return nil, rapiderrors.ErrUnknownMessageType
	}
}

func (s *Service) handleJoinPhase1(ctx context.Context, join *transport.JoinMessage) (*transport.Message, error) {
	var reply *transport.JoinResponse
	err := s.exec(ctx, func() {
		snap := s.current.Load()

		if snap.view.HasNodeId(join.NodeId) {
			reply = &transport.JoinResponse{Sender: s.self, StatusCode: transport.JoinStatusUUIDAlreadyInRing}
			return
		}
		if snap.view.IsMember(join.Sender) {
			observers, _ := snap.view.ObserversOf(join.Sender)
			reply = &transport.JoinResponse{Sender: s.self, StatusCode: transport.JoinStatusHostnameAlreadyInRing, Hosts: observers}
			return
		}

		hypoIds := append(append([]membership.NodeId(nil), snap.view.NodeIds()...), join.NodeId)
		hypoEndpoints := append(append([]membership.Endpoint(nil), snap.view.Members()...), join.Sender)
		hypoView, err := membership.NewView(s.k, hypoIds, hypoEndpoints)
		if err != nil {
			reply = &transport.JoinResponse{Sender: s.self, StatusCode: transport.JoinStatusMembershipRejected}
			return
		}

		observers, _ := hypoView.ObserversOf(join.Sender)
		s.knownIds[join.Sender] = join.NodeId
		reply = &transport.JoinResponse{
			Sender:          s.self,
			StatusCode:      transport.JoinStatusSafeToJoin,
			ConfigurationID: snap.config.ConfigurationID,
			Hosts:           observers,
		}
	})
	if err != nil {
		return nil, err
	}
	return &transport.Message{Type: transport.MsgJoinResponse, JoinResponse: reply}, nil
}

func (s *Service) handleJoinPhase2(ctx context.Context, join *transport.JoinMessage) (*transport.Message, error) {
	waiterCh := make(chan *transport.JoinResponse, 1)
	err := s.exec(ctx, func() {
		s.knownIds[join.Sender] = join.NodeId
		// Park the waiter first: the reports below can reach a decision and
		// install the next configuration within this same call.
		s.joinWaiters = append(s.joinWaiters, joinWaiter{askedConfigID: join.ConfigurationID, reply: waiterCh})
		s.reportAndBroadcast(join.Sender, membership.EdgeStatusUp, join.RingNumbers)
	})
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-waiterCh:
		if resp == nil {
			return nil, rapiderrors.ErrClosed
		}
		return &transport.Message{Type: transport.MsgJoinResponse, JoinResponse: resp}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) applyBatchedLinkUpdate(msg *transport.BatchedLinkUpdateMessage) {
	snap := s.current.Load()
	if msg.ConfigurationID != snap.config.ConfigurationID {
		return
	}
	var proposal *membership.Proposal
	for _, u := range msg.Updates {
		p, _ := s.buffer.ReportEdgeStatus(u.LinkSrc, u.LinkDst, u.RingNumber, u.LinkStatus, msg.ConfigurationID)
		if p != nil {
			proposal = p
		}
	}
	if proposal != nil {
		s.beginConsensus(proposal)
	}
}

func (s *Service) applyConsensusProposal(msg *transport.ConsensusProposalMessage) {
	snap := s.current.Load()
	if msg.ConfigurationID != snap.config.ConfigurationID {
		return
	}
	decided, value := s.fastPaxosFor(msg.ConfigurationID).HandleProposal(msg.Sender, msg.Hosts)
	if decided {
		metrics.RecordConsensusDecision("fast")
		s.onDecide(value, msg.ConfigurationID)
	}
}

func (s *Service) handlePaxosPrepare(ctx context.Context, prepare *transport.PrepareMessage) (*transport.Message, error) {
	var reply *transport.Message
	err := s.exec(ctx, func() {
		promise, ok := s.classicPaxosFor(prepare.ConfigurationID).HandlePrepare(prepare)
		if ok {
			reply = &transport.Message{Type: transport.MsgPaxosPromise, PaxosPromise: promise}
		}
	})
	return reply, err
}

func (s *Service) handlePaxosAccept(ctx context.Context, accept *transport.AcceptMessage) (*transport.Message, error) {
	var reply *transport.Message
	err := s.exec(ctx, func() {
		accepted, ok := s.classicPaxosFor(accept.ConfigurationID).HandleAccept(accept)
		if ok {
			reply = &transport.Message{Type: transport.MsgPaxosAccepted, PaxosAccepted: accepted}
		}
	})
	return reply, err
}

// handleEdgeStatusChange is the LinkFailureDetector's status-change
// callback. It runs on the detector's own probe goroutine, so it must not
// touch loop-owned state directly; it only re-enters the loop as an event.
func (s *Service) handleEdgeStatusChange(observed membership.Endpoint, status membership.EdgeStatus) {
	metrics.RecordEdgeStatusTransition(status == membership.EdgeStatusUp)
	s.inbox <- func() { s.onLocalEdgeStatusChange(observed, status) }
}

func (s *Service) onLocalEdgeStatusChange(observed membership.Endpoint, status membership.EdgeStatus) {
	snap := s.current.Load()
	if !snap.view.IsMember(s.self) || !snap.view.IsMember(observed) {
		return
	}
	rings, err := snap.view.RingNumbersFor(s.self, observed)
	if err != nil {
		return
	}
	s.reportAndBroadcast(observed, status, rings)
}

// reportAndBroadcast folds an edge-status verdict for observed on rings
// into this node's own WatermarkBuffer and broadcasts it to every other
// current member, so every member's buffer eventually sees the same
// multiset of reports regardless of which node happens to observe which
// ring. Used both for failure-detector verdicts and for the ring-up
// reports a join observer produces in phase 2.
func (s *Service) reportAndBroadcast(observed membership.Endpoint, status membership.EdgeStatus, rings []int) {
	if len(rings) == 0 {
		return
	}
	snap := s.current.Load()

	updates := make([]transport.LinkUpdate, len(rings))
	var proposal *membership.Proposal
	for i, ring := range rings {
		updates[i] = transport.LinkUpdate{LinkSrc: s.self, LinkDst: observed, LinkStatus: status, RingNumber: ring}
		p, _ := s.buffer.ReportEdgeStatus(s.self, observed, ring, status, snap.config.ConfigurationID)
		if p != nil {
			proposal = p
		}
	}

	s.broadcaster.BroadcastExcept(snap.view.Members(), s.self, &transport.Message{
		Type: transport.MsgBatchedLinkUpdate,
		BatchedLinkUpdate: &transport.BatchedLinkUpdateMessage{
			Sender:          s.self,
			ConfigurationID: snap.config.ConfigurationID,
			Updates:         updates,
		},
	})

	if proposal != nil {
		s.beginConsensus(proposal)
	}
}

func (s *Service) beginConsensus(proposal *membership.Proposal) {
	s.fireEvent(EventViewChangeProposal, ViewChangeProposal{ConfigurationID: proposal.ConfigurationID, Proposal: proposal.Endpoints})
	metrics.ProposalsEmittedTotal.Inc()
	s.lastProposalValue[proposal.ConfigurationID] = proposal.Endpoints

	decided, value := s.fastPaxosFor(proposal.ConfigurationID).HandleProposal(s.self, proposal.Endpoints)

	snap := s.current.Load()
	s.broadcaster.BroadcastExcept(snap.view.Members(), s.self, &transport.Message{
		Type: transport.MsgConsensusProposal,
		ConsensusProposal: &transport.ConsensusProposalMessage{
			Sender:          s.self,
			ConfigurationID: proposal.ConfigurationID,
			Hosts:           proposal.Endpoints,
		},
	})

	if decided {
		metrics.RecordConsensusDecision("fast")
		s.onDecide(value, proposal.ConfigurationID)
		return
	}

	configID := proposal.ConfigurationID
	time.AfterFunc(s.fastPathWindow, func() {
		s.inbox <- func() { s.maybeStartFallback(configID) }
	})
}

func (s *Service) maybeStartFallback(configID uint64) {
	snap := s.current.Load()
	if configID != snap.config.ConfigurationID {
		return
	}
	if decided, _ := s.fastPaxosFor(configID).Decided(); decided {
		return
	}
	if decided, _ := s.classicPaxosFor(configID).Decided(); decided {
		return
	}

	s.fireEvent(EventViewChangeOneStepFailed, ViewChangeOneStepFailed{ConfigurationID: configID})
	metrics.ClassicPaxosRoundsTotal.Inc()

	candidate := s.lastProposalValue[configID]
	delay := consensus.ProposerBackoff(s.epoch, s.fallbackBaseTimeout)
	time.AfterFunc(delay, func() {
		s.inbox <- func() { s.startFallbackRound(configID, candidate) }
	})
}

func (s *Service) startFallbackRound(configID uint64, candidate []membership.Endpoint) {
	snap := s.current.Load()
	if configID != snap.config.ConfigurationID {
		return
	}
	if decided, _ := s.classicPaxosFor(configID).Decided(); decided {
		return
	}

	ballot := transport.Ballot{Round: s.epoch, ProposerID: s.self}
	prepare := s.classicPaxosFor(configID).StartRound(configID, ballot, candidate)

	if selfPromise, ok := s.classicPaxosFor(configID).HandlePrepare(prepare); ok {
		s.onPromise(configID, selfPromise)
	}
	for _, m := range snap.view.Members() {
		if m == s.self {
			continue
		}
		go s.sendPrepare(configID, m, prepare)
	}
}

func (s *Service) sendPrepare(configID uint64, to membership.Endpoint, prepare *transport.PrepareMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
	defer cancel()
	reply, err := s.sender.Send(ctx, to, &transport.Message{Type: transport.MsgPaxosPrepare, PaxosPrepare: prepare})
	if err != nil || reply == nil || reply.PaxosPromise == nil {
		return
	}
	promise := reply.PaxosPromise
	s.inbox <- func() { s.onPromise(configID, promise) }
}

func (s *Service) onPromise(configID uint64, promise *transport.PromiseMessage) {
	accept, ready := s.classicPaxosFor(configID).HandlePromise(promise)
	if !ready {
		return
	}
	snap := s.current.Load()
	if selfAccepted, ok := s.classicPaxosFor(configID).HandleAccept(accept); ok {
		s.onAccepted(configID, selfAccepted)
	}
	for _, m := range snap.view.Members() {
		if m == s.self {
			continue
		}
		go s.sendAccept(configID, m, accept)
	}
}

func (s *Service) sendAccept(configID uint64, to membership.Endpoint, accept *transport.AcceptMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
	defer cancel()
	reply, err := s.sender.Send(ctx, to, &transport.Message{Type: transport.MsgPaxosAccept, PaxosAccept: accept})
	if err != nil || reply == nil || reply.PaxosAccepted == nil {
		return
	}
	accepted := reply.PaxosAccepted
	s.inbox <- func() { s.onAccepted(configID, accepted) }
}

func (s *Service) onAccepted(configID uint64, accepted *transport.AcceptedMessage) {
	decided, value, learn := s.classicPaxosFor(configID).HandleAccepted(accepted)
	if !decided {
		return
	}
	metrics.RecordConsensusDecision("classic")
	snap := s.current.Load()
	s.broadcaster.BroadcastExcept(snap.view.Members(), s.self, &transport.Message{Type: transport.MsgPaxosLearn, PaxosLearn: learn})
	s.onDecide(value, configID)
}

func (s *Service) onDecide(value []membership.Endpoint, configID uint64) {
	snap := s.current.Load()
	if configID != snap.config.ConfigurationID {
		return
	}

	// The decided value is a delta, not the new membership: it names only the
	// endpoints slated for atomic UP (joiners) or DOWN (departers). Apply it
	// against the current view to get the new member set.
	members := make(map[membership.Endpoint]struct{}, snap.view.Size())
	for _, e := range snap.view.Members() {
		members[e] = struct{}{}
	}
	for _, e := range value {
		if _, ok := members[e]; ok {
			delete(members, e)
		} else {
			members[e] = struct{}{}
		}
	}

	sorted := make([]membership.Endpoint, 0, len(members))
	for e := range members {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	ids := make([]membership.NodeId, len(sorted))
	for i, e := range sorted {
		if id, ok := snap.view.IdOf(e); ok {
			ids[i] = id
		} else if id, ok := s.knownIds[e]; ok {
			ids[i] = id
		} else {
			ids[i] = membership.NewNodeId()
		}
	}

	metadata := make(map[membership.Endpoint]map[string]string, len(sorted))
	for _, e := range sorted {
		if m, ok := snap.config.Metadata[e]; ok {
			metadata[e] = m
		}
	}

	newView, err := membership.NewView(s.k, ids, sorted)
	if err != nil {
		log.Printf("service: decided value failed to form a view: %v", err)
		return
	}

	s.installConfiguration(membership.Configuration{
		ConfigurationID: newView.ConfigurationID(),
		Members:         sorted,
		Ids:             ids,
		Metadata:        metadata,
	}, newView)
}

func (s *Service) installConfiguration(newConfig membership.Configuration, newView *membership.View) {
	s.current.Store(&snapshot{config: newConfig, view: newView})

	s.fastPaxosInstances = make(map[uint64]*consensus.FastPaxos)
	s.classicPaxosInstances = make(map[uint64]*consensus.ClassicPaxos)
	s.lastProposalValue = make(map[uint64][]membership.Endpoint)
	s.buffer.Reset(newConfig.ConfigurationID)
	s.epoch++

	if newView.IsMember(s.self) {
		observed, _ := newView.ObservedBy(s.self)
		s.det.OnMembershipChange(observed)
	} else {
		s.det.OnMembershipChange(nil)
	}

	metrics.MembershipSize.Set(float64(newView.Size()))
	metrics.ConfigurationChangesTotal.Inc()

	s.fireEvent(EventViewChange, ViewChange{ConfigurationID: newConfig.ConfigurationID, Hosts: newConfig.Members})
	if !newView.IsMember(s.self) {
		s.fireEvent(EventKicked, Kicked{Endpoint: s.self})
	}

	remaining := make([]joinWaiter, 0, len(s.joinWaiters))
	for _, w := range s.joinWaiters {
		if int64(newConfig.ConfigurationID) != w.askedConfigID {
			w.reply <- &transport.JoinResponse{
				Sender:          s.self,
				StatusCode:      transport.JoinStatusSafeToJoin,
				ConfigurationID: newConfig.ConfigurationID,
				Hosts:           newConfig.Members,
				Identifiers:     newConfig.Ids,
				ClusterMetadata: newConfig.Metadata,
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	s.joinWaiters = remaining
}

func (s *Service) fastPaxosFor(configID uint64) *consensus.FastPaxos {
	if fp, ok := s.fastPaxosInstances[configID]; ok {
		return fp
	}
	fp := consensus.NewFastPaxos(s.current.Load().view.Size())
	s.fastPaxosInstances[configID] = fp
	return fp
}

func (s *Service) classicPaxosFor(configID uint64) *consensus.ClassicPaxos {
	if cp, ok := s.classicPaxosInstances[configID]; ok {
		return cp
	}
	cp := consensus.NewClassicPaxos(s.self, s.current.Load().view.Size())
	s.classicPaxosInstances[configID] = cp
	return cp
}

var _ transport.Handler = (*Service)(nil)
