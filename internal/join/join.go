// Package join implements the two-phase join handshake a node runs to
// become a member of an existing configuration.
package join

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mdhvn/rapid/internal/membership"
	"github.com/mdhvn/rapid/internal/metrics"
	"github.com/mdhvn/rapid/internal/transport"
	"github.com/mdhvn/rapid/pkg/rapiderrors"
)

// DefaultMaxAttempts bounds how many times the whole two-phase handshake
// is retried before join() gives up and surfaces an error.
const DefaultMaxAttempts = 5

// Config holds the tunables of a join attempt.
type Config struct {
	MaxAttempts   int
	Phase2Timeout time.Duration
	RPCTimeout    time.Duration
}

// DefaultConfig returns the package's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		Phase2Timeout: 5 * time.Second,
		RPCTimeout:    time.Second,
	}
}

// Result is what a successful Join returns: enough of the new
// configuration for the caller to install it locally.
type Result struct {
	ConfigurationID uint64
	Hosts           []membership.Endpoint
	Identifiers     []membership.NodeId
	ClusterMetadata map[membership.Endpoint]map[string]string
	NodeId          membership.NodeId
}

// Join runs the join handshake against seed on behalf of joinerEndpoint and
// returns the committed configuration the joiner was admitted into.
//
// The exhausted-retries condition for phase 2 intentionally mirrors the
// original protocol's retry test exactly: any configurationId different
// from the one asked about ends the wait, not strictly one that contains
// the joiner. This is a known, preserved quirk, not an oversight.
func Join(ctx context.Context, sender transport.Sender, joinerEndpoint membership.Endpoint, seed membership.Endpoint, metadata map[string]string, cfg Config) (*Result, error) {
	nodeId := membership.NewNodeId()

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		configToJoin, observers, err := phase1(ctx, sender, joinerEndpoint, seed, nodeId, metadata, cfg)
		if err != nil {
			if err == rapiderrors.ErrUUIDAlreadyInRing {
				nodeId = membership.NewNodeId()
				continue
			}
			if err == rapiderrors.ErrMembershipRejected {
				metrics.RecordJoinAttempt("rejected")
				return nil, err
			}
			// CONFIG_CHANGED and protocol errors: retry with the same
			// identity.
			continue
		}

		result, err := phase2(ctx, sender, joinerEndpoint, nodeId, observers, configToJoin, metadata, cfg)
		if err == nil {
			metrics.RecordJoinAttempt("joined")
			return result, nil
		}
	}

	metrics.RecordJoinAttempt("exhausted")
	return nil, fmt.Errorf("join: exhausted %d attempts: %w", cfg.MaxAttempts, rapiderrors.ErrJoinPhase2Failed)
}

// phase1 sends the initial JoinMessage to seed and interprets its
// JoinStatusCode. On success it returns the configurationId the joiner
// should ask phase 2 observers about, and the list of observer endpoints
// (length K, possibly with duplicates) the seed computed for the joiner.
func phase1(ctx context.Context, sender transport.Sender, joinerEndpoint, seed membership.Endpoint, nodeId membership.NodeId, metadata map[string]string, cfg Config) (int64, []membership.Endpoint, error) {
	sendCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	defer cancel()

	reply, err := sender.Send(sendCtx, seed, &transport.Message{
		Type: transport.MsgJoin,
		Join: &transport.JoinMessage{
			Sender:          joinerEndpoint,
			NodeId:          nodeId,
			ConfigurationID: transport.UnknownConfigurationID,
			Metadata:        metadata,
		},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("join phase 1: %w", err)
	}
	if reply == nil || reply.Type != transport.MsgJoinResponse || reply.JoinResponse == nil {
		return 0, nil, fmt.Errorf("join phase 1: malformed response from %s", seed)
	}
	resp := reply.JoinResponse

	switch resp.StatusCode {
	case transport.JoinStatusSafeToJoin:
		return int64(resp.ConfigurationID), resp.Hosts, nil
	case transport.JoinStatusHostnameAlreadyInRing:
		return transport.UnknownConfigurationID, resp.Hosts, nil
	case transport.JoinStatusUUIDAlreadyInRing:
		return 0, nil, rapiderrors.ErrUUIDAlreadyInRing
	case transport.JoinStatusConfigChanged:
		return 0, nil, rapiderrors.ErrConfigChanged
	case transport.JoinStatusMembershipRejected:
		return 0, nil, rapiderrors.ErrMembershipRejected
	default:
		return 0, nil, fmt.Errorf("join phase 1: unknown status code %v", resp.StatusCode)
	}
}

// phase2 groups the K observer slots by distinct endpoint and sends each
// one a JoinMessage listing the ring numbers it is responsible for. It
// returns as soon as any observer answers with a configurationId
// different from configToJoin.
func phase2(ctx context.Context, sender transport.Sender, joinerEndpoint membership.Endpoint, nodeId membership.NodeId, observers []membership.Endpoint, configToJoin int64, metadata map[string]string, cfg Config) (*Result, error) {
	ringNumbersPerObserver := make(map[membership.Endpoint][]int)
	for ring, observer := range observers {
		ringNumbersPerObserver[observer] = append(ringNumbersPerObserver[observer], ring)
	}
	if len(ringNumbersPerObserver) == 0 {
		return nil, fmt.Errorf("join phase 2: %w", rapiderrors.ErrJoinPhase2Failed)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Phase2Timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	results := make(chan outcome, len(ringNumbersPerObserver))

	var wg sync.WaitGroup
	for observer, rings := range ringNumbersPerObserver {
		wg.Add(1)
		go func(observer membership.Endpoint, rings []int) {
			defer wg.Done()
			reply, err := sender.Send(ctx, observer, &transport.Message{
				Type: transport.MsgJoin,
				Join: &transport.JoinMessage{
					Sender:          joinerEndpoint,
					NodeId:          nodeId,
					ConfigurationID: configToJoin,
					RingNumbers:     rings,
					Metadata:        metadata,
				},
			})
			if err != nil {
				results <- outcome{nil, err}
				return
			}
			if reply == nil || reply.Type != transport.MsgJoinResponse || reply.JoinResponse == nil {
				results <- outcome{nil, fmt.Errorf("join phase 2: malformed response from %s", observer)}
				return
			}
			resp := reply.JoinResponse
			if resp.StatusCode != transport.JoinStatusSafeToJoin {
				results <- outcome{nil, fmt.Errorf("join phase 2: observer %s returned %v", observer, resp.StatusCode)}
				return
			}
			if int64(resp.ConfigurationID) == configToJoin {
				results <- outcome{nil, fmt.Errorf("join phase 2: observer %s has not advanced past %d", observer, configToJoin)}
				return
			}
			results <- outcome{&Result{
				ConfigurationID: resp.ConfigurationID,
				Hosts:           resp.Hosts,
				Identifiers:     resp.Identifiers,
				ClusterMetadata: resp.ClusterMetadata,
				NodeId:          nodeId,
			}, nil}
		}(observer, rings)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for o := range results {
		if o.err == nil {
			return o.result, nil
		}
		lastErr = o.err
	}
	if lastErr == nil {
		lastErr = rapiderrors.ErrJoinPhase2Failed
	}
	return nil, fmt.Errorf("join phase 2: %w", lastErr)
}
