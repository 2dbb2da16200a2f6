// Package inbox implements a depth-1, freshest-wins observation queue
// with deduplication and a must_go override (spec.md §4.5, C5).
package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/lerobot-rtc/policyserver/internal/policy"
)

// ErrEmpty is returned by Get when the timeout elapses with no
// observation admitted.
var ErrEmpty = errors.New("inbox: timed out waiting for an observation")

// TimedObservation is one client-submitted observation (spec.md §3).
type TimedObservation struct {
	Timestep    int64
	Timestamp   float64
	MustGo      bool
	Observation policy.Observation
}

// SimilarityParams bundles the epsilon/threshold triple a Server binds
// from RemotePolicyConfig.
type SimilarityParams struct {
	LanguageEps        float64
	ProprioEps         float64
	PixelMeanThreshold float64
}

// Inbox is a depth-1 bounded channel guarded by a single lock that
// also owns the predicted_timesteps set, so the hold order
// "predicted_timesteps -> inbox" from spec.md §5 can never be violated
// by a caller acquiring them separately.
type Inbox struct {
	sim SimilarityParams

	mu                sync.Mutex
	cond              *sync.Cond
	slot              *TimedObservation
	lastProcessed     *TimedObservation
	predictedTimesteps map[int64]bool
	closed            bool
}

// New creates an empty inbox parameterized by the similarity filter's
// thresholds.
func New(sim SimilarityParams) *Inbox {
	ib := &Inbox{
		sim:                sim,
		predictedTimesteps: make(map[int64]bool),
	}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// Put attempts to admit obs per the discipline in spec.md §4.5:
// must_go always wins; otherwise admission requires the timestep is
// unseen by any launched inference and the observation is not similar
// to the last one processed. Returns whether obs was admitted.
func (ib *Inbox) Put(obs TimedObservation) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if !ib.admit(obs) {
		return false
	}

	ib.slot = &obs
	ib.cond.Signal()
	return true
}

func (ib *Inbox) admit(obs TimedObservation) bool {
	if obs.MustGo {
		return true
	}
	if ib.lastProcessed == nil {
		return true
	}
	if ib.predictedTimesteps[obs.Timestep] {
		return false
	}
	if policy.Similar(obs.Observation, ib.lastProcessed.Observation, ib.sim.LanguageEps, ib.sim.ProprioEps, ib.sim.PixelMeanThreshold) {
		return false
	}
	return true
}

// Get blocks until an observation is admitted or ctx is cancelled,
// returning ErrEmpty on cancellation (the caller is expected to derive
// ctx from obs_queue_timeout). On success the returned timestep is
// recorded in predicted_timesteps and the observation becomes
// "last processed" for future similarity checks.
func (ib *Inbox) Get(ctx context.Context) (TimedObservation, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ib.mu.Lock()
			ib.cond.Broadcast()
			ib.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	ib.mu.Lock()
	defer ib.mu.Unlock()

	for ib.slot == nil && ctx.Err() == nil && !ib.closed {
		ib.cond.Wait()
	}

	if ib.slot == nil {
		return TimedObservation{}, ErrEmpty
	}

	obs := *ib.slot
	ib.slot = nil
	ib.predictedTimesteps[obs.Timestep] = true
	ib.lastProcessed = &obs
	return obs, nil
}

// Reset clears the slot, predicted_timesteps, and last-processed
// marker, and unblocks any waiting Get (spec.md §4.7 Ready, §5
// cancellation). It is idempotent.
func (ib *Inbox) Reset() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.slot = nil
	ib.lastProcessed = nil
	ib.predictedTimesteps = make(map[int64]bool)
	ib.cond.Broadcast()
}

// Close unblocks any waiting Get permanently (server shutdown).
func (ib *Inbox) Close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.closed = true
	ib.cond.Broadcast()
}
