// Package engine implements the InferenceEngine pipeline: raw
// observation -> preprocessor -> denoise loop -> postprocessor ->
// timed action chunk (spec.md §4.6, C6).
package engine

import (
	"math/rand/v2"
	"time"

	"github.com/lerobot-rtc/policyserver/internal/action"
	"github.com/lerobot-rtc/policyserver/internal/actionqueue"
	"github.com/lerobot-rtc/policyserver/internal/denoise"
	"github.com/lerobot-rtc/policyserver/internal/inbox"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/rtc"
	"github.com/lerobot-rtc/policyserver/internal/rtcconfig"
)

// Clock lets tests substitute a deterministic time source; production
// code uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// Engine wires one policy's model, processors, and (optionally) RTC
// guidance into the predict_action_chunk pipeline. The ActionQueue is
// passed as an explicit collaborator rather than stored as a
// back-pointer (spec.md §9 "cyclic references ... avoided").
type Engine struct {
	Model         policy.Model
	Preprocessor  *policy.Preprocessor
	Postprocessor *policy.Postprocessor
	RTC           *rtc.Processor // nil when RTC disabled
	RTCConfig     rtcconfig.Config
	EnvironmentDT float64
	NumSteps      int
	Clock         Clock
	RNG           *rand.Rand
}

// Result is the outcome of one predict_action_chunk call: the
// emitted, wire-ready TimedActions (already sliced to
// actions_per_chunk) plus the measured real_delay for telemetry.
type Result struct {
	Actions      []action.TimedAction
	RealDelay    int
	GuidanceNorm float64 // mean unweighted correction norm; zero when RTC is disabled
}

// PredictActionChunk runs the full pipeline for one observation,
// merging its result into queue before returning (spec.md §4.6).
func (e *Engine) PredictActionChunk(obs inbox.TimedObservation, queue *actionqueue.Queue, actionsPerChunk int) (Result, error) {
	start := e.Clock.Now()
	actionIndexBeforeInference := int64(0)
	if queue != nil {
		actionIndexBeforeInference = queue.GetActionIndex()
	}

	normalized := e.Preprocessor.Process(obs.Observation)

	var originalChunk action.Chunk
	var rawChunk action.Chunk
	var guidanceNorm float64

	if e.RTC != nil {
		e.RTC.BeginCycle()
		cache, err := e.Model.EmbedPrefix(normalized)
		if err != nil {
			return Result{}, err
		}

		prevLeftover := queue.GetLeftOver()
		// inference_delay is fixed once per cycle, at the point embed_prefix
		// completes and the denoising loop is about to start (spec.md §4.6
		// step 4), not recomputed on every ODE iteration.
		inferenceDelay := int(e.Clock.Now().Sub(start).Seconds() / e.EnvironmentDT)

		step := func(xT action.Chunk, t float64) action.Chunk {
			original := func(x action.Chunk) action.Chunk {
				return e.Model.DenoiseStep(cache, x, t)
			}
			return e.RTC.DenoiseStep(xT, prevLeftover, inferenceDelay, t, original, e.RTCConfig.ExecutionHorizon)
		}

		rawChunk = denoise.Run(denoise.Config{
			NumSteps:  e.NumSteps,
			ChunkSize: e.Model.ChunkSize(),
			ActionDim: e.Model.NoiseDim(),
		}, step, e.Model.ActionDim(), e.RNG)

		originalChunk = rawChunk.Clone()
		guidanceNorm = e.RTC.MeanCorrectionNorm()
	} else {
		chunk, err := e.Model.PredictActionChunk(normalized)
		if err != nil {
			return Result{}, err
		}
		rawChunk = chunk
	}

	processedChunk := e.Postprocessor.ProcessChunk(rawChunk)

	timed := action.TimeChunk(processedChunk, obs.Timestamp, obs.Timestep, e.EnvironmentDT)

	realDelay := int(e.Clock.Now().Sub(start).Seconds() / e.EnvironmentDT)

	if e.RTC != nil && queue != nil {
		if err := queue.Merge(originalChunk, processedChunk, realDelay, actionIndexBeforeInference); err != nil {
			return Result{}, err
		}
	}

	if actionsPerChunk > 0 && actionsPerChunk < len(timed) {
		timed = timed[:actionsPerChunk]
	}

	return Result{Actions: timed, RealDelay: realDelay, GuidanceNorm: guidanceNorm}, nil
}
