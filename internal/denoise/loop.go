// Package denoise integrates the flow-matching ODE from Gaussian noise
// to an action chunk, optionally routing each step through RTC
// guidance (spec.md §4.4, C4).
package denoise

import (
	"math/rand/v2"

	"github.com/lerobot-rtc/policyserver/internal/action"
)

// Step computes the velocity field v_t for the current noise state at
// ODE time t. The raw model step and the RTC-wrapped step share this
// signature so the loop does not need to know which one it is calling.
type Step func(xT action.Chunk, t float64) action.Chunk

// Config bounds one denoising run.
type Config struct {
	NumSteps   int
	ChunkSize  int
	ActionDim  int // padded model action dim; may exceed the policy's declared action_dim
}

// Run integrates dx/dt = v(x_t, t) with Euler steps of size
// dt = -1/NumSteps from t=1 to t≈0, returning the full chunk_size
// action chunk truncated to the policy's declared actionDim. Slicing
// to actions_per_chunk for emission is the caller's job (spec.md §4.4,
// §4.2 — ActionQueue.Merge operates on full chunk_size chunks).
func Run(cfg Config, step Step, actionDim int, rng *rand.Rand) action.Chunk {
	xT := sampleNoise(cfg.ChunkSize, cfg.ActionDim, rng)

	dt := -1.0 / float64(cfg.NumSteps)
	t := 1.0
	for t >= -dt/2 {
		v := step(xT, t)
		xT = eulerUpdate(xT, v, dt)
		t += dt
	}

	return truncate(xT, actionDim, len(xT))
}

func sampleNoise(chunkSize, actionDim int, rng *rand.Rand) action.Chunk {
	out := make(action.Chunk, chunkSize)
	for i := range out {
		row := make(action.Action, actionDim)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		out[i] = row
	}
	return out
}

func eulerUpdate(xT, v action.Chunk, dt float64) action.Chunk {
	out := make(action.Chunk, len(xT))
	for i := range xT {
		row := make(action.Action, len(xT[i]))
		for j := range row {
			row[j] = xT[i][j] + float32(dt)*v[i][j]
		}
		out[i] = row
	}
	return out
}

// truncate slices every row down to actionDim columns (the model may
// operate in a larger padded space) and keeps only the first
// actionsPerChunk rows for emission.
func truncate(chunk action.Chunk, actionDim, actionsPerChunk int) action.Chunk {
	if actionsPerChunk > len(chunk) {
		actionsPerChunk = len(chunk)
	}
	out := make(action.Chunk, actionsPerChunk)
	for i := 0; i < actionsPerChunk; i++ {
		row := chunk[i]
		if actionDim < len(row) {
			row = row[:actionDim]
		}
		out[i] = row.Clone()
	}
	return out
}
