package denoise

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lerobot-rtc/policyserver/internal/action"
)

func TestRunProducesFullChunkTruncatedToActionDim(t *testing.T) {
	cfg := Config{NumSteps: 4, ChunkSize: 10, ActionDim: 6}
	rng := rand.New(rand.NewPCG(1, 2))

	constStep := func(xT action.Chunk, t float64) action.Chunk {
		out := make(action.Chunk, len(xT))
		for i := range out {
			row := make(action.Action, len(xT[i]))
			out[i] = row
		}
		return out
	}

	chunk := Run(cfg, constStep, 4, rng)
	assert.Len(t, chunk, 10)
	for _, row := range chunk {
		assert.Len(t, row, 4)
	}
}

func TestRunIsDeterministicForFixedSeedAndStep(t *testing.T) {
	cfg := Config{NumSteps: 3, ChunkSize: 4, ActionDim: 2}
	zero := func(xT action.Chunk, t float64) action.Chunk {
		out := make(action.Chunk, len(xT))
		for i := range out {
			out[i] = make(action.Action, len(xT[i]))
		}
		return out
	}

	c1 := Run(cfg, zero, 2, rand.New(rand.NewPCG(7, 7)))
	c2 := Run(cfg, zero, 2, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, c1, c2)
}
