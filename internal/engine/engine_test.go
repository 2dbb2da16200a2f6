package engine

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerobot-rtc/policyserver/internal/action"
	"github.com/lerobot-rtc/policyserver/internal/actionqueue"
	"github.com/lerobot-rtc/policyserver/internal/denoise"
	"github.com/lerobot-rtc/policyserver/internal/inbox"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/rtc"
	"github.com/lerobot-rtc/policyserver/internal/rtcconfig"
)

// stubClock advances a fixed step on every call, simulating inference
// wall time deterministically.
type stubClock struct {
	t    time.Time
	step time.Duration
}

func (c *stubClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

// stubModel is a deterministic stand-in for the "VLM + action expert"
// black box.
type stubModel struct {
	chunkSize int
	actionDim int
}

func (m *stubModel) EmbedPrefix(obs policy.Observation) (policy.PrefixCache, error) {
	return struct{}{}, nil
}

func (m *stubModel) DenoiseStep(cache policy.PrefixCache, xT action.Chunk, t float64) action.Chunk {
	out := make(action.Chunk, len(xT))
	for i := range out {
		out[i] = make(action.Action, len(xT[i]))
	}
	return out
}

func (m *stubModel) PredictActionChunk(obs policy.Observation) (action.Chunk, error) {
	out := make(action.Chunk, m.chunkSize)
	for i := range out {
		row := make(action.Action, m.actionDim)
		for j := range row {
			row[j] = float32(i + j)
		}
		out[i] = row
	}
	return out, nil
}

func (m *stubModel) ActionDim() int { return m.actionDim }
func (m *stubModel) NoiseDim() int  { return m.actionDim }
func (m *stubModel) ChunkSize() int { return m.chunkSize }

func newTestEngine(t *testing.T, rtcEnabled bool) *Engine {
	t.Helper()
	model := &stubModel{chunkSize: 10, actionDim: 3}
	pre := policy.NewPreprocessor(nil, map[string]policy.FeatureSpec{
		"observation.state": {Shape: []int{3}, Kind: "state"},
	})
	post := policy.NewPostprocessor(nil, nil)

	var processor *rtc.Processor
	var cfg rtcconfig.Config
	if rtcEnabled {
		var err error
		cfg, err = rtcconfig.New(true, 4, 10, rtcconfig.ScheduleConst, false, 0, 10)
		require.NoError(t, err)
		processor = rtc.New(cfg)
	}

	return &Engine{
		Model:         model,
		Preprocessor:  pre,
		Postprocessor: post,
		RTC:           processor,
		RTCConfig:     cfg,
		EnvironmentDT: 1.0 / 30.0,
		NumSteps:      4,
		Clock:         &stubClock{t: time.Unix(0, 0), step: 0},
		RNG:           rand.New(rand.NewPCG(1, 1)),
	}
}

func testObs(ts int64) inbox.TimedObservation {
	return inbox.TimedObservation{
		Timestep:  ts,
		Timestamp: float64(ts) / 30.0,
		Observation: policy.Observation{
			"observation.state": {Shape: []int{3}, Data: []float32{1, 2, 3}},
		},
	}
}

func TestPredictActionChunkWithoutRTCMatchesRawModel(t *testing.T) {
	e := newTestEngine(t, false)
	model := e.Model.(*stubModel)

	result, err := e.PredictActionChunk(testObs(0), nil, 10)
	require.NoError(t, err)
	require.Len(t, result.Actions, 10)

	raw, err := model.PredictActionChunk(nil)
	require.NoError(t, err)
	for i, ta := range result.Actions {
		assert.Equal(t, raw[i], ta.Action)
	}
}

func TestPredictActionChunkTimestampsAreArithmeticProgression(t *testing.T) {
	e := newTestEngine(t, false)
	result, err := e.PredictActionChunk(testObs(5), nil, 10)
	require.NoError(t, err)

	for i := 1; i < len(result.Actions); i++ {
		assert.InDelta(t, e.EnvironmentDT, result.Actions[i].Timestamp-result.Actions[i-1].Timestamp, 1e-9)
		assert.Equal(t, int64(1), result.Actions[i].Timestep-result.Actions[i-1].Timestep)
	}
}

func TestPredictActionChunkRTCWithNilLeftoverMatchesUnguided(t *testing.T) {
	e := newTestEngine(t, true)
	q := actionqueue.New(e.RTCConfig.ExecutionHorizon)

	model := e.Model.(*stubModel)

	result, err := e.PredictActionChunk(testObs(0), q, 10)
	require.NoError(t, err)

	// Same seed as newTestEngine, raw model step with no RTC wrapping.
	unguidedStep := func(xT action.Chunk, tm float64) action.Chunk {
		return model.DenoiseStep(nil, xT, tm)
	}
	unguided := denoise.Run(denoise.Config{
		NumSteps:  e.NumSteps,
		ChunkSize: model.chunkSize,
		ActionDim: model.actionDim,
	}, unguidedStep, model.actionDim, rand.New(rand.NewPCG(1, 1)))

	require.Len(t, result.Actions, len(unguided))
	for i, ta := range result.Actions {
		assert.Equal(t, unguided[i], ta.Action)
	}
}
