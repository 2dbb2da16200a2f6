package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerobot-rtc/policyserver/internal/policy"
)

func defaultSim() SimilarityParams {
	return SimilarityParams{LanguageEps: 1e-6, ProprioEps: 1e-3, PixelMeanThreshold: 2.0}
}

func obsAt(ts int64, mustGo bool, state float32) TimedObservation {
	return TimedObservation{
		Timestep:  ts,
		Timestamp: float64(ts) / 30.0,
		MustGo:    mustGo,
		Observation: policy.Observation{
			"observation.state": {Shape: []int{1}, Data: []float32{state}},
		},
	}
}

func TestPutFirstObservationAlwaysAdmitted(t *testing.T) {
	ib := New(defaultSim())
	assert.True(t, ib.Put(obsAt(0, false, 1)))
}

func TestFreshnessDropsOlderWhileBusy(t *testing.T) {
	ib := New(defaultSim())
	require.True(t, ib.Put(obsAt(0, false, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := ib.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Timestep)

	assert.True(t, ib.Put(obsAt(1, false, 2)))
	assert.True(t, ib.Put(obsAt(2, false, 3)))
	assert.True(t, ib.Put(obsAt(3, false, 4)))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got2, err := ib.Get(ctx2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got2.Timestep)
}

func TestDedupDropsSameTimestepTwice(t *testing.T) {
	ib := New(defaultSim())
	ctx := context.Background()

	require.True(t, ib.Put(obsAt(5, false, 1)))
	_, err := ib.Get(ctx)
	require.NoError(t, err)

	assert.False(t, ib.Put(obsAt(5, false, 1)))
}

func TestMustGoBypassesSimilarityAndPredictedSet(t *testing.T) {
	ib := New(defaultSim())
	ctx := context.Background()

	require.True(t, ib.Put(obsAt(5, false, 1)))
	_, err := ib.Get(ctx)
	require.NoError(t, err)

	// Same timestep and near-identical state would normally be dropped.
	assert.True(t, ib.Put(obsAt(5, true, 1.0000001)))
}

func TestGetTimesOutWhenEmpty(t *testing.T) {
	ib := New(defaultSim())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ib.Get(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestResetIsIdempotent(t *testing.T) {
	ib := New(defaultSim())
	require.True(t, ib.Put(obsAt(0, false, 1)))
	ib.Reset()
	ib.Reset()
	assert.True(t, ib.Put(obsAt(0, false, 1)))
}
