package actionqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerobot-rtc/policyserver/internal/action"
)

func makeChunk(n, dim int, base float32) action.Chunk {
	c := make(action.Chunk, n)
	for i := range c {
		a := make(action.Action, dim)
		for j := range a {
			a[j] = base + float32(i)
		}
		c[i] = a
	}
	return c
}

func TestGetLeftOverNilOnFirstInference(t *testing.T) {
	q := New(8)
	assert.Nil(t, q.GetLeftOver())
	assert.Equal(t, int64(0), q.GetActionIndex())
}

func TestMergeStaleInferenceError(t *testing.T) {
	q := New(8)
	chunk := makeChunk(50, 4, 0)
	err := q.Merge(chunk, chunk, 50, 0)
	require.Error(t, err)
	var staleErr *StaleInferenceError
	require.ErrorAs(t, err, &staleErr)
	assert.Equal(t, 50, staleErr.RealDelay)
	assert.Equal(t, 50, staleErr.ChunkSize)

	// previous leftover/pending are untouched
	assert.Nil(t, q.GetLeftOver())
	assert.Empty(t, q.Pending())
}

func TestMergeLeftoverBoundedByExecutionHorizon(t *testing.T) {
	q := New(8)
	original := makeChunk(50, 4, 0)
	processed := makeChunk(50, 4, 0)

	require.NoError(t, q.Merge(original, processed, 4, 0))
	leftover := q.GetLeftOver()
	assert.LessOrEqual(t, len(leftover), 50-8)
	assert.Len(t, leftover, 50-4-8)
}

func TestMergeRealDelayChunkSizeMinusOne(t *testing.T) {
	q := New(8)
	original := makeChunk(50, 4, 0)
	processed := makeChunk(50, 4, 0)

	require.NoError(t, q.Merge(original, processed, 49, 0))
	assert.Len(t, q.Pending(), 1)
	assert.Nil(t, q.GetLeftOver())
}

func TestMergeIdempotentUnderZeroDelay(t *testing.T) {
	q1 := New(8)
	q2 := New(8)
	original := makeChunk(50, 4, 0)
	processed := makeChunk(50, 4, 0)

	require.NoError(t, q1.Merge(original, processed, 0, 0))
	require.NoError(t, q2.Merge(original, processed, 0, 0))
	require.NoError(t, q1.Merge(original, processed, 0, q1.GetActionIndex()))
	require.NoError(t, q2.Merge(original, processed, 0, q2.GetActionIndex()))

	assert.Equal(t, q1.Pending(), q2.Pending())
	assert.Equal(t, q1.GetLeftOver(), q2.GetLeftOver())
}

func TestPopAdvancesCommittedIndex(t *testing.T) {
	q := New(8)
	original := makeChunk(10, 2, 0)
	processed := makeChunk(10, 2, 0)
	require.NoError(t, q.Merge(original, processed, 0, 0))

	popped := q.Pop(3)
	assert.Len(t, popped, 3)
	assert.Equal(t, int64(3), q.GetActionIndex())
	assert.Len(t, q.Pending(), 7)
}
