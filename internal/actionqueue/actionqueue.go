// Package actionqueue tracks which actions have already been committed
// to the wire, computes the leftover suffix used to guide the next
// inference, and merges newly produced chunks at the correct index
// (spec.md §4.2, C2).
package actionqueue

import (
	"fmt"
	"sync"

	"github.com/lerobot-rtc/policyserver/internal/action"
)

// StaleInferenceError is raised by Merge when the measured inference
// delay is so large the produced chunk no longer overlaps the
// trajectory the robot is executing.
type StaleInferenceError struct {
	RealDelay int
	ChunkSize int
}

func (e *StaleInferenceError) Error() string {
	return fmt.Sprintf("actionqueue: stale inference, real_delay=%d >= chunk_size=%d", e.RealDelay, e.ChunkSize)
}

// Queue is single-writer (the inference task) and single-reader (the
// retrieval task) per spec.md §5; the mutex only protects the fields
// against that single writer/reader racing with concurrent GetLeftOver
// / GetActionIndex snapshots, not against multiple writers.
type Queue struct {
	executionHorizon int

	mu             sync.Mutex
	committedIndex int64
	pending        action.Chunk
	leftover       action.Chunk // nil means "none"
}

// New creates an empty queue for a server instance whose RTC config
// declares the given execution horizon.
func New(executionHorizon int) *Queue {
	return &Queue{executionHorizon: executionHorizon}
}

// GetLeftOver returns the current leftover suffix, or nil on the first
// inference (or whenever the last merge left nothing over).
func (q *Queue) GetLeftOver() action.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leftover == nil {
		return nil
	}
	return q.leftover.Clone()
}

// GetActionIndex returns committed_index: the index in the logical
// trajectory at which the next inference will start.
func (q *Queue) GetActionIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committedIndex
}

// Merge aligns the new chunk at offset realDelay relative to
// actionIndexBeforeInference, drops the first realDelay actions
// (already served from the stale chunk), sets pending to the
// remainder, and sets leftover to the trimmed suffix beyond the
// execution horizon. See spec.md §4.2.
func (q *Queue) Merge(original, processed action.Chunk, realDelay int, actionIndexBeforeInference int64) error {
	chunkSize := len(processed)
	if realDelay >= chunkSize {
		return &StaleInferenceError{RealDelay: realDelay, ChunkSize: chunkSize}
	}
	if realDelay < 0 {
		realDelay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = processed.Slice(realDelay, chunkSize).Clone()

	leftoverStart := realDelay + q.executionHorizon
	q.leftover = original.Slice(leftoverStart, chunkSize).Clone()
	if len(q.leftover) == 0 {
		q.leftover = nil
	}

	// actionIndexBeforeInference anchors where this chunk began in the
	// logical trajectory. Merge itself advances committed_index to
	// actionIndexBeforeInference+realDelay (Pop advances it too), and
	// never moves it backwards.
	if actionIndexBeforeInference+int64(realDelay) > q.committedIndex {
		q.committedIndex = actionIndexBeforeInference + int64(realDelay)
	}

	return nil
}

// Pop returns the next n pending actions and advances committed_index.
// It returns fewer than n actions if pending is shorter.
func (q *Queue) Pop(n int) action.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := q.pending.Slice(0, n).Clone()
	q.pending = q.pending.Slice(n, len(q.pending))
	q.committedIndex += int64(n)
	return out
}

// Pending returns a copy of the actions awaiting delivery, without
// popping them. Used by tests and by debug endpoints.
func (q *Queue) Pending() action.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Clone()
}
