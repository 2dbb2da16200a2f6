// Package rtc implements the RTC guidance operator (C3): wrapping one
// denoise step with a soft prefix-attention constraint that pulls the
// head of a new action chunk toward the still-unexecuted suffix of the
// previous one (spec.md §4.3).
package rtc

import (
	"math"
	"sync"

	"github.com/lerobot-rtc/policyserver/internal/action"
	"github.com/lerobot-rtc/policyserver/internal/rtcconfig"
)

// OriginalStep computes the unguided velocity field for x_t.
type OriginalStep func(xT action.Chunk) action.Chunk

// DebugSample is one entry of the guidance ring buffer (spec.md
// §4.3.5): the ODE time, the guidance weight at that time, and the L2
// norm of the unweighted constrained correction m ⊙ (y − x_t), taken
// before the guidance weight is applied.
type DebugSample struct {
	Time           float64
	GuidanceWeight float64
	CorrectionNorm float64
}

// Processor wraps denoise steps with RTC guidance for one server
// instance. It is safe for concurrent use only insofar as the debug
// ring buffer is guarded; the denoise loop itself is single-flight per
// spec.md §5.
type Processor struct {
	cfg rtcconfig.Config

	mu      sync.Mutex
	debug   []DebugSample
	publish func(DebugSample)

	cycleSum   float64
	cycleCount int
}

// New builds a Processor from a validated RTCConfig.
func New(cfg rtcconfig.Config) *Processor {
	return &Processor{cfg: cfg}
}

// SetPublisher registers a callback invoked with every debug sample as
// it is recorded, in addition to the ring buffer; nil disables
// publishing. Used to bridge live samples to the debug websocket feed.
func (p *Processor) SetPublisher(fn func(DebugSample)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish = fn
}

// BeginCycle resets the running correction-norm average; callers
// invoke this once per predict_action_chunk call before the denoising
// loop starts.
func (p *Processor) BeginCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycleSum = 0
	p.cycleCount = 0
}

// MeanCorrectionNorm returns the average unweighted correction norm
// across every DenoiseStep call since the last BeginCycle (spec.md §3
// "guidance_norm_mean"); zero when no step applied guidance.
func (p *Processor) MeanCorrectionNorm() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cycleCount == 0 {
		return 0
	}
	return p.cycleSum / float64(p.cycleCount)
}

// DenoiseStep computes v_t for one ODE step, guided by prevLeftover
// when present. execution_horizon and inference_delay govern how much
// of the leftover is aligned into the soft prefix; see spec.md §4.3.
func (p *Processor) DenoiseStep(xT action.Chunk, prevLeftover action.Chunk, inferenceDelay int, t float64, original OriginalStep, executionHorizon int) action.Chunk {
	v := original(xT)

	l := len(prevLeftover)
	if l == 0 {
		// Fallback: first chunk, or queue empty.
		return v
	}

	h := executionHorizon
	d := inferenceDelay
	constrained := minInt(l, h)

	w := p.cfg.Weight(t)

	guided := make(action.Chunk, len(xT))
	var correctionSq float64
	for i := range xT {
		row := xT[i].Clone()
		if i < constrained {
			srcIdx := d + i
			if srcIdx < len(prevLeftover) {
				y := prevLeftover[srcIdx]
				for j := range row {
					if j < len(y) {
						diff := float64(y[j]) - float64(xT[i][j])
						correctionSq += diff * diff
						row[j] = v[i][j] + float32(w*diff)
					} else {
						row[j] = v[i][j]
					}
				}
				guided[i] = row
				continue
			}
		}
		guided[i] = v[i]
	}

	norm := math.Sqrt(correctionSq)

	p.mu.Lock()
	p.cycleSum += norm
	p.cycleCount++
	p.mu.Unlock()

	if p.cfg.Debug {
		p.recordDebug(DebugSample{Time: t, GuidanceWeight: w, CorrectionNorm: norm})
	}

	return guided
}

func (p *Processor) recordDebug(s DebugSample) {
	p.mu.Lock()
	p.debug = append(p.debug, s)
	if over := len(p.debug) - p.cfg.DebugMaxLen; over > 0 {
		p.debug = p.debug[over:]
	}
	publish := p.publish
	p.mu.Unlock()

	if publish != nil {
		publish(s)
	}
}

// DebugSamples returns a copy of the current ring buffer, oldest first.
func (p *Processor) DebugSamples() []DebugSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DebugSample, len(p.debug))
	copy(out, p.debug)
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
