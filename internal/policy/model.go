// Package policy defines the black-box model interface, the
// RemotePolicyConfig wire contract, and the allow-listed policy kinds
// (spec.md §1 "out of scope: the concrete neural network", §4.7,
// §9 "dynamic dispatch on policy kind collapses to a tagged variant").
package policy

import (
	"fmt"

	"github.com/lerobot-rtc/policyserver/internal/action"
)

// Kind is an allow-listed policy family name, mirroring the original
// SUPPORTED_POLICIES tuple (act, smolvla, pi0, ...).
type Kind string

// Supported policy kinds.
const (
	KindACT     Kind = "act"
	KindSmolVLA Kind = "smolvla"
	KindPi0     Kind = "pi0"
)

var supported = map[Kind]bool{
	KindACT:     true,
	KindSmolVLA: true,
	KindPi0:     true,
}

// UnsupportedPolicyError is returned synchronously from
// SendPolicyInstructions when the requested policy kind is not in the
// allow-list (spec.md §4.7, §7).
type UnsupportedPolicyError struct {
	Kind Kind
}

func (e *UnsupportedPolicyError) Error() string {
	return fmt.Sprintf("policy: unsupported policy kind %q", e.Kind)
}

// Model is the black-box "VLM + action expert" interface: embed the
// observation prefix once per inference, cache it, and expose a single
// denoise step the flow-matching loop can call repeatedly (spec.md §1).
type Model interface {
	// EmbedPrefix projects an observation into the prefix embeddings
	// the model attends over during every denoise step of one
	// inference cycle.
	EmbedPrefix(obs Observation) (PrefixCache, error)

	// DenoiseStep computes v_t given the current noise state, ODE
	// time, and the prefix cache computed once for this inference.
	DenoiseStep(cache PrefixCache, xT action.Chunk, t float64) action.Chunk

	// PredictActionChunk is the model's native (non-RTC) path, used
	// when RTC is disabled.
	PredictActionChunk(obs Observation) (action.Chunk, error)

	// ActionDim is the policy's declared action dimensionality; the
	// model's internal padded space may be larger.
	ActionDim() int

	// NoiseDim is the width of the Euler state the denoising loop
	// integrates; spec.md §4.4 notes the model may pad this beyond
	// ActionDim, so output is always truncated back down.
	NoiseDim() int

	// ChunkSize is the number of actions the model produces per
	// inference.
	ChunkSize() int
}

// PrefixCache is an opaque handle to whatever key/value cache a model
// computed for embed_prefix; DenoiseLoop never inspects it.
type PrefixCache any

// Observation is the normalized tensor dictionary produced by the
// preprocessor pipeline.
type Observation map[string]Tensor

// Tensor is a small named-shape float32 buffer standing in for the
// opaque tensors (images, proprioceptive state, language tokens+mask)
// the real model consumes.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Factory constructs a Model for a given artifact path and device.
type Factory func(pretrainedNameOrPath, device string) (Model, error)

// Registry maps supported policy kinds to model factories. Only one
// kind is live per server instance (spec.md §9).
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry builds a registry from the given factories; callers
// typically register a factory per supported kind at startup.
func NewRegistry(factories map[Kind]Factory) *Registry {
	return &Registry{factories: factories}
}

// Load instantiates the model for kind, rejecting unsupported kinds
// synchronously.
func (r *Registry) Load(kind Kind, pretrainedNameOrPath, device string) (Model, error) {
	if !supported[kind] {
		return nil, &UnsupportedPolicyError{Kind: kind}
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, &UnsupportedPolicyError{Kind: kind}
	}
	return factory(pretrainedNameOrPath, device)
}
