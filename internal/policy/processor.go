package policy

import "github.com/lerobot-rtc/policyserver/internal/action"

// Preprocessor converts a raw observation (as received over the wire)
// into the normalized tensor dictionary the model expects: renaming
// keys per RenameMap and applying the declared feature schema.
// Normalization/tokenization/device placement are themselves pure
// stream transforms per spec.md §1 ("out of scope... treated as pure
// stream transforms"); only the rename step is modeled explicitly here
// since it is part of RemotePolicyConfig's wire contract.
type Preprocessor struct {
	renameMap map[string]string
	features  map[string]FeatureSpec
}

// NewPreprocessor builds a Preprocessor bound to one policy's schema.
func NewPreprocessor(renameMap map[string]string, features map[string]FeatureSpec) *Preprocessor {
	return &Preprocessor{renameMap: renameMap, features: features}
}

// Process renames raw observation keys per RenameMap and drops any
// tensor not present in the declared feature schema.
func (p *Preprocessor) Process(raw map[string]Tensor) Observation {
	out := make(Observation, len(raw))
	for name, t := range raw {
		target := name
		if renamed, ok := p.renameMap[name]; ok {
			target = renamed
		}
		if _, declared := p.features[target]; !declared {
			continue
		}
		out[target] = t
	}
	return out
}

// Postprocessor applies (stand-in) unnormalization to a single action
// at a time, as the native pipeline does (spec.md §4.6 step 6: "apply
// the postprocessor to each action of the chunk individually").
type Postprocessor struct {
	scale  action.Action
	offset action.Action
}

// NewPostprocessor builds an identity postprocessor unless scale/offset
// are supplied (both nil means identity).
func NewPostprocessor(scale, offset action.Action) *Postprocessor {
	return &Postprocessor{scale: scale, offset: offset}
}

// Process unnormalizes one action: out[i] = in[i]*scale[i] + offset[i],
// or the identity when no scale/offset were configured.
func (p *Postprocessor) Process(a action.Action) action.Action {
	if p.scale == nil && p.offset == nil {
		return a.Clone()
	}
	out := make(action.Action, len(a))
	for i, v := range a {
		scaled := v
		if i < len(p.scale) {
			scaled *= p.scale[i]
		}
		if i < len(p.offset) {
			scaled += p.offset[i]
		}
		out[i] = scaled
	}
	return out
}

// ProcessChunk applies Process to every action in a chunk.
func (p *Postprocessor) ProcessChunk(c action.Chunk) action.Chunk {
	out := make(action.Chunk, len(c))
	for i, a := range c {
		out[i] = p.Process(a)
	}
	return out
}
