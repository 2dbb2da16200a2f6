package policy

import (
	"github.com/lerobot-rtc/policyserver/internal/rtcconfig"
)

// FeatureSpec describes one named observation feature's tensor shape.
type FeatureSpec struct {
	Shape []int
	Kind  string // "image", "state", "language_tokens", "language_mask", ...
}

// RemotePolicyConfig is the deserialized payload of SendPolicyInstructions
// (spec.md §6).
type RemotePolicyConfig struct {
	PolicyType           Kind
	PretrainedNameOrPath string
	ActionsPerChunk      int
	Device               string
	LerobotFeatures      map[string]FeatureSpec
	RenameMap            map[string]string
	RTCConfig            rtcconfig.Config

	// Similarity thresholds for the ObservationInbox dedup filter
	// (spec.md §9 Open Questions: "parameterize epsilon and document
	// it"). Zero values fall back to DefaultSimilarity.
	LanguageEpsilon    float64
	ProprioEpsilon     float64
	PixelMeanThreshold float64
}

// DefaultSimilarity returns the epsilon/threshold values used when a
// RemotePolicyConfig does not specify its own.
func DefaultSimilarity() (languageEps, proprioEps, pixelMeanThreshold float64) {
	return 1e-6, 1e-3, 2.0
}
