// Package wire implements serialize/deserialize for the three message
// kinds on the RPC surface (spec.md §6): RemotePolicyConfig,
// TimedObservation, and []TimedAction.
package wire

import (
	"github.com/lerobot-rtc/policyserver/internal/action"
	"github.com/lerobot-rtc/policyserver/internal/inbox"
	"github.com/lerobot-rtc/policyserver/internal/policy"
	"github.com/lerobot-rtc/policyserver/internal/transport"
)

// MarshalPolicyConfig serializes a RemotePolicyConfig to a framed blob.
func MarshalPolicyConfig(cfg policy.RemotePolicyConfig) ([]byte, error) {
	return transport.Encode(cfg)
}

// UnmarshalPolicyConfig is the inverse of MarshalPolicyConfig.
func UnmarshalPolicyConfig(data []byte) (policy.RemotePolicyConfig, error) {
	var cfg policy.RemotePolicyConfig
	err := transport.Decode(data, &cfg)
	return cfg, err
}

// MarshalObservation serializes a TimedObservation to a framed blob.
func MarshalObservation(obs inbox.TimedObservation) ([]byte, error) {
	return transport.Encode(obs)
}

// UnmarshalObservation is the inverse of MarshalObservation.
func UnmarshalObservation(data []byte) (inbox.TimedObservation, error) {
	var obs inbox.TimedObservation
	err := transport.Decode(data, &obs)
	return obs, err
}

// MarshalActions serializes a chunk of TimedActions to a framed blob.
func MarshalActions(actions []action.TimedAction) ([]byte, error) {
	return transport.Encode(actions)
}

// UnmarshalActions is the inverse of MarshalActions.
func UnmarshalActions(data []byte) ([]action.TimedAction, error) {
	var actions []action.TimedAction
	err := transport.Decode(data, &actions)
	return actions, err
}
