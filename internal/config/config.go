// Package config holds process-level configuration for the policy
// server, mirroring the teacher's pkg/config conventions (flags + .env
// + environment, validated at startup) rather than the serialized
// per-policy RemotePolicyConfig (spec.md §6).
package config

import (
	"fmt"
	"time"
)

// Config is the process configuration (spec.md §6 "Configuration
// flags") plus the ambient debug/telemetry surface this expansion
// adds.
type Config struct {
	Host string
	Port int

	FPS               float64
	InferenceLatency  time.Duration
	ObsQueueTimeout   time.Duration

	DebugHost string
	DebugPort int

	TelemetryDSN string // empty disables telemetry persistence
}

// EnvironmentDT is 1/FPS, the control period the server assumes.
func (c Config) EnvironmentDT() float64 {
	return 1.0 / c.FPS
}

// Validate rejects an unusable configuration before the server binds.
func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("config: port must be positive, got %d", c.Port)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive, got %f", c.FPS)
	}
	if c.ObsQueueTimeout <= 0 {
		return fmt.Errorf("config: obs_queue_timeout must be positive")
	}
	if c.InferenceLatency < 0 {
		return fmt.Errorf("config: inference_latency must be >= 0")
	}
	return nil
}

// Default returns the teacher-style built-in defaults.
func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		FPS:              30,
		InferenceLatency: 33 * time.Millisecond,
		ObsQueueTimeout:  1 * time.Second,
		DebugHost:        "127.0.0.1",
		DebugPort:        9090,
	}
}
