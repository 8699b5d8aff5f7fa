package config

import (
	"github.com/teamrichards/dispatchd/internal/dispatch"
)

// RuntimeConfig holds settings that can be changed while the service runs,
// either through the admin API or a websocket algorithm_config message.
// Instances are immutable; updates swap a fresh copy into an atomic pointer.
type RuntimeConfig struct {
	MatchingMode dispatch.Mode `json:"matching_mode"`
}

// NewDefaultRuntimeConfig returns the runtime settings used at startup.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MatchingMode: dispatch.ModeHybrid,
	}
}
