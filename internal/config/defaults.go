package config

import (
	"inbox-analyzer/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
// MaxParallel zero lets the scheduler derive its budget from the host.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		WorkerCommand: "claude",
		LightModel:    "sonnet",
		HeavyModel:    "opus",
		MaxParallel:   0,
	}
}
