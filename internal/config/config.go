// Package config loads and validates the planner daemon configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			TimeoutSec: 120,
		},
		Chat: ChatConfig{
			FreeLimit:        10,
			PaidLimit:        1000,
			SendAttempts:     3,
			CreateAttempts:   3,
			BackoffBaseMs:    1000,
			BackoffCapMs:     30000,
			EstimatedWaitSec: 15,
		},
		Gateway: GatewayConfig{
			Port: 18920,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
