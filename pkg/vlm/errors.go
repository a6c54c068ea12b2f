package vlm

import "fmt"

// ConfigError reports a missing or invalid piece of adapter configuration,
// such as an absent provider. It replaces hard process exits with an error
// the caller can inspect.
type ConfigError struct {
	Component string
	Reason    string
}

// Error implements error.Error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Component, e.Reason)
}

// NewConfigError creates a ConfigError for the given component.
func NewConfigError(component, reason string) *ConfigError {
	return &ConfigError{Component: component, Reason: reason}
}
