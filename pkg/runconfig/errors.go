package runconfig

import "errors"

var (
	// ErrUnsupportedImplementation indicates an implementation kind other
	// than the native executable.
	ErrUnsupportedImplementation = errors.New("unsupported implementation")

	// ErrInvalidConfig indicates a semantically invalid run configuration.
	ErrInvalidConfig = errors.New("invalid run configuration")
)

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "run config: " + e.Field + ": " + e.Message
}

// Unwrap returns ErrInvalidConfig for errors.Is support.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
