package schema

import (
	"errors"
	"fmt"
)

// Error codes for schema problems. They share the E-number space used by the
// config loader.
const (
	ErrCodeDuplicateType    = "E201" // record type registered twice
	ErrCodeUnknownType      = "E202" // record type not registered
	ErrCodeUnknownAttribute = "E203" // attribute not declared by the type
	ErrCodeAttributeKind    = "E204" // attribute value has the wrong kind
	ErrCodeInvalidType      = "E205" // malformed record type definition
)

// ConfigError is a fatal configuration problem. It is never retried.
type ConfigError struct {
	Code    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ErrorCode returns the code of a wrapped *ConfigError, or "".
func ErrorCode(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
