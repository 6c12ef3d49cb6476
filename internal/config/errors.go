package config

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/cascade/internal/schema"
)

// Error code constants shared by the loader and the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Section errors
	ErrCodeStore     = "E301" // Invalid store section
	ErrCodeProcessor = "E302" // Invalid processor section
	ErrCodeLog       = "E303" // Invalid log section
	ErrCodePipeline  = "E304" // Invalid pipeline rule
	ErrCodeNoTypes   = "E305" // No record types declared
)

// LoadError represents an error that occurred while loading configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// convertError turns schema and section errors into a LoadError with
// position info.
func convertError(err error, context string, fallback string) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	var ce *schema.CompileError
	if errors.As(err, &ce) {
		return &LoadError{
			Code:    mapFieldToErrorCode(ce.Field),
			Message: fmt.Sprintf("%s: %s", context, ce.Message),
			Pos:     ce.Pos,
		}
	}
	if code := schema.ErrorCode(err); code != "" {
		return &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", context, err)}
	}
	return &LoadError{Code: fallback, Message: fmt.Sprintf("%s: %v", context, err)}
}

// mapFieldToErrorCode maps a schema compile error field to an error code.
func mapFieldToErrorCode(field string) string {
	switch field {
	case "type", "default":
		return schema.ErrCodeAttributeKind
	case "attributes":
		return schema.ErrCodeInvalidType
	default:
		return ErrCodeGeneric
	}
}
