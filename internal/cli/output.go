package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cascade/internal/config"
)

// Process exit codes shared by every command.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the pipeline, a scenario or the journal check failed
	ExitCommandError = 2 // bad arguments, configuration or store location
)

// ExitError is a command failure that carries its process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns a failure with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps the error returned by a command to a process exit code.
// Errors not raised through ExitError count as ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// Response is the envelope written for --format json.
type Response struct {
	Status string   `json:"status"` // ok or error
	Data   any      `json:"data,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// Problem is one configuration issue or command failure. Code is a config
// or schema error code, e.g. E301 for an invalid store section or E204 for
// an attribute value of the wrong kind.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func (p Problem) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("[%s] %s:%d: %s", p.Code, p.File, p.Line, p.Message)
	}
	return fmt.Sprintf("[%s] %s", p.Code, p.Message)
}

// problemFor converts a config load error, keeping its CUE position.
// Anything else is reported under config.ErrCodeGeneric.
func problemFor(err error) Problem {
	var loadErr *config.LoadError
	if !errors.As(err, &loadErr) {
		return Problem{Code: config.ErrCodeGeneric, Message: err.Error()}
	}
	p := Problem{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		p.File = loadErr.Pos.Filename()
		p.Line = loadErr.Pos.Line()
	}
	return p
}

// OutputFormatter writes command results as text or as a JSON Response.
type OutputFormatter struct {
	Format    string // text or json
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics, falls back to Writer
	Verbose   bool
}

// Render writes data inside an ok Response, or calls text to print the
// human-readable form.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Fail writes p inside an error Response, or as a single line of text.
func (f *OutputFormatter) Fail(p Problem) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: &p})
	}
	_, err := fmt.Fprintf(f.Writer, "Error %s\n", p)
	return err
}

// Logf writes a diagnostic line when --verbose is set. Diagnostics never go
// to Writer when ErrWriter is set, so JSON output stays parseable.
func (f *OutputFormatter) Logf(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.Diagnostics(), format+"\n", args...)
	}
}

// Diagnostics returns the writer for logs and metrics dumps.
func (f *OutputFormatter) Diagnostics() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
