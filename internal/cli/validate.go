package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/store"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool      `json:"valid"`
	Files  int       `json:"files"`
	Types  []string  `json:"types"`
	Rules  int       `json:"rules"`
	Policy string    `json:"policy,omitempty"`
	Errors []Problem `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate a configuration without opening the store",
		Long: `Validate the CUE configuration in a directory.

Reports every problem at once: section errors, record type errors and
pipeline rules that do not settle or reference undeclared types.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors
  2 - Command error (directory not found, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, errs := config.Load(dir, config.LoadModeCollectAll)
	if cfg == nil {
		_ = formatter.Fail(problemFor(errs[0]))
		return WrapExitError(ExitCommandError, "failed to load config", errs[0])
	}
	formatter.Logf("Found %d CUE file(s) in %s", cfg.FileCount, dir)

	result := ValidationResult{Files: cfg.FileCount, Rules: len(cfg.Rules)}
	for _, rt := range cfg.Types {
		result.Types = append(result.Types, rt.Name)
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, problemFor(err))
	}
	if len(errs) == 0 {
		result.Errors = append(result.Errors, checkPipeline(cmd.Context(), cfg)...)
	}
	if policy, err := cfg.Policy(); err == nil {
		result.Policy = policy.String()
	}
	result.Valid = len(result.Errors) == 0

	if err := formatter.Render(result, func(w io.Writer) { writeValidation(w, result) }); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}
	return nil
}

// checkPipeline builds the configured pipeline against an empty in-memory
// store so rule types and filters are checked against the registry.
func checkPipeline(ctx context.Context, cfg *config.Config) []Problem {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Rules) == 0 {
		return nil
	}
	s, err := store.Open(ctx, store.NewMemoryBackend(), store.WithRegistry(cfg.Registry()))
	if err != nil {
		return []Problem{{Code: config.ErrCodeGeneric, Message: err.Error()}}
	}
	def, err := cfg.Pipeline()
	if err == nil {
		_, err = def.Build(s)
	}
	if err != nil {
		return []Problem{{Code: config.ErrCodePipeline, Message: err.Error()}}
	}
	return nil
}

func writeValidation(w io.Writer, r ValidationResult) {
	if r.Valid {
		fmt.Fprintf(w, "✓ Configuration valid: %d type(s), %d rule(s), %s\n", len(r.Types), r.Rules, r.Policy)
		return
	}
	fmt.Fprintf(w, "✗ Validation failed with %d error(s):\n", len(r.Errors))
	for _, p := range r.Errors {
		fmt.Fprintf(w, "  %s\n", p)
	}
}
