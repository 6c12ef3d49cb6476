package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/store"
)

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadConfig loads dir in fail-fast mode. Load errors are command errors.
func loadConfig(dir string) (*config.Config, error) {
	cfg, errs := config.Load(dir, config.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load config", errs[0])
	}
	return cfg, nil
}

// session is a loaded configuration and its opened store.
type session struct {
	cfg    *config.Config
	handle *config.Handle
	logger *slog.Logger
}

func (s *session) Close() error { return s.handle.Close() }

func (s *session) store() *store.Store { return s.handle.Store }

// openSession loads the configuration in dir and opens its store. Logs go
// to the command's stderr.
func openSession(ctx context.Context, opts *RootOptions, dir string, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr(), opts.Verbose)
	h, err := cfg.OpenStore(ctx, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return &session{cfg: cfg, handle: h, logger: logger}, nil
}

// withSession runs fn with an opened session and closes it afterwards.
func withSession(opts *RootOptions, dir string, cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts, dir, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Error("error closing journal", "error", closeErr)
		}
	}()
	return fn(ctx, s)
}

// parseRecordRef splits "type/id".
func parseRecordRef(ref string) (typ, id string, err error) {
	typ, id, ok := strings.Cut(ref, "/")
	if !ok || typ == "" || id == "" {
		return "", "", NewExitError(ExitCommandError, fmt.Sprintf("invalid record reference %q: want type/id", ref))
	}
	return typ, id, nil
}

// storeError maps store sentinel errors to command errors.
func storeError(message string, err error) error {
	if errors.Is(err, store.ErrVersionNotFound) || errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
