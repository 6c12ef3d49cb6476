package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/changelog"
	"github.com/roach88/cascade/internal/changeset"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Record string
}

// LogEntry is one journaled version.
type LogEntry struct {
	Version       int                  `json:"version"`
	Hash          string               `json:"hash"`
	ParentHash    string               `json:"parent_hash,omitempty"`
	ChangesetHash string               `json:"changeset_hash,omitempty"`
	Changeset     *changeset.Changeset `json:"changeset"`
}

// RecordChange is one journaled delta touching a record.
type RecordChange struct {
	Version int    `json:"version"`
	Index   int    `json:"index"`
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <config-dir>",
		Short: "Show the changeset journal",
		Long: `Show every journaled changeset, or the history of one record.

Requires store.journal to be set in the configuration.

Example:
  cascade log ./pipeline
  cascade log ./pipeline --record record_1/r-2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, args[0], cmd, func(ctx context.Context, s *session) error {
				if s.handle.Journal == nil {
					return NewExitError(ExitCommandError, "journaling is disabled: set store.journal")
				}
				if opts.Record != "" {
					return runRecordHistory(ctx, opts, s.handle.Journal, cmd)
				}
				return runLog(ctx, opts, s.handle.Journal, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Record, "record", "", "only show changes to this record (type/id)")

	return cmd
}

func runLog(ctx context.Context, opts *LogOptions, journal *changelog.Log, cmd *cobra.Command) error {
	entries, err := journal.Entries(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntry{
			Version:       e.Version,
			Hash:          e.Hash,
			ParentHash:    e.ParentHash,
			ChangesetHash: e.ChangesetHash,
			Changeset:     e.Changeset,
		})
	}

	return newFormatter(opts.RootOptions, cmd).Render(out, func(w io.Writer) {
		if len(out) == 0 {
			fmt.Fprintln(w, "Journal is empty.")
			return
		}
		for _, e := range out {
			fmt.Fprintf(w, "v%d %s\n", e.Version, short(e.Hash))
			for _, d := range e.Changeset.Deltas {
				fmt.Fprintf(w, "  %s\n", describeDelta(d))
			}
		}
	})
}

func runRecordHistory(ctx context.Context, opts *LogOptions, journal *changelog.Log, cmd *cobra.Command) error {
	typ, id, err := parseRecordRef(opts.Record)
	if err != nil {
		return err
	}
	changes, err := journal.RecordHistory(ctx, typ, id)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	if len(changes) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no journaled changes for %s", opts.Record))
	}
	out := make([]RecordChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, RecordChange{Version: c.Version, Index: c.Index, Action: string(c.Action), Payload: c.Payload})
	}

	return newFormatter(opts.RootOptions, cmd).Render(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d change(s)\n", opts.Record, len(out))
		for _, c := range out {
			fmt.Fprintf(w, "  v%d.%d %s %s\n", c.Version, c.Index, c.Action, c.Payload)
		}
	})
}

func describeDelta(d changeset.Delta) string {
	switch v := d.(type) {
	case *changeset.Create:
		return fmt.Sprintf("+ %s/%s", v.Type, v.ID())
	case *changeset.Update:
		return fmt.Sprintf("~ %s/%s", v.Type, v.ID)
	default:
		return "= " + string(d.Action())
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
