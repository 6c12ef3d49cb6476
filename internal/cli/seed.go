package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Count int
	Attrs string
}

// SeedResult reports the records created by one seed.
type SeedResult struct {
	Version int      `json:"version"`
	Type    string   `json:"type"`
	IDs     []string `json:"ids"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <config-dir> <type>",
		Short: "Create records in one transaction",
		Long: `Create records of a declared type in a single new version.

Attributes are validated against the record type; undeclared attributes
and floating-point numbers are rejected.

Example:
  cascade seed ./pipeline main
  cascade seed ./pipeline record_1 --count 3 --attrs '{"record_id":7}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of records to create")
	cmd.Flags().StringVar(&opts.Attrs, "attrs", "{}", "record attributes as JSON")

	return cmd
}

func runSeed(opts *SeedOptions, dir, typ string, cmd *cobra.Command) error {
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be at least 1")
	}
	// UseNumber keeps integers exact and lets value conversion reject floats.
	var attrs map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(opts.Attrs)))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return WrapExitError(ExitCommandError, "invalid --attrs JSON", err)
	}

	return withSession(opts.RootOptions, dir, cmd, func(ctx context.Context, s *session) error {
		result := SeedResult{Type: typ}
		v, err := s.store().Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
			for i := 0; i < opts.Count; i++ {
				rec, err := tx.New(typ, attrs)
				if err != nil {
					return err
				}
				result.IDs = append(result.IDs, rec.ID)
			}
			return nil
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "seed failed", err)
		}
		if v != nil {
			result.Version = v.Number
		}

		return newFormatter(opts.RootOptions, cmd).Render(result, func(w io.Writer) {
			fmt.Fprintf(w, "Created %d %s record(s) in version %d\n", len(result.IDs), typ, result.Version)
			for _, id := range result.IDs {
				fmt.Fprintf(w, "  %s/%s\n", typ, id)
			}
		})
	})
}
