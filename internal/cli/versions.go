package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

// VersionInfo summarises one stored version.
type VersionInfo struct {
	Version int            `json:"version"`
	Hash    string         `json:"hash"`
	Records map[string]int `json:"records"`
}

// NewVersionsCommand creates the versions command.
func NewVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <config-dir>",
		Short: "List stored versions",
		Long: `List every stored version with its content hash and record counts.

Example:
  cascade versions ./pipeline
  cascade versions ./pipeline --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, args[0], cmd, func(ctx context.Context, s *session) error {
				versions, err := s.store().Versions(ctx)
				if err != nil {
					return storeError("failed to list versions", err)
				}
				infos := make([]VersionInfo, 0, len(versions))
				for _, v := range versions {
					info, err := describeVersion(ctx, v)
					if err != nil {
						return err
					}
					infos = append(infos, info)
				}
				return newFormatter(rootOpts, cmd).Render(infos, func(w io.Writer) {
					if len(infos) == 0 {
						fmt.Fprintln(w, "No versions stored.")
						return
					}
					for _, info := range infos {
						fmt.Fprintf(w, "v%-4d %s  %s\n", info.Version, short(info.Hash), formatCounts(info.Records))
					}
				})
			})
		},
	}
}

func describeVersion(ctx context.Context, v *store.Version) (VersionInfo, error) {
	data, err := v.Data(ctx)
	if err != nil {
		return VersionInfo{}, storeError(fmt.Sprintf("failed to read version %d", v.Number), err)
	}
	hash, err := v.Hash(ctx)
	if err != nil {
		return VersionInfo{}, storeError(fmt.Sprintf("failed to hash version %d", v.Number), err)
	}
	return VersionInfo{Version: v.Number, Hash: hash, Records: data.Counts()}, nil
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "(empty)"
	}
	parts := make([]string, 0, len(counts))
	for _, typ := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", typ, counts[typ]))
	}
	return strings.Join(parts, ", ")
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Version int
	Type    string
}

// RecordView is one record as printed by show.
type RecordView struct {
	Type       string       `json:"type"`
	ID         string       `json:"id"`
	Attributes value.Object `json:"attributes"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <config-dir>",
		Short: "Print the records of a version",
		Long: `Print records with their type defaults applied.

Without --version the latest version is shown.

Example:
  cascade show ./pipeline
  cascade show ./pipeline --version 3 --type record_1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, args[0], cmd, func(ctx context.Context, s *session) error {
				return runShow(ctx, opts, s, cmd)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Version, "version", 0, "version to show (default latest)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only show records of this type")

	return cmd
}

func runShow(ctx context.Context, opts *ShowOptions, s *session, cmd *cobra.Command) error {
	n := opts.Version
	if n == 0 {
		n = s.store().Head()
	}
	if n == 0 {
		return newFormatter(opts.RootOptions, cmd).Render([]RecordView{}, func(w io.Writer) {
			fmt.Fprintln(w, "No versions stored.")
		})
	}
	v, err := s.store().Version(n)
	if err != nil {
		return storeError("failed to open version", err)
	}
	data, err := v.Data(ctx)
	if err != nil {
		return storeError("failed to read version", err)
	}

	types := data.Types()
	if opts.Type != "" {
		types = []string{opts.Type}
	}
	var views []RecordView
	for _, typ := range types {
		recs, err := v.All(ctx, typ)
		if err != nil {
			return storeError("failed to read records", err)
		}
		for _, rec := range recs {
			views = append(views, RecordView{Type: rec.Type, ID: rec.ID, Attributes: rec.Attributes})
		}
	}
	if views == nil {
		views = []RecordView{}
	}

	return newFormatter(opts.RootOptions, cmd).Render(views, func(w io.Writer) {
		fmt.Fprintf(w, "Version %d: %d record(s)\n", n, len(views))
		for _, rv := range views {
			b, _ := value.MarshalCanonical(rv.Attributes)
			fmt.Fprintf(w, "  %s/%s %s\n", rv.Type, rv.ID, b)
		}
	})
}

// RestoreResult reports a restore.
type RestoreResult struct {
	From    int `json:"from"`
	Version int `json:"version"`
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <config-dir> <version>",
		Short: "Make an earlier version's content the latest",
		Long: `Restore appends a new version whose content equals an earlier one, even
when that content matches the latest version. History is never truncated.

Exit codes:
  0 - A new version was appended
  1 - The version is already the latest version
  2 - Command error (unknown version, invalid config)`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid version %q", args[1]))
			}
			return withSession(rootOpts, args[0], cmd, func(ctx context.Context, s *session) error {
				_, v, err := s.store().Restore(ctx, n)
				if err != nil {
					return storeError(fmt.Sprintf("failed to restore version %d", n), err)
				}
				result := RestoreResult{From: n, Version: v.Number}
				return newFormatter(rootOpts, cmd).Render(result, func(w io.Writer) {
					fmt.Fprintf(w, "Restored version %d as version %d\n", result.From, result.Version)
				})
			})
		},
	}
}
