package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Progress time.Duration
	Metrics  bool
}

// RunSummary reports one pipeline run.
type RunSummary struct {
	Policy    string     `json:"policy"`
	Head      int        `json:"head"`
	Attempted int        `json:"attempted"`
	Completed int        `json:"completed"`
	Elapsed   string     `json:"elapsed"`
	Errors    []RunIssue `json:"errors,omitempty"`
}

// RunIssue is one error recorded by the run.
type RunIssue struct {
	Kind     string `json:"kind"`
	Producer string `json:"producer,omitempty"`
	Record   string `json:"record,omitempty"`
	Message  string `json:"message"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config-dir>",
		Short: "Run the configured pipeline until it is quiescent",
		Long: `Run the pipeline rules from the configuration against its store.

Producers are re-queried until a full pass finds nothing to do. The first
failed unit of work halts the run; work already running finishes.
Ctrl-C cancels the run without interrupting running work.

Exit codes:
  0 - The run reached quiescence without errors
  1 - The run recorded errors
  2 - Command error (invalid config, store cannot be opened)

Example:
  cascade run ./pipeline
  cascade run ./pipeline --progress 1s --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Progress, "progress", 0, "log pending work at this interval (0 disables)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the run")

	return cmd
}

func runPipeline(opts *RunOptions, dir string, cmd *cobra.Command) error {
	return withSession(opts.RootOptions, dir, cmd, func(ctx context.Context, s *session) error {
		if len(s.cfg.Rules) == 0 {
			return NewExitError(ExitCommandError, "configuration defines no pipeline rules")
		}

		reg := prometheus.NewRegistry()
		def, err := s.cfg.Pipeline(
			pipeline.WithLogger(s.logger),
			pipeline.WithMetrics(engine.NewMetrics(reg)),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pipeline", err)
		}
		if opts.Progress > 0 {
			def.Every(opts.Progress, func(st engine.Stats) error {
				s.logger.Info("progress",
					"pending", st.Pending,
					"completed", st.Completed,
					"elapsed", st.Elapsed.Round(time.Millisecond),
				)
				return nil
			})
		}

		// Cancel on SIGINT/SIGTERM; running work still completes.
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := def.Run(ctx, s.store())
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid pipeline", err)
		}

		summary := RunSummary{
			Policy:    mustPolicy(s),
			Head:      s.store().Head(),
			Attempted: res.Attempted,
			Completed: res.Completed,
			Elapsed:   res.Elapsed.Round(time.Millisecond).String(),
		}
		for _, e := range res.Errors {
			issue := RunIssue{Kind: string(e.Kind), Producer: e.Producer, Message: e.Message}
			if e.RecordID != "" {
				issue.Record = e.RecordType + "/" + e.RecordID
			}
			summary.Errors = append(summary.Errors, issue)
		}

		formatter := newFormatter(opts.RootOptions, cmd)
		if err := formatter.Render(summary, func(w io.Writer) { writeRunSummary(w, summary) }); err != nil {
			return err
		}
		if opts.Metrics {
			if err := writeMetrics(formatter.Diagnostics(), reg); err != nil {
				return err
			}
		}
		if !res.Success() {
			return WrapExitError(ExitFailure, "run failed", res.Err())
		}
		return nil
	})
}

func mustPolicy(s *session) string {
	p, err := s.cfg.Policy()
	if err != nil {
		return "invalid"
	}
	return p.String()
}

func writeRunSummary(w io.Writer, s RunSummary) {
	if len(s.Errors) == 0 {
		fmt.Fprintf(w, "✓ Run quiescent at version %d: %d unit(s) of work in %s (%s)\n", s.Head, s.Completed, s.Elapsed, s.Policy)
		return
	}
	fmt.Fprintf(w, "✗ Run failed at version %d: %d of %d unit(s) completed (%s)\n", s.Head, s.Completed, s.Attempted, s.Policy)
	for _, e := range s.Errors {
		if e.Record != "" {
			fmt.Fprintf(w, "  %s [%s] %s: %s\n", e.Kind, e.Producer, e.Record, e.Message)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", e.Kind, e.Message)
		}
	}
}

// writeMetrics prints every gathered family in the text exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
