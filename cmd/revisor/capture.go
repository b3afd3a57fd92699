package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/services/report"
)

type captureOptions struct {
	universe string
	status   bool
	test     string
	workers  int
}

func newCaptureCmd(root *rootOptions) *cobra.Command {
	opts := &captureOptions{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Store today's analyst estimates for a universe",
		Long: `Fetches forward analyst estimates for every ticker in the universe and stores
them as today's snapshot. Run daily so revisions can be computed later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				return runCapture(cmd, a, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.universe, "universe", "u", "", "Universe: master, sp500, disruption, both, broad, or a .csv/.xlsx path (default: capture.universe)")
	cmd.Flags().BoolVar(&opts.status, "status", false, "Print snapshot store status and exit")
	cmd.Flags().StringVar(&opts.test, "test", "", "Print the revision summary for one ticker and exit")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Parallel fetches (default: capture.max_workers)")
	return cmd
}

func runCapture(cmd *cobra.Command, a *app.App, opts *captureOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.status {
		status, err := a.EstimatesService.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(out, report.FormatTrackerStatus(status))
		return nil
	}

	if opts.test != "" {
		summary, err := a.EstimatesService.GetRevisionsSummary(ctx, opts.test, nil)
		if err != nil {
			return err
		}
		fmt.Fprint(out, report.FormatRevisionSummary(summary))
		return nil
	}

	if err := a.RequireFMP(); err != nil {
		return err
	}
	if opts.workers > 0 {
		a.Config.Capture.MaxWorkers = opts.workers
	}
	universe := opts.universe
	if universe == "" {
		universe = a.Config.Capture.Universe
	}

	result, err := a.Capture(ctx, universe)
	if err != nil {
		return err
	}
	fmt.Fprint(out, report.FormatCapture(result))
	return nil
}
