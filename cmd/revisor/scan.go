package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/services/report"
)

type scanOptions struct {
	universe   string
	sectors    string
	max        int
	sequential bool
	workers    int
	out        string
	noExport   bool
	top        int
	quiet      bool
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rank a universe by earnings revision strength",
		Long: `Scores every ticker on beats/misses, surprise size and analyst rating changes,
prints the top of the ranking and exports the full ranking as an xlsx workbook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				return runScan(cmd, a, opts)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.universe, "universe", "u", "sp500", "Universe: master, sp500, disruption, both, broad, or a .csv/.xlsx path")
	f.StringVar(&opts.sectors, "sectors", "", "Comma separated sectors to keep")
	f.IntVar(&opts.max, "max", 0, "Stop after this many tickers (0 = all)")
	f.BoolVar(&opts.sequential, "sequential", false, "Score one ticker at a time")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Parallel workers (default: scan.max_workers)")
	f.StringVarP(&opts.out, "out", "o", "", "Workbook path (default: timestamped file in scan.export_dir)")
	f.BoolVar(&opts.noExport, "no-export", false, "Skip the workbook export")
	f.IntVar(&opts.top, "top", 0, "Rows to print (default: scan.top_n)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func runScan(cmd *cobra.Command, a *app.App, opts *scanOptions) error {
	if err := a.RequireFMP(); err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	scanOpts := models.ScanOptions{
		Universe:   opts.universe,
		Sectors:    splitCSV(opts.sectors),
		MaxStocks:  opts.max,
		Sequential: opts.sequential,
		Workers:    opts.workers,
	}

	every := a.Config.Jobs.ProgressEvery
	if every < 1 {
		every = 1
	}
	progress := func(p models.ScanProgress) {
		if opts.quiet {
			return
		}
		if p.Completed%every == 0 || p.Completed == p.Total {
			fmt.Fprintf(errOut, "  [%d/%d] %.0f%% %s\n", p.Completed, p.Total, p.Percent(), p.Ticker)
		}
	}

	run, err := a.JobManager.Run(ctx, scanOpts, progress)
	if err != nil {
		return err
	}
	result := run.Result

	top := opts.top
	if top <= 0 {
		top = a.Config.Scan.TopN
	}
	fmt.Fprint(out, report.FormatRankingSummary(result, top))
	if result.Stats.Cancelled {
		fmt.Fprintln(out, "\nScan interrupted: ranking covers the tickers scored before cancellation.")
	}

	if opts.noExport || len(result.Rows) == 0 {
		return nil
	}
	path, err := exportRanking(cmd, a, result, opts.out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRanking exported to %s\n", path)
	return nil
}

// exportRanking writes to an explicit path when one is given, else to the
// export store.
func exportRanking(cmd *cobra.Command, a *app.App, result *models.RankedUniverse, path string) (string, error) {
	if path == "" {
		return a.ReportService.ExportRanking(cmd.Context(), result, "")
	}
	data, err := report.BuildWorkbook(result, a.Config.Scan.TopN)
	if err != nil {
		return "", err
	}
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
