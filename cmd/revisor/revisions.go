package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/services/estimates"
	"github.com/bobmcallan/revisor/internal/services/report"
	"github.com/bobmcallan/revisor/internal/services/universe"
)

func newRevisionCmd(root *rootOptions) *cobra.Command {
	var ticker, days string
	cmd := &cobra.Command{
		Use:   "revision",
		Short: "Show EPS and revenue revisions for one ticker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			windows, err := parseDays(days)
			if err != nil {
				return err
			}
			return withApp(root, func(a *app.App) error {
				summary, err := a.EstimatesService.GetRevisionsSummary(cmd.Context(), ticker, windows)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.FormatRevisionSummary(summary))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "Ticker symbol")
	cmd.Flags().StringVar(&days, "days", "", "Comma separated lookback windows (default: scan.revision_days)")
	cmd.MarkFlagRequired("ticker")
	return cmd
}

func newCompareCmd(root *rootOptions) *cobra.Command {
	var from, to, tickers string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare nearest-period estimates between two snapshot dates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := parseDate("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDate("to", to)
			if err != nil {
				return err
			}
			return withApp(root, func(a *app.App) error {
				rows, err := a.EstimatesService.CompareDates(cmd.Context(), fromDate, toDate, splitCSV(tickers))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.FormatComparison(fromDate, toDate, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Earlier snapshot date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Later snapshot date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&tickers, "tickers", "", "Comma separated tickers to keep")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newSectorsCmd(root *rootOptions) *cobra.Command {
	var from, to, name string
	cmd := &cobra.Command{
		Use:   "sectors",
		Short: "Summarise EPS revisions between two dates by sector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := parseDate("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDate("to", to)
			if err != nil {
				return err
			}
			return withApp(root, func(a *app.App) error {
				ctx := cmd.Context()
				entries, err := a.UniverseService.Load(ctx, name)
				if err != nil {
					return err
				}
				sectors := universe.SectorMap(entries)
				if len(sectors) == 0 {
					return fmt.Errorf("universe %s has no sector data; run enrich first", name)
				}
				rows, err := a.EstimatesService.SectorSummary(ctx, fromDate, toDate, sectors)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.FormatSectorSummary(rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Earlier snapshot date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Later snapshot date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&name, "universe", "u", universe.SP500, "Universe with sector data")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newTrendsCmd(root *rootOptions) *cobra.Command {
	var minDays int
	var all bool
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Screen tickers whose FY1-FY3 EPS estimates have all risen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minDays < 1 {
				return fmt.Errorf("--min-days must be at least 1")
			}
			return withApp(root, func(a *app.App) error {
				trends, err := a.EstimatesService.ScreenPositiveTrends(cmd.Context(), minDays)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.FormatTrends(trends, !all))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minDays, "min-days", 7, "Minimum days between oldest and newest snapshot")
	cmd.Flags().BoolVar(&all, "all", false, "Include tickers without all-positive revisions")
	return cmd
}

func newChartCmd(root *rootOptions) *cobra.Command {
	var ticker, out string
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render a ticker's FY1-FY3 EPS estimate history as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				ctx := cmd.Context()
				points, err := a.EstimatesService.EPSHistory(ctx, ticker)
				if err != nil {
					return err
				}
				png, err := estimates.RenderEPSHistoryChart(strings.ToUpper(ticker), points)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					if path, err = a.ReportService.SaveChart(ctx, ticker, png); err != nil {
						return err
					}
				} else if err := writeFile(path, png); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Chart saved to %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "Ticker symbol")
	cmd.Flags().StringVarP(&out, "out", "o", "", "PNG path (default: scan.export_dir/charts)")
	cmd.MarkFlagRequired("ticker")
	return cmd
}
