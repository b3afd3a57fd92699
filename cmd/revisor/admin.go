package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
	"github.com/bobmcallan/revisor/internal/services/report"
	"github.com/bobmcallan/revisor/internal/services/universe"
)

func newEnrichCmd(root *rootOptions) *cobra.Command {
	var name, out string
	var workers int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Annotate a universe with sector and industry from company profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				if err := a.RequireFMP(); err != nil {
					return err
				}
				ctx := cmd.Context()
				entries, err := a.UniverseService.Load(ctx, name)
				if err != nil {
					return err
				}
				enriched, err := a.UniverseService.EnrichSectors(ctx, entries, workers)
				if err != nil {
					return err
				}
				data, err := universe.WriteXLSX(enriched)
				if err != nil {
					return err
				}

				path := out
				if path == "" || !strings.ContainsRune(path, filepath.Separator) {
					fileName := path
					if fileName == "" {
						fileName = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + "_sectors"
					}
					if path, err = a.ReportService.SaveUniverse(ctx, fileName, data); err != nil {
						return err
					}
				} else if err := writeFile(path, data); err != nil {
					return err
				}

				unknown := 0
				for _, e := range enriched {
					if e.Sector == models.UnknownClassification {
						unknown++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d tickers (%d unknown) across %d sectors: %s\n",
					len(enriched), unknown, len(universe.Sectors(enriched)), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "universe", "u", universe.SP500, "Universe to enrich")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output name or path (default: <universe>_sectors.xlsx in the export dir)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel profile lookups (default: scan.max_workers)")
	return cmd
}

func newSetKeyCmd(root *rootOptions) *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the FMP API key in the internal store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				if err := a.SetAPIKey(cmd.Context(), strings.TrimSpace(value)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "FMP API key stored")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "API key")
	cmd.MarkFlagRequired("value")
	return cmd
}

func newExportsCmd(root *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List stored rankings, charts or universe workbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				files, err := a.ReportService.ListExports(cmd.Context(), kind)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(files) == 0 {
					fmt.Fprintf(out, "No %s exports\n", kind)
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, f.ModifiedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", report.KindRankings, "rankings, charts or universes")
	return cmd
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded scan runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(root, func(a *app.App) error {
				runs, err := a.Storage.InternalStore().ListScanRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No scan runs recorded")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATE\tUNIVERSE\tCREATED\tSCORED")
				for _, r := range runs {
					scored := "-"
					if r.Stats != nil {
						scored = fmt.Sprintf("%d/%d", r.Stats.Scored, r.Stats.Total)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.State, r.Universe, r.CreatedAt.Format("2006-01-02 15:04"), scored)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum runs to list (0 = all)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			common.LoadVersionFromFile()
			fmt.Fprintf(cmd.OutOrStdout(), "revisor %s\n", common.GetFullVersion())
		},
	}
}
