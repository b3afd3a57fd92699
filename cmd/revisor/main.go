// Command revisor captures analyst estimate snapshots and ranks stock
// universes by earnings revision strength.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/revisor/internal/app"
	"github.com/bobmcallan/revisor/internal/models"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "revisor",
		Short:         "Track analyst estimate revisions and rank stocks by revision strength",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (default: $REVISOR_CONFIG or revisor.toml)")

	root.AddCommand(
		newCaptureCmd(opts),
		newScanCmd(opts),
		newRevisionCmd(opts),
		newCompareCmd(opts),
		newSectorsCmd(opts),
		newTrendsCmd(opts),
		newChartCmd(opts),
		newEnrichCmd(opts),
		newSetKeyCmd(opts),
		newExportsCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// withApp opens the application for one command and closes it afterwards.
func withApp(opts *rootOptions, fn func(a *app.App) error) error {
	a, err := app.NewApp(opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseDate(name, raw string) (time.Time, error) {
	t, err := time.Parse(models.SnapshotDateFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q (want YYYY-MM-DD)", name, raw)
	}
	return t, nil
}

// parseDays parses "7,30,60" into positive day counts.
func parseDays(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid day count %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
