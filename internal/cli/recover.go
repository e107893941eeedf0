package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vietddude/transync/internal/orchestration/recovery"
)

var (
	recoverShop        string
	recoverLimit       int
	recoverConcurrency int
	recoverDryRun      bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Diagnose failed translations of a shop and requeue the recoverable ones",
	Run:   runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverShop, "shop", "", "shop id")
	recoverCmd.Flags().IntVar(&recoverLimit, "limit", 100, "maximum failed translations to scan")
	recoverCmd.Flags().IntVar(&recoverConcurrency, "concurrency", 5, "parallel diagnoses")
	recoverCmd.Flags().BoolVar(&recoverDryRun, "dry-run", false, "only report the strategy each failure would get")
	_ = recoverCmd.MarkFlagRequired("shop")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)
	if !recoverDryRun {
		app.Start(ctx)
	}

	summary, err := app.Recovery.BatchRecoverFailedTranslations(ctx, recoverShop, recovery.BatchRecoverOptions{
		Limit:       recoverLimit,
		Concurrency: recoverConcurrency,
		DryRun:      recoverDryRun,
	})
	if err != nil {
		slog.Error("Batch recovery failed", "shop", recoverShop, "error", err)
		stopApp(app)
		os.Exit(1)
	}

	fmt.Printf("Scanned %d, recovered %d, skipped %d, over retry limit %d, failed %d\n",
		summary.Scanned, summary.Recovered, summary.Skipped, summary.Exceeded, summary.Failed)

	strategies := make([]string, 0, len(summary.ByStrategy))
	for s := range summary.ByStrategy {
		strategies = append(strategies, string(s))
	}
	sort.Strings(strategies)
	for _, s := range strategies {
		fmt.Printf("  %-22s %d\n", s, summary.ByStrategy[recovery.Strategy(s)])
	}
	for key, msg := range summary.Errors {
		fmt.Printf("  error %s/%s: %s\n", key.ResourceID, key.Language, msg)
	}

	if !recoverDryRun && summary.Recovered > 0 {
		runUntilIdle(ctx, app)
	}
}
