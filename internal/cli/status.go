package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusShop string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show translation sessions per shop",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusShop, "shop", "", "only show sessions of this shop")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)

	shops := app.ShopIDs()
	if statusShop != "" {
		shops = []string{statusShop}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SHOP\tSESSION\tSTATUS\tTOTAL\tDONE\tERRORED\tSKIPPED\tCHECKPOINT")

	for _, shop := range shops {
		sessions, err := app.Sessions.List(ctx, shop)
		if err != nil {
			slog.Error("Failed to list sessions", "shop", shop, "error", err)
			os.Exit(1)
		}
		for _, s := range sessions {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				s.ShopID, s.ID, s.Status, s.Total, s.Completed, s.Errored, s.Skipped,
				s.LastCheckpointAt.Format(time.RFC3339))
		}
	}
	_ = w.Flush()
}
