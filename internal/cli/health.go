package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/transync/internal/orchestration/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a health check with maintenance for every configured shop",
	Run:   runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)

	report := app.Health.Refresh(ctx)
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if report.SystemStatus == health.StatusCritical {
		stopApp(app)
		os.Exit(2)
	}
}
