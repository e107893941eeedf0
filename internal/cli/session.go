package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/transync/internal/core/session"
)

var (
	sessionShop      string
	sessionResources string
	sessionLanguages string
	pauseReason      string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage bulk translation sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session and process it until the queue drains",
	Run:   runSessionStart,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session_id]",
	Short: "Show progress, pending work and trace of a session",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionShow,
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause [session_id]",
	Short: "Pause a running session",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionPause,
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume [session_id]",
	Short: "Resume a paused session and process its remaining work",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionResume,
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel [session_id]",
	Short: "Cancel a session",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionCancel,
}

func init() {
	sessionStartCmd.Flags().StringVar(&sessionShop, "shop", "", "shop id")
	sessionStartCmd.Flags().StringVar(&sessionResources, "resources", "", "comma separated resource ids")
	sessionStartCmd.Flags().StringVar(&sessionLanguages, "languages", "", "comma separated target languages")
	_ = sessionStartCmd.MarkFlagRequired("shop")
	_ = sessionStartCmd.MarkFlagRequired("resources")
	_ = sessionStartCmd.MarkFlagRequired("languages")

	sessionPauseCmd.Flags().StringVar(&pauseReason, "reason", "paused by operator", "reason recorded in the session trace")

	sessionCmd.AddCommand(sessionStartCmd, sessionShowCmd, sessionPauseCmd, sessionResumeCmd, sessionCancelCmd)
	rootCmd.AddCommand(sessionCmd)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runSessionStart(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)
	app.Start(ctx)

	id, err := app.Sessions.Start(ctx, sessionShop, splitList(sessionResources), splitList(sessionLanguages))
	if err != nil {
		slog.Error("Failed to start session", "session", id, "error", err)
		return
	}
	fmt.Printf("Session %s started\n", id)

	runUntilIdle(ctx, app)
	printSessionWith(ctx, app.Sessions, id)
}

func runSessionShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)
	printSessionWith(ctx, app.Sessions, args[0])
}

func runSessionPause(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)

	if err := app.Sessions.Pause(ctx, args[0], pauseReason); err != nil {
		slog.Error("Failed to pause session", "session", args[0], "error", err)
		return
	}
	fmt.Printf("Session %s paused\n", args[0])
}

func runSessionResume(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)
	app.Start(ctx)

	res, err := app.Sessions.Resume(ctx, args[0])
	if err != nil {
		slog.Error("Failed to resume session", "session", args[0], "error", err)
		return
	}
	if !res.Resumed {
		fmt.Printf("Session %s not resumed: %s\n", args[0], res.Reason)
		return
	}
	fmt.Printf("Session %s resumed: %d enqueued, %d already done\n", args[0], res.Enqueued, res.Done)

	runUntilIdle(ctx, app)
	printSessionWith(ctx, app.Sessions, args[0])
}

func runSessionCancel(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	app := openApp(ctx)
	defer stopApp(app)

	if err := app.Sessions.Cancel(ctx, args[0]); err != nil {
		slog.Error("Failed to cancel session", "session", args[0], "error", err)
		return
	}
	fmt.Printf("Session %s cancelled\n", args[0])
}

func printSessionWith(ctx context.Context, sessions *session.Manager, id string) {
	s, err := sessions.Get(ctx, id)
	if err != nil {
		slog.Error("Failed to load session", "session", id, "error", err)
		return
	}
	fmt.Printf("Session:    %s (%s)\n", s.ID, s.ShopID)
	fmt.Printf("Status:     %s\n", s.Status)
	fmt.Printf("Progress:   %d/%d (completed %d, errored %d, skipped %d)\n",
		s.Processed(), s.Total, s.Completed, s.Errored, s.Skipped)
	fmt.Printf("Error rate: %.1f%%\n", s.ErrorRate()*100)

	if m, err := sessions.GetMetrics(ctx, id); err == nil && m.ItemsPerSecond > 0 {
		fmt.Printf("Throughput: %.2f items/s, ETA %s\n", m.ItemsPerSecond, m.ETA.Round(time.Second))
	}
	if p, err := sessions.Partition(ctx, id); err == nil {
		fmt.Printf("Work:       %d done, %d pending, %d resources missing\n",
			len(p.Done), len(p.Pending), len(p.Missing))
	}

	if len(s.Traces) > 0 {
		fmt.Println("Trace:")
		for _, t := range s.Traces {
			fmt.Printf("  %s  %-10s %s\n", t.At.Format(time.RFC3339), t.Kind, t.Message)
		}
	}
}
