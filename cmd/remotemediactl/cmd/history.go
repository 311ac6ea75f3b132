package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historySession string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded lifecycle events",
	Long: `Show lifecycle events from the runtime's journal: sessions created
and terminated, nodes spawned, ready, exited, and failed.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historySession, "session", "", "Filter by session ID")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	entries, err := c.History(ctx, historySession, historyLimit)
	if err != nil {
		uiInstance.Error(fmt.Sprintf("Failed to fetch history: %v", err))
		return err
	}

	if len(entries) == 0 {
		uiInstance.Info("No recorded events")
		return nil
	}

	table := uiInstance.NewTable("Time", "Event", "Session", "Node", "Detail")
	for _, entry := range entries {
		detail := entry.Detail
		if len(detail) > 48 {
			detail = detail[:48]
		}
		table.AddRow(
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.Event,
			entry.SessionID,
			entry.NodeID,
			detail,
		)
	}
	table.Render()

	return nil
}
