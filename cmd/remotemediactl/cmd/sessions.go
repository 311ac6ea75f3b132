package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/executor"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List live sessions",
	Long: `List live sessions and their node counts. With a session ID,
show every node in that session with its status and worker state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	snap, err := c.Status(ctx)
	if err != nil {
		uiInstance.Error(fmt.Sprintf("Failed to fetch status: %v", err))
		return err
	}

	if len(args) == 1 {
		return showSession(snap.Sessions, args[0])
	}

	if len(snap.Sessions) == 0 {
		uiInstance.Info("No live sessions")
		return nil
	}

	uiInstance.Success(fmt.Sprintf("Found %d live session(s)", len(snap.Sessions)))
	uiInstance.Println("")

	table := uiInstance.NewTable("Session ID", "Nodes", "Ready", "Created")
	for _, s := range snap.Sessions {
		ready := 0
		for _, n := range s.Nodes {
			if n.Status == "Ready" {
				ready++
			}
		}
		table.AddRow(
			s.SessionID,
			strconv.Itoa(len(s.Nodes)),
			fmt.Sprintf("%d/%d", ready, len(s.Nodes)),
			s.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()

	return nil
}

func showSession(sessions []executor.SessionStatus, sessionID string) error {
	for _, s := range sessions {
		if s.SessionID != sessionID {
			continue
		}

		uiInstance.Header("Session " + s.SessionID)
		uiInstance.KeyValue("Created", s.CreatedAt.Format("2006-01-02 15:04:05"))
		uiInstance.Println("")

		if len(s.Nodes) == 0 {
			uiInstance.Subtle("No nodes")
			return nil
		}

		table := uiInstance.NewTable("Node ID", "Type", "Kind", "Status", "Progress", "State", "PID")
		for _, n := range s.Nodes {
			pid := ""
			if n.PID > 0 {
				pid = strconv.Itoa(n.PID)
			}
			table.AddRow(
				n.NodeID,
				n.NodeType,
				n.Kind,
				n.Status,
				fmt.Sprintf("%3.0f%%", n.ProgressPct*100),
				n.State,
				pid,
			)
		}
		table.Render()

		return nil
	}

	uiInstance.Error("Session not found: " + sessionID)
	return fmt.Errorf("session %q not found", sessionID)
}
