package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status",
	Long:  `Show a summary of the runtime: session, process, and channel counts plus shared container instances.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := c.Health(ctx); err != nil {
		uiInstance.Error(fmt.Sprintf("Runtime unreachable: %v", err))
		return err
	}

	snap, err := c.Status(ctx)
	if err != nil {
		uiInstance.Error(fmt.Sprintf("Failed to fetch status: %v", err))
		return err
	}

	uiInstance.Success("Runtime is healthy")
	uiInstance.Println("")

	uiInstance.Header("Runtime")
	uiInstance.KeyValue("Sessions", strconv.Itoa(len(snap.Sessions)))
	uiInstance.KeyValue("Processes", strconv.Itoa(snap.Processes))
	uiInstance.KeyValue("Channels", strconv.Itoa(snap.Channels))
	uiInstance.KeyValue("Manifests", strconv.Itoa(snap.Manifests))
	uiInstance.Println("")

	if len(snap.Containers) == 0 {
		uiInstance.Subtle("No shared containers")
		return nil
	}

	uiInstance.Header("Containers")
	table := uiInstance.NewTable("Node Type", "Name", "Health", "Sessions")
	for _, ctr := range snap.Containers {
		table.AddRow(ctr.NodeType, ctr.Name, ctr.Health, strconv.Itoa(len(ctr.Sessions)))
	}
	table.Render()

	return nil
}
