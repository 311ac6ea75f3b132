// Package cmd implements the remotemediactl commands.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/cmd/remotemediactl/internal/client"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/cmd/remotemediactl/internal/ui"
)

var (
	serverURL      string
	requestTimeout time.Duration

	uiInstance = ui.NewUI()
)

var rootCmd = &cobra.Command{
	Use:   "remotemediactl",
	Short: "Inspect a running RemoteMedia node runtime",
	Long: `remotemediactl talks to the status endpoints of remotemedia-runtime.

It shows live sessions and their nodes, shared container instances, and
the recorded lifecycle history.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9480", "Runtime status server URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "Request timeout")
}

func newClient() *client.Client {
	return client.New(serverURL, requestTimeout)
}
