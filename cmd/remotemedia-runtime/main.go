package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remotemedia-runtime",
	Short: "Node execution runtime for RemoteMedia pipelines",
	Long: `remotemedia-runtime hosts out-of-process pipeline nodes.

It spawns worker processes and containers on demand, bridges media frames
to them over Unix domain sockets, tracks per-session node state, and tears
everything down when a session ends or a worker dies.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
