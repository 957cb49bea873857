package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("Application error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kiwis-outreach",
		Short:         "Outreach backend: contact ingestion, enrichment, sending and feedback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newUploadCmd(),
		newTrackCmd(),
		newSendCmd(),
		newLoopCmd(),
		newSwipeCmd(),
	)
	return root
}
