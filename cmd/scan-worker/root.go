package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:          "scan-worker",
	Short:        "Runs security scans delivered through the job queue",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(submitCmd)
}
