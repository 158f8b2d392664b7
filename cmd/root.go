package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/license-manager/cmd/worker"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "dlm",
		Short: "Digital License Manager",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(licensesCmd)
	rootCmd.AddCommand(apiKeysCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}
