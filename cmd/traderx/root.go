package main

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func Execute() error {
	root := &cobra.Command{
		Use:           "traderx",
		Short:         "Kraken trading bot",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			shutdownSystem(cmd.Context())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")

	root.AddCommand(runCmd(), vaultCmd(), eodCmd())
	return root.Execute()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
}
