package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/config"
	"github.com/jackzampolin/backlist/internal/home"
	"github.com/jackzampolin/backlist/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "backlist",
	Short: "Quota-constrained backfill scheduler for historical book ingestion",
	Long: `Backlist walks a ledger of historical (year, month) periods, asks an LLM
for books first published in each one, deduplicates the candidates against
the catalog, and queues the survivors for enrichment.

The scheduler respects a daily generation quota, takes per-month advisory
locks so concurrent runners never collide, and records every month's
outcome in the harvest ledger.`,
	Version: version.GitRelease,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the home directory and a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if h.ConfigExists() {
			fmt.Printf("Config already exists at %s\n", h.ConfigPath())
			return nil
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", h.ConfigPath())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.backlist/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "backlist home directory (default: ~/.backlist)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
