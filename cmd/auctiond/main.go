// Command auctiond runs the player auction service and its maintenance
// tasks.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashishshetty777/auction-app/internal/config"
)

var version = "dev"

func main() {
	// Secrets may come from a .env file next to the binary during local runs.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("reading .env file", slog.Any("error", err))
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "auctiond",
		Short:         "Sports player auction service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newSeedCmd(load),
		newRulesCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

type loader func() (*config.Config, error)

func newRulesCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Rules); err != nil {
				return fmt.Errorf("encoding rules: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# opening reserve per team: %d\n", cfg.Rules.OpeningReserve())
			return nil
		},
	}
}
