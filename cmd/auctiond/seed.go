package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/yaml.v3"

	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/telemetry"
)

// playersFile is the layout of a seed file.
type playersFile struct {
	Players []roster.PlayerInput `yaml:"players"`
}

func readPlayers(path string) ([]roster.PlayerInput, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading players file: %w", err)
	}
	var f playersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing players file: %w", err)
	}
	if len(f.Players) == 0 {
		return nil, fmt.Errorf("players file %s lists no players", path)
	}
	return f.Players, nil
}

func newSeedCmd(load loader) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed PLAYERS_FILE",
		Short: "Create the configured teams and load players from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			players, err := readPlayers(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Telemetry.LogLevel)
			rt, err := openRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := rt.Close(); closeErr != nil {
					logger.Error("closing connections", slog.Any("error", closeErr))
				}
			}()

			mgr := roster.NewManager(rt.repos, *cfg.Rules, rt.bus, logger, noop.NewTracerProvider(), rt.clock)
			res, err := mgr.Seed(ctx, players, reset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d teams and %d players\n", res.Teams, res.Players)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all players, teams and sales first")
	return cmd
}
