package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashishshetty777/auction-app/internal/store/sqlxstore"
)

func newMigrateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema",
	}

	open := func() (*sqlxstore.Migrator, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		if cfg.Database.Driver == "memory" {
			return nil, fmt.Errorf("the memory driver has no schema")
		}
		return sqlxstore.NewMigrator(cfg.Database)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = m.Close() }()
				if err := m.Up(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("invalid steps %q: %w", args[0], err)
					}
					steps = n
				}
				m, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = m.Close() }()
				if err := m.Down(steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = m.Close() }()
				v, dirty, ok, err := m.Version()
				if err != nil {
					return err
				}
				switch {
				case !ok:
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				case dirty:
					fmt.Fprintf(cmd.OutOrStdout(), "%d (dirty)\n", v)
				default:
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				return nil
			},
		},
	)
	return cmd
}
