package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hackgods/appointment-scheduling-core/internal/db"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	var dsn string
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the appointment and notification schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string (defaults to POSTGRES_DSN)")

	withMigrator := func(fn func(m *db.Migrator) error) error {
		if dsn == "" {
			return errors.New("POSTGRES_DSN or --dsn is required")
		}
		m, err := db.NewMigrator(dsn)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(m)
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *db.Migrator) error { return m.Up() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *db.Migrator) error { return m.Down() })
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withMigrator(func(m *db.Migrator) error { return m.Force(version) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *db.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
					return nil
				})
			},
		},
	)

	logger := logging.Default().With("service", "migrate")
	if err := rootCmd.Execute(); err != nil {
		logger.Error("migration command failed", "error", err)
		os.Exit(1)
	}
}
