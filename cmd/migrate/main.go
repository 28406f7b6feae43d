package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

type cliOptions struct {
	migrationsPath string
	logLevel       string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the wmsync database schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.migrationsPath, "path", "", "migrations directory (default: migrations embedded in the binary)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(opts, func(m *migration.Migrator, _ *zap.Logger) error {
					return m.Up()
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(opts, func(m *migration.Migrator, _ *zap.Logger) error {
					return m.Down()
				})
			},
		},
		&cobra.Command{
			Use:   "step <n>",
			Short: "Apply n migrations (positive=up, negative=down)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return withMigrator(opts, func(m *migration.Migrator, _ *zap.Logger) error {
					return m.Steps(n)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(opts, func(m *migration.Migrator, log *zap.Logger) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(opts, func(m *migration.Migrator, _ *zap.Logger) error {
					return m.Force(version)
				})
			},
		},
		&cobra.Command{
			Use:   "create <name> [description]",
			Short: "Create a new migration file pair",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := opts.migrationsPath
				if dir == "" {
					dir = "migrations"
				}
				description := ""
				if len(args) > 1 {
					description = args[1]
				}
				mf, err := migration.CreateMigration(dir, args[0], description)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), mf.UpPath)
				fmt.Fprintln(cmd.OutOrStdout(), mf.DownPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List migrations in the migrations directory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				dir := opts.migrationsPath
				if dir == "" {
					dir = "migrations"
				}
				names, err := migration.ListMigrations(dir)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
	)
	return root
}

// withMigrator opens the configured database, runs fn and releases everything
func withMigrator(opts *cliOptions, fn func(*migration.Migrator, *zap.Logger) error) error {
	log, err := logger.New(&logger.Config{
		Level:      opts.logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := migration.New(db, opts.migrationsPath, log)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m, log)
}
