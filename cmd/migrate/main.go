package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vipm/backend/internal/infrastructure/config"
	"github.com/vipm/backend/internal/infrastructure/logger"
	"github.com/vipm/backend/internal/infrastructure/migration"
	"github.com/vipm/backend/migrations"
)

type options struct {
	path       string
	configPath string
	logLevel   string
	log        *zap.Logger
}

// source reads --path when given, the embedded set otherwise
func (o *options) source() migration.Source {
	if o.path != "" {
		return migration.Source{Dir: o.path}
	}
	return migration.Source{FS: migrations.FS}
}

func main() {
	opts := &options{}
	err := newRootCommand(opts).Execute()
	if opts.log != nil {
		_ = logger.Sync(opts.log)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the VIPM fulfillment store schema",
		Long: `migrate applies, inspects and authors the postgres migrations of the
fulfillment store. Connection settings come from config.toml and the
VIPM_DATABASE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(&logger.Config{
				Level:      opts.logLevel,
				Format:     "console",
				Output:     "stdout",
				TimeFormat: "2006-01-02 15:04:05",
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			opts.log = log
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.path, "path", "", "read migrations from this directory instead of the embedded set")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		migrateCommand(opts, "up", "Apply all pending migrations", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Up()
		}),
		migrateCommand(opts, "down", "Roll back all migrations", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Down()
		}),
		migrateCommand(opts, "step <n>", "Apply n migrations, or roll back when n is negative", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return m.Steps(n)
		}),
		migrateCommand(opts, "version", "Show the applied migration version", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if version == 0 {
				opts.log.Info("No migrations applied")
				return nil
			}
			opts.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		}),
		migrateCommand(opts, "force <version>", "Mark a version as applied and clean", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return m.Force(version)
		}),
		newCreateCommand(opts),
		newListCommand(opts),
	)
	return cmd
}

// migrateCommand builds a subcommand that runs against the configured
// postgres database
func migrateCommand(opts *options, use, short string, args cobra.PositionalArgs, run func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(opts.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrations target postgres, configured driver is %q", cfg.Database.Driver)
			}

			db, err := sql.Open("postgres", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			m, err := migration.Open(db, opts.source(), opts.log)
			if err != nil {
				return err
			}
			defer m.Close()
			return run(m, args)
		},
	}
}

func newCreateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> [description]",
		Short: "Write the next up/down migration pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.path
			if dir == "" {
				dir = "migrations"
			}
			var description string
			if len(args) == 2 {
				description = args[1]
			}
			draft, err := migration.CreateMigration(dir, args[0], description)
			if err != nil {
				return err
			}
			opts.log.Info("Migration created",
				zap.String("version", draft.Version),
				zap.String("up_file", draft.UpPath),
				zap.String("down_file", draft.DownPath),
			)
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := opts.source().List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
