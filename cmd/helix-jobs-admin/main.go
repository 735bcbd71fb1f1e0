// Command helix-jobs-admin is an operational CLI for the job subsystem:
// migrations, dev seeding, queue inspection, and one-off maintenance sweeps.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Streamweaver/helix-jobs/config"
	"github.com/Streamweaver/helix-jobs/internal/bootstrap"
	"github.com/Streamweaver/helix-jobs/internal/devseed"
	"github.com/Streamweaver/helix-jobs/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultCommandTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrationsCommand,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run migrations and submit sample development jobs",
			run:         runDBSeed,
		},
		"stats": {
			name:        "stats",
			description: "Print per-kind job state counts",
			run:         runStats,
		},
		"jobs": {
			name:        "jobs",
			description: "List recent jobs of one kind",
			run:         runListJobs,
		},
		"reap": {
			name:        "reap",
			description: "Run one reaper sweep and print the summary",
			run:         runReapOnce,
		},
		"clear-fingerprints": {
			name:        "clear-fingerprints",
			description: "Delete cached preview fingerprints from Redis",
			run:         runClearFingerprints,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stderr, "Usage: helix-jobs-admin <command> [flags]\n\nCommands:\n"); err != nil {
		return err
	}

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writef(os.Stderr, "  %-20s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// withDatabase wraps a command body with signal handling, a timeout, and a
// connected database that is closed on the way out.
func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	body func(ctx context.Context, db *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	return body(ctx, db)
}

func parseTimeoutFlags(name string, args []string) (time.Duration, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultCommandTimeout, "command timeout")
	if err := fs.Parse(args); err != nil {
		return 0, fmt.Errorf("parse %s flags: %w", name, err)
	}
	return *timeout, nil
}

func runMigrationsCommand(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("migrate", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	timeout, err := parseTimeoutFlags("db-seed", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("submitting sample jobs")
		jobs := newJobService(cmdCtx, db)
		defer jobs.StopAllListeners()

		if seedErr := devseed.Run(ctx, jobs, cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed jobs: %w", seedErr)
		}

		cmdCtx.Logger.Info("database seeding completed successfully")
		return nil
	})
}

// newJobService builds a job service on one database handle, without the
// cache or notification fan-out the long-running binary carries.
func newJobService(cmdCtx *commandContext, db *sql.DB) *service.JobService {
	services := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: &cmdCtx.Config,
		DB:     db,
		Logger: cmdCtx.Logger,
	})
	return services.Jobs
}
