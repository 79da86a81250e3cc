// Command worker runs the trade-signal and proof job loops.
//
// Subcommands:
//
//	trade-worker  claim trade signals, route them to a venue and execute them
//	proof-worker  claim proof requests, generate proofs and submit them
//	migrate       apply pending database migrations and exit
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"maxxit/apps/worker/internal/app"
	"maxxit/apps/worker/internal/config"
	"maxxit/apps/worker/internal/logger"
)

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Trade-signal and proof job worker",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			slog.SetDefault(logger.New(level))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		workerCmd(app.RoleTrade, "Execute trade signals", (*config.Config).ValidateTradeWorker),
		workerCmd(app.RoleProof, "Generate and submit trader proofs", (*config.Config).ValidateProofWorker),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func workerCmd(role app.Role, short string, validate func(*config.Config) error) *cobra.Command {
	var workerID string

	cmd := &cobra.Command{
		Use:   string(role),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := validate(cfg); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if workerID == "" {
				workerID = newWorkerID(role)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			deps, err := app.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			a, err := app.New(cfg, deps.DB, deps.Publisher(), workerID, role)
			if err != nil {
				return err
			}

			slog.Info("worker starting", "role", role, "worker_id", workerID)
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&workerID, "worker-id", "", "identity recorded on claimed jobs (default <role>-<hostname>-<random>)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := app.OpenDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return app.Migrate(db, cfg.MigrationPath)
		},
	}
}

func newWorkerID(role app.Role) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", role, host, uuid.New().String()[:8])
}
