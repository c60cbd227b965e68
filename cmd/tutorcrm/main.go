package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tutorstack/tutorcrm/internal/account"
	"github.com/tutorstack/tutorcrm/internal/backfill"
	"github.com/tutorstack/tutorcrm/internal/balance"
	"github.com/tutorstack/tutorcrm/internal/bot"
	"github.com/tutorstack/tutorcrm/internal/clock"
	"github.com/tutorstack/tutorcrm/internal/config"
	"github.com/tutorstack/tutorcrm/internal/ledger"
	"github.com/tutorstack/tutorcrm/internal/migration"
	"github.com/tutorstack/tutorcrm/internal/observability"
	"github.com/tutorstack/tutorcrm/internal/payment"
	"github.com/tutorstack/tutorcrm/internal/redis"
	"github.com/tutorstack/tutorcrm/internal/reminder"
	"github.com/tutorstack/tutorcrm/internal/server"
	"github.com/tutorstack/tutorcrm/internal/sweep"
	"github.com/tutorstack/tutorcrm/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "tutorcrm",
		Short:   "Tutoring payments CRM",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSweepCmd(), newRemindCmd(), newFillLedgerCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot webhook, payment webhook and admin API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile in-flight payments against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, s *sweep.Service) error {
				report, err := s.Sweep(ctx, dryRun)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify without writing or notifying")
	return cmd
}

func newRemindCmd() *cobra.Command {
	var urgent bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send payment reminders for the upcoming period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, s *reminder.Service) error {
				report, err := s.SendReminders(ctx, urgent)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().BoolVar(&urgent, "urgent", false, "remind about the current month instead of the next one")
	return cmd
}

func newFillLedgerCmd() *cobra.Command {
	var month, year int
	cmd := &cobra.Command{
		Use:   "fill-ledger",
		Short: "Backfill cash ledger entries for a period collected offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, s *backfill.Service) error {
				report, err := s.Fill(ctx, month, year)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().IntVar(&month, "month", 0, "billing month (1-12)")
	cmd.Flags().IntVar(&year, "year", 0, "billing year")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

// coreModules is everything short of the HTTP server.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		account.Module,
		ledger.Module,
		payment.Module,
		balance.Module,
		sweep.Module,
		bot.Module,
		reminder.Module,
		backfill.Module,
	)
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		fx.Invoke(func(gdb *gorm.DB, log *zap.Logger) error {
			return migration.Run(gdb, log)
		}),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return app.Stop(context.Background())
}

func runServe() {
	app := fx.New(
		coreModules(),
		server.Module,
	)
	app.Run()
}

// runOneShot starts the app, runs fn once and shuts down.
func runOneShot[T any](fn func(context.Context, T) error) error {
	var target T
	app := fx.New(
		coreModules(),
		fx.NopLogger,
		fx.Populate(&target),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	ctx, cancelRun := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancelRun()
	return fn(ctx, target)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
