package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/adapters/postgres"
	"github.com/kevin07696/fee-reconciliation/internal/config"
	"github.com/kevin07696/fee-reconciliation/internal/services/dedup"
	"github.com/kevin07696/fee-reconciliation/internal/services/intake"
	"github.com/kevin07696/fee-reconciliation/internal/services/ledger"
	"github.com/kevin07696/fee-reconciliation/internal/services/matching"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/internal/services/queue"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
	"github.com/kevin07696/fee-reconciliation/internal/services/stats"
	"github.com/kevin07696/fee-reconciliation/pkg/resilience"
)

var Version = "dev"

// services are what the commands drive
type services struct {
	review *review.Service
	intake *intake.Service
	stats  *stats.Service
}

// opener connects the services; the returned func releases them
type opener func(ctx context.Context) (*services, func(), error)

type globalFlags struct {
	operator string
	json     bool
}

func main() {
	if err := newRootCmd(openDatabase).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "reconctl",
		Short:         "reconctl - operate the fee reconciliation review queue",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.operator, "operator", "o", os.Getenv("USER"), "Operator recorded on actions")
	rootCmd.PersistentFlags().BoolVarP(&g.json, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(reviewCmd(open, g))
	rootCmd.AddCommand(statsCmd(open, g))
	rootCmd.AddCommand(eventsCmd(open, g))

	return rootCmd
}

// openDatabase builds the services over Postgres the same way the server does,
// minus the worker pools and notification fan-out.
func openDatabase(ctx context.Context) (*services, func(), error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return nil, nil, err
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.ConnectionString()), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	store := postgres.NewStore(pool, logger)

	scheduler := queue.NewScheduler(
		store,
		matching.NewEngine(matching.FromConfig(cfg.Matching), logger),
		ledger.NewApplier(store, logger),
		resilience.NewExponentialBackoff(
			cfg.Pipeline.RetryBaseDelay,
			cfg.Pipeline.RetryMaxDelay,
			cfg.Pipeline.RetryMultiplier,
			cfg.Pipeline.RetryJitter,
		),
		notify.Nop{},
		queue.Config{MaxRetries: cfg.Pipeline.MaxRetries, Lease: cfg.Pipeline.Lease},
		logger,
	)
	svc := &services{
		review: review.NewService(store, scheduler, logger),
		intake: intake.NewService(
			store,
			normalize.NewNormalizer(cfg.Matching.DefaultRegion),
			dedup.NewChecker(logger),
			scheduler,
			notify.Nop{},
			cfg.Pipeline.Lease,
			logger,
		),
		stats: stats.NewService(store),
	}
	return svc, func() {
		pool.Close()
		_ = logger.Sync()
	}, nil
}

func withServices(cmd *cobra.Command, open opener, fn func(ctx context.Context, svc *services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
