package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"CorpusCurator/internal/app"
	"CorpusCurator/internal/config"
	"CorpusCurator/internal/logging"
	"CorpusCurator/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "corpuscurator",
		Short:         "Crawl, deduplicate and admit study material into the corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create the schema and load seed sources from config",
			RunE: withApp(func(ctx context.Context, a *app.Application) error {
				return a.Init(ctx)
			}),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run a single batch",
			RunE: withApp(func(ctx context.Context, a *app.Application) error {
				result, err := a.RunOnce(ctx)
				fmt.Printf("admitted=%d duplicates=%d failures=%d\n",
					len(result.Admitted), len(result.Duplicates), len(result.Failures))
				if usecase.IsCancelled(err) {
					return nil
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Run batches continuously on the configured interval",
			RunE: withApp(func(ctx context.Context, a *app.Application) error {
				return a.Watch(ctx)
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print corpus statistics",
			RunE: withApp(func(ctx context.Context, a *app.Application) error {
				stats, err := a.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("resources:           %d\n", stats.TotalResources)
				fmt.Printf("attempts:            %d\n", stats.TotalAttempts)
				fmt.Printf("successful attempts: %d\n", stats.SuccessfulAttempts)
				fmt.Printf("success rate:        %.1f%%\n", stats.SuccessRate())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "backfill",
			Short: "Embed resources admitted while the embedding service was down",
			RunE: withApp(func(ctx context.Context, a *app.Application) error {
				result, err := a.Backfill(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("pending=%d filled=%d failed=%d\n", result.Pending, result.Filled, result.Failed)
				return nil
			}),
		},
		newPruneCommand(),
	)
	return root
}

func newPruneCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete failed attempts so their URLs can be retried",
		RunE: withApp(func(ctx context.Context, a *app.Application) error {
			removed, err := a.Prune(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d failed attempts\n", removed)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of failed attempts to delete")
	return cmd
}

func withApp(run func(context.Context, *app.Application) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

		ctx := cmd.Context()
		application, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := application.Close(closeCtx); err != nil {
				logger.Error("shutdown", "error", err)
			}
		}()

		return run(ctx, application)
	}
}
