package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedkeeper.app/internal/logging"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/worker"
)

var flagRunOnceRefresh bool

var runOnceCmd = cobra.Command{
	Use:   "run-once",
	Short: "Process queued jobs until the queue is empty and exit",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(),
			syscall.SIGTERM, os.Interrupt)
		defer cancel()

		return withStorage(ctx,
			func(ctx context.Context, store *storage.Storage) error {
				if err := store.SchemaUpToDate(ctx); err != nil {
					return err
				}

				if flagRunOnceRefresh {
					if _, err := enqueueFeeds(ctx, store); err != nil {
						return err
					}
				}

				registry := newRegistry(store)
				if err := registry.Validate(); err != nil {
					return err
				}

				w := worker.New(worker.NewQueue(store), registry,
					workerOptions()...)
				n, err := drain(ctx, w)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d jobs processed\n", n)
				return nil
			})
	},
}

func init() {
	runOnceCmd.Flags().BoolVar(&flagRunOnceRefresh, "refresh", false,
		"Enqueue a fetch of every feed first")
}

type batchRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// drain runs batches until one claims no jobs or ctx is canceled. It returns
// the number of claimed jobs.
func drain(ctx context.Context, w batchRunner) (int, error) {
	var total int
	for ctx.Err() == nil {
		n, err := w.RunOnce(ctx)
		total += n
		if err != nil {
			return total, err //nolint:wrapcheck // already wrapped
		} else if n == 0 {
			break
		}
		logging.FromContext(ctx).Debug("batch processed", slog.Int("jobs", n),
			slog.Int("total", total))
	}
	return total, nil
}

var _ batchRunner = (*worker.Worker)(nil)
