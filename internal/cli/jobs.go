package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
)

var (
	flagFailedLimit   int
	flagCancelMessage string
	flagEnqueueKey    string
)

var jobsCmd = cobra.Command{
	Use:   "jobs",
	Short: "Inspect and retry queued jobs",
}

var jobsStatsCmd = cobra.Command{
	Use:   "stats",
	Short: "Show database, schema and queue statistics",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				return printStats(ctx, cmd.OutOrStdout(), store)
			})
	},
}

var jobsFailedCmd = cobra.Command{
	Use:   "failed",
	Short: "List failed jobs, oldest first",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				jobs, err := store.FailedJobs(ctx, flagFailedLimit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				return printJobs(w, jobs, terminalWidth(w))
			})
	},
}

var jobsRetryCmd = cobra.Command{
	Use:   "retry",
	Short: "Move every failed job back to pending",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd.Context(),
			func(ctx context.Context, store *storage.Storage) error {
				n, err := store.RetryFailedJobs(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d jobs moved to pending\n", n)
				return nil
			})
	},
}

var jobsShowCmd = cobra.Command{
	Use:   "show JOB_ID",
	Short: "Print a job as JSON",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobID(cmd, args[0],
			func(ctx context.Context, store *storage.Storage, id uuid.UUID) error {
				job, err := store.JobByID(ctx, id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(job); err != nil {
					return fmt.Errorf("encode job %s: %w", id, err)
				}
				return nil
			})
	},
}

var jobsDeleteCmd = cobra.Command{
	Use:   "delete JOB_ID",
	Short: "Delete a job, whatever its status",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobID(cmd, args[0],
			func(ctx context.Context, store *storage.Storage, id uuid.UUID) error {
				return store.DeleteJob(ctx, id)
			})
	},
}

var jobsCancelCmd = cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Mark a pending job failed",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobID(cmd, args[0],
			func(ctx context.Context, store *storage.Storage, id uuid.UUID) error {
				return store.MarkFailed(ctx, id, flagCancelMessage)
			})
	},
}

var enqueueCmd = cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a single job",
}

var enqueueFetchFeedCmd = cobra.Command{
	Use:   "fetch-feed FEED_ID",
	Short: "Enqueue a fetch of a feed",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		feedID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid feed id %q: %w", args[0], err)
		}
		return enqueueJob(cmd, []byte(flagEnqueueKey), model.NewFetchFeed(feedID))
	},
}

var enqueueBackfillCmd = cobra.Command{
	Use:   "backfill-favicon",
	Short: "Enqueue a favicon backfill",
	Args:  cobra.ExactArgs(0),

	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueueJob(cmd, nil, model.NewBackfillFavicon())
	},
}

func init() {
	jobsFailedCmd.Flags().IntVarP(&flagFailedLimit, "limit", "n", 50,
		"Maximum number of jobs to list")
	jobsCancelCmd.Flags().StringVarP(&flagCancelMessage, "message", "m",
		"canceled by operator", "Error recorded in the job")
	enqueueFetchFeedCmd.Flags().StringVar(&flagEnqueueKey, "key", "",
		"Idempotency key, derived from the feed id by default")

	jobsCmd.AddCommand(&jobsCancelCmd)
	jobsCmd.AddCommand(&jobsDeleteCmd)
	jobsCmd.AddCommand(&jobsFailedCmd)
	jobsCmd.AddCommand(&jobsRetryCmd)
	jobsCmd.AddCommand(&jobsShowCmd)
	jobsCmd.AddCommand(&jobsStatsCmd)

	enqueueCmd.AddCommand(&enqueueBackfillCmd)
	enqueueCmd.AddCommand(&enqueueFetchFeedCmd)
}

// enqueueJob enqueues p with key, or with its own key when key is empty.
func enqueueJob(cmd *cobra.Command, key []byte, p model.Payload) error {
	if v, ok := p.(*model.FetchFeed); ok && v.FeedID <= 0 {
		return fmt.Errorf("%w: feed id must be positive", model.ErrInvalidPayload)
	} else if len(key) == 0 {
		key = p.Key()
	}

	return withStorage(cmd.Context(),
		func(ctx context.Context, store *storage.Storage) error {
			id, ok, err := store.EnqueueKey(ctx, key, p)
			switch {
			case err != nil:
				return err
			case !ok:
				fmt.Fprintf(cmd.OutOrStdout(), "%s job with key %q already queued\n",
					p.Kind(), key)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s job %s enqueued\n", p.Kind(), id)
			}
			return nil
		})
}

func withJobID(cmd *cobra.Command, s string,
	fn func(ctx context.Context, store *storage.Storage, id uuid.UUID) error,
) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return withStorage(cmd.Context(),
		func(ctx context.Context, store *storage.Storage) error {
			return fn(ctx, store, id)
		})
}

type statsSource interface {
	DatabaseVersion(ctx context.Context) string
	DBSize(ctx context.Context) (string, error)
	SchemaVersion(ctx context.Context) (current, expected int, err error)
	JobStats(ctx context.Context) (model.JobStats, error)
}

func printStats(ctx context.Context, w io.Writer, store statsSource) error {
	size, err := store.DBSize(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}

	current, expected, err := store.SchemaVersion(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}

	stats, err := store.JobStats(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already wrapped
	}

	fmt.Fprintln(w, "Database:", store.DatabaseVersion(ctx))
	fmt.Fprintln(w, "Database Size:", size)
	fmt.Fprintf(w, "Schema: v%d (expected v%d)\n", current, expected)
	fmt.Fprintln(w, "Pending Jobs:", stats.Pending)
	fmt.Fprintln(w, "Failed Jobs:", stats.Failed)
	return nil
}

// printJobs writes jobs as a table. Errors are cut to fit width, unless
// width is 0.
func printJobs(w io.Writer, jobs []*model.Job, width int) error {
	var limit int
	if width > 0 {
		limit = max(width-jobColumnsWidth, 10)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tATTEMPTS\tCREATED\tERROR")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", job.ID, job.Kind(),
			job.Attempts, job.CreatedAt.Format(time.DateTime),
			truncate(job.Error, limit))
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("print jobs: %w", err)
	}
	return nil
}

// jobColumnsWidth is the width of every column but the error one.
const jobColumnsWidth = 36 + 2 + 16 + 2 + 8 + 2 + 19 + 2

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return s
	}

	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
