package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"feedkeeper.app/internal/model"
)

var ErrJobNotFound = errors.New("storage: job not found")

const jobColumns = `
id, key, data, status, COALESCE(error, '') AS error, attempts, created_at`

// Enqueue adds a job for p, keyed by p.Key(). It returns false and
// uuid.Nil, without an error, when a job with the same key already exists,
// whatever its status.
func (s *Storage) Enqueue(ctx context.Context, p model.Payload,
) (uuid.UUID, bool, error) {
	return enqueue(ctx, s.db, p.Key(), p)
}

// EnqueueKey is like Enqueue, with a key chosen by the producer.
func (s *Storage) EnqueueKey(ctx context.Context, key []byte,
	p model.Payload,
) (uuid.UUID, bool, error) {
	return enqueue(ctx, s.db, key, p)
}

func enqueue(ctx context.Context, db querier, key []byte, p model.Payload,
) (uuid.UUID, bool, error) {
	if len(key) == 0 {
		return uuid.Nil, false, fmt.Errorf(
			"storage: enqueue %s job: empty key", p.Kind())
	}

	data, err := model.MarshalPayload(p)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("storage: enqueue job: %w", err)
	}

	rows, _ := db.Query(ctx, `
INSERT INTO jobs (id, key, data) VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING
RETURNING id`, uuid.New(), key, data)

	id, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[uuid.UUID])
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	} else if err != nil {
		return uuid.Nil, false, fmt.Errorf("storage: enqueue %s job: %w",
			p.Kind(), err)
	}
	return id, true, nil
}

// ClaimBatch locks up to limit pending jobs, skipping jobs locked by other
// claimers, and increments their attempts. The jobs stay locked until the
// returned batch is committed or rolled back.
func (s *Storage) ClaimBatch(ctx context.Context, limit int) (*JobBatch,
	error,
) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin claim: %w", err)
	}

	rows, _ := tx.Query(ctx, `
WITH claimed AS (
  SELECT id FROM jobs
   WHERE status = 'pending'
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED)
UPDATE jobs SET attempts = jobs.attempts + 1
  FROM claimed
 WHERE jobs.id = claimed.id
RETURNING jobs.id, jobs.key, jobs.data, jobs.status,
          COALESCE(jobs.error, '') AS error, jobs.attempts, jobs.created_at`,
		limit)

	jobs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("storage: claim %d jobs: %w", limit, err)
	}

	if len(jobs) == 0 {
		if err := tx.Rollback(ctx); err != nil {
			return nil, fmt.Errorf("storage: release empty claim: %w", err)
		}
		return &JobBatch{}, nil
	}
	return &JobBatch{Jobs: sortJobs(jobs), tx: tx}, nil
}

// JobBatch is a set of claimed jobs. It must be finished with Commit or
// Rollback. Methods are not safe for concurrent use.
type JobBatch struct {
	Jobs []*model.Job

	tx pgx.Tx
}

func (b *JobBatch) Len() int { return len(b.Jobs) }

// Delete removes a successfully executed job.
func (b *JobBatch) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteJob(ctx, b.tx, id)
}

// MarkFailed moves a job to the failed state with message as its error.
func (b *JobBatch) MarkFailed(ctx context.Context, id uuid.UUID,
	message string,
) error {
	return markFailed(ctx, b.tx, id, message)
}

// Release leaves a job pending after a retryable failure. The attempt
// counted by the claim is kept once the batch is committed.
func (b *JobBatch) Release(ctx context.Context, id uuid.UUID) error {
	if !slices.ContainsFunc(b.Jobs, func(j *model.Job) bool {
		return j.ID == id
	}) {
		return fmt.Errorf("%w: %s not in batch", ErrJobNotFound, id)
	}
	return nil
}

// Commit persists the attempts increments and resolutions and releases the
// locks. Jobs neither deleted nor failed stay pending.
func (b *JobBatch) Commit(ctx context.Context) error {
	if b.tx == nil {
		return nil
	}
	defer func() { b.tx = nil }()

	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit %d claimed jobs: %w", b.Len(), err)
	}
	return nil
}

// Rollback releases the locks and discards everything done through the
// batch, including the attempts increments. It's a no-op after Commit.
func (b *JobBatch) Rollback(ctx context.Context) error {
	if b.tx == nil {
		return nil
	}
	defer func() { b.tx = nil }()

	if err := b.tx.Rollback(ctx); err != nil &&
		!errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("storage: rollback %d claimed jobs: %w", b.Len(), err)
	}
	return nil
}

// DeleteJob removes a job outside of any claim. It blocks while the job is
// claimed by someone else.
func (s *Storage) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return deleteJob(ctx, s.db, id)
}

// MarkFailed fails a job outside of any claim.
func (s *Storage) MarkFailed(ctx context.Context, id uuid.UUID,
	message string,
) error {
	return markFailed(ctx, s.db, id, message)
}

func deleteJob(ctx context.Context, db querier, id uuid.UUID) error {
	result, err := db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete job %s: %w", id, err)
	} else if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func markFailed(ctx context.Context, db querier, id uuid.UUID,
	message string,
) error {
	result, err := db.Exec(ctx, `
UPDATE jobs SET status = 'failed', error = $2 WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("storage: mark job %s failed: %w", id, err)
	} else if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// JobByID returns a job without locking it.
func (s *Storage) JobByID(ctx context.Context, id uuid.UUID) (*model.Job,
	error,
) {
	rows, _ := s.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`,
		id)
	job, err := pgx.CollectExactlyOneRow(rows,
		pgx.RowToAddrOfStructByName[model.Job])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("storage: fetch job %s: %w", id, err)
	}
	return job, nil
}

// JobByKey returns the job with key, or nil if there is none.
func (s *Storage) JobByKey(ctx context.Context, key []byte) (*model.Job,
	error,
) {
	rows, _ := s.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE key = $1`,
		key)
	job, err := pgx.CollectExactlyOneRow(rows,
		pgx.RowToAddrOfStructByName[model.Job])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("storage: fetch job by key %q: %w", key, err)
	}
	return job, nil
}

// FailedJobs returns up to limit failed jobs, oldest first.
func (s *Storage) FailedJobs(ctx context.Context, limit int) ([]*model.Job,
	error,
) {
	rows, _ := s.db.Query(ctx, `SELECT `+jobColumns+`
  FROM jobs
 WHERE status = 'failed'
 ORDER BY created_at
 LIMIT $1`, limit)

	jobs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
	if err != nil {
		return nil, fmt.Errorf("storage: fetch failed jobs: %w", err)
	}
	return jobs, nil
}

// RetryFailedJobs moves every failed job back to pending with its attempts
// and error cleared. It returns the number of jobs moved.
func (s *Storage) RetryFailedJobs(ctx context.Context) (int64, error) {
	result, err := s.db.Exec(ctx, `
UPDATE jobs
   SET status = 'pending', attempts = 0, error = NULL
 WHERE status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("storage: retry failed jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// JobStats counts jobs by status.
func (s *Storage) JobStats(ctx context.Context) (model.JobStats, error) {
	rows, _ := s.db.Query(ctx, `
SELECT count(*) FILTER (WHERE status = 'pending') AS pending,
       count(*) FILTER (WHERE status = 'failed') AS failed
  FROM jobs`)

	stats, err := pgx.CollectExactlyOneRow(rows,
		pgx.RowToStructByName[model.JobStats])
	if err != nil {
		return stats, fmt.Errorf("storage: count jobs: %w", err)
	}
	return stats, nil
}

// sortJobs orders jobs the way they were enqueued, RETURNING doesn't.
func sortJobs(jobs []*model.Job) []*model.Job {
	slices.SortFunc(jobs, func(a, b *model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return jobs
}
