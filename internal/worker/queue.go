package worker

import (
	"context"

	"github.com/google/uuid"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
)

// Queue hands out pending jobs.
type Queue interface {
	// ClaimBatch claims up to limit jobs. The returned Batch must be
	// committed or rolled back, even when no jobs were claimed.
	ClaimBatch(ctx context.Context, limit int) ([]*model.Job, Batch, error)
}

// Batch resolves claimed jobs. Resolutions take effect on Commit.
type Batch interface {
	Delete(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	Release(ctx context.Context, id uuid.UUID) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var _ Batch = (*storage.JobBatch)(nil)

// NewQueue returns a Queue backed by the jobs table.
func NewQueue(store *storage.Storage) Queue { return &storageQueue{store} }

type storageQueue struct {
	store *storage.Storage
}

func (self *storageQueue) ClaimBatch(ctx context.Context, limit int,
) ([]*model.Job, Batch, error) {
	b, err := self.store.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already wrapped
	}
	return b.Jobs, b, nil
}
