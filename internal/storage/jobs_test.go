package storage_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedkeeper.app/internal/model"
	"feedkeeper.app/internal/storage"
	"feedkeeper.app/internal/testutil"
)

func TestEnqueue_dedup(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	p := model.NewFetchFeed(42)
	id, created, err := store.Enqueue(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, id)

	id2, created, err := store.Enqueue(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uuid.Nil, id2)

	stats, err := store.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Pending: 1}, stats)

	job, err := store.JobByKey(ctx, p.Key())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, model.JobKindFetchFeed, job.Kind())
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Zero(t, job.Attempts)
}

func TestEnqueue_dedupKeepsState(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	p := model.NewFetchFeed(7)
	id, _, err := store.Enqueue(ctx, p)
	require.NoError(t, err)

	batch, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	require.NoError(t, batch.MarkFailed(ctx, id, "boom"))
	require.NoError(t, batch.Commit(ctx))

	_, created, err := store.Enqueue(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)

	job, err := store.JobByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "boom", job.Error)
}

func TestEnqueueKey(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	_, created, err := store.EnqueueKey(ctx, []byte("feed:42"),
		model.NewFetchFeed(42))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = store.EnqueueKey(ctx, []byte("feed:42"),
		model.NewFetchFeed(42))
	require.NoError(t, err)
	assert.False(t, created)

	// a different key for the same payload is another job
	_, created, err = store.Enqueue(ctx, model.NewFetchFeed(42))
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = store.EnqueueKey(ctx, nil, model.NewFetchFeed(42))
	require.Error(t, err)
}

func TestClaimBatch(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	var ids []uuid.UUID
	for feedID := range int64(5) {
		id, _, err := store.Enqueue(ctx, model.NewFetchFeed(feedID+1))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	batch, err := store.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())
	for i, job := range batch.Jobs {
		assert.Equal(t, ids[i], job.ID)
		assert.Equal(t, 1, job.Attempts)
	}

	other, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, other.Len())
	assert.Equal(t, ids[3:], []uuid.UUID{other.Jobs[0].ID, other.Jobs[1].ID})
	require.NoError(t, other.Rollback(ctx))

	require.NoError(t, batch.Delete(ctx, ids[0]))
	require.NoError(t, batch.MarkFailed(ctx, ids[1], "permanent"))
	require.NoError(t, batch.Commit(ctx))
	require.NoError(t, batch.Rollback(ctx))

	_, err = store.JobByID(ctx, ids[0])
	require.ErrorIs(t, err, storage.ErrJobNotFound)

	job, err := store.JobByID(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts, "committed claim keeps the attempt")

	job, err = store.JobByID(ctx, ids[3])
	require.NoError(t, err)
	assert.Zero(t, job.Attempts, "rolled back claim discards the attempt")

	stats, err := store.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Pending: 3, Failed: 1}, stats)
}

func TestClaimBatch_empty(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	batch, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, batch.Len())
	require.NoError(t, batch.Commit(ctx))
	require.NoError(t, batch.Rollback(ctx))
}

func TestClaimBatch_skipsFailed(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	id, _, err := store.Enqueue(ctx, model.NewBackfillFavicon())
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id, "nope"))

	batch, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, batch.Len())

	failed, err := store.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "nope", failed[0].Error)

	n, err := store.RetryFailedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	batch, err = store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, id, batch.Jobs[0].ID)
	assert.Equal(t, 1, batch.Jobs[0].Attempts)
	assert.Empty(t, batch.Jobs[0].Error)
	require.NoError(t, batch.Rollback(ctx))
}

func TestClaimBatch_exclusive(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	const jobs, claimers = 20, 4
	for feedID := range int64(jobs) {
		_, _, err := store.Enqueue(ctx, model.NewFetchFeed(feedID+1))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int, jobs)
	batches := make([]*storage.JobBatch, claimers)

	var wg sync.WaitGroup
	for i := range claimers {
		wg.Go(func() {
			batch, err := store.ClaimBatch(ctx, 10)
			if !assert.NoError(t, err) {
				return
			}
			batches[i] = batch
			mu.Lock()
			defer mu.Unlock()
			for _, job := range batch.Jobs {
				seen[job.ID]++
			}
		})
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
	assert.Len(t, seen, jobs)

	for _, batch := range batches {
		if batch != nil {
			require.NoError(t, batch.Commit(context.Background()))
		}
	}
}

func TestDeleteJob(t *testing.T) {
	store := testutil.NewStorage(t)
	ctx := t.Context()

	id, _, err := store.Enqueue(ctx, model.NewBackfillFavicon())
	require.NoError(t, err)
	require.NoError(t, store.DeleteJob(ctx, id))
	require.ErrorIs(t, store.DeleteJob(ctx, id), storage.ErrJobNotFound)
	require.ErrorIs(t, store.MarkFailed(ctx, id, "x"), storage.ErrJobNotFound)

	job, err := store.JobByKey(ctx, model.NewBackfillFavicon().Key())
	require.NoError(t, err)
	assert.Nil(t, job)

	// the key is free again once the job is gone
	_, created, err := store.Enqueue(ctx, model.NewBackfillFavicon())
	require.NoError(t, err)
	assert.True(t, created)
}
