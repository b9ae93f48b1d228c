package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercraft/covercraft-backend/pkg/logger"
)

type fakeBatch struct {
	limit   int
	age     time.Duration
	n       int
	err     error
	cutoffs []time.Time
}

func (f *fakeBatch) ProcessDueRefunds(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.n, f.err
}

func (f *fakeBatch) PurgeStale(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.age, f.limit = olderThan, limit
	return f.n, f.err
}

func (f *fakeBatch) SyncStale(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.age, f.limit = olderThan, limit
	return f.n, f.err
}

func (f *fakeBatch) ReleaseStaleClaims(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.age, f.limit = olderThan, limit
	return f.n, f.err
}

func (f *fakeBatch) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return int64(f.n), f.err
}

func TestJobConstructorsValidate(t *testing.T) {
	_, err := NewRefundRetryJob(RefundRetryJobParams{})
	assert.Error(t, err)
	_, err = NewTrackingSyncJob(TrackingSyncJobParams{})
	assert.Error(t, err)
	_, err = NewStaleOrderCleanupJob(StaleOrderCleanupJobParams{})
	assert.Error(t, err)
	_, err = NewShipmentClaimReleaseJob(ShipmentClaimReleaseJobParams{})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Repository: &fakeBatch{}})
	assert.Error(t, err)
}

func TestBatchJobsApplyDefaults(t *testing.T) {
	ctx := context.Background()

	refunds := &fakeBatch{n: 3}
	job, err := NewRefundRetryJob(RefundRetryJobParams{Refunds: refunds})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, "refund-retry", job.Name())
	assert.Equal(t, defaultRefundBatch, refunds.limit)
	assert.Equal(t, 3, job.(counter).Processed())

	sync := &fakeBatch{}
	job, err = NewTrackingSyncJob(TrackingSyncJobParams{Syncer: sync, MinAge: time.Hour, BatchSize: 5})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, time.Hour, sync.age)
	assert.Equal(t, 5, sync.limit)

	purge := &fakeBatch{}
	job, err = NewStaleOrderCleanupJob(StaleOrderCleanupJobParams{Purger: purge})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, defaultPendingAge, purge.age)

	claims := &fakeBatch{}
	job, err = NewShipmentClaimReleaseJob(ShipmentClaimReleaseJobParams{Releaser: claims})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, defaultClaimTimeout, claims.age)
}

func TestBatchJobWrapsErrorAndKeepsCount(t *testing.T) {
	refunds := &fakeBatch{n: 2, err: errors.New("gateway down")}
	job, err := NewRefundRetryJob(RefundRetryJobParams{Refunds: refunds})
	require.NoError(t, err)
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refund-retry")
	assert.Equal(t, 2, job.(counter).Processed())
}

func TestOutboxRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeBatch{n: 7}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		Repository: repo,
		Retention:  48 * time.Hour,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), repo.cutoffs[0])
	assert.Equal(t, 7, job.(counter).Processed())
}

func TestHousekeepingJobsRunOnTheirOwnCadence(t *testing.T) {
	cleanup, err := NewStaleOrderCleanupJob(StaleOrderCleanupJobParams{Purger: &fakeBatch{}})
	require.NoError(t, err)
	assert.Equal(t, defaultCleanupEvery, cleanup.(scheduled).Every())

	retention, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: &fakeBatch{}, Every: 6 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, retention.(scheduled).Every())

	refunds, err := NewRefundRetryJob(RefundRetryJobParams{Refunds: &fakeBatch{}})
	require.NoError(t, err)
	assert.Zero(t, refunds.(scheduled).Every())
}
