package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/covercraft/covercraft-backend/pkg/logger"
)

const (
	defaultRefundBatch   = 50
	defaultTrackingBatch = 100
	defaultCleanupBatch  = 100
	defaultClaimBatch    = 100

	defaultTrackingAge  = 2 * time.Hour
	defaultPendingAge   = 72 * time.Hour
	defaultClaimTimeout = 10 * time.Minute
	defaultRetention    = 30 * 24 * time.Hour

	defaultCleanupEvery   = time.Hour
	defaultRetentionEvery = 24 * time.Hour
)

type refundProcessor interface {
	ProcessDueRefunds(ctx context.Context, limit int) (int, error)
}

type stalePurger interface {
	PurgeStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type trackingSyncer interface {
	SyncStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type claimReleaser interface {
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// batchJob runs one bounded batch when due and remembers its size. every of
// zero means each cycle.
type batchJob struct {
	name      string
	every     time.Duration
	run       func(ctx context.Context) (int, error)
	processed int
}

func (j *batchJob) Name() string { return j.name }

func (j *batchJob) Every() time.Duration { return j.every }

func (j *batchJob) Processed() int { return j.processed }

func (j *batchJob) Run(ctx context.Context) error {
	n, err := j.run(ctx)
	j.processed = n
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}

// RefundRetryJobParams configure the refund retry job.
type RefundRetryJobParams struct {
	Refunds   refundProcessor
	BatchSize int
}

// NewRefundRetryJob re-issues refunds left requested or failed below the attempt cap.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund processor required")
	}
	batch := orDefault(params.BatchSize, defaultRefundBatch)
	return &batchJob{
		name: "refund-retry",
		run: func(ctx context.Context) (int, error) {
			return params.Refunds.ProcessDueRefunds(ctx, batch)
		},
	}, nil
}

type TrackingSyncJobParams struct {
	Syncer    trackingSyncer
	MinAge    time.Duration
	BatchSize int
}

// NewTrackingSyncJob polls carrier tracking for shipments whose webhooks went quiet.
func NewTrackingSyncJob(params TrackingSyncJobParams) (Job, error) {
	if params.Syncer == nil {
		return nil, fmt.Errorf("tracking syncer required")
	}
	age := orDefaultDuration(params.MinAge, defaultTrackingAge)
	batch := orDefault(params.BatchSize, defaultTrackingBatch)
	return &batchJob{
		name: "tracking-sync",
		run: func(ctx context.Context) (int, error) {
			return params.Syncer.SyncStale(ctx, age, batch)
		},
	}, nil
}

type StaleOrderCleanupJobParams struct {
	Purger    stalePurger
	MinAge    time.Duration
	BatchSize int
	Every     time.Duration
}

// NewStaleOrderCleanupJob deletes abandoned unpaid orders.
func NewStaleOrderCleanupJob(params StaleOrderCleanupJobParams) (Job, error) {
	if params.Purger == nil {
		return nil, fmt.Errorf("order purger required")
	}
	age := orDefaultDuration(params.MinAge, defaultPendingAge)
	batch := orDefault(params.BatchSize, defaultCleanupBatch)
	return &batchJob{
		name:  "stale-order-cleanup",
		every: orDefaultDuration(params.Every, defaultCleanupEvery),
		run: func(ctx context.Context) (int, error) {
			return params.Purger.PurgeStale(ctx, age, batch)
		},
	}, nil
}

type ShipmentClaimReleaseJobParams struct {
	Releaser  claimReleaser
	Timeout   time.Duration
	BatchSize int
}

// NewShipmentClaimReleaseJob frees shipment claims whose carrier call never finished.
func NewShipmentClaimReleaseJob(params ShipmentClaimReleaseJobParams) (Job, error) {
	if params.Releaser == nil {
		return nil, fmt.Errorf("claim releaser required")
	}
	timeout := orDefaultDuration(params.Timeout, defaultClaimTimeout)
	batch := orDefault(params.BatchSize, defaultClaimBatch)
	return &batchJob{
		name: "shipment-claim-release",
		run: func(ctx context.Context) (int, error) {
			return params.Releaser.ReleaseStaleClaims(ctx, timeout, batch)
		},
	}, nil
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Retention  time.Duration
	Every      time.Duration
	Now        func() time.Time
}

// NewOutboxRetentionJob purges published outbox rows older than the retention.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := orDefaultDuration(params.Retention, defaultRetention)
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	return &batchJob{
		name:  "outbox-retention",
		every: orDefaultDuration(params.Every, defaultRetentionEvery),
		run: func(ctx context.Context) (int, error) {
			cutoff := now().UTC().Add(-retention)
			deleted, err := params.Repository.DeletePublishedBefore(ctx, cutoff)
			if err != nil {
				return 0, err
			}
			logg.Info(logg.WithFields(ctx, map[string]any{
				"cutoff":       cutoff,
				"rows_deleted": deleted,
			}), "outbox retention cleanup complete")
			return int(deleted), nil
		},
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
