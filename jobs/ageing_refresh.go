package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// AgeingLedger rewrites cached ageing buckets.
type AgeingLedger interface {
	RefreshAgeing(ctx context.Context, asOf time.Time) (int, error)
}

// CacheBumper invalidates cached ledger reports.
type CacheBumper interface {
	Bump(ctx context.Context, scope string) error
}

// AgeingRefreshJob moves open records into the bucket matching the as-of date.
type AgeingRefreshJob struct {
	Ledger  AgeingLedger
	Cache   CacheBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAgeingRefreshJob constructs the job handler. cache may be nil.
func NewAgeingRefreshJob(ledger AgeingLedger, cache CacheBumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *AgeingRefreshJob {
	return &AgeingRefreshJob{
		Ledger:  ledger,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the refresh.
func (j *AgeingRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ageing refresh: dependencies not configured")
	}
	asOf, err := j.resolveAsOf(task)
	if err != nil {
		return fmt.Errorf("ageing refresh: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAgeingRefresh)
	changed, err := j.Ledger.RefreshAgeing(ctx, asOf)
	if err != nil {
		j.log().Error("ageing refresh", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddRefreshedRecords(changed)
	if changed > 0 && j.Cache != nil {
		if err := j.Cache.Bump(ctx, accounting.LedgerCacheScope); err != nil {
			j.log().Warn("ageing refresh cache bump", slog.Any("error", err))
		}
	}
	j.log().Info("ageing refresh executed",
		slog.String("job", TaskAgeingRefresh),
		slog.String("as_of", asOf.Format(payloadDateLayout)),
		slog.Int("changed", changed))
	return tracker.End(nil)
}

func (j *AgeingRefreshJob) resolveAsOf(task *asynq.Task) (time.Time, error) {
	var payload AgeingRefreshPayload
	if task != nil && len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return time.Time{}, err
		}
	}
	if payload.AsOf == "" {
		return j.clock(), nil
	}
	return time.Parse(payloadDateLayout, payload.AsOf)
}

func (j *AgeingRefreshJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
