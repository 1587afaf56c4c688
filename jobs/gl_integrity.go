package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// ErrIntegrityBroken is returned when a check finds inconsistent ledger data.
var ErrIntegrityBroken = errors.New("gl integrity: ledger inconsistent")

// IntegrityLedger is the ledger surface the integrity job inspects.
type IntegrityLedger interface {
	CheckIntegrity(ctx context.Context) (accounting.IntegrityReport, error)
	AgeingReport(ctx context.Context, filter accounting.AgeingFilter) (subledger.AgeingReport, error)
}

// GLIntegrityJob verifies postings balance, subsidiary records agree with their allocations
// and each subsidiary ledger reconciles to its control accounts.
type GLIntegrityJob struct {
	Ledger  IntegrityLedger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(ledger IntegrityLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Ledger:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity check. A broken ledger is not retried.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)

	var (
		report     accounting.IntegrityReport
		receivable subledger.AgeingReport
		payable    subledger.AgeingReport
	)
	asOf := j.clock()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report, err = j.Ledger.CheckIntegrity(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		receivable, err = j.Ledger.AgeingReport(gctx, accounting.AgeingFilter{AsOf: asOf, Kind: subledger.KindReceivable})
		return err
	})
	g.Go(func() error {
		var err error
		payable, err = j.Ledger.AgeingReport(gctx, accounting.AgeingFilter{AsOf: asOf, Kind: subledger.KindPayable})
		return err
	})
	if err := g.Wait(); err != nil {
		j.log().Error("gl integrity check", slog.Any("error", err))
		return tracker.End(err)
	}

	j.Metrics.SetIntegrityIssues("unbalanced_postings", len(report.UnbalancedPostings))
	j.Metrics.SetIntegrityIssues("drifted_records", len(report.DriftedRecords))
	j.Metrics.SetIntegrityIssues("control_drift", len(report.ControlDrift))
	for _, drift := range report.ControlDrift {
		j.log().Error("subsidiary ledger does not reconcile to control",
			slog.String("kind", string(drift.Kind)),
			slog.String("subledger", drift.Subledger.StringFixed(2)),
			slog.String("control", drift.Control.StringFixed(2)))
	}
	tbIssues := 0
	if !report.TrialBalanceDebit.Equal(report.TrialBalanceCredit) {
		tbIssues = 1
	}
	j.Metrics.SetIntegrityIssues("trial_balance", tbIssues)

	j.log().Info("gl integrity check executed",
		slog.String("job", TaskGLIntegrity),
		slog.Bool("healthy", report.Healthy()),
		slog.String("receivable_outstanding", receivable.Total.StringFixed(2)),
		slog.String("payable_outstanding", payable.Total.StringFixed(2)))

	if !report.Healthy() {
		return errors.Join(tracker.End(ErrIntegrityBroken), asynq.SkipRetry)
	}
	return tracker.End(nil)
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
