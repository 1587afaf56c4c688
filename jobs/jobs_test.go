package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

type stubLedger struct {
	report    accounting.IntegrityReport
	err       error
	changed   int
	refreshed time.Time
}

func (s *stubLedger) CheckIntegrity(context.Context) (accounting.IntegrityReport, error) {
	return s.report, s.err
}

func (s *stubLedger) AgeingReport(_ context.Context, f accounting.AgeingFilter) (subledger.AgeingReport, error) {
	return subledger.AgeingReport{AsOf: f.AsOf, Total: decimal.NewFromInt(100)}, nil
}

func (s *stubLedger) RefreshAgeing(_ context.Context, asOf time.Time) (int, error) {
	s.refreshed = asOf
	return s.changed, s.err
}

type stubBumper struct{ scopes []string }

func (b *stubBumper) Bump(_ context.Context, scope string) error {
	b.scopes = append(b.scopes, scope)
	return nil
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					if g := m.GetGauge(); g != nil {
						return g.GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestGLIntegrityJobHealthy(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := &stubLedger{report: accounting.IntegrityReport{
		TrialBalanceDebit:  decimal.NewFromInt(500),
		TrialBalanceCredit: decimal.NewFromInt(500),
	}}
	job := NewGLIntegrityJob(ledger, nil, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), NewGLIntegrityTask()))
	require.Zero(t, gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "unbalanced_postings"))
	require.Equal(t, float64(1), gaugeValue(t, reg, "odyssey_jobs_total", TaskGLIntegrity))
}

func TestGLIntegrityJobBrokenSkipsRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := &stubLedger{report: accounting.IntegrityReport{
		UnbalancedPostings: []accounting.PostingImbalance{{PostingID: 9}},
		TrialBalanceDebit:  decimal.NewFromInt(500),
		TrialBalanceCredit: decimal.NewFromInt(400),
	}}
	job := NewGLIntegrityJob(ledger, nil, jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), NewGLIntegrityTask())
	require.ErrorIs(t, err, ErrIntegrityBroken)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, float64(1), gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "unbalanced_postings"))
	require.Equal(t, float64(1), gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "trial_balance"))

	require.Zero(t, gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "control_drift"))
	require.Equal(t, float64(1), gaugeValue(t, reg, "odyssey_jobs_failures_total", TaskGLIntegrity))

	failing := NewGLIntegrityJob(&stubLedger{err: errors.New("db down")}, nil, nil)
	err = failing.Handle(context.Background(), NewGLIntegrityTask())
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestGLIntegrityJobReportsControlDrift(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := &stubLedger{report: accounting.IntegrityReport{
		ControlDrift: []accounting.ControlDrift{{
			Kind:      subledger.KindReceivable,
			Role:      accounting.RoleReceivable,
			Subledger: decimal.Zero,
			Control:   decimal.NewFromInt(-400),
		}},
		TrialBalanceDebit:  decimal.NewFromInt(1000),
		TrialBalanceCredit: decimal.NewFromInt(1000),
	}}
	job := NewGLIntegrityJob(ledger, nil, jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), NewGLIntegrityTask())
	require.ErrorIs(t, err, ErrIntegrityBroken)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, float64(1), gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "control_drift"))
	require.Zero(t, gaugeValue(t, reg, "odyssey_ledger_integrity_issues", "trial_balance"))
}

func TestAgeingRefreshJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := &stubLedger{changed: 3}
	bumper := &stubBumper{}
	job := NewAgeingRefreshJob(ledger, bumper, nil, jobmetrics.NewMetrics(reg))

	task, err := NewAgeingRefreshTask(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "2025-12-31", ledger.refreshed.Format("2006-01-02"))
	require.Equal(t, []string{accounting.LedgerCacheScope}, bumper.scopes)

	var payload AgeingRefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "2025-12-31", payload.AsOf)

	fixed := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }
	ledger.changed = 0
	empty, err := NewAgeingRefreshTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), empty))
	require.True(t, ledger.refreshed.Equal(fixed))
	require.Len(t, bumper.scopes, 1)

	bad := asynq.NewTask(TaskAgeingRefresh, []byte(`{"as_of":"31/12/2025"}`))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":4,"retry":1}`, rr.Body.String())

	rr = serve(NewHandler(stubInspector{err: errors.New("redis gone")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestNewWorkerRejectsInvalidCron(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}

	_, err := NewWorker(WorkerConfig{
		RedisOpts: opts,
		Cron:      []CronRegistration{{Spec: "not a cron", Task: NewGLIntegrityTask()}},
	})
	require.Error(t, err)

	worker, err := NewWorker(WorkerConfig{
		RedisOpts:   opts,
		Concurrency: 2,
		Handlers:    []TaskHandler{{Type: TaskGLIntegrity, Handler: NewGLIntegrityJob(&stubLedger{}, nil, nil).Handle}},
		Cron:        []CronRegistration{{Spec: "0 2 * * *", Task: NewGLIntegrityTask()}},
	})
	require.NoError(t, err)
	require.NotNil(t, worker)
}
