package analytics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

// LedgerReader is the slice of the ledger service the report cache reads through.
type LedgerReader interface {
	AgeingReport(ctx context.Context, filter accounting.AgeingFilter) (subledger.AgeingReport, error)
	TrialBalance(ctx context.Context, q accounting.BalanceQuery) (reports.TrialBalance, error)
}

// Service serves ledger-derived reports from Redis, rebuilding each key once.
type Service struct {
	ledger LedgerReader
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires a ledger reader with a Cache helper.
func NewService(ledger LedgerReader, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Bump invalidates cached reports; the ledger service calls it after each commit.
func (s *Service) Bump(ctx context.Context, scope string) error {
	return s.cache.Bump(ctx, scope)
}

// AgeingReport returns the cached ageing schedule for the filter.
func (s *Service) AgeingReport(ctx context.Context, filter accounting.AgeingFilter) (subledger.AgeingReport, error) {
	if filter.AsOf.IsZero() {
		filter.AsOf = s.now()
	}
	key, err := s.cache.BuildKey(ctx, accounting.LedgerCacheScope, "ageing", string(filter.Kind),
		formatInt(filter.CounterpartyID), branchToken(filter.BranchID), filter.AsOf.UTC().Format("2006-01-02"))
	if err != nil {
		return s.ledger.AgeingReport(ctx, filter)
	}
	var report subledger.AgeingReport
	err = s.fetch(ctx, key, &report, func(ctx context.Context) (any, error) {
		return s.ledger.AgeingReport(ctx, filter)
	})
	return report, err
}

// TrialBalance returns the cached trial balance for the window.
func (s *Service) TrialBalance(ctx context.Context, q accounting.BalanceQuery) (reports.TrialBalance, error) {
	if q.AsOf.IsZero() {
		q.AsOf = s.now()
	}
	from := "-"
	if q.From != nil {
		from = q.From.UTC().Format("2006-01-02")
	}
	key, err := s.cache.BuildKey(ctx, accounting.LedgerCacheScope, "tb", from, q.AsOf.UTC().Format("2006-01-02"), branchToken(q.BranchID))
	if err != nil {
		return s.ledger.TrialBalance(ctx, q)
	}
	var tb reports.TrialBalance
	err = s.fetch(ctx, key, &tb, func(ctx context.Context) (any, error) {
		return s.ledger.TrialBalance(ctx, q)
	})
	return tb, err
}

// fetch collapses concurrent misses on the same key into one ledger read.
func (s *Service) fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	ch := s.group.DoChan(key, func() (any, error) {
		var raw jsonValue
		err := s.cache.FetchJSON(ctx, key, &raw, loader)
		return raw, err
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("report cache fetch failed", slog.String("key", key), slog.Any("error", res.Err))
			return res.Err
		}
		return res.Val.(jsonValue).decode(dest)
	}
}

func branchToken(branchID *int64) string {
	if branchID == nil {
		return "-"
	}
	return formatInt(*branchID)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
