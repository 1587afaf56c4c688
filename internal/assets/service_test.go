package assets_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgermem "github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/assets"
	"github.com/odyssey-erp/odyssey-ledger/internal/assets/memory"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type harness struct {
	ledgerStore *ledgermem.Store
	ledger      *accounting.Service
	svc         *assets.Service
	expense     int64
	accumulated int64
}

func newHarness(t *testing.T, mapped bool) *harness {
	t.Helper()
	ls := ledgermem.NewStore()
	h := &harness{ledgerStore: ls}
	h.expense = ls.AddAccount(accounting.Account{Code: "5300", Name: "Depreciation Expense", Type: accounting.AccountTypeExpense, IsActive: true})
	h.accumulated = ls.AddAccount(accounting.Account{Code: "1590", Name: "Accumulated Depreciation", Type: accounting.AccountTypeAsset, IsActive: true})
	if mapped {
		ls.AddMapping(accounting.RoleDepreciationExpense, accounting.MappingScope{}, h.expense)
		ls.AddMapping(accounting.RoleAccumulatedDepreciation, accounting.MappingScope{}, h.accumulated)
	}
	h.ledger = accounting.NewService(ls, nil, nil)
	h.svc = assets.NewService(memory.NewStore(ls), h.ledger, nil)
	return h
}

func (h *harness) register(t *testing.T, cost, salvage string, months int) assets.Asset {
	t.Helper()
	a, err := h.svc.Register(context.Background(), assets.Asset{
		Code:             "FA-001",
		Name:             "Forklift",
		AcquisitionDate:  time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Cost:             decimal.RequireFromString(cost),
		SalvageValue:     decimal.RequireFromString(salvage),
		UsefulLifeMonths: months,
	})
	require.NoError(t, err)
	return a
}

func (h *harness) balance(t *testing.T, account int64) decimal.Decimal {
	t.Helper()
	b, err := h.ledger.AccountBalance(context.Background(), account, accounting.BalanceQuery{AsOf: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return b
}

func TestRunDepreciationPostsStraightLine(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	res, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-01"})
	require.NoError(t, err)
	require.Equal(t, 2, res.EntryCount)
	require.True(t, res.Run.Amount.Equal(decimal.NewFromInt(250000)))
	require.True(t, res.Asset.AccumulatedDepr.Equal(decimal.NewFromInt(250000)))
	require.True(t, res.Asset.BookValue.Equal(decimal.NewFromInt(11750000)))
	require.NotZero(t, res.Run.PostingID)

	entries := h.ledgerStore.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), entries[0].Date)
	require.True(t, h.balance(t, h.expense).Equal(decimal.NewFromInt(250000)))
}

func TestDuplicatePeriodWritesNothing(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-03"})
	require.NoError(t, err)
	_, err = h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-03"})
	require.ErrorIs(t, err, assets.ErrDuplicatePeriod)

	require.Len(t, h.ledgerStore.Entries(), 2)
	got, err := h.svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, got.AccumulatedDepr.Equal(decimal.NewFromInt(250000)))
}

func TestReverseDepreciationRecomputesFromLedger(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	for _, period := range []string{"2025-01", "2025-02"} {
		_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: period})
		require.NoError(t, err)
	}
	got, err := h.svc.ReverseDepreciation(ctx, asset.ID, "2025-01", 1)
	require.NoError(t, err)
	require.True(t, got.AccumulatedDepr.Equal(decimal.NewFromInt(250000)))
	require.True(t, got.BookValue.Equal(decimal.NewFromInt(11750000)))
	require.Len(t, h.ledgerStore.Entries(), 2)
	require.True(t, h.balance(t, h.expense).Equal(decimal.NewFromInt(250000)))

	runs, err := h.svc.Runs(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "2025-02", runs[0].Period)

	_, err = h.svc.ReverseDepreciation(ctx, asset.ID, "2025-01", 1)
	require.ErrorIs(t, err, assets.ErrRunNotFound)

	_, err = h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-01"})
	require.NoError(t, err)
}

func TestDepreciationClampsToBase(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "1000", "100", 3)

	for _, period := range []string{"2025-01", "2025-02", "2025-03"} {
		_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: period})
		require.NoError(t, err)
	}
	got, err := h.svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, assets.StatusFullyDepreciated, got.Status)
	require.True(t, got.BookValue.Equal(decimal.NewFromInt(100)))

	_, err = h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-04"})
	require.ErrorIs(t, err, assets.ErrNothingToDepreciate)
}

func TestRunDepreciationRejectsBadPeriods(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2024-12"})
	require.ErrorIs(t, err, assets.ErrInvalidPeriod)
	_, err = h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "Jan 2025"})
	require.ErrorIs(t, err, assets.ErrInvalidPeriod)
	_, err = h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: 999, Period: "2025-01"})
	require.ErrorIs(t, err, assets.ErrAssetNotFound)
}

func TestMissingMappingRollsBackRun(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-01"})
	require.ErrorIs(t, err, accounting.ErrConfiguration)

	runs, err := h.svc.Runs(ctx, asset.ID)
	require.NoError(t, err)
	require.Empty(t, runs)
	require.Empty(t, h.ledgerStore.Entries())
}

func TestCatchupFillsMissingPeriods(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	asset := h.register(t, "12000000", "0", 48)

	_, err := h.svc.RunDepreciation(ctx, assets.RunInput{AssetID: asset.ID, Period: "2025-02"})
	require.NoError(t, err)
	results, err := h.svc.Catchup(ctx, asset.ID, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), 1)
	require.NoError(t, err)
	require.Len(t, results, 3)

	got, err := h.svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, got.AccumulatedDepr.Equal(decimal.NewFromInt(1000000)))
}
