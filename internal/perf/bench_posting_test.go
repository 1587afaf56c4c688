package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
)

func newLedger(tb testing.TB) (*accounting.Service, int64) {
	tb.Helper()
	store := memory.NewStore()
	var receivable int64
	for code, spec := range map[string]struct {
		typ  accounting.AccountType
		role accounting.AccountRole
	}{
		"1200": {accounting.AccountTypeAsset, accounting.RoleReceivable},
		"2120": {accounting.AccountTypeLiability, accounting.RoleOutputTax},
		"4100": {accounting.AccountTypeRevenue, accounting.RoleRevenue},
	} {
		id := store.AddAccount(accounting.Account{Code: code, Name: code, Type: spec.typ, IsActive: true})
		store.AddMapping(spec.role, accounting.MappingScope{}, id)
		if spec.role == accounting.RoleReceivable {
			receivable = id
		}
	}
	return accounting.NewService(store, nil, nil), receivable
}

func invoice(id int64) accounting.Event {
	issued := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	return integration.SalesInvoiceEvent(integration.SalesInvoiceFinalized{
		ID: id, CustomerID: id % 50, IssuedAt: issued, DueAt: issued.AddDate(0, 0, 30),
		Subtotal: decimal.NewFromInt(1000000), Tax: decimal.NewFromInt(110000),
	})
}

func BenchmarkPostSalesInvoice(b *testing.B) {
	ledger, _ := newLedger(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ledger.Post(ctx, invoice(int64(i+1))); err != nil {
			b.Fatalf("post: %v", err)
		}
	}
}

func BenchmarkDuplicatePostIsSkipped(b *testing.B) {
	ledger, _ := newLedger(b)
	ctx := context.Background()
	ev := invoice(1)
	if _, err := ledger.Post(ctx, ev); err != nil {
		b.Fatalf("seed post: %v", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := ledger.Post(ctx, ev)
		if err != nil || res.Status != accounting.StatusSkipped {
			b.Fatalf("expected skipped, got %v %v", res.Status, err)
		}
	}
}

func BenchmarkAccountBalance(b *testing.B) {
	ledger, receivable := newLedger(b)
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		if _, err := ledger.Post(ctx, invoice(int64(i+1))); err != nil {
			b.Fatalf("seed post: %v", err)
		}
	}
	q := accounting.BalanceQuery{AsOf: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ledger.AccountBalance(ctx, receivable, q); err != nil {
			b.Fatalf("balance: %v", err)
		}
	}
}

func TestPostingLatencyTarget(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		if _, err := ledger.Post(ctx, invoice(int64(i+1))); err != nil {
			t.Fatalf("post: %v", err)
		}
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > 50*time.Millisecond {
		t.Fatalf("in-memory posting regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
