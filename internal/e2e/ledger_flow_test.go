package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/accounting/http"
	ledgermem "github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/analytics"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/assets"
	assetsmem "github.com/odyssey-erp/odyssey-ledger/internal/assets/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type stack struct {
	ledger  *accounting.Service
	hooks   *integration.Hooks
	assets  *assets.Service
	metrics *observability.Metrics
	router  http.Handler
	cash    int64
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := ledgermem.NewStore()
	s := &stack{metrics: observability.NewMetrics()}
	for _, a := range []struct {
		code string
		typ  accounting.AccountType
		role accounting.AccountRole
	}{
		{"1110", accounting.AccountTypeAsset, accounting.RoleCash},
		{"1120", accounting.AccountTypeAsset, accounting.RoleBank},
		{"1200", accounting.AccountTypeAsset, accounting.RoleReceivable},
		{"1690", accounting.AccountTypeAsset, accounting.RoleAccumulatedDepreciation},
		{"2120", accounting.AccountTypeLiability, accounting.RoleOutputTax},
		{"2130", accounting.AccountTypeLiability, accounting.RoleCustomerDeposit},
		{"4100", accounting.AccountTypeRevenue, accounting.RoleRevenue},
		{"5300", accounting.AccountTypeExpense, accounting.RoleDepreciationExpense},
	} {
		id := store.AddAccount(accounting.Account{Code: a.code, Name: a.code, Type: a.typ, IsActive: true})
		store.AddMapping(a.role, accounting.MappingScope{}, id)
		if a.role == accounting.RoleCash {
			s.cash = id
		}
	}
	s.ledger = accounting.NewService(store, nil, nil)
	s.ledger.SetMetrics(s.metrics)
	reportsSvc := analytics.NewService(s.ledger, nil, nil)
	s.ledger.SetCacheInvalidator(reportsSvc)
	s.hooks = integration.NewHooks(s.ledger, nil)
	s.assets = assets.NewService(assetsmem.NewStore(store), s.ledger, nil)
	s.router = app.NewRouter(app.RouterParams{
		Config:        &app.Config{AppEnv: "production"},
		LedgerHandler: ledgerhttp.NewHandler(nil, s.ledger, reportsSvc, 0),
		AssetsHandler: assets.NewHandler(nil, s.assets),
		JobHandler:    jobs.NewHandler(nil, nil),
		Metrics:       s.metrics,
	})
	return s
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://ledger.local"+path, nil))
	return rr
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestInvoiceToCashFlowStaysBalanced(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	issued := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.hooks.HandleSalesInvoiceFinalized(ctx, integration.SalesInvoiceFinalized{
		ID: 501, Number: "SI-501", CustomerID: 9, IssuedAt: issued, DueAt: issued.AddDate(0, 0, 30),
		Subtotal: amount("1245045"), Tax: amount("136955"),
	}))
	require.NoError(t, s.hooks.HandleCustomerReceiptPosted(ctx, integration.CustomerReceiptPosted{
		ID: 77, Number: "RC-77", CustomerID: 9, ReceivedAt: issued.AddDate(0, 0, 10), Method: integration.MethodCash,
		Paid:        amount("1382000"),
		Allocations: []integration.Allocation{{InvoiceID: 501, Amount: amount("1382000")}},
	}))

	cash, err := s.ledger.AccountBalance(ctx, s.cash, accounting.BalanceQuery{AsOf: issued.AddDate(0, 1, 0)})
	require.NoError(t, err)
	require.True(t, cash.Equal(amount("1382000")), "cash balance %s", cash)

	rec, err := s.ledger.SubsidiaryLedgerFor(ctx, subledger.KindReceivable, 501)
	require.NoError(t, err)
	require.Equal(t, subledger.StatusPaid, rec.Status)

	rr := s.get(t, "/ledger/trial-balance?as_of=2025-12-31")
	require.Equal(t, http.StatusOK, rr.Code)
	var tb struct {
		TotalDebit  decimal.Decimal `json:"total_debit"`
		TotalCredit decimal.Decimal `json:"total_credit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tb))
	require.True(t, tb.TotalDebit.Equal(tb.TotalCredit))
	require.True(t, tb.TotalDebit.GreaterThan(decimal.Zero))

	job := jobs.NewGLIntegrityJob(s.ledger, nil, s.metrics.Jobs())
	require.NoError(t, job.Handle(ctx, jobs.NewGLIntegrityTask()))

	metrics := s.get(t, "/metrics").Body.String()
	require.Contains(t, metrics, `odyssey_ledger_postings_total{event="sales_invoice_issued",status="posted"} 1`)
	require.Contains(t, metrics, `odyssey_ledger_integrity_issues{check="unbalanced_postings"} 0`)
	require.Contains(t, metrics, `odyssey_ledger_integrity_issues{check="control_drift"} 0`)
}

func TestDepreciationThroughHTTPAndReversal(t *testing.T) {
	s := newStack(t)

	body := `{"code":"FA-9","name":"Truck","acquisition_date":"2025-01-10","cost":"12000000","salvage_value":"0","useful_life_months":48}`
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "https://ledger.local/assets/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	run := func(period string) int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "https://ledger.local/assets/"+itoa(created.ID)+"/depreciation",
			strings.NewReader(`{"period":"`+period+`","actor_id":3}`))
		s.router.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusCreated, run("2025-01"))
	require.Equal(t, http.StatusCreated, run("2025-02"))
	require.Equal(t, http.StatusConflict, run("2025-02"))

	asset, err := s.assets.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, asset.AccumulatedDepr.Equal(amount("500000")))

	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "https://ledger.local/assets/"+itoa(created.ID)+"/depreciation/2025-02", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	asset, err = s.assets.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, asset.AccumulatedDepr.Equal(amount("250000")))

	report, err := s.ledger.CheckIntegrity(context.Background())
	require.NoError(t, err)
	require.True(t, report.Healthy())
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
