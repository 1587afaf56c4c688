package ledgerhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/analytics"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

var clock = time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router   http.Handler
	store    *memory.Store
	accounts map[string]int64
}

func newFixture(t *testing.T, postLimit int) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{store: store, accounts: map[string]int64{}}
	add := func(code string, typ accounting.AccountType, role accounting.AccountRole) {
		id := store.AddAccount(accounting.Account{Code: code, Name: code, Type: typ, IsActive: true, OpeningBalance: decimal.Zero})
		f.accounts[code] = id
		if role != "" {
			store.AddMapping(role, accounting.MappingScope{}, id)
		}
	}
	add("1100", accounting.AccountTypeAsset, accounting.RoleCash)
	add("1200", accounting.AccountTypeAsset, accounting.RoleReceivable)
	add("2200", accounting.AccountTypeLiability, accounting.RoleOutputTax)
	add("4100", accounting.AccountTypeRevenue, accounting.RoleRevenue)

	svc := accounting.NewService(store, nil, nil)
	svc.WithNow(func() time.Time { return clock })
	reports := analytics.NewService(svc, nil, nil)
	reports.WithNow(func() time.Time { return clock })

	h := NewHandler(nil, svc, reports, postLimit)
	h.WithNow(func() time.Time { return clock })
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	h.MountRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(shared.ActorHeader, "9")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

const invoiceBody = `{
	"event_type": "sales_invoice_issued",
	"source_kind": "sales_invoice",
	"source_id": 42,
	"date": "2025-11-01",
	"due_date": "2025-12-01",
	"counterparty_id": 7,
	"actor_id": 9,
	"lines": [
		{"role": "revenue", "amount": "1000"},
		{"role": "output_tax", "amount": "110"}
	]
}`

func TestPostThenRepeatReturnsSkipped(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/ledger/postings", invoiceBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first postingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, "posted", first.Status)
	require.Len(t, first.Entries, 3)
	require.Equal(t, "sales_invoice#42:sales_invoice_issued", first.Key)

	rec = f.do(t, http.MethodPost, "/ledger/postings", invoiceBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var second postingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, "skipped", second.Status)
	require.Equal(t, first.PostingID, second.PostingID)
	require.Len(t, f.store.Entries(), 3)
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/ledger/postings", `{"event_type":"sales_invoice_issued"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/ledger/postings", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	bad := strings.Replace(invoiceBody, "2025-11-01", "01/11/2025", 1)
	rec = f.do(t, http.MethodPost, "/ledger/postings", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostConfigurationErrorIsUnprocessable(t *testing.T) {
	f := newFixture(t, 0)
	body := strings.Replace(invoiceBody, `"role": "output_tax"`, `"role": "import_tax"`, 1)

	rec := f.do(t, http.MethodPost, "/ledger/postings", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Detail, "import_tax")
	require.Empty(t, f.store.Entries())
}

func TestReverseAndBalance(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/ledger/postings", invoiceBody).Code)

	target := "/ledger/accounts/" + itoa(f.accounts["1200"]) + "/balance?as_of=2025-11-30"
	rec := f.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.True(t, bal.Balance.Equal(decimal.NewFromInt(1110)))

	rec = f.do(t, http.MethodGet, "/ledger/subledger/ar/42", "")
	require.Equal(t, http.StatusOK, rec.Code)

	reversal := `{"event_type":"sales_invoice_issued","source_kind":"sales_invoice","source_id":42,"reason":"cancelled"}`
	rec = f.do(t, http.MethodPost, "/ledger/reversals", reversal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, target, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.True(t, bal.Balance.IsZero())

	rec = f.do(t, http.MethodPost, "/ledger/reversals", reversal)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntriesAndReports(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/ledger/postings", invoiceBody).Code)

	rec := f.do(t, http.MethodGet, "/ledger/entries?source_kind=sales_invoice&source_id=42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []entryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)

	rec = f.do(t, http.MethodGet, "/ledger/entries?source_kind=bogus&source_id=42", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/ledger/trial-balance?as_of=2025-11-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "1200")

	rec = f.do(t, http.MethodGet, "/ledger/ageing?kind=ar&as_of=2025-12-20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/ledger/ageing.csv?kind=ar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodGet, "/ledger/reports/pl?from=2025-11-01&as_of=2025-11-30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/ledger/reports/bs?as_of=2025-11-30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/ledger/reports/pl?from=2025-12-01&as_of=2025-11-30", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubledgerUnknownInvoice(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/ledger/subledger/ap/99", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/ledger/subledger/xx/99", "").Code)
}

func TestPostingRateLimit(t *testing.T) {
	f := newFixture(t, 1)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/ledger/postings", invoiceBody).Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/ledger/postings", invoiceBody).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ledger/accounts", "").Code)
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(t, http.MethodGet, "/ledger/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 4)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
