package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/analytics"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_OVERPAYMENT_POLICY", "")
	t.Setenv("LEDGER_REVERSAL_MODE", "offset")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://erp.example.com,https://ops.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, accounting.ReverseOffset, cfg.Reversal())
	policy, err := cfg.Overpayment()
	require.NoError(t, err)
	require.Equal(t, subledger.OverpaymentAllow, policy)
	require.Equal(t, []string{"https://erp.example.com", "https://ops.example.com"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 120, cfg.PostRateLimit)
}

func TestConfigValidateRejectsUnknownPolicies(t *testing.T) {
	cfg := &Config{PGDSN: "postgres://x", OverpaymentPolicy: "refund", ReversalMode: "delete"}
	require.Error(t, cfg.Validate())

	cfg.OverpaymentPolicy = "reject"
	cfg.ReversalMode = "undo"
	require.Error(t, cfg.Validate())

	cfg.ReversalMode = "delete"
	require.NoError(t, cfg.Validate())
	cfg.PGDSN = ""
	require.Error(t, cfg.Validate())
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func newTestRouter(t *testing.T, origins []string) http.Handler {
	t.Helper()
	ledger := accounting.NewService(memory.NewStore(), nil, nil)
	cfg := &Config{AppEnv: "production", CORSAllowedOrigins: origins}
	return NewRouter(RouterParams{
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(nil, ledger, analytics.NewService(ledger, nil, nil), 10),
		JobHandler:    jobs.NewHandler(nil, nil),
		Metrics:       observability.NewMetrics(),
	})
}

func TestRouterServesHealthAndLedger(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://ledger.local/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://ledger.local/ledger/accounts", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://ledger.local/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://ledger.local/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, []string{"https://erp.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "https://ledger.local/ledger/postings", nil)
	req.Header.Set("Origin", "https://erp.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, "https://erp.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "https://ledger.local/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
