package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(42), seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Zero(t, seen)
}

func TestAuditLoggerRequiresPool(t *testing.T) {
	var l *AuditLogger
	require.Error(t, l.Record(t.Context(), AuditLog{Action: "ledger.post", Entity: "posting", EntityID: "1"}))
	require.Error(t, NewAuditLogger(nil).Record(t.Context(), AuditLog{}))
}

func TestAuditLogValidate(t *testing.T) {
	require.Error(t, AuditLog{Action: "ledger.post", Entity: "posting"}.Validate())
	require.NoError(t, AuditLog{Action: "ledger.post", Entity: "posting", EntityID: "sales_invoice#1"}.Validate())

	l := NewAuditLogger(nil)
	require.EqualError(t, l.Record(t.Context(), AuditLog{Action: "ledger.post"}), "audit log requires action/entity/entity_id")
}
