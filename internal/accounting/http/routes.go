package ledgerhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// MountRoutes registers ledger endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.postLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "posting rate exceeded")
		}),
	)

	r.Route("/ledger", func(r chi.Router) {
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/postings", h.handlePost)
			gr.Post("/reversals", h.handleReverse)
		})
		r.Get("/accounts", h.handleListAccounts)
		r.Get("/accounts/{id}/balance", h.handleBalance)
		r.Get("/entries", h.handleEntries)
		r.Get("/subledger/{kind}/{invoiceID}", h.handleSubledger)
		r.Get("/ageing", h.handleAgeing)
		r.Get("/ageing.csv", h.handleAgeingCSV)
		r.Get("/trial-balance", h.handleTrialBalance)
		r.Get("/reports/pl", h.handleProfitAndLoss)
		r.Get("/reports/bs", h.handleBalanceSheet)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor > 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func pathInt(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(urlParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, httpx.ErrValidation
	}
	return v, nil
}
