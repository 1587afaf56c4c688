package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/analytics/export"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/subledger"
)

const requestTimeout = 5 * time.Second

// LedgerService is the posting and query contract the handler needs.
type LedgerService interface {
	Post(ctx context.Context, ev accounting.Event) (accounting.Result, error)
	Reverse(ctx context.Context, in accounting.ReverseInput) (accounting.ReverseResult, error)
	AccountBalance(ctx context.Context, accountID int64, q accounting.BalanceQuery) (decimal.Decimal, error)
	ListAccounts(ctx context.Context) ([]accounting.Account, error)
	EntriesFor(ctx context.Context, source accounting.SourceRef) ([]accounting.JournalEntry, error)
	SubsidiaryLedgerFor(ctx context.Context, kind subledger.Kind, invoiceID int64) (subledger.Record, error)
	ProfitAndLoss(ctx context.Context, q accounting.BalanceQuery) (reports.ProfitAndLoss, error)
	BalanceSheet(ctx context.Context, q accounting.BalanceQuery) (reports.BalanceSheet, error)
}

// ReportService serves cached ledger reports.
type ReportService interface {
	AgeingReport(ctx context.Context, filter accounting.AgeingFilter) (subledger.AgeingReport, error)
	TrialBalance(ctx context.Context, q accounting.BalanceQuery) (reports.TrialBalance, error)
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger    *slog.Logger
	ledger    LedgerService
	reports   ReportService
	validator *validator.Validate
	postLimit int
	now       func() time.Time
}

// NewHandler builds a Handler instance. postLimit caps write requests per client per minute.
func NewHandler(logger *slog.Logger, ledger LedgerService, reports ReportService, postLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if postLimit <= 0 {
		postLimit = 120
	}
	return &Handler{
		logger:    logger,
		ledger:    ledger,
		reports:   reports,
		validator: validator.New(),
		postLimit: postLimit,
		now:       time.Now,
	}
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, describeValidation(err)))
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	ev.ActorID = actorOr(r, ev.ActorID)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := h.ledger.Post(ctx, ev)
	if err != nil {
		h.respondError(w, "post", err)
		return
	}
	status := http.StatusCreated
	if res.Status == accounting.StatusSkipped {
		status = http.StatusOK
	}
	httpx.JSON(w, status, toPostingResponse(string(res.Status), res.Posting, res.Entries))
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req reversalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, describeValidation(err)))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := h.ledger.Reverse(ctx, accounting.ReverseInput{
		Source:  accounting.SourceRef{Kind: accounting.SourceKind(req.SourceKind), ID: req.SourceID},
		Event:   accounting.EventType(req.EventType),
		Mode:    accounting.ReverseMode(req.Mode),
		ActorID: actorOr(r, req.ActorID),
		Reason:  req.Reason,
	})
	if err != nil {
		h.respondError(w, "reverse", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPostingResponse(string(res.Status), res.Posting, res.Entries))
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		h.respondError(w, "list accounts", err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.parseBalanceQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.ledger.AccountBalance(r.Context(), id, q)
	if err != nil {
		h.respondError(w, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		AccountID:       id,
		AsOf:            q.AsOf.Format(dateLayout),
		From:            formatOptionalDate(q.From),
		BranchID:        q.BranchID,
		IncludeChildren: q.IncludeChildren,
		Balance:         balance,
	})
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	kind := accounting.SourceKind(r.URL.Query().Get("source_kind"))
	if !kind.Valid() {
		httpx.RespondError(w, fmt.Errorf("%w: unknown source_kind %q", httpx.ErrValidation, kind))
		return
	}
	id, err := queryInt(r, "source_id")
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: source_id required", httpx.ErrValidation))
		return
	}
	entries, err := h.ledger.EntriesFor(r.Context(), accounting.SourceRef{Kind: kind, ID: id})
	if err != nil {
		h.respondError(w, "entries", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSubledger(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(urlParam(r, "kind"))
	if err != nil || kind == "" {
		httpx.RespondError(w, fmt.Errorf("%w: kind must be ar or ap", httpx.ErrValidation))
		return
	}
	invoiceID, err := pathInt(r, "invoiceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.ledger.SubsidiaryLedgerFor(r.Context(), kind, invoiceID)
	if err != nil {
		h.respondError(w, "subledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) ageingFilter(r *http.Request) (accounting.AgeingFilter, error) {
	asOf, err := queryDate(r, "as_of", h.now())
	if err != nil {
		return accounting.AgeingFilter{}, err
	}
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		return accounting.AgeingFilter{}, fmt.Errorf("%w: kind must be ar or ap", httpx.ErrValidation)
	}
	counterparty, err := queryInt(r, "counterparty_id")
	if err != nil {
		return accounting.AgeingFilter{}, fmt.Errorf("%w: counterparty_id", httpx.ErrValidation)
	}
	branch, err := queryOptionalInt(r, "branch_id")
	if err != nil {
		return accounting.AgeingFilter{}, err
	}
	return accounting.AgeingFilter{AsOf: asOf, Kind: kind, CounterpartyID: counterparty, BranchID: branch}, nil
}

func (h *Handler) handleAgeing(w http.ResponseWriter, r *http.Request) {
	filter, err := h.ageingFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.reports.AgeingReport(r.Context(), filter)
	if err != nil {
		h.respondError(w, "ageing", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleAgeingCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := h.ageingFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.reports.AgeingReport(r.Context(), filter)
	if err != nil {
		h.respondError(w, "ageing csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ageing-%s.csv", filter.AsOf.Format(dateLayout)))
	if err := export.WriteAgeingCSV(w, report); err != nil {
		h.logger.Error("write ageing csv", slog.Any("error", err))
	}
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseBalanceQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tb, err := h.reports.TrialBalance(r.Context(), q)
	if err != nil {
		h.respondError(w, "trial balance", err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		if err := export.WriteTrialBalanceCSV(w, tb); err != nil {
			h.logger.Error("write trial balance csv", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) handleProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseBalanceQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pl, err := h.ledger.ProfitAndLoss(r.Context(), q)
	if err != nil {
		h.respondError(w, "profit and loss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseBalanceQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bs, err := h.ledger.BalanceSheet(r.Context(), q)
	if err != nil {
		h.respondError(w, "balance sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) parseBalanceQuery(r *http.Request) (accounting.BalanceQuery, error) {
	asOf, err := queryDate(r, "as_of", h.now())
	if err != nil {
		return accounting.BalanceQuery{}, err
	}
	q := accounting.BalanceQuery{AsOf: asOf}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			return accounting.BalanceQuery{}, fmt.Errorf("%w: from must be YYYY-MM-DD", httpx.ErrValidation)
		}
		if from.After(asOf) {
			return accounting.BalanceQuery{}, fmt.Errorf("%w: from after as_of", httpx.ErrValidation)
		}
		q.From = &from
	}
	if q.BranchID, err = queryOptionalInt(r, "branch_id"); err != nil {
		return accounting.BalanceQuery{}, err
	}
	q.IncludeChildren = r.URL.Query().Get("include_children") == "true"
	return q, nil
}

// respondError maps ledger errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, accounting.ErrConfiguration), errors.Is(err, accounting.ErrInvariant):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnprocessable, err.Error()))
	case accounting.IsNotFound(err):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusGatewayTimeout, "Timeout", op+" timed out")
	default:
		h.logger.Error("ledger request failed", slog.String("op", op), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actorOr(r *http.Request, actorID int64) int64 {
	if actorID > 0 {
		return actorID
	}
	return shared.ActorFromContext(r.Context())
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func parseKind(raw string) (subledger.Kind, error) {
	switch strings.ToUpper(raw) {
	case "":
		return "", nil
	case "AR":
		return subledger.KindReceivable, nil
	case "AP":
		return subledger.KindPayable, nil
	}
	return "", fmt.Errorf("unknown kind %q", raw)
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func queryOptionalInt(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", httpx.ErrValidation, name)
	}
	return &v, nil
}

func queryDate(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		y, m, d := fallback.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", httpx.ErrValidation, name)
	}
	return t, nil
}
