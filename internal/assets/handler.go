package assets

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes depreciation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the asset handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers asset routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/assets", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/depreciation", h.handleRuns)
		r.Post("/{id}/depreciation", h.handleRun)
		r.Delete("/{id}/depreciation/{period}", h.handleReverse)
	})
}

type registerRequest struct {
	Code             string          `json:"code" validate:"required,max=32"`
	Name             string          `json:"name" validate:"required,max=128"`
	BranchID         *int64          `json:"branch_id" validate:"omitempty,gt=0"`
	AcquisitionDate  string          `json:"acquisition_date" validate:"required"`
	Cost             decimal.Decimal `json:"cost"`
	SalvageValue     decimal.Decimal `json:"salvage_value"`
	UsefulLifeMonths int             `json:"useful_life_months" validate:"required,gt=0"`
}

type runRequest struct {
	Period  string `json:"period" validate:"required,len=7"`
	ActorID int64  `json:"actor_id" validate:"gte=0"`
}

type assetResponse struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	AcquisitionDate  string          `json:"acquisition_date"`
	Cost             decimal.Decimal `json:"cost"`
	SalvageValue     decimal.Decimal `json:"salvage_value"`
	UsefulLifeMonths int             `json:"useful_life_months"`
	Accumulated      decimal.Decimal `json:"accumulated_depreciation"`
	BookValue        decimal.Decimal `json:"book_value"`
	Status           string          `json:"status"`
}

type runResponse struct {
	ID        int64           `json:"id"`
	Period    string          `json:"period"`
	Amount    decimal.Decimal `json:"amount"`
	PostingID int64           `json:"posting_id"`
}

type runResultResponse struct {
	Asset   assetResponse `json:"asset"`
	Run     runResponse   `json:"run"`
	Entries int           `json:"entries"`
}

func toAssetResponse(a Asset) assetResponse {
	return assetResponse{
		ID:               a.ID,
		Code:             a.Code,
		Name:             a.Name,
		AcquisitionDate:  a.AcquisitionDate.Format("2006-01-02"),
		Cost:             a.Cost,
		SalvageValue:     a.SalvageValue,
		UsefulLifeMonths: a.UsefulLifeMonths,
		Accumulated:      a.AccumulatedDepr,
		BookValue:        a.BookValue,
		Status:           string(a.Status),
	}
}

func toRunResponse(r DepreciationRun) runResponse {
	return runResponse{ID: r.ID, Period: r.Period, Amount: r.Amount, PostingID: r.PostingID}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	acquired, err := time.Parse("2006-01-02", req.AcquisitionDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: acquisition_date must be YYYY-MM-DD", httpx.ErrValidation))
		return
	}
	asset, err := h.service.Register(r.Context(), Asset{
		Code:             req.Code,
		Name:             req.Name,
		BranchID:         req.BranchID,
		AcquisitionDate:  acquired,
		Cost:             req.Cost,
		SalvageValue:     req.SalvageValue,
		UsefulLifeMonths: req.UsefulLifeMonths,
	})
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssetResponse(asset))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	asset, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetResponse(asset))
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	runs, err := h.service.Runs(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	res, err := h.service.RunDepreciation(r.Context(), RunInput{AssetID: id, Period: req.Period, ActorID: req.ActorID})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, runResultResponse{
		Asset:   toAssetResponse(res.Asset),
		Run:     toRunResponse(res.Run),
		Entries: res.EntryCount,
	})
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, ok := assetID(w, r)
	if !ok {
		return
	}
	actor, _ := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	asset, err := h.service.ReverseDepreciation(r.Context(), id, chi.URLParam(r, "period"), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssetResponse(asset))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDuplicatePeriod):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrDuplicate, err))
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrRunNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidPeriod):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ErrNothingToDepreciate),
		errors.Is(err, accounting.ErrConfiguration),
		errors.Is(err, accounting.ErrInvariant):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err))
	default:
		h.logger.Error("asset request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func assetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid asset id", httpx.ErrValidation))
		return 0, false
	}
	return id, true
}
