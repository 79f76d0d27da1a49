package http

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fineledger/internal/domain"
	offensesvc "fineledger/internal/offense/service"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/httputil"
)

type createOffenseRequest struct {
	DriverID   string          `json:"driver_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Location   string          `json:"location"`
	FineAmount decimal.Decimal `json:"fine_amount"`
	Evidence   []string        `json:"evidence"`
	Severity   string          `json:"severity"`
}

func (h *Handler) handleCreateOffense(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[createOffenseRequest](w, r, h.logger)
	if !ok {
		return
	}

	offense, err := h.offenses.Create(r.Context(), actorFrom(r), offensesvc.CreateInput{
		DriverID:   req.DriverID,
		Type:       req.Type,
		OccurredAt: req.OccurredAt,
		Location:   req.Location,
		FineAmount: req.FineAmount,
		Evidence:   req.Evidence,
		Severity:   req.Severity,
	})
	if err != nil {
		h.warn(r, "record offense failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, viewOffense(offense))
}

func (h *Handler) handleGetOffense(w http.ResponseWriter, r *http.Request) {
	offenseID, err := domain.ParseOffenseID(chi.URLParam(r, "offenseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid offense id"))
		return
	}

	offense, err := h.offenses.Get(r.Context(), actorFrom(r), offenseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOffense(offense))
}

func (h *Handler) handleListOffenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOffenseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	offenses, err := h.offenses.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOffenses(offenses))
}

type cancelOffenseRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelOffense(w http.ResponseWriter, r *http.Request) {
	offenseID, err := domain.ParseOffenseID(chi.URLParam(r, "offenseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid offense id"))
		return
	}
	req, ok := httputil.Decode[cancelOffenseRequest](w, r, h.logger)
	if !ok {
		return
	}

	offense, err := h.offenses.Cancel(r.Context(), actorFrom(r), offenseID, req.Reason)
	if err != nil {
		h.warn(r, "cancel offense failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOffense(offense))
}

func parseOffenseFilter(q url.Values) (storage.OffenseFilter, error) {
	var filter storage.OffenseFilter
	if raw := q.Get("driver_id"); raw != "" {
		id, err := domain.ParseDriverID(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("driver_id", "invalid driver id")
		}
		filter.DriverID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseOffenseStatus(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("status", "unknown status: "+raw)
		}
		filter.Status = &status
	}
	filter.Type = q.Get("type")
	filter.SortBy = q.Get("sort_by")
	filter.SortOrder = q.Get("sort_order")
	filter.Limit = intParam(q, "limit")
	filter.Offset = intParam(q, "offset")
	return filter, nil
}

func intParam(q url.Values, key string) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
