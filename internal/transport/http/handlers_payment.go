package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fineledger/internal/domain"
	paymentsvc "fineledger/internal/payment/service"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/httputil"
)

type processPaymentRequest struct {
	OffenseIDs []string        `json:"offense_ids"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[processPaymentRequest](w, r, h.logger)
	if !ok {
		return
	}

	payment, err := h.payments.Process(r.Context(), actorFrom(r), paymentsvc.ProcessInput{
		OffenseIDs: req.OffenseIDs,
		Amount:     req.Amount,
		Method:     req.Method,
	})
	if err != nil {
		h.warn(r, "process payment failed", err)
		// A decline still produced a payment record; return it alongside the
		// 402 so the portal can show the failure.
		if dErrors.HasCode(err, dErrors.CodeGatewayDeclined) {
			httputil.WriteJSON(w, http.StatusPaymentRequired, viewPayment(payment))
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, viewPayment(payment))
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := domain.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid payment id"))
		return
	}

	payment, err := h.payments.Get(r.Context(), actorFrom(r), paymentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewPayment(payment))
}

func (h *Handler) handleDriverListPayments(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	payments, err := h.payments.ListByDriver(r.Context(), actor, actor.DriverID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewPayments(payments))
}

func (h *Handler) handleDriverPaymentSummary(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	summary, err := h.payments.Summarize(r.Context(), actor, actor.DriverID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewPaymentSummary(summary))
}
