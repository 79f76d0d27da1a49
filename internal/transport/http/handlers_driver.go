package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fineledger/internal/domain"
	driversvc "fineledger/internal/driver/service"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/httputil"
	"fineledger/pkg/requestcontext"
)

type registerDriverRequest struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"license_number"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	LicenseStatus string `json:"license_status"`
}

func (h *Handler) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerDriverRequest](w, r, h.logger)
	if !ok {
		return
	}

	driver, err := h.drivers.Register(r.Context(), actorFrom(r), driversvc.RegisterInput{
		Name:          req.Name,
		LicenseNumber: req.LicenseNumber,
		Email:         req.Email,
		Phone:         req.Phone,
		LicenseStatus: req.LicenseStatus,
	})
	if err != nil {
		h.warn(r, "register driver failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, viewDriver(driver))
}

func (h *Handler) handleDeactivateDriver(w http.ResponseWriter, r *http.Request) {
	driverID, err := domain.ParseDriverID(chi.URLParam(r, "driverID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid driver id"))
		return
	}

	driver, err := h.drivers.Deactivate(r.Context(), actorFrom(r), driverID)
	if err != nil {
		h.warn(r, "deactivate driver failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDriver(driver))
}

func (h *Handler) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.drivers.List(r.Context(), actorFrom(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]driverView, len(drivers))
	for i, d := range drivers {
		views[i] = viewDriver(d)
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetDriverRecord(w http.ResponseWriter, r *http.Request) {
	driverID, err := domain.ParseDriverID(chi.URLParam(r, "driverID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid driver id"))
		return
	}

	record, err := h.drivers.Get(r.Context(), actorFrom(r), driverID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDriverRecord(record))
}

func (h *Handler) handleDriverDashboard(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	dashboard, err := h.drivers.Dashboard(r.Context(), actor, actor.DriverID())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewDashboard(dashboard))
}

func (h *Handler) warn(r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
}
