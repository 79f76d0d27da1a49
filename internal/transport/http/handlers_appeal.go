package http

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appealsvc "fineledger/internal/appeal/service"
	"fineledger/internal/domain"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/httputil"
)

// maxEvidenceMemory bounds how much of a multipart submission is buffered in
// memory; larger uploads spill to temp files.
const maxEvidenceMemory = 32 << 20

type submitAppealRequest struct {
	OffenseID   string `json:"offense_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// handleSubmitAppeal accepts either a JSON body or a multipart form. The
// portal uses multipart when the driver attaches evidence files; the form
// fields mirror the JSON keys and the files ride under "evidence".
func (h *Handler) handleSubmitAppeal(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var input appealsvc.SubmitInput
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxEvidenceMemory); err != nil {
			h.warn(r, "invalid multipart submission", err)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart body"))
			return
		}
		input = appealsvc.SubmitInput{
			OffenseID:   r.FormValue("offense_id"),
			Reason:      r.FormValue("reason"),
			Description: r.FormValue("description"),
			Priority:    r.FormValue("priority"),
		}
		for _, header := range r.MultipartForm.File["evidence"] {
			file, err := header.Open()
			if err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable evidence file"))
				return
			}
			defer file.Close()
			input.Evidence = append(input.Evidence, appealsvc.EvidenceUpload{
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				SizeBytes:   header.Size,
				Content:     file,
			})
		}
	} else {
		req, ok := httputil.Decode[submitAppealRequest](w, r, h.logger)
		if !ok {
			return
		}
		input = appealsvc.SubmitInput{
			OffenseID:   req.OffenseID,
			Reason:      req.Reason,
			Description: req.Description,
			Priority:    req.Priority,
		}
	}

	appeal, err := h.appeals.Submit(r.Context(), actorFrom(r), input)
	if err != nil {
		h.warn(r, "submit appeal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, viewAppeal(appeal))
}

type resubmitAppealRequest struct {
	Description string `json:"description"`
}

// handleResubmitAppeal takes the driver's follow-up documents after a
// reviewer asked for more. Same body shapes as submission: multipart with
// files under "evidence", or plain JSON.
func (h *Handler) handleResubmitAppeal(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var input appealsvc.ResubmitInput
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxEvidenceMemory); err != nil {
			h.warn(r, "invalid multipart resubmission", err)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart body"))
			return
		}
		input.Description = r.FormValue("description")
		for _, header := range r.MultipartForm.File["evidence"] {
			file, err := header.Open()
			if err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable evidence file"))
				return
			}
			defer file.Close()
			input.Evidence = append(input.Evidence, appealsvc.EvidenceUpload{
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				SizeBytes:   header.Size,
				Content:     file,
			})
		}
	} else {
		req, ok := httputil.Decode[resubmitAppealRequest](w, r, h.logger)
		if !ok {
			return
		}
		input.Description = req.Description
	}

	appeal, err := h.appeals.Resubmit(r.Context(), actorFrom(r), appealID, input)
	if err != nil {
		h.warn(r, "resubmit appeal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeal(appeal))
}

func (h *Handler) handleGetAppeal(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}

	appeal, err := h.appeals.Get(r.Context(), actorFrom(r), appealID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeal(appeal))
}

func (h *Handler) handleListAppeals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAppealFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	appeals, err := h.appeals.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeals(appeals))
}

type assignAppealRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (h *Handler) handleAssignAppeal(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}
	req, ok := httputil.Decode[assignAppealRequest](w, r, h.logger)
	if !ok {
		return
	}
	assignee, err := domain.ParseActorID(req.AssignedTo)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid assignment").
			Add("assigned_to", "invalid reviewer id"))
		return
	}

	appeal, err := h.appeals.Assign(r.Context(), actorFrom(r), appealID, assignee)
	if err != nil {
		h.warn(r, "assign appeal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeal(appeal))
}

type reprioritizeAppealRequest struct {
	Priority string `json:"priority"`
}

func (h *Handler) handleReprioritizeAppeal(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}
	req, ok := httputil.Decode[reprioritizeAppealRequest](w, r, h.logger)
	if !ok {
		return
	}

	appeal, err := h.appeals.Reprioritize(r.Context(), actorFrom(r), appealID, req.Priority)
	if err != nil {
		h.warn(r, "reprioritize appeal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeal(appeal))
}

type decideAppealRequest struct {
	Status        string `json:"status"`
	ReviewerNotes string `json:"reviewer_notes"`
}

func (h *Handler) handleDecideAppeal(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}
	req, ok := httputil.Decode[decideAppealRequest](w, r, h.logger)
	if !ok {
		return
	}

	appeal, err := h.appeals.Decide(r.Context(), actorFrom(r), appealID, appealsvc.DecideInput{
		Decision:      req.Status,
		ReviewerNotes: req.ReviewerNotes,
	})
	if err != nil {
		h.warn(r, "decide appeal failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewAppeal(appeal))
}

func (h *Handler) handleDownloadEvidence(w http.ResponseWriter, r *http.Request) {
	appealID, err := domain.ParseAppealID(chi.URLParam(r, "appealID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appeal id"))
		return
	}
	// Evidence keys contain a slash ("<appeal>/<blob>"), so the route matches
	// a wildcard rather than a single segment. The legacy portal appended
	// "/download" to the URL; tolerate it.
	evidenceID := strings.TrimSuffix(chi.URLParam(r, "*"), "/download")

	blob, reader, err := h.appeals.DownloadEvidence(r.Context(), actorFrom(r), appealID, evidenceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+blob.FileName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(blob.SizeBytes, 10))
	if _, err := io.Copy(w, reader); err != nil {
		h.warn(r, "stream evidence failed", err)
	}
}

func (h *Handler) handleExportAppeals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAppealFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	data, err := h.appeals.Export(r.Context(), actorFrom(r), filter, format)
	if err != nil {
		h.warn(r, "export appeals failed", err)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="appeals.csv"`)
	_, _ = w.Write(data)
}

func parseAppealFilter(q url.Values) (storage.AppealFilter, error) {
	var filter storage.AppealFilter
	if raw := q.Get("driver_id"); raw != "" {
		id, err := domain.ParseDriverID(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("driver_id", "invalid driver id")
		}
		filter.DriverID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseAppealStatus(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("status", "unknown status: "+raw)
		}
		filter.Status = &status
	}
	if raw := q.Get("priority"); raw != "" {
		priority, err := domain.ParseAppealPriority(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("priority", "unknown priority: "+raw)
		}
		filter.Priority = &priority
	}
	if raw := q.Get("assigned_to"); raw != "" {
		id, err := domain.ParseActorID(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "invalid filter").
				Add("assigned_to", "invalid reviewer id")
		}
		filter.AssignedTo = &id
	}
	filter.Search = q.Get("search")
	filter.Limit = intParam(q, "limit")
	filter.Offset = intParam(q, "offset")
	return filter, nil
}
