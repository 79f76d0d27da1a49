// Package httputil centralizes JSON encoding and domain-error translation so
// every handler produces the same envelopes.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "fineledger/pkg/domain-errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type detailBody struct {
	Detail detail `json:"detail"`
}

type detail struct {
	Message string               `json:"message"`
	Errors  []dErrors.FieldError `json:"errors"`
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into the HTTP response the clients
// expect. Validation and conflict errors use the field-error envelope
// {detail:{message, errors:[{field, message}]}}; everything else uses the
// flat error/error_description shape. Internal errors never leak their
// message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	switch code {
	case dErrors.CodeValidation, dErrors.CodeConflict:
		fields := dErrors.Load(err)
		if fields == nil {
			fields = []dErrors.FieldError{}
		}
		message := "validation failed"
		if e, ok := err.(*dErrors.Error); ok {
			message = e.Message
		}
		WriteJSON(w, status, detailBody{Detail: detail{Message: message, Errors: fields}})
		return
	case dErrors.CodeInternal, dErrors.CodeInvariantViolation:
		WriteJSON(w, status, errorBody{Error: string(dErrors.CodeInternal)})
		return
	}

	body := errorBody{Error: string(code)}
	if e, ok := err.(*dErrors.Error); ok {
		body.ErrorDescription = e.Message
	}
	WriteJSON(w, status, body)
}

// Decode parses a JSON request body into T. On malformed input it writes a
// bad_request response and returns ok=false; the handler should just return.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		logger.WarnContext(r.Context(), "invalid request body", "error", err)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		var zero T
		return zero, false
	}
	return v, true
}
