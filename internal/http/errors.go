package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/rebano/internal/domain/result"
	"github.com/dropDatabas3/rebano/internal/lock"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// WriteError escribe un error JSON con el request id del response.
func WriteError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: code, ErrorDescription: desc, RequestID: rid})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body (máx 1MB). Un body vacío deja v sin tocar.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if r.ContentLength != 0 && !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusUnsupportedMediaType, "invalid_json", "Content-Type debe ser application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// writeErr traduce un error de dominio a status HTTP.
func writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, lock.ErrHeld) {
		WriteError(w, http.StatusConflict, "pass_in_progress", err.Error())
		return
	}
	switch result.Classify(err) {
	case result.KindNotFound:
		WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case result.KindRejected:
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case result.KindInconsistentInput:
		WriteError(w, http.StatusConflict, "inconsistent_input", err.Error())
	case result.KindTransient:
		WriteError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	case result.KindCanceled:
		WriteError(w, 499, "canceled", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
