package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/folio/internal/editor"
	"github.com/kalambet/folio/internal/portfolio"
	"github.com/kalambet/folio/internal/resolver"
	"github.com/kalambet/folio/internal/storage"
	"github.com/kalambet/folio/internal/syncer"
)

const maxRequestBodySize = 1 << 20 // 1MB

// UserHeader carries the caller identity resolved upstream.
const UserHeader = "X-Folio-User"

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// errorStatus maps a domain error to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	var syncErr *syncer.SyncError
	switch {
	case errors.As(err, &syncErr):
		return http.StatusBadGateway, "sync_error"
	case errors.Is(err, resolver.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "resolver_invalid_document"
	case errors.Is(err, resolver.ErrTransport):
		return http.StatusBadGateway, "resolver_transport_error"
	case errors.Is(err, portfolio.ErrReorderMismatch):
		return http.StatusUnprocessableEntity, "reorder_mismatch"
	case errors.Is(err, portfolio.ErrMissingSectionData):
		return http.StatusUnprocessableEntity, "missing_section_data"
	case errors.Is(err, portfolio.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "invalid_document"
	case errors.Is(err, syncer.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, storage.ErrSlugTaken):
		return http.StatusConflict, "slug_taken"
	case errors.Is(err, editor.ErrNotOwner):
		return http.StatusForbidden, "permission_error"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, editor.ErrEmptyInstruction):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, editor.ErrNoPublisher):
		return http.StatusNotImplemented, "api_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, errType := errorStatus(err)
	if code >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	httpError(w, code, errType, "%v", err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
