// Package handler contains the HTTP handlers for the orchestrator API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/hedged/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// writeJSON marshals v and writes it with the given status code. A marshal
// failure degrades to a generic 500 body rather than a half-written one.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit/offset from the query string, clamping limit to
// [1, maxPageSize].
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := defaultPageSize
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}

	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam reads a named path parameter (Go 1.22 mux patterns).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
