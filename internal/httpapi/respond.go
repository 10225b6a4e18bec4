package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, Envelope{
		Status:    http.StatusText(status),
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, Envelope{
		Status:    http.StatusText(status),
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}
