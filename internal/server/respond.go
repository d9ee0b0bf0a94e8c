package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/plantai-go/internal/logging"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes {"detail": msg}.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

// fail logs err and writes an error response. The client sees err's text
// only when ExposeErrors is set; otherwise it gets public and the request ID
// to correlate with the log line.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, public string, err error) {
	logging.FromContext(r.Context()).Error(public, slog.Any("error", err))

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	detail := public
	if s.cfg.ExposeErrors {
		detail = err.Error()
	} else if id := requestID(r.Context()); id != "" {
		detail += " (request_id " + id + ")"
	}
	writeDetail(w, status, detail)
}
