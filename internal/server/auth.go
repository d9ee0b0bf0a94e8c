package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/plantai-go/internal/logging"
)

// apiKeyField is the form field carrying the shared key.
const apiKeyField = "x_api_key"

// headerKey returns a key presented outside the form body: the X-API-Key
// header, else an "Authorization: Bearer" token.
func headerKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	return bearerToken(r)
}

// validKey reports whether key matches the configured API key. The
// comparison is constant-time. With no key configured every request passes.
func (s *Server) validKey(key string) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// authorizeForm checks the x_api_key field of an already parsed form,
// falling back to the headers. On failure it writes 401 and returns false.
// The presented value is never logged.
func (s *Server) authorizeForm(w http.ResponseWriter, r *http.Request) bool {
	key := r.PostFormValue(apiKeyField)
	if key == "" {
		key = headerKey(r)
	}
	if s.validKey(key) {
		return true
	}
	s.unauthorized(w, r, key != "")
	return false
}

// unauthorized writes the 401 response.
func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, keyPresent bool) {
	s.metrics.authFailuresTotal.Inc()
	logging.FromContext(r.Context()).Warn("auth: invalid API key",
		slog.String("path", r.URL.Path),
		slog.Bool("key_present", keyPresent),
	)
	writeDetail(w, http.StatusUnauthorized, "Invalid API key")
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
