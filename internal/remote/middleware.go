package remote

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/leslieo2/devreload/internal/constants"
	"github.com/leslieo2/devreload/internal/observability"
)

// requireSecret rejects requests whose auth token header is missing (401)
// or does not match secret (403).
func requireSecret(secret string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(constants.HeaderAuthToken))
			if token == "" {
				metrics.RecordRemoteUpdate(outcomeUnauthorized)
				writeError(w, http.StatusUnauthorized, "Authentication required",
					"The "+constants.HeaderAuthToken+" header is required", constants.ErrorCodeUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				metrics.RecordRemoteUpdate(outcomeUnauthorized)
				writeError(w, http.StatusForbidden, "Access denied",
					"The supplied secret does not match", constants.ErrorCodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody rejects declared bodies over limit and caps the rest while
// they are read.
func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				writeTooLarge(w, limit)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeError(w, http.StatusRequestEntityTooLarge, "Request body too large",
		fmt.Sprintf("max size: %d bytes", limit), constants.ErrorCodePayloadTooLarge)
}

func writeError(w http.ResponseWriter, status int, title, message, code string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   title,
		"message": message,
		"code":    code,
	})
}
