package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/session"
)

// AuthMiddleware requires a valid session token and stores the caller's
// profile id on the request context.
func AuthMiddleware(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID, err := session.Authenticate(r, jwtSecret)
			if err != nil {
				logger.Debug("rejected unauthenticated request", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithProfile(r.Context(), profileID)))
		})
	}
}

// currentProfile returns the profile set by AuthMiddleware
func currentProfile(r *http.Request) uuid.UUID {
	id, _ := session.ProfileFrom(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
