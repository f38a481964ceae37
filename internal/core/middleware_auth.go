package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"carepath/internal/types"
)

// AdminAuth guards operator endpoints with the shared admin API key, sent
// either as X-Api-Key or as a Bearer token.
func (s *Server) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Api-Key")
		if presented == "" {
			presented = extractBearerToken(r.Header.Get("Authorization"))
		}
		if presented == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "admin API key is required", nil))
			return
		}

		expected := s.Config.Security.AdminAPIKey.Unmask()
		if expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			s.Logger.Warn("admin authentication failed",
				"path", r.URL.Path,
				"request_id", types.GetRequestID(r.Context()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin API key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
