package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"wabridge/internal/infra/http/shared"
	"wabridge/platform/logger"
)

// APIKeyAuth authenticates every request against the configured API key.
// The key may arrive as "Authorization: Bearer <key>", a bare Authorization
// header, or "X-API-Key". Health checks stay public.
func APIKeyAuth(apiKey string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			provided := extractAPIKey(r)
			if provided == "" {
				log.WarnWithFields("missing API key", map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     getClientIP(r),
				})
				writeUnauthorized(w, "API key is required. Provide it via Authorization header or X-API-Key header", "MISSING_API_KEY")
				return
			}

			if apiKey == "" || provided != apiKey {
				log.WarnWithFields("invalid API key", map[string]interface{}{
					"path":    r.URL.Path,
					"method":  r.Method,
					"ip":      getClientIP(r),
					"api_key": maskAPIKey(provided),
				})
				writeUnauthorized(w, "Invalid API key", "INVALID_API_KEY")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPublicRoute(path string) bool {
	return strings.HasPrefix(path, "/health")
}

func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}
	return r.Header.Get("X-API-Key")
}

func writeUnauthorized(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	json.NewEncoder(w).Encode(shared.ErrorResponse{
		Success: false,
		Error:   "Unauthorized",
		Code:    code,
		Details: message,
	})
}

// maskAPIKey keeps only the first and last characters for logs.
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
}

// getClientIP honors proxy headers before falling back to RemoteAddr.
func getClientIP(r *http.Request) string {
	headers := []string{"X-Forwarded-For", "X-Real-IP", "X-Client-IP"}

	for _, header := range headers {
		ip := r.Header.Get(header)
		if ip == "" {
			continue
		}
		if strings.Contains(ip, ",") {
			ip = strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		return ip
	}
	return r.RemoteAddr
}
