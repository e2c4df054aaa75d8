package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/plateo/feedengine/internal/auth"
)

// Error codes written by middleware. They match the API error envelope codes.
const (
	errCodeAuthFailed   = "auth_failed"
	errCodeRateLimited  = "rate_limited"
	errCodeOriginDenied = "forbidden"
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// Authenticate resolves the viewer from an "Authorization: Bearer" header
// and stores its id in the request context. When required is false,
// requests without a header pass through anonymously; a present but
// invalid token is always rejected with 401.
func Authenticate(validator TokenValidator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if required {
					writeMiddlewareError(w, r, http.StatusUnauthorized, errCodeAuthFailed, "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeMiddlewareError(w, r, http.StatusUnauthorized, errCodeAuthFailed, "Malformed authorization header")
				return
			}

			claims, err := validator.ValidateAccessToken(strings.TrimSpace(token))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token expired"
				}
				writeMiddlewareError(w, r, http.StatusUnauthorized, errCodeAuthFailed, msg)
				return
			}

			ctx := SetViewerID(r.Context(), claims.ViewerID())
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeMiddlewareError writes the API error envelope from inside middleware.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	ctx := SetErrorCode(r.Context(), code)
	UpdateResponseContext(w, ctx)

	body := map[string]map[string]string{
		"error": {"code": code, "message": message},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
