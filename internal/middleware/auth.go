// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carterperez-dev/templates/seller-billing/internal/auth"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

const (
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
	UserRoleKey  contextKey = "user_role"
)

type TokenVerifier interface {
	VerifyBearerToken(ctx context.Context, token string) (*auth.Identity, error)
}

// RoleLookup returns the stored role for an authenticated user. Roles live
// on the profile row, not in the token.
type RoleLookup func(ctx context.Context, userID string) (string, error)

func Authenticator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)

			if token == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			identity, err := verifier.VerifyBearerToken(r.Context(), token)
			if err != nil {
				handleAuthError(w, r, err)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, identity.UserID)
			ctx = context.WithValue(ctx, UserEmailKey, identity.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(lookup RoleLookup, roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())

			if userID == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("authentication required"),
				)
				return
			}

			role, err := lookup(r.Context(), userID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					core.Forbidden(w, "insufficient permissions")
					return
				}
				core.InternalServerError(w, err)
				return
			}

			if _, ok := roleSet[role]; !ok {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient permissions"),
				)
				return
			}

			ctx := context.WithValue(r.Context(), UserRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if core.IsAppError(err) {
		core.JSONError(w, err)
		return
	}

	switch {
	case errors.Is(err, core.ErrUnauthorized):
		core.JSONError(w, core.UnauthorizedError("invalid or expired token"))
	case errors.Is(err, core.ErrUpstreamTimeout):
		slog.WarnContext(r.Context(), "identity provider timed out", "error", err)
		core.JSONError(w, core.UpstreamTimeoutError("identity provider timed out"))
	default:
		slog.ErrorContext(r.Context(), "identity provider unavailable", "error", err)
		core.JSONError(w, core.UpstreamError(
			http.StatusBadGateway,
			"identity provider unavailable",
		))
	}
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

func GetUserEmail(ctx context.Context) string {
	if email, ok := ctx.Value(UserEmailKey).(string); ok {
		return email
	}
	return ""
}

func GetUserRole(ctx context.Context) string {
	if role, ok := ctx.Value(UserRoleKey).(string); ok {
		return role
	}
	return ""
}
