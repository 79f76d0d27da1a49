package middleware

import (
	"log/slog"
	"net/http"
	"slices"

	"fineledger/internal/domain"
	"fineledger/pkg/requestcontext"
)

// SessionValidator turns a raw session token into an authenticated actor.
type SessionValidator interface {
	Validate(token string) (domain.Actor, error)
}

// RequireSession authenticates the request from the session cookie and puts
// the actor into request context. Missing or invalid sessions get 401.
func RequireSession(cookieName string, validator SessionValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing session cookie")
				return
			}

			actor, err := validator.Validate(cookie.Value)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected session token",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
				return
			}

			ctx := requestcontext.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route group to the given roles. Runs after
// RequireSession; an actor with the wrong role gets 403.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := requestcontext.ActorFrom(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !slices.Contains(roles, actor.Role) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"` + desc + `"}`))
}
