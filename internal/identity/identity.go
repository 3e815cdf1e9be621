// Package identity resolves the acting user from trusted proxy headers.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// UserHeaderName carries the authenticated username set by the ingress
	// proxy. The engine trusts it; authentication happens upstream.
	UserHeaderName = "X-Forwarded-User"

	// DevUser is the identity assumed in development mode when the proxy
	// header is absent.
	DevUser = "dev-user"
)

type contextKey int

const actorKey contextKey = iota

var actorPattern = regexp.MustCompile(`^[\w@.\-]{1,128}$`)

// ActorFromContext extracts the acting user ID from the request context.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

func actorFromRequest(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get(UserHeaderName))
	if actor == "" || !actorPattern.MatchString(actor) {
		return ""
	}
	return actor
}

// Middleware injects the acting user into the request context. Requests
// without a valid identity are rejected unless running in development mode,
// where DevUser is assumed.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFromRequest(r)
			if actor == "" {
				if !isDev {
					slog.Warn("rejected request without identity",
						"ip", IPFromRequest(r), "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = w.Write([]byte(`{"error":"missing or invalid identity"}`))
					return
				}
				actor = DevUser
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
