package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// authMiddleware verifies the bearer token on every request and injects the
// subject (user id) claim into the request context, adapted from the-hive's
// API-key middleware pattern but using JWT verification in place of a
// static key lookup.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, r.Context(), errUnauthenticated("missing bearer token"))
			return
		}

		userID, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, r.Context(), err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware enforces a per-client, per-endpoint leaky-bucket
// budget. Client identity is the authenticated subject when present, else
// the remote IP set by chi's RealIP middleware.
func (s *Server) rateLimitMiddleware(endpoint string, limitPerMin int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIdentity(r)
			if err := s.limiter.Allow(r.Context(), clientID, endpoint, limitPerMin); err != nil {
				writeError(w, r.Context(), err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(r *http.Request) string {
	if uid, ok := r.Context().Value(userIDContextKey).(string); ok && uid != "" {
		return uid
	}
	return r.RemoteAddr
}

func userIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDContextKey).(string)
	return uid
}
