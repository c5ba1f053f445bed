package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/petabi/deview/auth"
)

type contextKey int

const claimsKey contextKey = iota

// BearerAuth authenticates the Authorization: Bearer token and stores the
// token claims on the request context.
func (a *API) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeUnauthorized(w, "authentication required")
			return
		}
		claims, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			if auth.IsTokenFailure(err) {
				a.audit.logFailure(AuditTokenRejected, r, failedUsername(err), string(auth.CodeOf(err)))
			}
			a.mapError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func failedUsername(err error) string {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.Username
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
