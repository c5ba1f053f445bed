package api

import (
	"log/slog"
	"net/http"

	"github.com/petabi/deview/auth"
)

// SignIn handles POST /sign-in.
func (a *API) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SignInRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global → IP → per-user.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditSignInRateLimited, r, req.Username, "global")
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditSignInRateLimited, r, req.Username, "ip",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.userLimiter.check(req.Username); blocked {
		a.audit.logFailure(AuditSignInRateLimited, r, req.Username, "user")
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := a.svc.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		if auth.IsAuthenticationFailure(err) {
			a.globalLimiter.recordFailure()
			a.ipLimiter.recordFailure(clientIP)
			a.userLimiter.recordFailure(req.Username)
			a.audit.logFailure(AuditSignInFailure, r, req.Username, string(auth.CodeOf(err)),
				slog.String("client_ip", clientIP))
		}
		a.mapError(w, err)
		return
	}

	a.ipLimiter.recordSuccess(clientIP)
	a.userLimiter.recordSuccess(req.Username)
	a.audit.logEvent(AuditSignInSuccess, r, res.Account.Username,
		slog.String("role", res.Account.Role.String()))

	writeJSON(w, http.StatusOK, SignInResponse{
		Username:  res.Account.Username,
		Role:      res.Account.Role.String(),
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

// SignOut handles POST /sign-out.
func (a *API) SignOut(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := a.svc.SignOut(r.Context(), claims.Subject); err != nil {
		a.mapError(w, err)
		return
	}
	a.audit.logEvent(AuditSignOut, r, claims.Subject)
	writeJSON(w, http.StatusOK, struct{}{})
}

// Session handles GET /session.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, SessionResponse{
		Username:  claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	})
}
