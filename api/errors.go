package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/petabi/deview/auth"
)

// maxAuthBodySize caps sign-in request bodies.
const maxAuthBodySize = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeUnauthorized(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusUnauthorized, FailureResponse{Reason: reason})
}

// decodeJSON reads a single JSON object of type T from the request body.
// It writes a 400 response and returns false when the body is unusable.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
		return v, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "request body must contain a single JSON object")
		return v, false
	}
	return v, true
}

// mapError writes the response for an error returned by the auth service.
// Server-side failures are reported generically; their detail is in the
// server log.
func (a *API) mapError(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch authErr.Code {
	case auth.CodeUserNotFound, auth.CodeBadCredential:
		if a.uniformFailure {
			writeUnauthorized(w, "sign in failed: "+auth.UniformReason)
			return
		}
		writeUnauthorized(w, authErr.Error())
	case auth.CodeInvalidToken, auth.CodeTokenExpired, auth.CodeTokenRevoked:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeUnauthorized(w, authErr.Reason())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
