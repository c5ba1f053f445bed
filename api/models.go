package api

import "time"

// SignInRequest is the JSON body for POST /sign-in.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignInResponse is returned from a successful POST /sign-in.
type SignInResponse struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FailureResponse is the body of a 401 response.
type FailureResponse struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the body of any other error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
