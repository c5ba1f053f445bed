package api_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petabi/deview/api"
	"github.com/petabi/deview/auth"
	"github.com/petabi/deview/internal/util"
	"github.com/petabi/deview/storage/memory"
	"github.com/petabi/deview/store"
)

var testHashParams = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	logs  *syncBuffer
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setupServer(t *testing.T, opts ...api.Option) *testEnv {
	t.Helper()
	st := store.New(memory.NewRepository())
	policy, err := auth.NewPolicy([]byte("api-test-secret-api-test-secret!"), auth.DefaultExpiresIn)
	require.NoError(t, err)
	logs := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	svc := auth.NewService(st, auth.NewTokenCodec(policy), auth.WithLogger(logger))

	a := api.New(svc, append([]api.Option{api.WithLogger(logger)}, opts...)...)
	r := chi.NewRouter()
	r.Use(api.SecurityHeaders)
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, logs: logs}
}

func (e *testEnv) addAccount(t *testing.T, username, password string, role store.Role) {
	t.Helper()
	acct, err := store.NewAccount(username, password, role, store.WithHashParams(testHashParams))
	require.NoError(t, err)
	require.NoError(t, e.store.Write(func(tbl store.Tables) error { return tbl.Accounts.Insert(acct) }))
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func signIn(t *testing.T, e *testEnv, username, password string) *http.Response {
	t.Helper()
	return doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/sign-in", "", map[string]string{
		"username": username,
		"password": password,
	})
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSignIn(t *testing.T) {
	e := setupServer(t)
	e.addAccount(t, "alice", "secret123", "admin")

	resp := signIn(t, e, "alice", "secret123")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	body := decode[api.SignInResponse](t, resp)
	assert.Equal(t, "alice", body.Username)
	assert.Equal(t, "admin", body.Role)
	require.NotEmpty(t, body.Token)
	assert.False(t, body.ExpiresAt.IsZero())

	parts := strings.Split(body.Token, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(raw, &claims))
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "admin", claims["role"])
	assert.EqualValues(t, body.ExpiresAt.Unix(), claims["exp"])

	logs := e.logs.String()
	assert.Contains(t, logs, `"event":"sign_in_success"`)
	assert.NotContains(t, logs, "secret123")
	assert.NotContains(t, logs, body.Token)
}

func TestSignInFailures(t *testing.T) {
	e := setupServer(t)
	e.addAccount(t, "alice", "secret123", "admin")

	resp := signIn(t, e, "alice", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "sign in failed: incorrect password", decode[api.FailureResponse](t, resp).Reason)

	resp = signIn(t, e, "bob", "whatever")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "sign in failed: user bob doesn't exist", decode[api.FailureResponse](t, resp).Reason)

	logs := e.logs.String()
	assert.Contains(t, logs, `"code":"bad_credential"`)
	assert.Contains(t, logs, `"code":"user_not_found"`)
	assert.NotContains(t, logs, "whatever")

	require.NoError(t, e.store.Read(func(tbl store.Tables) error {
		tok, err := tbl.Tokens.Get("alice")
		require.NoError(t, err)
		assert.Nil(t, tok)
		acct, err := tbl.Accounts.Get("alice")
		require.NoError(t, err)
		assert.Nil(t, acct.LastSigninTime)
		return nil
	}))
}

func TestSignInUniformFailureMessage(t *testing.T) {
	e := setupServer(t, api.WithUniformFailureMessage(true))
	e.addAccount(t, "alice", "secret123", "admin")

	wrong := decode[api.FailureResponse](t, signIn(t, e, "alice", "wrong"))
	missing := decode[api.FailureResponse](t, signIn(t, e, "bob", "whatever"))
	assert.Equal(t, wrong, missing)
	assert.Equal(t, "sign in failed: invalid username or password", wrong.Reason)

	// The audit log keeps the distinction.
	logs := e.logs.String()
	assert.Contains(t, logs, `"code":"bad_credential"`)
	assert.Contains(t, logs, `"code":"user_not_found"`)
}

func TestSignInBadRequest(t *testing.T) {
	e := setupServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "nope", http.StatusBadRequest},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest},
		{"missing username", `{"password":"pw"}`, http.StatusBadRequest},
		{"unknown field", `{"username":"alice","password":"pw","admin":true}`, http.StatusBadRequest},
		{"trailing data", `{"username":"alice","password":"pw"}{}`, http.StatusBadRequest},
		{"too large", `{"username":"` + strings.Repeat("a", 8<<10) + `","password":"pw"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(e.srv.URL+"/api/v1/sign-in", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestSignInRateLimited(t *testing.T) {
	e := setupServer(t)
	e.addAccount(t, "alice", "secret123", "admin")

	var last *http.Response
	for range 5 {
		last = signIn(t, e, "alice", "wrong")
		require.Equal(t, http.StatusUnauthorized, last.StatusCode)
	}

	resp := signIn(t, e, "alice", "secret123")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, e.logs.String(), `"event":"sign_in_rate_limited"`)

	// Other users are unaffected.
	e.addAccount(t, "carol", "pw", "admin")
	assert.Equal(t, http.StatusOK, signIn(t, e, "carol", "pw").StatusCode)
}

func TestSessionAndSignOut(t *testing.T) {
	e := setupServer(t)
	e.addAccount(t, "alice", "secret123", store.RoleSecurityManager)

	first := decode[api.SignInResponse](t, signIn(t, e, "alice", "secret123"))

	resp := doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/session", first.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decode[api.SessionResponse](t, resp)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, "Security Manager", session.Role)
	assert.True(t, session.ExpiresAt.Equal(first.ExpiresAt))

	second := decode[api.SignInResponse](t, signIn(t, e, "alice", "secret123"))

	resp = doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/session", first.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token revoked", decode[api.FailureResponse](t, resp).Reason)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")

	resp = doJSON(t, http.MethodPost, e.srv.URL+"/api/v1/sign-out", second.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/session", second.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	logs := e.logs.String()
	assert.Contains(t, logs, `"event":"sign_out"`)
	assert.Contains(t, logs, `"event":"token_rejected"`)
}

func TestBearerAuthRequired(t *testing.T) {
	e := setupServer(t)

	resp := doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "authentication required", decode[api.FailureResponse](t, resp).Reason)

	resp = doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/session", "not.a.token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid token", decode[api.FailureResponse](t, resp).Reason)
}

func TestServerFailureIsGeneric(t *testing.T) {
	e := setupServer(t)
	e.addAccount(t, "alice", "secret123", "admin")
	require.NoError(t, e.store.Close())

	resp := signIn(t, e, "alice", "secret123")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"internal error"}`, string(body))
	assert.Contains(t, e.logs.String(), `"code":"persistence"`)
}

func TestOpenAPISpecServed(t *testing.T) {
	e := setupServer(t)
	resp := doJSON(t, http.MethodGet, e.srv.URL+"/api/v1/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/sign-in:")
}
