package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petabi/deview/config"
	"github.com/petabi/deview/internal/util"
	bboltstorage "github.com/petabi/deview/storage/bbolt"
	"github.com/petabi/deview/store"
)

var testHashParams = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.DataDir = t.TempDir()
	cfg.BackupDir = t.TempDir()
	cfg.JWT.Secret = "cmd-test-secret"
	return cfg
}

func newTestAccount(t *testing.T, username, password string) *store.Account {
	t.Helper()
	acct, err := store.NewAccount(username, password, store.RoleSystemAdministrator,
		store.WithHashParams(testHashParams))
	require.NoError(t, err)
	return acct
}

func TestReadPassword(t *testing.T) {
	env := func(v string) func(string) (string, bool) {
		return func(name string) (string, bool) {
			if name == passwordEnv && v != "" {
				return v, true
			}
			return "", false
		}
	}

	pw, err := readPassword(env("from-env"), strings.NewReader("from-stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)

	pw, err = readPassword(env(""), strings.NewReader("from-stdin\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", pw)

	pw, err = readPassword(env(""), strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", pw)

	_, err = readPassword(env(""), strings.NewReader(""))
	assert.ErrorIs(t, err, errNoPassword)
}

func TestAccountLifecycleAndBackup(t *testing.T) {
	cfg := testConfig(t, config.BackendBbolt)
	ctx := t.Context()

	require.NoError(t, createAccount(ctx, cfg, newTestAccount(t, "alice", "secret123")))
	err := createAccount(ctx, cfg, newTestAccount(t, "alice", "other"))
	require.True(t, errors.Is(err, store.ErrAccountExists), "got %v", err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path, err := backup(cfg, now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "deview-20240301T120000Z.db"))

	snapshot, err := bboltstorage.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	st := store.New(snapshot)
	require.NoError(t, st.Read(func(tbl store.Tables) error {
		acct, err := tbl.Accounts.Get("alice")
		require.NoError(t, err)
		require.NotNil(t, acct)
		assert.True(t, acct.VerifyPassword("secret123"))
		return nil
	}))
	require.NoError(t, st.Close())

	require.NoError(t, deleteAccount(ctx, cfg, "alice"))
	require.Error(t, deleteAccount(ctx, cfg, "alice"))
}

func TestBackupRequiresBbolt(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	_, err := backup(cfg, time.Now())
	assert.ErrorIs(t, err, errBackupUnsupported)
}

func TestNewPolicyGeneratesSecret(t *testing.T) {
	cfg := config.Default()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	policy, err := newPolicy(cfg, logger)
	require.NoError(t, err)
	secret, err := policy.Secret()
	require.NoError(t, err)
	assert.Len(t, secret, generatedSecretLen)
	assert.Contains(t, logs.String(), "no jwt secret configured")

	cfg.JWT.Secret = "configured"
	logs.Reset()
	policy, err = newPolicy(cfg, logger)
	require.NoError(t, err)
	secret, err = policy.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte("configured"), secret)
	assert.Empty(t, logs.String())
}

func TestAppServesSignIn(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	a, err := newApp(t.Context(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.store.Write(func(tbl store.Tables) error {
		return tbl.Accounts.Insert(newTestAccount(t, "alice", "secret123"))
	}))

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Post(srv.URL+"/api/v1/sign-in", "application/json",
		strings.NewReader(`{"username":"alice","password":"secret123"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice", body.Username)
	assert.NotEmpty(t, body.Token)
}

func TestNewAppRejectsBadProxy(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.TrustedProxies = []string{"not-a-network"}
	_, err := newApp(t.Context(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.Error(t, err)
}

func TestRootVersionFlag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"-V"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "deview dev\n", out.String())
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps(" 2 ")
	require.NoError(t, err)
	assert.Equal(t, 2, steps)

	for _, arg := range []string{"0", "-1", "two"} {
		_, err := parseSteps(arg)
		assert.Error(t, err, "steps %q", arg)
	}
}
