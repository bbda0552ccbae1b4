// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/gymkeeper/gymkeeper/internal/api"
	"github.com/gymkeeper/gymkeeper/internal/auth"
	"github.com/gymkeeper/gymkeeper/internal/auth/sqlite"
	"github.com/gymkeeper/gymkeeper/internal/captcha"
	"github.com/gymkeeper/gymkeeper/internal/observability"
	"github.com/gymkeeper/gymkeeper/internal/store"
)

const (
	testSecret        = "test-signing-secret"
	testCaptchaAnswer = "K7PM3X"
	strongPassword    = "Gym!Pass2026"
)

// testingT is satisfied by both *testing.T and GinkgoT().
type testingT interface {
	require.TestingT
	Helper()
	TempDir() string
	Cleanup(func())
}

type fixedGenerator struct{}

func (fixedGenerator) Generate() (string, string, error) {
	return testCaptchaAnswer, "data:image/png;base64,iVBORw0KGgo=", nil
}

type testEnv struct {
	handler  http.Handler
	accounts *sqlite.AccountRepository
	hasher   *auth.BcryptHasher
	tokens   *auth.TokenManager
	captchas *captcha.MemoryStore
	metrics  *observability.Metrics
	clock    *testClock
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type envConfig struct {
	secret       string
	origins      []string
	captchaRate  rate.Limit
	captchaBurst int
	policy       auth.LockoutPolicy
}

type envOption func(*envConfig)

func withSecret(secret string) envOption {
	return func(c *envConfig) { c.secret = secret }
}

func withOrigins(origins ...string) envOption {
	return func(c *envConfig) { c.origins = origins }
}

func withCaptchaRate(limit rate.Limit, burst int) envOption {
	return func(c *envConfig) {
		c.captchaRate = limit
		c.captchaBurst = burst
	}
}

func withLockout(policy auth.LockoutPolicy) envOption {
	return func(c *envConfig) { c.policy = policy }
}

// newTestEnv wires the full API over a migrated SQLite database in a temp
// dir. Every issued captcha has the answer testCaptchaAnswer.
func newTestEnv(t testingT, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{secret: testSecret, policy: auth.DefaultLockoutPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}

	url := "sqlite3://" + filepath.Join(t.TempDir(), "gymkeeper.db")
	migrator, err := store.NewMigrator(url)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())
	db, err := store.OpenSQLite(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	accounts := sqlite.NewAccountRepository(db)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	tokens := auth.NewTokenManager(cfg.secret, auth.WithTokenIssuer("gymkeeper"))
	authSvc, err := auth.NewAuthService(accounts, hasher, tokens, auth.NewMemoryFailureTracker(cfg.policy))
	require.NoError(t, err)
	accountSvc, err := auth.NewAccountService(accounts, hasher)
	require.NoError(t, err)

	captchas := captcha.NewMemoryStore()
	captchaSvc, err := captcha.NewService(captchas, fixedGenerator{})
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler, err := api.NewRouter(api.Deps{
		Auth:           authSvc,
		Accounts:       accountSvc,
		Tokens:         tokens,
		Captcha:        captchaSvc,
		Metrics:        metrics,
		AllowedOrigins: cfg.origins,
		CaptchaRate:    cfg.captchaRate,
		CaptchaBurst:   cfg.captchaBurst,
		Now:            clock.Now,
	})
	require.NoError(t, err)

	return &testEnv{
		handler:  handler,
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		captchas: captchas,
		metrics:  metrics,
		clock:    clock,
	}
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// captchaID issues a challenge through the API.
func (e *testEnv) captchaID(t testingT) string {
	t.Helper()
	rec := e.do(http.MethodGet, "/captcha", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.CaptchaResponse
	decode(t, rec, &resp)
	return resp.CaptchaID
}

func (e *testEnv) registerBody(t testingT, email, password, role string) map[string]any {
	t.Helper()
	return map[string]any{
		"email":         email,
		"password":      password,
		"name":          "Ana",
		"surname":       "Lopez",
		"phone":         "+34 600 000 000",
		"role":          role,
		"captchaId":     e.captchaID(t),
		"captchaAnswer": testCaptchaAnswer,
	}
}

func (e *testEnv) loginBody(t testingT, email, password string) map[string]any {
	t.Helper()
	return map[string]any{
		"email":         email,
		"password":      password,
		"captchaId":     e.captchaID(t),
		"captchaAnswer": testCaptchaAnswer,
	}
}

// seedAccount stores an account directly, bypassing the API.
func (e *testEnv) seedAccount(t testingT, email, password string, role auth.Role) *auth.Account {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	account, err := auth.NewAccount(email, hash, role)
	require.NoError(t, err)
	require.NoError(t, e.accounts.Create(context.Background(), account,
		&auth.Profile{Name: "Seed", Surname: "Account"}))
	return account
}

// tokenFor issues a token without going through login.
func (e *testEnv) tokenFor(t testingT, account *auth.Account) string {
	t.Helper()
	issued, err := e.tokens.Issue(account)
	require.NoError(t, err)
	return issued.Token
}

func decode(t testingT, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorOf(t testingT, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	decode(t, rec, &resp)
	return resp
}
