// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package api exposes the GymKeeper HTTP JSON API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/gymkeeper/gymkeeper/internal/auth"
	"github.com/gymkeeper/gymkeeper/internal/captcha"
	"github.com/gymkeeper/gymkeeper/internal/observability"
)

// Deps are the collaborators of the API router.
type Deps struct {
	Auth     *auth.Service
	Accounts *auth.AccountService
	Tokens   *auth.TokenManager
	Captcha  *captcha.Service
	Metrics  *observability.Metrics // optional
	Logger   *slog.Logger           // optional

	// AllowedOrigins are CORS origin glob patterns.
	AllowedOrigins []string

	// CaptchaRate and CaptchaBurst throttle GET /captcha per client IP.
	// A zero rate disables throttling.
	CaptchaRate  rate.Limit
	CaptchaBurst int

	// Now is the clock for /ping. Defaults to time.Now.
	Now func() time.Time
}

type handlers struct {
	auth     *auth.Service
	accounts *auth.AccountService
	captcha  *captcha.Service
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter builds the API handler.
func NewRouter(d Deps) (http.Handler, error) {
	switch {
	case d.Auth == nil:
		return nil, oops.Code("API_INVALID_DEPS").Errorf("auth service is required")
	case d.Accounts == nil:
		return nil, oops.Code("API_INVALID_DEPS").Errorf("account service is required")
	case d.Tokens == nil:
		return nil, oops.Code("API_INVALID_DEPS").Errorf("token manager is required")
	case d.Captcha == nil:
		return nil, oops.Code("API_INVALID_DEPS").Errorf("captcha service is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	cors, err := CORS(d.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	registerSchema, err := NewRequestSchema("register", &RegisterBody{})
	if err != nil {
		return nil, err
	}
	loginSchema, err := NewRequestSchema("login", &LoginBody{})
	if err != nil {
		return nil, err
	}
	passwordSchema, err := NewRequestSchema("change-password", &ChangePasswordBody{})
	if err != nil {
		return nil, err
	}
	updateSchema, err := NewRequestSchema("update-account", &UpdateAccountBody{})
	if err != nil {
		return nil, err
	}

	h := &handlers{
		auth:     d.Auth,
		accounts: d.Accounts,
		captcha:  d.Captcha,
		metrics:  d.Metrics,
		logger:   logger,
		now:      now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})

	r.Get("/ping", h.ping)

	r.Group(func(r chi.Router) {
		if d.CaptchaRate > 0 {
			r.Use(RateLimit(NewIPRateLimiter(d.CaptchaRate, d.CaptchaBurst), logger))
		}
		r.Get("/captcha", h.issueCaptcha)
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(ValidateBody(registerSchema, logger), h.requireCaptcha).
			Post("/register", h.register)
		r.With(ValidateBody(loginSchema, logger), h.requireCaptcha).
			Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(d.Tokens, logger))
			r.Get("/me", h.me)
			r.With(ValidateBody(passwordSchema, logger)).Post("/password", h.changePassword)
		})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Use(RequireToken(d.Tokens, logger))
		r.Use(RequireRole(auth.RoleAdmin, logger))
		r.Get("/", h.listAccounts)
		r.Get("/{id}", h.getAccount)
		r.With(ValidateBody(updateSchema, logger)).Put("/{id}", h.updateAccount)
		r.Delete("/{id}", h.deleteAccount)
	})

	return r, nil
}
