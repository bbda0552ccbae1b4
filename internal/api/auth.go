// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/internal/auth"
	"github.com/gymkeeper/gymkeeper/pkg/errutil"
)

// RegisterBody is the POST /auth/register request.
type RegisterBody struct {
	Email    string `json:"email" jsonschema:"required,format=email"`
	Password string `json:"password" jsonschema:"required,minLength=1"`
	Name     string `json:"name" jsonschema:"required,minLength=2,maxLength=100"`
	Surname  string `json:"surname" jsonschema:"required,minLength=2,maxLength=100"`
	Phone    string `json:"phone,omitempty" jsonschema:"pattern=^[0-9 +()-]*$"`
	Address  string `json:"address,omitempty" jsonschema:"maxLength=255"`
	Role     string `json:"role,omitempty" jsonschema:"description=member or admin; anything else registers a member"`
	CaptchaFields
}

// RegisterResponse is the 201 reply to a registration.
type RegisterResponse struct {
	Success          bool          `json:"success"`
	AccountID        string        `json:"accountId"`
	PasswordStrength auth.Strength `json:"passwordStrength"`
}

// LoginBody is the POST /auth/login request.
type LoginBody struct {
	Email    string `json:"email" jsonschema:"required,format=email"`
	Password string `json:"password" jsonschema:"required,minLength=1"`
	CaptchaFields
}

// LoginResponse is the 200 reply to a login.
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Account   auth.View `json:"account"`
}

// MeResponse is the GET /auth/me reply.
type MeResponse struct {
	Account auth.View     `json:"account"`
	Profile *auth.Profile `json:"profile"`
}

// ChangePasswordBody is the POST /auth/password request.
type ChangePasswordBody struct {
	CurrentPassword string `json:"currentPassword" jsonschema:"required,minLength=1"`
	NewPassword     string `json:"newPassword" jsonschema:"required,minLength=1"`
}

// SuccessResponse acknowledges an operation with no other result.
type SuccessResponse struct {
	Success bool `json:"success"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return oops.Code("REQUEST_INVALID").Wrapf(err, "malformed JSON body")
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "error"
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body RegisterBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Register(r.Context(), auth.RegisterRequest{
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
		Profile: auth.Profile{
			Name:    body.Name,
			Surname: body.Surname,
			Phone:   body.Phone,
			Address: body.Address,
		},
	})
	h.metrics.RecordRegistration(outcomeOf(err))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account registered",
		"account_id", result.Account.ID.String(),
		"role", string(result.Account.Role),
		"password_strength", string(result.Strength))
	writeJSON(w, http.StatusCreated, RegisterResponse{
		Success:          true,
		AccountID:        result.Account.ID.String(),
		PasswordStrength: result.Strength,
	})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body LoginBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), body.Email, body.Password)
	h.metrics.RecordLogin(outcomeOf(err))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Token:     result.Token.Token,
		ExpiresAt: result.Token.ExpiresAt.UTC(),
		Account:   result.Account.View(),
	})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r.Context())
	account, profile, err := h.accounts.Me(r.Context(), p.AccountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{Account: account.View(), Profile: profile})
}

func (h *handlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var body ChangePasswordBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p := principal(r.Context())
	if err := h.accounts.ChangePassword(r.Context(), p.AccountID, body.CurrentPassword, body.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "password changed", "account_id", p.AccountID.String())
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
