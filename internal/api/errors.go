// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/pkg/errutil"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code,omitempty"`
	Details []FieldDetail `json:"details,omitempty"`
}

// FieldDetail describes one rejected request field.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorMapping struct {
	status  int
	message string // empty: use the error's own message
}

// errorMappings assigns an HTTP status to each client-facing error code.
// Codes not listed are internal errors.
var errorMappings = map[string]errorMapping{
	"REQUEST_INVALID":        {http.StatusBadRequest, ""},
	"AUTH_WEAK_PASSWORD":     {http.StatusBadRequest, ""},
	"AUTH_PASSWORD_TOO_LONG": {http.StatusBadRequest, ""},
	"AUTH_EMAIL_TAKEN":       {http.StatusBadRequest, "email is already registered"},
	"AUTH_INVALID_EMAIL":     {http.StatusBadRequest, ""},
	"CAPTCHA_REQUIRED":       {http.StatusBadRequest, "captcha id and answer are required"},

	"AUTH_INVALID_CREDENTIALS": {http.StatusUnauthorized, "invalid email or password"},
	"CAPTCHA_INVALID":          {http.StatusUnauthorized, "captcha invalid"},
	"CAPTCHA_EXPIRED":          {http.StatusUnauthorized, "captcha expired"},
	"TOKEN_MISSING":            {http.StatusUnauthorized, "token not provided"},
	"TOKEN_INVALID":            {http.StatusUnauthorized, "invalid token"},

	"ACCESS_DENIED":         {http.StatusForbidden, "access denied"},
	"AUTH_ACCOUNT_INACTIVE": {http.StatusForbidden, "account is inactive"},

	"ACCOUNT_NOT_FOUND": {http.StatusNotFound, "account not found"},

	"AUTH_ACCOUNT_LOCKED": {http.StatusTooManyRequests, "too many failed login attempts, try again later"},
	"RATE_LIMITED":        {http.StatusTooManyRequests, "too many requests"},

	"AUTH_CONFIG_INVALID": {http.StatusInternalServerError, "server configuration error"},
}

const internalErrorMessage = "internal server error"

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if m, ok := errorMappings[errutil.Code(err)]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// errorBody builds the reply for err. Internal errors never leak their
// message.
func errorBody(err error) (int, ErrorResponse) {
	code := errutil.Code(err)
	m, ok := errorMappings[code]
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Error: internalErrorMessage}
	}

	body := ErrorResponse{Error: m.message, Code: code}
	if body.Error == "" {
		body.Error = err.Error()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if field, ok := oopsErr.Context()["field"].(string); ok && code == "REQUEST_INVALID" {
			body.Details = []FieldDetail{{Field: field, Message: err.Error()}}
		}
	}
	return m.status, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errchkjson,errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

// writeError replies with the mapped status and body. 5xx errors are logged
// with their full context.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err)
	}
	writeJSON(w, status, body)
}

func requestInvalid(msg string) error {
	return oops.Code("REQUEST_INVALID").Errorf("%s", msg)
}
