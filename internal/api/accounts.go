// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/internal/auth"
)

// UpdateAccountBody is the PUT /accounts/{id} request. Absent fields are
// left unchanged.
type UpdateAccountBody struct {
	Email    *string `json:"email,omitempty" jsonschema:"format=email"`
	Password *string `json:"password,omitempty" jsonschema:"minLength=1"`
	Role     *string `json:"role,omitempty"`
}

// AccountsResponse is the GET /accounts reply.
type AccountsResponse struct {
	Accounts []auth.View `json:"accounts"`
}

// AccountResponse wraps a single account.
type AccountResponse struct {
	Account auth.View `json:"account"`
}

// PingResponse is the GET /ping reply.
type PingResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func accountID(r *http.Request) (ulid.ULID, error) {
	raw := chi.URLParam(r, "id")
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code("REQUEST_INVALID").
			With("field", "id").
			Wrapf(err, "invalid account id %q", raw)
	}
	return id, nil
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListActive(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	views := make([]auth.View, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, a.View())
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: views})
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	account, err := h.accounts.GetActive(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account.View()})
}

func (h *handlers) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var body UpdateAccountBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	account, err := h.accounts.Update(r.Context(), id, auth.UpdateRequest{
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "account updated",
		"account_id", id.String(), "by", principal(r.Context()).AccountID.String())
	writeJSON(w, http.StatusOK, AccountResponse{Account: account.View()})
}

func (h *handlers) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.accounts.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "account deactivated",
		"account_id", id.String(), "by", principal(r.Context()).AccountID.String())
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *handlers) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{
		Status:    "ok",
		Message:   "GymKeeper API is running",
		Timestamp: h.now().UTC(),
	})
}
