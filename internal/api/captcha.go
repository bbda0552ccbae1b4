// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// CaptchaResponse is returned by GET /captcha.
type CaptchaResponse struct {
	CaptchaID string    `json:"captchaId"`
	Image     string    `json:"image"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CaptchaFields are the challenge fields every gated body carries.
type CaptchaFields struct {
	CaptchaID     string `json:"captchaId,omitempty" jsonschema:"description=Id returned by GET /captcha"`
	CaptchaAnswer string `json:"captchaAnswer,omitempty" jsonschema:"description=Characters shown in the image"`
}

func (h *handlers) issueCaptcha(w http.ResponseWriter, r *http.Request) {
	issued, err := h.captcha.Issue(r.Context())
	if err != nil {
		h.metrics.RecordCaptcha("issue", "error")
		writeError(w, r, h.logger, err)
		return
	}
	h.metrics.RecordCaptcha("issue", "ok")
	writeJSON(w, http.StatusOK, CaptchaResponse{
		CaptchaID: issued.ID,
		Image:     issued.Image,
		ExpiresAt: issued.ExpiresAt.UTC(),
	})
}

// requireCaptcha verifies and consumes the challenge named in the JSON body
// before passing the request on with its body intact.
func (h *handlers) requireCaptcha(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}

		var fields CaptchaFields
		_ = json.Unmarshal(body, &fields) //nolint:errcheck // malformed bodies count as missing fields
		id := strings.TrimSpace(fields.CaptchaID)
		if id == "" || strings.TrimSpace(fields.CaptchaAnswer) == "" {
			h.metrics.RecordCaptcha("verify", "missing")
			writeError(w, r, h.logger, oops.Code("CAPTCHA_REQUIRED").Errorf("captcha id and answer are required"))
			return
		}

		outcome, err := h.captcha.Verify(r.Context(), id, fields.CaptchaAnswer)
		if err != nil {
			h.metrics.RecordCaptcha("verify", "error")
			writeError(w, r, h.logger, err)
			return
		}
		h.metrics.RecordCaptcha("verify", outcome.String())
		if err := outcome.Err(); err != nil {
			h.logger.InfoContext(r.Context(), "captcha rejected",
				"captcha_id", id, "outcome", outcome.String(), "path", r.URL.Path)
			writeError(w, r, h.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
