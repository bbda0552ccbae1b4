// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package captcha

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/cases"
)

// DefaultTTL is how long an issued challenge stays answerable.
const DefaultTTL = 10 * time.Minute

var tracer = otel.Tracer("github.com/gymkeeper/gymkeeper/internal/captcha")

// Outcome is the result of verifying an answer.
type Outcome int

// Verification outcomes.
const (
	OutcomeInvalid Outcome = iota
	OutcomeOK
	OutcomeExpired
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Err converts a failed outcome into a coded error. OutcomeOK returns nil.
func (o Outcome) Err() error {
	switch o {
	case OutcomeOK:
		return nil
	case OutcomeExpired:
		return oops.Code("CAPTCHA_EXPIRED").Errorf("captcha expired")
	default:
		return oops.Code("CAPTCHA_INVALID").Errorf("captcha invalid")
	}
}

// Issued is a newly issued challenge as shown to the client.
type Issued struct {
	ID        string
	Image     string
	ExpiresAt time.Time
}

// Service issues and verifies challenges.
type Service struct {
	store     Store
	generator Generator
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the challenge lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service.
func NewService(store Store, generator Generator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Code("CAPTCHA_INVALID_SERVICE").Errorf("challenge store is required")
	}
	if generator == nil {
		return nil, oops.Code("CAPTCHA_INVALID_SERVICE").Errorf("generator is required")
	}
	s := &Service{
		store:     store,
		generator: generator,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the challenge lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue creates, stores and renders a new challenge. Expired challenges are
// purged on the way.
func (s *Service) Issue(ctx context.Context) (*Issued, error) {
	ctx, span := tracer.Start(ctx, "captcha.Issue")
	defer span.End()

	now := s.now()
	if purged, err := s.store.PurgeExpired(ctx, now); err != nil {
		s.logger.WarnContext(ctx, "purge expired captchas failed", "operation", "purge", "error", err)
	} else if purged > 0 {
		s.logger.DebugContext(ctx, "purged expired captchas", "count", purged)
	}

	answer, image, err := s.generator.Generate()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, oops.Code("CAPTCHA_ISSUE_FAILED").With("operation", "generate").Wrap(err)
	}

	c := &Challenge{
		ID:        ulid.Make().String(),
		Answer:    answer,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, oops.Code("CAPTCHA_ISSUE_FAILED").With("operation", "save").Wrap(err)
	}

	span.SetAttributes(attribute.String("captcha.id", c.ID))
	return &Issued{ID: c.ID, Image: image, ExpiresAt: c.ExpiresAt}, nil
}

// Verify consumes the challenge with id and checks answer against it. The
// challenge is removed whatever the outcome, so a second call for the same
// id is always OutcomeInvalid.
func (s *Service) Verify(ctx context.Context, id, answer string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "captcha.Verify")
	defer span.End()

	c, ok, err := s.store.Take(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "take failed")
		return OutcomeInvalid, oops.Code("CAPTCHA_VERIFY_FAILED").With("captcha_id", id).Wrap(err)
	}

	outcome := OutcomeInvalid
	switch {
	case !ok:
	case c.Expired(s.now()):
		outcome = OutcomeExpired
	case answersMatch(c.Answer, answer):
		outcome = OutcomeOK
	}
	span.SetAttributes(attribute.String("captcha.outcome", outcome.String()))
	return outcome, nil
}

func answersMatch(expected, given string) bool {
	fold := cases.Fold()
	a := fold.String(expected)
	b := fold.String(strings.TrimSpace(given))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
