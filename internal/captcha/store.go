// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package captcha issues and verifies single-use image challenges.
package captcha

import (
	"context"
	"sync"
	"time"
)

// Challenge is one issued CAPTCHA.
type Challenge struct {
	ID        string
	Answer    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Store holds pending challenges.
type Store interface {
	// Save stores a challenge under its ID.
	Save(ctx context.Context, c *Challenge) error

	// Take removes the challenge with id and returns it. The second result
	// is false when no such challenge exists. Removal and lookup are atomic,
	// so at most one caller receives a given challenge.
	Take(ctx context.Context, id string) (*Challenge, bool, error)

	// PurgeExpired removes every challenge expired at now and returns the
	// number removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a process-local Store. Challenges are lost on restart.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]*Challenge)}
}

// Save stores c, replacing any challenge with the same ID.
func (s *MemoryStore) Save(_ context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	s.challenges[c.ID] = &stored
	return nil
}

// Take removes and returns the challenge with id.
func (s *MemoryStore) Take(_ context.Context, id string) (*Challenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, false, nil
	}
	delete(s.challenges, id)
	return c, true, nil
}

// PurgeExpired removes challenges expired at now.
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.challenges {
		if c.Expired(now) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored challenges.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
