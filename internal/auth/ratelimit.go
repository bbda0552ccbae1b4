// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"sync"
	"time"
)

// Lockout defaults.
const (
	// LockoutDuration is the time an account is locked out after too many
	// failures. It is also the window in which failures are counted.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of failures that triggers a lockout.
	LockoutThreshold = 5
)

// LockoutPolicy configures failed-login lockout. A zero Threshold disables it.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the built-in lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: LockoutThreshold, Duration: LockoutDuration}
}

// LockoutStatus describes the lockout state of one account.
type LockoutStatus struct {
	Failures         int
	IsLockedOut      bool
	LockoutRemaining time.Duration
}

// FailureTracker counts failed logins per account.
type FailureTracker interface {
	// Check returns the current lockout state for key.
	Check(key string) LockoutStatus

	// RecordFailure counts a failed attempt and returns the resulting state.
	RecordFailure(key string) LockoutStatus

	// Reset clears the failure record for key.
	Reset(key string)
}

type failureRecord struct {
	failures    int
	firstAt     time.Time
	lockedUntil time.Time
}

// MemoryFailureTracker is a process-local FailureTracker. Records are lost
// on restart and not shared between instances.
type MemoryFailureTracker struct {
	mu      sync.Mutex
	policy  LockoutPolicy
	now     func() time.Time
	records map[string]*failureRecord
}

// NewMemoryFailureTracker creates a tracker enforcing policy.
func NewMemoryFailureTracker(policy LockoutPolicy) *MemoryFailureTracker {
	return NewMemoryFailureTrackerWithClock(policy, time.Now)
}

// NewMemoryFailureTrackerWithClock creates a tracker with an injected clock.
func NewMemoryFailureTrackerWithClock(policy LockoutPolicy, now func() time.Time) *MemoryFailureTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryFailureTracker{
		policy:  policy,
		now:     now,
		records: make(map[string]*failureRecord),
	}
}

// Check returns the current lockout state for key.
func (t *MemoryFailureTracker) Check(key string) LockoutStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(key, t.now())
}

// RecordFailure counts a failed attempt. Reaching the threshold locks the
// account for the policy duration.
func (t *MemoryFailureTracker) RecordFailure(key string) LockoutStatus {
	if t.policy.Threshold <= 0 {
		return LockoutStatus{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)
	rec, ok := t.records[key]
	if !ok {
		rec = &failureRecord{firstAt: now}
		t.records[key] = rec
	}
	if now.Before(rec.lockedUntil) {
		return t.statusLocked(key, now)
	}

	rec.failures++
	if rec.failures >= t.policy.Threshold {
		rec.lockedUntil = now.Add(t.policy.Duration)
	}
	return t.statusLocked(key, now)
}

// Reset clears the failure record for key.
func (t *MemoryFailureTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key)
}

// Prune drops records whose window and lockout have both passed.
// RecordFailure prunes on every call, so records of accounts that never
// log in again do not accumulate.
func (t *MemoryFailureTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(t.now())
}

// Len returns the number of tracked records.
func (t *MemoryFailureTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func (t *MemoryFailureTracker) pruneLocked(now time.Time) int {
	removed := 0
	for key, rec := range t.records {
		if t.staleLocked(rec, now) {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

func (t *MemoryFailureTracker) staleLocked(rec *failureRecord, now time.Time) bool {
	return !now.Before(rec.lockedUntil) && now.Sub(rec.firstAt) >= t.policy.Duration
}

func (t *MemoryFailureTracker) statusLocked(key string, now time.Time) LockoutStatus {
	rec, ok := t.records[key]
	if !ok || t.staleLocked(rec, now) {
		return LockoutStatus{}
	}
	status := LockoutStatus{Failures: rec.failures}
	if now.Before(rec.lockedUntil) {
		status.IsLockedOut = true
		status.LockoutRemaining = rec.lockedUntil.Sub(now)
	}
	return status
}

// NoopFailureTracker never locks anything out.
type NoopFailureTracker struct{}

// Check always reports no lockout.
func (NoopFailureTracker) Check(string) LockoutStatus { return LockoutStatus{} }

// RecordFailure is a no-op.
func (NoopFailureTracker) RecordFailure(string) LockoutStatus { return LockoutStatus{} }

// Reset is a no-op.
func (NoopFailureTracker) Reset(string) {}
