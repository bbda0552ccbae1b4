// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package captcha_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gymkeeper/gymkeeper/internal/captcha"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func challenge(id string, expiresAt time.Time) *captcha.Challenge {
	return &captcha.Challenge{ID: id, Answer: "aB3dE9", CreatedAt: t0, ExpiresAt: expiresAt}
}

func TestMemoryStore_SaveTake(t *testing.T) {
	ctx := context.Background()
	store := captcha.NewMemoryStore()

	require.NoError(t, store.Save(ctx, challenge("one", t0.Add(time.Minute))))
	assert.Equal(t, 1, store.Len())

	got, ok, err := store.Take(ctx, "one")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aB3dE9", got.Answer)
	assert.Equal(t, 0, store.Len())

	_, ok, err = store.Take(ctx, "one")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_SaveCopiesChallenge(t *testing.T) {
	ctx := context.Background()
	store := captcha.NewMemoryStore()

	c := challenge("one", t0.Add(time.Minute))
	require.NoError(t, store.Save(ctx, c))
	c.Answer = "changed"

	got, ok, err := store.Take(ctx, "one")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aB3dE9", got.Answer)
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := captcha.NewMemoryStore()

	require.NoError(t, store.Save(ctx, challenge("old", t0.Add(-time.Second))))
	require.NoError(t, store.Save(ctx, challenge("edge", t0)))
	require.NoError(t, store.Save(ctx, challenge("fresh", t0.Add(time.Minute))))

	removed, err := store.PurgeExpired(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())

	_, ok, _ := store.Take(ctx, "edge")
	assert.True(t, ok, "a challenge is still valid at its exact expiry instant")
}

func TestMemoryStore_ConcurrentTakeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := captcha.NewMemoryStore()
	require.NoError(t, store.Save(ctx, challenge("race", t0.Add(time.Minute))))

	const workers = 32
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := store.Take(ctx, "race"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
