package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	t.Parallel()

	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Begin(ctx, "k", "h1", DefaultTTL)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "k", "h1", Response{StatusCode: 201, Body: []byte("{}")}, DefaultTTL))

	now = now.Add(DefaultTTL - time.Second)
	res, err := store.Begin(ctx, "k", "h2", DefaultTTL)
	require.NoError(t, err)
	require.Equal(t, StateConflict, res.State)

	now = now.Add(2 * time.Second)
	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	res, err = store.Begin(ctx, "k", "h2", DefaultTTL)
	require.NoError(t, err)
	require.Equal(t, StateNew, res.State)
}

func TestMemoryStorePendingLease(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Begin(ctx, "abandoned", "h1", DefaultLease)
	require.NoError(t, err)
	_, err = store.Begin(ctx, "saved", "h1", DefaultLease)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "saved", "h1", Response{StatusCode: 201, Body: []byte("{}")}, DefaultTTL))

	now = now.Add(DefaultLease + time.Second)

	res, err := store.Begin(ctx, "abandoned", "h1", DefaultLease)
	require.NoError(t, err)
	require.Equal(t, StateNew, res.State)

	res, err = store.Begin(ctx, "saved", "h1", DefaultLease)
	require.NoError(t, err)
	require.Equal(t, StateReplay, res.State)
}
