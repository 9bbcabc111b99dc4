package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("first caller wins and replays after save", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		res, err := store.Begin(ctx, "k1", "h1", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateNew, res.State)

		res, err = store.Begin(ctx, "k1", "h1", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateInProgress, res.State)

		body := []byte(`{"id":"cs_1"}` + "\n")
		require.NoError(t, store.Save(ctx, "k1", "h1", Response{StatusCode: 201, ContentType: "application/json", Body: body}, time.Hour))

		res, err = store.Begin(ctx, "k1", "h1", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateReplay, res.State)
		require.NotNil(t, res.Cached)
		require.Equal(t, 201, res.Cached.StatusCode)
		require.Equal(t, body, res.Cached.Body)

		rec, err := store.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "h1", rec.RequestHash)
		require.False(t, rec.Pending())
	})

	t.Run("different hash conflicts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Begin(ctx, "k2", "h1", time.Hour)
		require.NoError(t, err)
		res, err := store.Begin(ctx, "k2", "h2", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateConflict, res.State)
	})

	t.Run("release frees a pending key", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Begin(ctx, "k3", "h1", time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.Release(ctx, "k3", "h1"))

		_, err = store.Lookup(ctx, "k3")
		require.ErrorIs(t, err, ErrNotFound)

		res, err := store.Begin(ctx, "k3", "h2", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateNew, res.State)
	})

	t.Run("release keeps completed records", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Begin(ctx, "k4", "h1", time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, "k4", "h1", Response{StatusCode: 200, Body: []byte("{}")}, time.Hour))
		_ = store.Release(ctx, "k4", "h1")

		res, err := store.Begin(ctx, "k4", "h1", time.Hour)
		require.NoError(t, err)
		require.Equal(t, StateReplay, res.State)
	})

	t.Run("save without reservation fails", func(t *testing.T) {
		store := newStore(t)
		err := store.Save(context.Background(), "missing", "h1", Response{StatusCode: 200}, time.Hour)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent first callers execute once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Begin(ctx, "race", "h1", time.Hour)
				if err == nil && res.State == StateNew {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, winners.Load())
	})
}

func TestRequestHash(t *testing.T) {
	t.Parallel()

	a, err := RequestHash("POST", "/checkout_sessions", "", []byte(`{"items":[{"id":"SKU1","quantity":2}],"buyer":null}`))
	require.NoError(t, err)
	b, err := RequestHash("POST", "/checkout_sessions", "", []byte(`{ "buyer": null, "items": [ {"quantity":2, "id":"SKU1"} ] }`))
	require.NoError(t, err)
	require.Equal(t, a, b, "key order and whitespace must not change the hash")

	c, err := RequestHash("POST", "/checkout_sessions", "", []byte(`{"items":[{"id":"SKU1","quantity":3}]}`))
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	d, err := RequestHash("POST", "/checkout_sessions", "dry_run=1", []byte(`{"items":[{"id":"SKU1","quantity":2}],"buyer":null}`))
	require.NoError(t, err)
	require.NotEqual(t, a, d)

	raw, err := RequestHash("POST", "/x", "", []byte("not json"))
	require.NoError(t, err)
	require.Len(t, raw, 64)
}
