package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
	"github.com/shopbridge/acp/checkout"
	"github.com/shopbridge/acp/idempotency"
	"github.com/shopbridge/acp/vault"
)

// testPool connects to ACP_TEST_DATABASE_URL and applies migrations.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("ACP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ACP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := testPool(t)
	applied, err := Migrate(context.Background(), pool)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), " ")
	require.Error(t, err)
}

func TestIdempotencyStore(t *testing.T) {
	store := NewIdempotencyStore(testPool(t))
	ctx := context.Background()
	key := "idem_" + uuid.NewString()

	res, err := store.Begin(ctx, key, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateNew, res.State)

	res, err = store.Begin(ctx, key, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateInProgress, res.State)

	res, err = store.Begin(ctx, key, "hash-b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateConflict, res.State)

	resp := idempotency.Response{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"id":"cs_1"}`)}
	require.NoError(t, store.Save(ctx, key, "hash-a", resp, time.Hour))
	assert.ErrorIs(t, store.Save(ctx, key, "hash-b", resp, time.Hour), idempotency.ErrHashMismatch)

	res, err = store.Begin(ctx, key, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateReplay, res.State)
	require.NotNil(t, res.Cached)
	assert.Equal(t, resp, *res.Cached)

	// A saved response is not released.
	require.NoError(t, store.Release(ctx, key, "hash-a"))
	rec, err := store.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, rec.Pending())

	released := "idem_" + uuid.NewString()
	_, err = store.Begin(ctx, released, "hash-a", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, released, "hash-a"))
	_, err = store.Lookup(ctx, released)
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}

func TestIdempotencyStoreConcurrentBegin(t *testing.T) {
	store := NewIdempotencyStore(testPool(t))
	ctx := context.Background()
	key := "idem_" + uuid.NewString()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Begin(ctx, key, "hash", time.Hour)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			if res.State == idempotency.StateNew {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestIdempotencyStorePurge(t *testing.T) {
	store := NewIdempotencyStore(testPool(t))
	ctx := context.Background()
	key := "idem_" + uuid.NewString()

	_, err := store.Begin(ctx, key, "hash", time.Millisecond)
	require.NoError(t, err)

	n, err := store.PurgeExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
	_, err = store.Lookup(ctx, key)
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}

func TestTokenStore(t *testing.T) {
	store := NewTokenStore(testPool(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	expires := now.Add(time.Hour)
	value := "pm_" + uuid.NewString()

	older := vault.Token{ID: "vt_" + uuid.NewString(), Value: value, Provider: "stripe", CheckoutSessionID: "cs_1",
		MaxAmount: 5000, Currency: "usd", ExpiresAt: &expires, CreatedAt: now.Add(-time.Minute)}
	newer := older
	newer.ID = "vt_" + uuid.NewString()
	newer.CreatedAt = now
	newer.Metadata = map[string]string{"source": "agent_checkout"}
	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, newer))

	found, err := store.FindByValue(ctx, value, "stripe")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, found.ID)
	assert.Equal(t, "cs_1", found.CheckoutSessionID)
	assert.Equal(t, "agent_checkout", found.Metadata["source"])

	_, err = store.FindByValue(ctx, value, "adyen")
	assert.ErrorIs(t, err, vault.ErrTokenNotFound)

	require.NoError(t, store.Consume(ctx, newer.ID, "ord_1", now))
	assert.ErrorIs(t, store.Consume(ctx, newer.ID, "ord_2", now), vault.ErrTokenUsed)
	assert.ErrorIs(t, store.Consume(ctx, older.ID, "ord_3", expires), vault.ErrTokenExpired)
	assert.ErrorIs(t, store.Consume(ctx, "vt_missing", "ord_4", now), vault.ErrTokenNotFound)

	got, err := store.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, "ord_1", got.OrderID)
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore(testPool(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := "cs_" + uuid.NewString()

	session := &checkout.Session{
		ID: id,
		Snapshot: acp.CheckoutSession{
			ID:        id,
			Currency:  "usd",
			Status:    acp.CheckoutSessionStatusReadyForPayment,
			LineItems: []acp.LineItem{{ID: "li_latte_0", Item: acp.Item{ID: "latte", Quantity: 2}, Subtotal: 1300}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, session))

	stale, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.Snapshot.LineItems, stale.Snapshot.LineItems)

	session.CustomerID = "cus_1"
	require.NoError(t, store.Update(ctx, session))
	assert.Equal(t, int64(2), session.Version)
	assert.ErrorIs(t, store.Update(ctx, stale), checkout.ErrVersionConflict)
	assert.ErrorIs(t, store.Cancel(ctx, id, stale.Version, stale.Snapshot, now), checkout.ErrVersionConflict)

	holder, err := store.ClaimCompletion(ctx, id, "vt_a")
	require.NoError(t, err)
	assert.Equal(t, "vt_a", holder)
	holder, err = store.ClaimCompletion(ctx, id, "vt_b")
	assert.ErrorIs(t, err, checkout.ErrCompletionClaimed)
	assert.Equal(t, "vt_a", holder)
	assert.ErrorIs(t, store.Cancel(ctx, id, session.Version, session.Snapshot, now), checkout.ErrCompletionClaimed)

	completed := session.Snapshot
	completed.Status = acp.CheckoutSessionStatusCompleted
	require.NoError(t, store.Complete(ctx, id, "vt_a", checkout.Completion{
		OrderID: "ord_1", PermalinkURL: "https://shop.example/account/order/ord_1",
		PaymentStatus: capture.StatusPending, Snapshot: completed, CompletedAt: now,
	}))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, acp.CheckoutSessionStatusCompleted, got.Status())
	assert.Equal(t, "ord_1", got.OrderID)
	assert.Equal(t, capture.StatusPending, got.PaymentStatus)

	_, err = store.ClaimCompletion(ctx, id, "vt_c")
	assert.ErrorIs(t, err, checkout.ErrSessionClosed)
	err = store.Cancel(ctx, id, session.Version, completed, now)
	assert.True(t, errors.Is(err, checkout.ErrSessionClosed))

	_, err = store.Get(ctx, "cs_missing")
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
}
