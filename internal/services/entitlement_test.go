package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCache is a DatasetCache that remembers the last Put
type recordingCache struct {
	mu          sync.Mutex
	dataset     *models.SharedDataset
	ttl         time.Duration
	invalidated int
	getErr      error
}

func (c *recordingCache) Get(_ context.Context) (*models.SharedDataset, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	if c.dataset == nil {
		return nil, false, nil
	}
	d := *c.dataset
	return &d, true, nil
}

func (c *recordingCache) Put(_ context.Context, d *models.SharedDataset, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *d
	c.dataset = &cp
	c.ttl = ttl
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataset = nil
	c.invalidated++
	return nil
}

func newTestEntitlementService(store *memoryStore, cache DatasetCache) *EntitlementService {
	svc := NewEntitlementService(store, cache, 5*time.Minute, testLogger())
	svc.now = fixedNow
	return svc
}

func TestGrant(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow.Add(-time.Hour), testNow.Add(23*time.Hour))
	svc := newTestEntitlementService(store, nil)

	ent, err := svc.Grant(context.Background(), testWallet, dataset.ID, "0xfeed", json.RawMessage(`{"txHash":"0xfeed"}`))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, ent.ID)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", ent.WalletAddress)
	assert.Equal(t, dataset.ID, ent.SharedDatasetID)
	assert.Equal(t, "0xfeed", ent.TxHash)
	assert.True(t, ent.ValidUntil.Equal(dataset.ExpiresAt))
	require.Len(t, store.entitlements, 1)
}

func TestGrant_Errors(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow, testNow.Add(time.Hour))
	svc := newTestEntitlementService(store, nil)
	ctx := context.Background()

	_, err := svc.Grant(ctx, "not-a-wallet", dataset.ID, "0x1", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Grant(ctx, testWallet, dataset.ID, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Grant(ctx, testWallet, uuid.New(), "0x1", nil)
	assert.ErrorIs(t, err, ErrDatasetUnavailable)

	store.getErr = errStoreDown
	_, err = svc.Grant(ctx, testWallet, dataset.ID, "0x1", nil)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrDatasetUnavailable)
	store.getErr = nil

	store.insertErr = errStoreDown
	_, err = svc.Grant(ctx, testWallet, dataset.ID, "0x1", nil)
	assert.ErrorIs(t, err, errStoreDown)

	assert.Empty(t, store.entitlements)
}

func TestStatus_NoEntitlement(t *testing.T) {
	svc := newTestEntitlementService(newMemoryStore(), nil)

	status, err := svc.Status(context.Background(), testWallet)
	require.NoError(t, err)

	assert.False(t, status.IsValid)
	assert.Nil(t, status.ValidUntil)
	assert.Nil(t, status.Entitlement)
	assert.Nil(t, status.Dataset)
	assert.Equal(t, testNow, status.Now)
}

func TestStatus_ValidityFollowsClock(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow, testNow.Add(time.Hour))
	svc := newTestEntitlementService(store, nil)

	_, err := svc.Grant(context.Background(), testWallet, dataset.ID, "0x1", nil)
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, status.IsValid)
	require.NotNil(t, status.Dataset)
	assert.Equal(t, dataset.ID, status.Dataset.ID)
	assert.JSONEq(t, string(dataset.Items), string(status.Dataset.Items))

	svc.now = func() time.Time { return dataset.ExpiresAt }
	status, err = svc.Status(context.Background(), testWallet)
	require.NoError(t, err)
	assert.False(t, status.IsValid)
	require.NotNil(t, status.ValidUntil)
	assert.True(t, status.ValidUntil.Equal(dataset.ExpiresAt))
}

func TestStatus_CaseInsensitiveWallet(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow, testNow.Add(time.Hour))
	svc := newTestEntitlementService(store, nil)

	_, err := svc.Grant(context.Background(), testWallet, dataset.ID, "0x1", nil)
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.True(t, status.IsValid)
}

func TestStatus_NewestEntitlementWins(t *testing.T) {
	store := newMemoryStore()
	older := store.addDataset(testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	newer := store.addDataset(testNow.Add(-time.Minute), testNow.Add(time.Hour))
	svc := newTestEntitlementService(store, nil)

	_, err := svc.Grant(context.Background(), testWallet, newer.ID, "0x1", nil)
	require.NoError(t, err)
	_, err = svc.Grant(context.Background(), testWallet, older.ID, "0x2", nil)
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, "0x2", status.Entitlement.TxHash)
	assert.False(t, status.IsValid)
}

func TestStatus_DatasetRemoved(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow, testNow.Add(time.Hour))
	svc := newTestEntitlementService(store, nil)

	_, err := svc.Grant(context.Background(), testWallet, dataset.ID, "0x1", nil)
	require.NoError(t, err)
	store.removeDataset(dataset.ID)

	status, err := svc.Status(context.Background(), testWallet)
	require.NoError(t, err)
	assert.True(t, status.IsValid)
	assert.Nil(t, status.Dataset)
}

func TestStatus_Errors(t *testing.T) {
	store := newMemoryStore()
	svc := newTestEntitlementService(store, nil)

	_, err := svc.Status(context.Background(), "0xnope")
	assert.ErrorIs(t, err, ErrInvalidInput)

	store.lookupErr = errStoreDown
	_, err = svc.Status(context.Background(), testWallet)
	assert.ErrorIs(t, err, ErrEntitlementLookupFailed)
	assert.False(t, errors.Is(err, ErrInvalidInput))
}

func TestLatestActiveDataset(t *testing.T) {
	t.Run("prefers newest unexpired", func(t *testing.T) {
		store := newMemoryStore()
		active := store.addDataset(testNow.Add(-2*time.Hour), testNow.Add(time.Hour))
		store.addDataset(testNow.Add(-time.Hour), testNow.Add(-time.Minute))
		svc := newTestEntitlementService(store, nil)

		got, err := svc.LatestActiveDataset(context.Background())
		require.NoError(t, err)
		assert.Equal(t, active.ID, got.ID)
	})

	t.Run("falls back to newest expired", func(t *testing.T) {
		store := newMemoryStore()
		store.addDataset(testNow.Add(-3*time.Hour), testNow.Add(-2*time.Hour))
		newest := store.addDataset(testNow.Add(-time.Hour), testNow.Add(-time.Minute))
		svc := newTestEntitlementService(store, nil)

		got, err := svc.LatestActiveDataset(context.Background())
		require.NoError(t, err)
		assert.Equal(t, newest.ID, got.ID)
	})

	t.Run("empty store", func(t *testing.T) {
		svc := newTestEntitlementService(newMemoryStore(), nil)

		_, err := svc.LatestActiveDataset(context.Background())
		assert.ErrorIs(t, err, ErrNoDataAvailable)
	})
}

func TestLatestActiveDataset_Cache(t *testing.T) {
	store := newMemoryStore()
	dataset := store.addDataset(testNow, testNow.Add(2*time.Minute))
	cache := &recordingCache{}
	svc := newTestEntitlementService(store, cache)

	got, err := svc.LatestActiveDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, got.ID)
	assert.Equal(t, 2*time.Minute, cache.ttl)

	store.removeDataset(dataset.ID)
	got, err = svc.LatestActiveDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, got.ID)

	cache.getErr = errStoreDown
	_, err = svc.LatestActiveDataset(context.Background())
	assert.ErrorIs(t, err, ErrNoDataAvailable)
}

func TestPublishDataset(t *testing.T) {
	store := newMemoryStore()
	cache := &recordingCache{}
	svc := newTestEntitlementService(store, cache)

	dataset, err := svc.PublishDataset(context.Background(), json.RawMessage(`[{"pair":"ETH/USDC"}]`), 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, dataset.ExpiresAt.Equal(testNow.Add(24*time.Hour)))
	assert.Equal(t, 1, cache.invalidated)

	got, err := svc.LatestActiveDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, got.ID)

	_, err = svc.PublishDataset(context.Background(), json.RawMessage(`{"pair":"ETH/USDC"}`), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.PublishDataset(context.Background(), json.RawMessage(`[]`), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
