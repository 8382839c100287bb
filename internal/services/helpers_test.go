package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/arbfeed/paygate/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	testWallet    = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	testSpender   = "0x2222222222222222222222222222222222222222"
	testMerchant  = "0x1111111111111111111111111111111111111111"
	testToken     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	testNetwork   = "base"
	testAmount    = "1004500"
	testBypassKey = "let-me-in"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fixedNow() time.Time { return testNow }

func testSig() string {
	return "0x" + strings.Repeat("ab", 32) + strings.Repeat("cd", 32) + "1b"
}

func testNonce() string {
	return "0x" + strings.Repeat("0f", 32)
}

func validRequirements() *models.PaymentRequirements {
	return &models.PaymentRequirements{
		Network:   testNetwork,
		Token:     testToken,
		Recipient: testMerchant,
		Amount:    testAmount,
		Nonce:     testNonce(),
		Deadline:  testNow.Add(time.Hour).Unix(),
	}
}

func validPermit() *models.Permit {
	return &models.Permit{
		Owner:    testWallet,
		Spender:  testSpender,
		Value:    testAmount,
		Deadline: testNow.Add(30 * time.Minute).Unix(),
		Nonce:    testNonce(),
		Sig:      testSig(),
	}
}

// memoryStore is an in-memory EntitlementStore
type memoryStore struct {
	mu           sync.Mutex
	datasets     []models.SharedDataset
	entitlements []models.Entitlement
	insertErr    error
	lookupErr    error
	getErr       error
	clock        func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{clock: fixedNow}
}

func (m *memoryStore) addDataset(createdAt, expiresAt time.Time) models.SharedDataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := models.SharedDataset{
		ID:        uuid.New(),
		Items:     []byte(`[{"pair":"ETH/USDC","spread_bps":42}]`),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	m.datasets = append(m.datasets, d)
	return d
}

func (m *memoryStore) newestFirst(filter func(models.SharedDataset) bool) (*models.SharedDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]models.SharedDataset(nil), m.datasets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	for _, d := range sorted {
		if filter(d) {
			d := d
			return &d, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memoryStore) LatestUnexpiredDataset(_ context.Context, now time.Time) (*models.SharedDataset, error) {
	return m.newestFirst(func(d models.SharedDataset) bool { return d.ExpiresAt.After(now) })
}

func (m *memoryStore) LatestDataset(_ context.Context) (*models.SharedDataset, error) {
	return m.newestFirst(func(models.SharedDataset) bool { return true })
}

func (m *memoryStore) GetDataset(_ context.Context, id uuid.UUID) (*models.SharedDataset, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.newestFirst(func(d models.SharedDataset) bool { return d.ID == id })
}

func (m *memoryStore) InsertDataset(_ context.Context, d *models.SharedDataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = m.clock()
	m.datasets = append(m.datasets, *d)
	return nil
}

func (m *memoryStore) InsertEntitlement(_ context.Context, e *models.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	e.CreatedAt = m.clock().Add(time.Duration(len(m.entitlements)) * time.Millisecond)
	m.entitlements = append(m.entitlements, *e)
	return nil
}

func (m *memoryStore) LatestEntitlement(_ context.Context, wallet string) (*models.EntitlementRecord, error) {
	m.mu.Lock()
	if m.lookupErr != nil {
		m.mu.Unlock()
		return nil, m.lookupErr
	}
	var latest *models.Entitlement
	for i := range m.entitlements {
		e := m.entitlements[i]
		if e.WalletAddress != wallet {
			continue
		}
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = &e
		}
	}
	m.mu.Unlock()

	if latest == nil {
		return nil, storage.ErrNotFound
	}
	rec := &models.EntitlementRecord{Entitlement: *latest}
	if d, err := m.GetDataset(context.Background(), latest.SharedDatasetID); err == nil {
		rec.Dataset = d
	}
	return rec, nil
}

func (m *memoryStore) removeDataset(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.datasets[:0]
	for _, d := range m.datasets {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	m.datasets = kept
}

// memoryJournal is an in-memory ReconciliationStore
type memoryJournal struct {
	mu      sync.Mutex
	entries []models.ReconciliationEntry
}

func (j *memoryJournal) Record(_ context.Context, e *models.ReconciliationEntry) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = int64(len(j.entries) + 1)
	if e.Status == "" {
		e.Status = models.ReconciliationPending
	}
	j.entries = append(j.entries, *e)
	return e.ID, nil
}

func (j *memoryJournal) Get(_ context.Context, id int64) (*models.ReconciliationEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (j *memoryJournal) ListPending(_ context.Context) ([]models.ReconciliationEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.ReconciliationEntry
	for _, e := range j.entries {
		if e.Status == models.ReconciliationPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memoryJournal) Resolve(_ context.Context, id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.entries {
		if j.entries[i].ID == id && j.entries[i].Status == models.ReconciliationPending {
			j.entries[i].Status = models.ReconciliationResolved
			return nil
		}
	}
	return storage.ErrNotFound
}

var errStoreDown = errors.New("connection refused")
