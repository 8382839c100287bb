package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/arbfeed/paygate/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EntitlementStore is the persistence used for datasets and entitlements.
// Lookups that match nothing return storage.ErrNotFound.
type EntitlementStore interface {
	LatestUnexpiredDataset(ctx context.Context, now time.Time) (*models.SharedDataset, error)
	LatestDataset(ctx context.Context) (*models.SharedDataset, error)
	GetDataset(ctx context.Context, id uuid.UUID) (*models.SharedDataset, error)
	InsertDataset(ctx context.Context, d *models.SharedDataset) error
	InsertEntitlement(ctx context.Context, e *models.Entitlement) error
	LatestEntitlement(ctx context.Context, wallet string) (*models.EntitlementRecord, error)
}

// DatasetCache holds the most recent dataset lookup
type DatasetCache interface {
	Get(ctx context.Context) (*models.SharedDataset, bool, error)
	Put(ctx context.Context, d *models.SharedDataset, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// EntitlementService issues and reports dataset access
type EntitlementService struct {
	store    EntitlementStore
	cache    DatasetCache
	cacheTTL time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewEntitlementService creates a new entitlement service. cache may be nil.
func NewEntitlementService(store EntitlementStore, cache DatasetCache, cacheTTL time.Duration, log logrus.FieldLogger) *EntitlementService {
	return &EntitlementService{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

// Grant records that wallet paid for datasetID. ValidUntil is fixed to the
// dataset's expiry at this moment.
func (s *EntitlementService) Grant(ctx context.Context, wallet string, datasetID uuid.UUID, txReference string, facilitatorResponse json.RawMessage) (*models.Entitlement, error) {
	if !IsValidAddress(wallet) {
		return nil, invalidInput("invalid wallet address")
	}
	if txReference == "" {
		return nil, invalidInput("transaction reference missing")
	}

	dataset, err := s.store.GetDataset(ctx, datasetID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: dataset %s not found", ErrDatasetUnavailable, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	ent := &models.Entitlement{
		ID:                  uuid.New(),
		WalletAddress:       NormalizeAddress(wallet),
		SharedDatasetID:     dataset.ID,
		TxHash:              txReference,
		FacilitatorResponse: facilitatorResponse,
		ValidUntil:          dataset.ExpiresAt,
	}
	if err := s.store.InsertEntitlement(ctx, ent); err != nil {
		return nil, fmt.Errorf("failed to create entitlement: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"wallet":       ent.WalletAddress,
		"dataset_id":   ent.SharedDatasetID,
		"tx_reference": txReference,
		"valid_until":  ent.ValidUntil,
	}).Info("entitlement granted")

	return ent, nil
}

// Status reports the newest entitlement for wallet. Validity is computed
// against the current time on every call.
func (s *EntitlementService) Status(ctx context.Context, wallet string) (*models.EntitlementStatus, error) {
	if !IsValidAddress(wallet) {
		return nil, invalidInput("invalid wallet address")
	}

	normalized := NormalizeAddress(wallet)
	status := &models.EntitlementStatus{Wallet: normalized, Now: s.now()}

	rec, err := s.store.LatestEntitlement(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntitlementLookupFailed, err)
	}

	ent := rec.Entitlement
	validUntil := ent.ValidUntil
	status.Entitlement = &ent
	status.ValidUntil = &validUntil
	status.IsValid = ent.IsValidAt(status.Now)
	if rec.Dataset != nil {
		status.Dataset = &models.DatasetView{
			ID:        rec.Dataset.ID,
			Items:     rec.Dataset.Items,
			ExpiresAt: rec.Dataset.ExpiresAt,
		}
	}

	return status, nil
}

// LatestActiveDataset returns the newest unexpired dataset, or the newest
// dataset of any age when all have expired
func (s *EntitlementService) LatestActiveDataset(ctx context.Context) (*models.SharedDataset, error) {
	now := s.now()

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.log.WithError(err).Warn("dataset cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	dataset, err := s.store.LatestUnexpiredDataset(ctx, now)
	if errors.Is(err, storage.ErrNotFound) {
		dataset, err = s.store.LatestDataset(ctx)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoDataAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest dataset: %w", err)
	}

	s.remember(ctx, dataset, now)
	return dataset, nil
}

// PublishDataset stores a new dataset that expires after ttl
func (s *EntitlementService) PublishDataset(ctx context.Context, items json.RawMessage, ttl time.Duration) (*models.SharedDataset, error) {
	if ttl <= 0 {
		return nil, invalidInput("ttl must be positive")
	}
	var list []json.RawMessage
	if err := json.Unmarshal(items, &list); err != nil {
		return nil, invalidInput("items must be a JSON array")
	}

	dataset := &models.SharedDataset{
		ID:        uuid.New(),
		Items:     items,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	if err := s.store.InsertDataset(ctx, dataset); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.WithError(err).Warn("dataset cache invalidation failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"dataset_id": dataset.ID,
		"items":      len(list),
		"expires_at": dataset.ExpiresAt,
	}).Info("dataset published")

	return dataset, nil
}

func (s *EntitlementService) remember(ctx context.Context, dataset *models.SharedDataset, now time.Time) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	ttl := s.cacheTTL
	if remaining := dataset.ExpiresAt.Sub(now); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	if err := s.cache.Put(ctx, dataset, ttl); err != nil {
		s.log.WithError(err).Warn("dataset cache write failed")
	}
}
