package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/arbfeed/paygate/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReconciliationStore persists settlements that still need an entitlement
type ReconciliationStore interface {
	Record(ctx context.Context, e *models.ReconciliationEntry) (int64, error)
	Get(ctx context.Context, id int64) (*models.ReconciliationEntry, error)
	ListPending(ctx context.Context) ([]models.ReconciliationEntry, error)
	Resolve(ctx context.Context, id int64) error
}

// ReconciliationService lets operators close out orphaned settlements
type ReconciliationService struct {
	journal      ReconciliationStore
	entitlements *EntitlementService
	log          logrus.FieldLogger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(journal ReconciliationStore, entitlements *EntitlementService, log logrus.FieldLogger) *ReconciliationService {
	return &ReconciliationService{journal: journal, entitlements: entitlements, log: log}
}

// ListPending lists entries awaiting reconciliation
func (s *ReconciliationService) ListPending(ctx context.Context) ([]models.ReconciliationEntry, error) {
	return s.journal.ListPending(ctx)
}

// Resolve marks an entry as handled without granting anything
func (s *ReconciliationService) Resolve(ctx context.Context, id int64) error {
	if err := s.journal.Resolve(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return invalidInput("no pending entry %d", id)
		}
		return err
	}
	s.log.WithField("entry_id", id).Info("reconciliation entry resolved")
	return nil
}

// Replay retries the entitlement grant for a pending entry and resolves it
// on success
func (s *ReconciliationService) Replay(ctx context.Context, id int64) (*models.Entitlement, error) {
	entry, err := s.journal.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalidInput("no entry %d", id)
	}
	if err != nil {
		return nil, err
	}
	if entry.Status != models.ReconciliationPending {
		return nil, invalidInput("entry %d is already %s", id, entry.Status)
	}

	datasetID, err := uuid.Parse(entry.DatasetID)
	if err != nil {
		return nil, invalidInput("entry %d has no dataset reference", id)
	}

	var response json.RawMessage
	if entry.FacilitatorResponse != "" {
		response = json.RawMessage(entry.FacilitatorResponse)
	}

	ent, err := s.entitlements.Grant(ctx, entry.WalletAddress, datasetID, entry.TxReference, response)
	if err != nil {
		return nil, fmt.Errorf("failed to replay entry %d: %w", id, err)
	}

	if err := s.journal.Resolve(ctx, id); err != nil {
		return nil, fmt.Errorf("entitlement %s granted but entry %d not resolved: %w", ent.ID, id, err)
	}

	s.log.WithFields(logrus.Fields{
		"entry_id":     id,
		"wallet":       entry.WalletAddress,
		"tx_reference": entry.TxReference,
	}).Info("reconciliation entry replayed")

	return ent, nil
}
