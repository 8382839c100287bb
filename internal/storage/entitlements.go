package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertEntitlement stores an entitlement and fills in its generated ID and
// creation time
func (db *DB) InsertEntitlement(ctx context.Context, e *models.Entitlement) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var response []byte
	if len(e.FacilitatorResponse) > 0 {
		response = e.FacilitatorResponse
	}

	err := db.Pool.QueryRow(ctx,
		`INSERT INTO entitlements (id, wallet_address, shared_dataset_id, tx_hash, facilitator_response, valid_until)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		e.ID, e.WalletAddress, e.SharedDatasetID, e.TxHash, response, e.ValidUntil).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return nil
}

// LatestEntitlement returns the most recently created entitlement for a
// wallet together with its dataset, or ErrNotFound
func (db *DB) LatestEntitlement(ctx context.Context, wallet string) (*models.EntitlementRecord, error) {
	var (
		rec         models.EntitlementRecord
		response    []byte
		datasetID   *uuid.UUID
		items       []byte
		dsCreatedAt *time.Time
		dsExpiresAt *time.Time
	)

	err := db.Pool.QueryRow(ctx,
		`SELECT e.id, e.wallet_address, e.shared_dataset_id, e.tx_hash, e.facilitator_response,
		        e.valid_until, e.created_at,
		        d.id, d.items, d.created_at, d.expires_at
		 FROM entitlements e
		 LEFT JOIN shared_datasets d ON d.id = e.shared_dataset_id
		 WHERE e.wallet_address = $1
		 ORDER BY e.created_at DESC
		 LIMIT 1`,
		wallet).Scan(
		&rec.Entitlement.ID, &rec.Entitlement.WalletAddress, &rec.Entitlement.SharedDatasetID,
		&rec.Entitlement.TxHash, &response, &rec.Entitlement.ValidUntil, &rec.Entitlement.CreatedAt,
		&datasetID, &items, &dsCreatedAt, &dsExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlement: %w", err)
	}

	rec.Entitlement.FacilitatorResponse = response
	if datasetID != nil {
		rec.Dataset = &models.SharedDataset{ID: *datasetID, Items: items}
		if dsCreatedAt != nil {
			rec.Dataset.CreatedAt = *dsCreatedAt
		}
		if dsExpiresAt != nil {
			rec.Dataset.ExpiresAt = *dsExpiresAt
		}
	}

	return &rec, nil
}
