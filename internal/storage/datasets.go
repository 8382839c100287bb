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

const datasetColumns = "id, items, created_at, expires_at"

// LatestUnexpiredDataset returns the newest dataset whose expiry is after now
func (db *DB) LatestUnexpiredDataset(ctx context.Context, now time.Time) (*models.SharedDataset, error) {
	return db.scanDataset(db.Pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM shared_datasets
		 WHERE expires_at > $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		now))
}

// LatestDataset returns the newest dataset regardless of expiry
func (db *DB) LatestDataset(ctx context.Context) (*models.SharedDataset, error) {
	return db.scanDataset(db.Pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM shared_datasets
		 ORDER BY created_at DESC
		 LIMIT 1`))
}

// GetDataset retrieves a dataset by ID
func (db *DB) GetDataset(ctx context.Context, id uuid.UUID) (*models.SharedDataset, error) {
	return db.scanDataset(db.Pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM shared_datasets WHERE id = $1`,
		id))
}

// InsertDataset stores a new dataset and fills in its creation time
func (db *DB) InsertDataset(ctx context.Context, d *models.SharedDataset) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO shared_datasets (id, items, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		d.ID, []byte(d.Items), d.ExpiresAt).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	return nil
}

func (db *DB) scanDataset(row pgx.Row) (*models.SharedDataset, error) {
	var d models.SharedDataset
	var items []byte
	err := row.Scan(&d.ID, &items, &d.CreatedAt, &d.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	d.Items = items
	return &d, nil
}
