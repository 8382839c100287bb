package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arbfeed/paygate/internal/models"
)

const journalColumns = `id, wallet_address, tx_reference, dataset_id, facilitator_response,
	error, status, created_at, resolved_at`

// Record appends a pending entry and returns its ID
func (j *Journal) Record(ctx context.Context, e *models.ReconciliationEntry) (int64, error) {
	if e.Status == "" {
		e.Status = models.ReconciliationPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := j.Conn.ExecContext(ctx,
		`INSERT INTO reconciliation_entries
		   (wallet_address, tx_reference, dataset_id, facilitator_response, error, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.WalletAddress, e.TxReference, e.DatasetID, e.FacilitatorResponse, e.Error, e.Status, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record reconciliation entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read reconciliation entry id: %w", err)
	}
	e.ID = id
	return id, nil
}

// Get retrieves one entry by ID
func (j *Journal) Get(ctx context.Context, id int64) (*models.ReconciliationEntry, error) {
	row := j.Conn.QueryRowContext(ctx,
		"SELECT "+journalColumns+" FROM reconciliation_entries WHERE id = ?", id)

	e, err := scanJournalEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reconciliation entry: %w", err)
	}
	return e, nil
}

// ListPending lists unresolved entries, oldest first
func (j *Journal) ListPending(ctx context.Context) ([]models.ReconciliationEntry, error) {
	rows, err := j.Conn.QueryContext(ctx,
		"SELECT "+journalColumns+" FROM reconciliation_entries WHERE status = ? ORDER BY created_at, id",
		models.ReconciliationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ReconciliationEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Resolve marks an entry as resolved
func (j *Journal) Resolve(ctx context.Context, id int64) error {
	res, err := j.Conn.ExecContext(ctx,
		"UPDATE reconciliation_entries SET status = ?, resolved_at = ? WHERE id = ? AND status = ?",
		models.ReconciliationResolved, time.Now().UTC(), id, models.ReconciliationPending)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJournalEntry(row rowScanner) (*models.ReconciliationEntry, error) {
	var e models.ReconciliationEntry
	var resolvedAt sql.NullTime
	err := row.Scan(&e.ID, &e.WalletAddress, &e.TxReference, &e.DatasetID, &e.FacilitatorResponse,
		&e.Error, &e.Status, &e.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}
