package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentRequirements are the terms a client must satisfy to pay.
// They are issued per request and never persisted.
type PaymentRequirements struct {
	Network   string `json:"network"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"`
}

// Permit is a client-signed transfer authorization
type Permit struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline int64  `json:"deadline"`
	Nonce    string `json:"nonce"`
	Sig      string `json:"sig"`
}

// SharedDataset is a published result set sold to wallets
type SharedDataset struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Items     json.RawMessage `db:"items" json:"items"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt time.Time       `db:"expires_at" json:"expires_at"`
}

// Entitlement grants one wallet access to one dataset until ValidUntil
type Entitlement struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	WalletAddress       string          `db:"wallet_address" json:"wallet_address"`
	SharedDatasetID     uuid.UUID       `db:"shared_dataset_id" json:"shared_dataset_id"`
	TxHash              string          `db:"tx_hash" json:"tx_hash"`
	FacilitatorResponse json.RawMessage `db:"facilitator_response" json:"facilitator_response,omitempty"`
	ValidUntil          time.Time       `db:"valid_until" json:"valid_until"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// IsValidAt reports whether the entitlement is still in force at t
func (e *Entitlement) IsValidAt(t time.Time) bool {
	return t.Before(e.ValidUntil)
}

// EntitlementRecord is the newest entitlement for a wallet joined with its
// dataset. Dataset is nil when the referenced row no longer exists.
type EntitlementRecord struct {
	Entitlement Entitlement
	Dataset     *SharedDataset
}

// DatasetView is the dataset section of a status response
type DatasetView struct {
	ID        uuid.UUID       `json:"id"`
	Items     json.RawMessage `json:"items"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// EntitlementStatus reports a wallet's access at a point in time
type EntitlementStatus struct {
	Wallet      string       `json:"wallet"`
	Now         time.Time    `json:"now"`
	IsValid     bool         `json:"is_valid"`
	ValidUntil  *time.Time   `json:"valid_until"`
	Entitlement *Entitlement `json:"entitlement"`
	Dataset     *DatasetView `json:"dataset"`
}

// ReconciliationEntry records a settled payment whose entitlement could not be written
type ReconciliationEntry struct {
	ID                  int64      `db:"id" json:"id"`
	WalletAddress       string     `db:"wallet_address" json:"wallet_address"`
	TxReference         string     `db:"tx_reference" json:"tx_reference"`
	DatasetID           string     `db:"dataset_id" json:"dataset_id"`
	FacilitatorResponse string     `db:"facilitator_response" json:"facilitator_response,omitempty"`
	Error               string     `db:"error" json:"error"`
	Status              string     `db:"status" json:"status"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt          *time.Time `db:"resolved_at" json:"resolved_at"`
}

// Reconciliation entry states
const (
	ReconciliationPending  = "pending"
	ReconciliationResolved = "resolved"
)
