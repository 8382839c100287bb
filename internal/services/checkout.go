package services

import (
	"context"
	"fmt"
	"time"

	"github.com/arbfeed/paygate/internal/models"
	"github.com/sirupsen/logrus"
)

// CheckoutService runs the paid flow: validate, settle, then grant
type CheckoutService struct {
	settlement   *SettlementService
	entitlements *EntitlementService
	journal      ReconciliationStore
	network      string
	log          logrus.FieldLogger
	now          func() time.Time
}

// NewCheckoutService creates a new checkout service. journal may be nil, in
// which case orphaned settlements are only logged.
func NewCheckoutService(settlement *SettlementService, entitlements *EntitlementService, journal ReconciliationStore, network string, log logrus.FieldLogger) *CheckoutService {
	return &CheckoutService{
		settlement:   settlement,
		entitlements: entitlements,
		journal:      journal,
		network:      network,
		log:          log,
		now:          time.Now,
	}
}

// CheckoutRequest is a signed payment submitted for settlement
type CheckoutRequest struct {
	Wallet       string                      `json:"wallet" binding:"required"`
	Requirements *models.PaymentRequirements `json:"requirements" binding:"required"`
	Permit       *models.Permit              `json:"permit" binding:"required"`
	BypassToken  string                      `json:"-"`
}

// CheckoutResult is returned once payment has settled and access is granted
type CheckoutResult struct {
	TxReference string              `json:"tx_reference"`
	Entitlement *models.Entitlement `json:"entitlement"`
	ValidUntil  time.Time           `json:"valid_until"`
	Bypassed    bool                `json:"bypassed"`
}

// Complete validates the request, settles it and grants access to the
// current dataset
func (s *CheckoutService) Complete(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// Resolve the dataset first so nobody pays when there is nothing to sell.
	dataset, err := s.entitlements.LatestActiveDataset(ctx)
	if err != nil {
		return nil, err
	}
	if !dataset.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: dataset %s expired at %s", ErrNoDataAvailable, dataset.ID, dataset.ExpiresAt.Format(time.RFC3339))
	}

	settled, err := s.settlement.Settle(ctx, req.Requirements, req.Permit, req.BypassToken)
	if err != nil {
		return nil, err
	}

	ent, err := s.entitlements.Grant(ctx, req.Wallet, dataset.ID, settled.TxReference, settled.FacilitatorResponse)
	if err != nil {
		s.recordOrphan(ctx, req.Wallet, dataset.ID.String(), settled, err)
		return nil, fmt.Errorf("payment %s settled but entitlement was not granted: %w", settled.TxReference, err)
	}

	return &CheckoutResult{
		TxReference: settled.TxReference,
		Entitlement: ent,
		ValidUntil:  ent.ValidUntil,
		Bypassed:    settled.Bypassed,
	}, nil
}

func (s *CheckoutService) validate(req CheckoutRequest) error {
	now := s.now()

	if !IsValidAddress(req.Wallet) {
		return invalidInput("invalid wallet address")
	}
	if err := CheckRequirements(req.Requirements, s.network); err != nil {
		return err
	}
	if err := CheckPermit(req.Permit, now); err != nil {
		return err
	}
	if !SameAddress(req.Permit.Owner, req.Wallet) {
		return invalidInput("permit owner does not match wallet")
	}
	if !isAmount(req.Requirements.Amount) {
		return invalidInput("requirements amount must be a non-negative integer")
	}
	if req.Permit.Value != req.Requirements.Amount {
		return invalidInput("permit value %s does not match required amount %s", req.Permit.Value, req.Requirements.Amount)
	}
	if req.Requirements.Deadline <= now.Unix() {
		return invalidInput("payment requirements have expired")
	}
	return nil
}

func (s *CheckoutService) recordOrphan(ctx context.Context, wallet, datasetID string, settled *SettlementResult, cause error) {
	logger := s.log.WithFields(logrus.Fields{
		"wallet":       NormalizeAddress(wallet),
		"tx_reference": settled.TxReference,
		"dataset_id":   datasetID,
	})
	logger.WithError(cause).Error("payment settled but entitlement write failed; manual reconciliation required")

	if s.journal == nil {
		return
	}
	_, err := s.journal.Record(ctx, &models.ReconciliationEntry{
		WalletAddress:       NormalizeAddress(wallet),
		TxReference:         settled.TxReference,
		DatasetID:           datasetID,
		FacilitatorResponse: string(settled.FacilitatorResponse),
		Error:               cause.Error(),
	})
	if err != nil {
		logger.WithError(err).Error("failed to journal orphaned settlement")
	}
}
