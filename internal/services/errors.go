package services

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the payment and entitlement flow
var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrConfiguration           = errors.New("configuration error")
	ErrFacilitatorUnavailable  = errors.New("facilitator unavailable")
	ErrUnsupportedNetwork      = errors.New("unsupported network")
	ErrSettlementFailed        = errors.New("settlement failed")
	ErrDatasetUnavailable      = errors.New("dataset unavailable")
	ErrNoDataAvailable         = errors.New("no data available")
	ErrEntitlementLookupFailed = errors.New("entitlement lookup failed")
)

// SettlementError carries the last facilitator outcome after settlement gave up
type SettlementError struct {
	Attempts   int
	StatusCode int
	Detail     string
}

func (e *SettlementError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("settlement failed after %d attempt(s): status %d: %s", e.Attempts, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("settlement failed after %d attempt(s): %s", e.Attempts, e.Detail)
}

func (e *SettlementError) Unwrap() error {
	return ErrSettlementFailed
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
