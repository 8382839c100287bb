package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/arbfeed/paygate/internal/models"
)

var (
	signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)
	noncePattern     = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	amountPattern    = regexp.MustCompile(`^[0-9]+$`)
)

// IsValidRequirements reports whether r is structurally complete, targets
// network and names valid token and recipient addresses. Deadline freshness
// is not checked here.
func IsValidRequirements(r *models.PaymentRequirements, network string) bool {
	return CheckRequirements(r, network) == nil
}

// CheckRequirements is IsValidRequirements with the failing rule attached
func CheckRequirements(r *models.PaymentRequirements, network string) error {
	if r == nil {
		return invalidInput("payment requirements missing")
	}
	switch {
	case r.Network == "":
		return invalidInput("requirements network missing")
	case r.Token == "":
		return invalidInput("requirements token missing")
	case r.Recipient == "":
		return invalidInput("requirements recipient missing")
	case r.Amount == "":
		return invalidInput("requirements amount missing")
	case r.Nonce == "":
		return invalidInput("requirements nonce missing")
	case r.Deadline == 0:
		return invalidInput("requirements deadline missing")
	}
	if !strings.EqualFold(r.Network, network) {
		return invalidInput("unsupported network %q", r.Network)
	}
	if !IsValidAddress(r.Recipient) {
		return invalidInput("invalid recipient address")
	}
	if !IsValidAddress(r.Token) {
		return invalidInput("invalid token address")
	}
	return nil
}

// IsValidPermit reports whether p is well formed and its deadline is after now
func IsValidPermit(p *models.Permit, now time.Time) bool {
	return CheckPermit(p, now) == nil
}

// CheckPermit is IsValidPermit with the failing rule attached
func CheckPermit(p *models.Permit, now time.Time) error {
	if p == nil {
		return invalidInput("permit missing")
	}
	switch {
	case p.Owner == "":
		return invalidInput("permit owner missing")
	case p.Spender == "":
		return invalidInput("permit spender missing")
	case p.Value == "":
		return invalidInput("permit value missing")
	case p.Deadline == 0:
		return invalidInput("permit deadline missing")
	case p.Nonce == "":
		return invalidInput("permit nonce missing")
	case p.Sig == "":
		return invalidInput("permit signature missing")
	}
	if !IsValidAddress(p.Owner) {
		return invalidInput("invalid permit owner address")
	}
	if !IsValidAddress(p.Spender) {
		return invalidInput("invalid permit spender address")
	}
	if !signaturePattern.MatchString(p.Sig) {
		return invalidInput("permit signature must be 0x followed by 130 hex characters")
	}
	if !noncePattern.MatchString(p.Nonce) {
		return invalidInput("permit nonce must be 0x followed by 64 hex characters")
	}
	if p.Deadline <= now.Unix() {
		return invalidInput("permit deadline has passed")
	}
	return nil
}

func isAmount(s string) bool {
	return amountPattern.MatchString(s)
}
