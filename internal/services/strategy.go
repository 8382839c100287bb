package services

import "crypto/subtle"

// Strategy is how a payment is fulfilled for one call
type Strategy int

const (
	// StrategyLive quotes and settles through the facilitator
	StrategyLive Strategy = iota
	// StrategyBypass synthesizes terms and settlement without network I/O
	StrategyBypass
)

func (s Strategy) String() string {
	if s == StrategyBypass {
		return "dev_bypass"
	}
	return "live"
}

// MarshalText renders the strategy name in JSON responses
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StrategySelector picks the payment strategy for a caller-supplied bypass token.
// The bypass requires a non-production environment and a configured secret;
// in production it cannot be selected.
type StrategySelector struct {
	production bool
	secret     string
}

// NewStrategySelector creates a selector
func NewStrategySelector(production bool, secret string) StrategySelector {
	return StrategySelector{production: production, secret: secret}
}

// Select returns StrategyBypass only when both guards pass
func (s StrategySelector) Select(token string) Strategy {
	if s.production || s.secret == "" || token == "" {
		return StrategyLive
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
		return StrategyLive
	}
	return StrategyBypass
}

// BypassAvailable reports whether any token could select the bypass
func (s StrategySelector) BypassAvailable() bool {
	return !s.production && s.secret != ""
}
