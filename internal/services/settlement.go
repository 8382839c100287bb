package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbfeed/paygate/internal/config"
	"github.com/arbfeed/paygate/internal/models"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	settlementScheme     = "exact"
	settlementTimeoutSec = 3600
	unknownTxReference   = "unknown"
)

// RetryPolicy decides which facilitator failures are worth another attempt
type RetryPolicy struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	RetryableSubstrings []string
	RetryableCodes      []string
}

// NewRetryPolicy builds a policy from config
func NewRetryPolicy(cfg config.SettlementConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:         cfg.MaxAttempts,
		BaseDelay:           time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		RetryableSubstrings: cfg.RetryableSubstrings,
		RetryableCodes:      cfg.RetryableCodes,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	return p
}

// Delay is the wait before the attempt following attempt n (1-indexed)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay * time.Duration(1<<uint(n-1))
}

// Retryable classifies a non-2xx facilitator reply. Server errors always
// retry. When the body carries a structured error code only the code is
// consulted; otherwise the body text is matched against known substrings.
func (p RetryPolicy) Retryable(status int, body []byte) bool {
	if status >= 500 {
		return true
	}
	if code := errorCode(body); code != "" {
		for _, c := range p.RetryableCodes {
			if strings.EqualFold(c, code) {
				return true
			}
		}
		return false
	}
	text := strings.ToLower(string(body))
	for _, sub := range p.RetryableSubstrings {
		if sub != "" && strings.Contains(text, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// errorCode pulls a machine-readable code out of a JSON error body
func errorCode(body []byte) string {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	for _, key := range []string{"errorCode", "error_code", "code"} {
		var s string
		if raw, ok := parsed[key]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	if raw, ok := parsed["error"]; ok {
		var nested struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &nested) == nil {
			return nested.Code
		}
	}
	return ""
}

// SettlementResult is the outcome of a successful settlement
type SettlementResult struct {
	TxReference         string          `json:"tx_reference"`
	FacilitatorResponse json.RawMessage `json:"facilitator_response,omitempty"`
	Attempts            int             `json:"attempts"`
	Bypassed            bool            `json:"bypassed"`
}

// SettlementService submits signed permits to the facilitator
type SettlementService struct {
	facilitator *FacilitatorClient
	selector    StrategySelector
	payment     config.PaymentConfig
	policy      RetryPolicy
	log         logrus.FieldLogger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSettlementService creates a new settlement service
func NewSettlementService(facilitator *FacilitatorClient, selector StrategySelector, payment config.PaymentConfig, policy RetryPolicy, log logrus.FieldLogger) *SettlementService {
	return &SettlementService{
		facilitator: facilitator,
		selector:    selector,
		payment:     payment,
		policy:      policy,
		log:         log,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Settle settles permit against req, retrying transient facilitator failures
func (s *SettlementService) Settle(ctx context.Context, req *models.PaymentRequirements, permit *models.Permit, bypassToken string) (*SettlementResult, error) {
	if req == nil || permit == nil {
		return nil, invalidInput("requirements and permit are required")
	}

	if s.selector.Select(bypassToken) == StrategyBypass {
		ref := "dev-bypass-" + uuid.NewString()
		s.log.WithFields(logrus.Fields{
			"wallet":       NormalizeAddress(permit.Owner),
			"tx_reference": ref,
		}).Warn("settlement bypassed")
		return &SettlementResult{TxReference: ref, Bypassed: true}, nil
	}

	now := s.now()
	if err := CheckRequirements(req, s.payment.Network); err != nil {
		return nil, err
	}
	if err := CheckPermit(permit, now); err != nil {
		return nil, err
	}
	if req.Deadline <= now.Unix() {
		return nil, invalidInput("payment requirements have expired")
	}

	if !s.facilitator.CanSettle() {
		return nil, fmt.Errorf("%w: facilitator URL or API key not set", ErrConfiguration)
	}

	body, err := s.buildRequest(req, permit)
	if err != nil {
		return nil, err
	}

	return s.submit(ctx, body, NormalizeAddress(permit.Owner))
}

func (s *SettlementService) buildRequest(req *models.PaymentRequirements, permit *models.Permit) (SettleRequest, error) {
	v, r, sv, err := splitSignature(permit.Sig)
	if err != nil {
		return SettleRequest{}, err
	}

	return SettleRequest{
		Permit: *permit,
		PaymentPayload: PaymentPayload{
			Scheme:      settlementScheme,
			Network:     req.Network,
			From:        permit.Owner,
			To:          req.Recipient,
			Value:       permit.Value,
			ValidAfter:  "0",
			ValidBefore: strconv.FormatInt(permit.Deadline, 10),
			Nonce:       permit.Nonce,
			V:           v,
			R:           r,
			S:           sv,
		},
		PaymentRequirements: SettlementTerms{
			Scheme:            settlementScheme,
			Network:           req.Network,
			Token:             req.Token,
			Amount:            req.Amount,
			Recipient:         req.Recipient,
			Description:       s.payment.Description,
			MaxTimeoutSeconds: settlementTimeoutSec,
		},
	}, nil
}

func (s *SettlementService) submit(ctx context.Context, body SettleRequest, wallet string) (*SettlementResult, error) {
	var last *SettlementError

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.policy.Delay(attempt-1)); err != nil {
				last.Detail = fmt.Sprintf("%s (stopped: %v)", last.Detail, err)
				return nil, last
			}
		}

		logger := s.log.WithFields(logrus.Fields{"wallet": wallet, "attempt": attempt})

		resp, err := s.facilitator.Settle(ctx, body)
		if err != nil {
			last = &SettlementError{Attempts: attempt, Detail: err.Error()}
			logger.WithError(err).Warn("settlement request failed")
			continue
		}

		if resp.OK() {
			ref := extractTxReference(resp.Body)
			logger.WithField("tx_reference", ref).Info("settlement succeeded")
			return &SettlementResult{
				TxReference:         ref,
				FacilitatorResponse: opaqueJSON(resp.Body),
				Attempts:            attempt,
			}, nil
		}

		last = &SettlementError{
			Attempts:   attempt,
			StatusCode: resp.StatusCode,
			Detail:     truncate(strings.TrimSpace(string(resp.Body)), 512),
		}
		if !s.policy.Retryable(resp.StatusCode, resp.Body) {
			logger.WithField("status_code", resp.StatusCode).Warn("settlement rejected")
			return nil, last
		}
		logger.WithField("status_code", resp.StatusCode).Warn("settlement failed, retrying")
	}

	return nil, last
}

// extractTxReference returns the first populated transaction hash field.
// Fields are decoded one at a time so a malformed one does not hide the rest.
func extractTxReference(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return unknownTxReference
	}

	var meta map[string]json.RawMessage
	if raw, ok := fields["meta"]; ok {
		_ = json.Unmarshal(raw, &meta)
	}

	for _, raw := range []json.RawMessage{fields["txHash"], fields["transactionHash"], meta["incomingTxHash"]} {
		if ref := stringField(raw); ref != "" {
			return ref
		}
	}
	return unknownTxReference
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// opaqueJSON keeps the facilitator body as JSON, quoting it when it is not
func opaqueJSON(body []byte) json.RawMessage {
	trimmed := []byte(strings.TrimSpace(string(body)))
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// splitSignature decodes a 65-byte r||s||v signature
func splitSignature(sig string) (v uint8, r, s string, err error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return 0, "", "", invalidInput("malformed signature: %v", err)
	}
	if len(raw) != 65 {
		return 0, "", "", invalidInput("signature must be 65 bytes, got %d", len(raw))
	}
	return raw[64], hexutil.Encode(raw[:32]), hexutil.Encode(raw[32:64]), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
