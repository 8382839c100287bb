package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbfeed/paygate/internal/config"
	"github.com/arbfeed/paygate/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// requirementsTTL is how long issued terms stay payable when the
// facilitator does not set a deadline
const requirementsTTL = time.Hour

// PaymentService builds the payment terms a client must sign
type PaymentService struct {
	facilitator *FacilitatorClient
	selector    StrategySelector
	payment     config.PaymentConfig
	bypass      config.DevBypassConfig
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(facilitator *FacilitatorClient, selector StrategySelector, payment config.PaymentConfig, bypass config.DevBypassConfig, log logrus.FieldLogger) *PaymentService {
	return &PaymentService{
		facilitator: facilitator,
		selector:    selector,
		payment:     payment,
		bypass:      bypass,
		log:         log,
		now:         time.Now,
	}
}

// StartRequest asks for payment terms for a wallet
type StartRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// StartResult holds issued terms and, for live quotes, the price breakdown
type StartResult struct {
	Requirements *models.PaymentRequirements `json:"requirements"`
	Charge       *Charge                     `json:"charge,omitempty"`
	Strategy     Strategy                    `json:"strategy"`
}

// Start issues payment requirements for wallet
func (s *PaymentService) Start(ctx context.Context, wallet, bypassToken string) (*StartResult, error) {
	if !IsValidAddress(wallet) {
		return nil, invalidInput("invalid wallet address")
	}

	strategy := s.selector.Select(bypassToken)
	if strategy == StrategyBypass {
		req, err := s.bypassRequirements()
		if err != nil {
			return nil, err
		}
		s.log.WithField("wallet", NormalizeAddress(wallet)).Info("issued dev bypass payment requirements")
		return &StartResult{Requirements: req, Strategy: strategy}, nil
	}

	return s.liveRequirements(ctx, wallet)
}

func (s *PaymentService) bypassRequirements() (*models.PaymentRequirements, error) {
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	return &models.PaymentRequirements{
		Network:   s.payment.Network,
		Token:     s.payment.TokenAddress,
		Recipient: common.Address{}.Hex(),
		Amount:    s.bypass.DemoAmount,
		Nonce:     nonce,
		Deadline:  s.now().Add(requirementsTTL).Unix(),
	}, nil
}

func (s *PaymentService) liveRequirements(ctx context.Context, wallet string) (*StartResult, error) {
	if !s.facilitator.CanQuote() {
		return nil, fmt.Errorf("%w: facilitator base URL not set and dev bypass not active", ErrConfiguration)
	}
	if !IsValidAddress(s.payment.MerchantAddress) {
		return nil, fmt.Errorf("%w: merchant address not set", ErrConfiguration)
	}

	charge, err := ComputeCharge(s.payment.MerchantAmount, s.payment.FeeBasisPoints, s.payment.GasFee)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	quote, err := s.facilitator.Quote(ctx, QuoteRequest{
		Amount:  strconv.FormatInt(charge.Total, 10),
		Memo:    fmt.Sprintf("%s for %s", s.payment.Description, NormalizeAddress(wallet)),
		Network: s.payment.Network,
		Token:   s.payment.TokenSymbol,
		Extra:   QuoteExtra{MerchantAddress: s.payment.MerchantAddress},
	})
	if err != nil {
		return nil, err
	}
	if len(quote.Accepts) == 0 {
		return nil, fmt.Errorf("%w: quote contained no accepted offers", ErrFacilitatorUnavailable)
	}

	offer := quote.Accepts[0]
	if !strings.EqualFold(offer.Network, s.payment.Network) {
		return nil, fmt.Errorf("%w: facilitator offered %q", ErrUnsupportedNetwork, offer.Network)
	}

	req := &models.PaymentRequirements{
		Network:   s.payment.Network,
		Token:     offer.Asset,
		Recipient: offer.PayTo,
		Amount:    offer.MaxAmountRequired.String(),
		Deadline:  s.now().Add(requirementsTTL).Unix(),
	}
	if !IsValidAddress(req.Token) {
		req.Token = s.payment.TokenAddress
	}
	if req.Amount == "" {
		req.Amount = strconv.FormatInt(charge.Total, 10)
	}
	if offer.Extra != nil {
		req.Nonce = offer.Extra.Nonce
		if d, err := offer.Extra.Deadline.Int64(); err == nil && d > 0 {
			req.Deadline = d
		}
	}
	if req.Nonce == "" {
		if req.Nonce, err = randomNonce(); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"wallet": NormalizeAddress(wallet),
		"amount": req.Amount,
		"pay_to": req.Recipient,
	}).Info("issued payment requirements")

	return &StartResult{Requirements: req, Charge: &charge, Strategy: StrategyLive}, nil
}

func randomNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(b), nil
}
