package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arbfeed/paygate/internal/config"
	"github.com/arbfeed/paygate/internal/models"
)

const maxFacilitatorBody = 1 << 20

// FacilitatorClient talks to the external settlement facilitator
type FacilitatorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFacilitatorClient creates a new facilitator client
func NewFacilitatorClient(cfg config.FacilitatorConfig) *FacilitatorClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FacilitatorClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CanQuote reports whether a base URL is configured
func (c *FacilitatorClient) CanQuote() bool {
	return c != nil && c.baseURL != ""
}

// CanSettle reports whether both base URL and API key are configured
func (c *FacilitatorClient) CanSettle() bool {
	return c.CanQuote() && c.apiKey != ""
}

// QuoteRequest asks the facilitator for payment terms
type QuoteRequest struct {
	Amount  string     `json:"amount"`
	Memo    string     `json:"memo"`
	Network string     `json:"network"`
	Token   string     `json:"token"`
	Extra   QuoteExtra `json:"extra"`
}

// QuoteExtra carries merchant details for a quote
type QuoteExtra struct {
	MerchantAddress string `json:"merchantAddress"`
}

// QuoteResponse lists the offers the facilitator accepts
type QuoteResponse struct {
	Accepts []QuoteOffer `json:"accepts"`
}

// QuoteOffer is one set of acceptable payment terms
type QuoteOffer struct {
	Network           string           `json:"network"`
	Asset             string           `json:"asset"`
	PayTo             string           `json:"payTo"`
	MaxAmountRequired json.Number      `json:"maxAmountRequired"`
	Extra             *QuoteOfferExtra `json:"extra,omitempty"`
}

// QuoteOfferExtra holds optional nonce and deadline chosen by the facilitator
type QuoteOfferExtra struct {
	Nonce    string      `json:"nonce,omitempty"`
	Deadline json.Number `json:"deadline,omitempty"`
}

// Quote requests payment terms. A 402 response carries terms just like a 200.
func (c *FacilitatorClient) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/requirements", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to request quote: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read quote: %v", ErrFacilitatorUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("%w: quote failed with status %d: %s",
			ErrFacilitatorUnavailable, resp.StatusCode, truncate(string(body), 256))
	}

	var result QuoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode quote: %v", ErrFacilitatorUnavailable, err)
	}

	return &result, nil
}

// SettleRequest is the settlement body sent to the facilitator
type SettleRequest struct {
	Permit              models.Permit   `json:"permit"`
	PaymentPayload      PaymentPayload  `json:"paymentPayload"`
	PaymentRequirements SettlementTerms `json:"paymentRequirements"`
}

// PaymentPayload describes the signed transfer
type PaymentPayload struct {
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	V           uint8  `json:"v"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// SettlementTerms describes what the transfer must satisfy
type SettlementTerms struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Token             string `json:"token"`
	Amount            string `json:"amount"`
	Recipient         string `json:"recipient"`
	Description       string `json:"description"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// SettleResponse is the raw facilitator reply to one settlement call
type SettleResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *SettleResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Settle makes one settlement call. Any HTTP reply is returned as a response;
// an error means the request did not complete.
func (c *FacilitatorClient) Settle(ctx context.Context, req SettleRequest) (*SettleResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settlement: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settle", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send settlement: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement response: %w", err)
	}

	return &SettleResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
