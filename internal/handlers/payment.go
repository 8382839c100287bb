package handlers

import (
	"net/http"
	"time"

	"github.com/arbfeed/paygate/internal/middleware"
	"github.com/arbfeed/paygate/internal/models"
	"github.com/arbfeed/paygate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BypassHeader carries the dev bypass token
const BypassHeader = "X-Dev-Bypass-Token"

// PaymentHandler handles payment requests
type PaymentHandler struct {
	payments  *services.PaymentService
	checkout  *services.CheckoutService
	jwtSecret string
	log       logrus.FieldLogger
}

// NewPaymentHandler creates a new payment handler. An empty jwtSecret
// disables access tokens.
func NewPaymentHandler(payments *services.PaymentService, checkout *services.CheckoutService, jwtSecret string, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		checkout:  checkout,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

// SettleResponse is returned after a successful checkout
type SettleResponse struct {
	TxReference string              `json:"tx_reference"`
	Entitlement *models.Entitlement `json:"entitlement"`
	ValidUntil  time.Time           `json:"valid_until"`
	AccessToken string              `json:"access_token,omitempty"`
	Bypassed    bool                `json:"bypassed"`
}

// Start issues payment requirements. The response is always 402 Payment Required.
func (h *PaymentHandler) Start(c *gin.Context) {
	var req services.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.payments.Start(c.Request.Context(), req.Wallet, c.GetHeader(BypassHeader))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusPaymentRequired, result)
}

// Settle settles a signed permit and grants access
func (h *PaymentHandler) Settle(c *gin.Context) {
	var req services.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.BypassToken = c.GetHeader(BypassHeader)

	result, err := h.checkout.Complete(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := SettleResponse{
		TxReference: result.TxReference,
		Entitlement: result.Entitlement,
		ValidUntil:  result.ValidUntil,
		Bypassed:    result.Bypassed,
	}

	if h.jwtSecret != "" {
		token, err := middleware.GenerateAccessToken(
			result.Entitlement.WalletAddress,
			result.Entitlement.SharedDatasetID.String(),
			result.ValidUntil,
			h.jwtSecret,
		)
		if err != nil {
			h.log.WithError(err).WithField("tx_reference", result.TxReference).Error("failed to issue access token")
		} else {
			resp.AccessToken = token
		}
	}

	c.JSON(http.StatusOK, resp)
}
