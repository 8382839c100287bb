package handlers

import (
	"context"
	"net/http"

	"github.com/arbfeed/paygate/internal/middleware"
	"github.com/arbfeed/paygate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EntitlementHandler handles entitlement lookups and dataset downloads
type EntitlementHandler struct {
	entitlements *services.EntitlementService
	log          logrus.FieldLogger
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(entitlements *services.EntitlementService, log logrus.FieldLogger) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, log: log}
}

// Status reports the wallet's current entitlement
func (h *EntitlementHandler) Status(c *gin.Context) {
	status, err := h.entitlements.Status(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// DatasetLatest returns the dataset the token's wallet is entitled to
func (h *EntitlementHandler) DatasetLatest(c *gin.Context) {
	wallet := middleware.GetWallet(c)

	status, err := h.entitlements.Status(c.Request.Context(), wallet)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if !status.IsValid {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":      "entitlement expired",
			"code":       "payment_required",
			"request_id": middleware.GetRequestID(c),
		})
		return
	}
	if status.Dataset == nil {
		respondError(c, h.log, services.ErrNoDataAvailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset":     status.Dataset,
		"valid_until": status.ValidUntil,
	})
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports database reachability
func Health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}
