package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/arbfeed/paygate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler handles operator requests
type AdminHandler struct {
	entitlements   *services.EntitlementService
	reconciliation *services.ReconciliationService
	log            logrus.FieldLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(entitlements *services.EntitlementService, reconciliation *services.ReconciliationService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		entitlements:   entitlements,
		reconciliation: reconciliation,
		log:            log,
	}
}

// PublishDatasetRequest is the body of a dataset publish
type PublishDatasetRequest struct {
	Items json.RawMessage `json:"items" binding:"required"`
	TTL   string          `json:"ttl" binding:"required"`
}

// PublishDataset stores a new dataset
func (h *AdminHandler) PublishDataset(c *gin.Context) {
	var req PublishDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ttl, err := time.ParseDuration(req.TTL)
	if err != nil {
		badRequest(c, "ttl must be a duration such as 24h")
		return
	}

	dataset, err := h.entitlements.PublishDataset(c.Request.Context(), req.Items, ttl)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, dataset)
}

// ListReconciliation lists settled payments still missing an entitlement
func (h *AdminHandler) ListReconciliation(c *gin.Context) {
	entries, err := h.reconciliation.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ResolveReconciliation marks an entry as handled
func (h *AdminHandler) ResolveReconciliation(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}

	if err := h.reconciliation.Resolve(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "resolved"})
}

// ReplayReconciliation retries the grant for an entry
func (h *AdminHandler) ReplayReconciliation(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}

	ent, err := h.reconciliation.Replay(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "resolved", "entitlement": ent})
}

func entryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid entry id")
		return 0, false
	}
	return id, true
}
