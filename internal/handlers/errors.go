package handlers

import (
	"errors"
	"net/http"

	"github.com/arbfeed/paygate/internal/middleware"
	"github.com/arbfeed/paygate/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{services.ErrConfiguration, http.StatusInternalServerError, "configuration_error"},
	{services.ErrFacilitatorUnavailable, http.StatusBadGateway, "facilitator_unavailable"},
	{services.ErrUnsupportedNetwork, http.StatusBadGateway, "unsupported_network"},
	{services.ErrSettlementFailed, http.StatusPaymentRequired, "settlement_failed"},
	{services.ErrDatasetUnavailable, http.StatusConflict, "dataset_unavailable"},
	{services.ErrNoDataAvailable, http.StatusNotFound, "no_data_available"},
	{services.ErrEntitlementLookupFailed, http.StatusInternalServerError, "entitlement_lookup_failed"},
}

// classify maps a service error to its HTTP status and error code
func classify(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes the error body for err. Unclassified errors are
// reported without detail.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status, code := classify(err)
	message := err.Error()
	if code == "internal_error" {
		message = "internal server error"
	}

	entry := log.WithError(err).WithFields(logrus.Fields{
		"code":       code,
		"path":       c.Request.URL.Path,
		"request_id": middleware.GetRequestID(c),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":      message,
		"code":       code,
		"request_id": middleware.GetRequestID(c),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      message,
		"code":       "invalid_input",
		"request_id": middleware.GetRequestID(c),
	})
}
