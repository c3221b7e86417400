package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const maxReceiptBytes = 64 << 10

// receiptHandler accepts a vendor callback and queues it untouched. Status
// mapping and idempotency are left to the receipt consumer.
func receiptHandler(pub Publisher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxReceiptBytes))
		if err != nil {
			metrics.ReceiptsPublished.WithLabelValues("invalid").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		var r model.DeliveryReceipt
		if err := json.Unmarshal(body, &r); err != nil {
			metrics.ReceiptsPublished.WithLabelValues("invalid").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if strings.TrimSpace(r.DeliveryRecordID) == "" || strings.TrimSpace(r.VendorStatus) == "" {
			metrics.ReceiptsPublished.WithLabelValues("invalid").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "deliveryRecordId and vendorStatus are required"})
		}

		if err := pub.Publish(c.Request().Context(), strings.TrimSpace(r.DeliveryRecordID), body); err != nil {
			metrics.ReceiptsPublished.WithLabelValues("error").Inc()
			log.Errorf("publish receipt %s failed: %v", r.DeliveryRecordID, err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		}

		metrics.ReceiptsPublished.WithLabelValues("ok").Inc()
		return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
