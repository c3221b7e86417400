package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// VendorSimulator stands in for the messaging vendor: it accepts a send and
// reports the outcome later through the receipt endpoint.
type VendorSimulator struct {
	successRate float64
	receiptURL  string
	delay       time.Duration
	client      *http.Client
	roll        func() float64
}

func NewVendorSimulator(cfg config.VendorSimConfig) *VendorSimulator {
	rate := cfg.SuccessRate
	if rate < 0 || rate > 1 {
		rate = 0.9
	}
	return &VendorSimulator{
		successRate: rate,
		receiptURL:  cfg.ReceiptURL,
		delay:       cfg.Delay,
		client:      &http.Client{Timeout: 5 * time.Second},
		roll:        rand.Float64,
	}
}

func (v *VendorSimulator) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req model.SendRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if strings.TrimSpace(req.DeliveryRecordID) == "" || strings.TrimSpace(req.RecipientAddress) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "recipientAddress and deliveryRecordId are required"})
		}

		r := v.outcome(req.DeliveryRecordID)
		go v.report(r)

		return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "vendorMessageId": r.VendorMessageID})
	}
}

func (v *VendorSimulator) outcome(recordID string) model.DeliveryReceipt {
	r := model.DeliveryReceipt{
		DeliveryRecordID: recordID,
		VendorStatus:     model.VendorStatusSuccess,
		VendorMessageID:  "sim_" + util.New(),
	}
	if v.roll() >= v.successRate {
		r.VendorStatus = model.VendorStatusFailure
		r.ErrorReason = "simulated failure"
	}
	return r
}

func (v *VendorSimulator) report(r model.DeliveryReceipt) {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.receiptURL, bytes.NewReader(b))
	if err != nil {
		logger.Log.Warn("vendor sim: build receipt request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := v.client.Do(req)
	if err != nil {
		logger.Log.Warn("vendor sim: post receipt", zap.String("record_id", r.DeliveryRecordID), zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		logger.Log.Warn("vendor sim: receipt rejected", zap.String("record_id", r.DeliveryRecordID), zap.Int("status", res.StatusCode))
	}
}
