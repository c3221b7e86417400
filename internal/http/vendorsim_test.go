package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestVendorSimulator_ReportsReceipt(t *testing.T) {
	got := make(chan model.DeliveryReceipt, 2)
	receipts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rc model.DeliveryReceipt
		_ = json.NewDecoder(r.Body).Decode(&rc)
		got <- rc
		w.WriteHeader(http.StatusAccepted)
	}))
	defer receipts.Close()

	sim := NewVendorSimulator(config.VendorSimConfig{SuccessRate: 0.9, ReceiptURL: receipts.URL})
	rolls := []float64{0.1, 0.95}
	sim.roll = func() float64 {
		r := rolls[0]
		rolls = rolls[1:]
		return r
	}

	e := echo.New()
	e.POST("/send", sim.Handler())

	send := func(id string) int {
		req := httptest.NewRequest(http.MethodPost, "/send",
			strings.NewReader(`{"recipientAddress":"ada@example.com","message":"Hi","deliveryRecordId":"`+id+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusAccepted, send("r1"))
	select {
	case rc := <-got:
		require.Equal(t, "r1", rc.DeliveryRecordID)
		require.Equal(t, model.VendorStatusSuccess, rc.VendorStatus)
		require.True(t, strings.HasPrefix(rc.VendorMessageID, "sim_"))
	case <-time.After(2 * time.Second):
		t.Fatal("no receipt for r1")
	}

	require.Equal(t, http.StatusAccepted, send("r2"))
	select {
	case rc := <-got:
		require.Equal(t, model.VendorStatusFailure, rc.VendorStatus)
		require.Equal(t, "simulated failure", rc.ErrorReason)
	case <-time.After(2 * time.Second):
		t.Fatal("no receipt for r2")
	}
}

func TestVendorSimulator_RejectsIncompleteRequest(t *testing.T) {
	sim := NewVendorSimulator(config.VendorSimConfig{SuccessRate: 1})
	e := echo.New()
	e.POST("/send", sim.Handler())

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"message":"Hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
