package customer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var orderDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// Service ingests customers and their orders, keeping the statistics the
// audience rules filter on up to date.
type Service struct {
	tx        repository.TxRunner
	customers repository.CustomersRepository
	orders    repository.OrdersRepository

	now func() time.Time
}

func New(tx repository.TxRunner, customers repository.CustomersRepository, orders repository.OrdersRepository) *Service {
	return &Service{tx: tx, customers: customers, orders: orders, now: time.Now}
}

type IngestRequest struct {
	ID         string          `json:"customerId"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone"`
	Attributes json.RawMessage `json:"attributes"`
}

type OrderRequest struct {
	ID         string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Amount     *float64        `json:"amount"`
	OrderDate  string          `json:"orderDate"`
	Items      json.RawMessage `json:"items"`
}

type OrderResult struct {
	Order model.Order `json:"order"`
	// CustomerUpdated is false when the order names an unknown customer.
	CustomerUpdated bool `json:"customerUpdated"`
}

// Ingest creates the customer, or refreshes the profile of an existing one
// with the same id. Purchase statistics only change through orders.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (model.Customer, error) {
	name, email := strings.TrimSpace(req.Name), strings.TrimSpace(req.Email)
	if name == "" {
		return model.Customer{}, invalid("name", "is required")
	}
	if email == "" {
		return model.Customer{}, invalid("email", "is required")
	}
	attrs := bytes.TrimSpace(req.Attributes)
	if len(attrs) == 0 || bytes.Equal(attrs, []byte("null")) {
		attrs = []byte("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(attrs, &obj); err != nil {
		return model.Customer{}, invalid("attributes", "must be a JSON object")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = util.New()
	}
	now := s.now().UTC()
	c := model.Customer{
		ID:         id,
		Name:       name,
		Email:      email,
		Phone:      util.NormalizePhone(req.Phone),
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.customers.Upsert(ctx, nil, c); err != nil {
		return model.Customer{}, fmt.Errorf("upsert customer: %w", err)
	}

	stored, err := s.customers.GetByID(ctx, id)
	if err != nil {
		return model.Customer{}, fmt.Errorf("reload customer: %w", err)
	}
	if stored == nil {
		return c, nil
	}
	return *stored, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Customer, error) {
	return s.customers.List(ctx, limit, offset)
}

// RecordOrder stores the order and folds it into the customer's statistics in
// one transaction. An order for an unknown customer is kept but updates nothing.
func (s *Service) RecordOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return OrderResult{}, invalid("customerId", "is required")
	}
	if req.Amount == nil {
		return OrderResult{}, invalid("amount", "is required")
	}
	amount := *req.Amount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return OrderResult{}, invalid("amount", "must be a non-negative number")
	}

	now := s.now().UTC()
	at := now
	if raw := strings.TrimSpace(req.OrderDate); raw != "" {
		t, ok := parseOrderDate(raw)
		if !ok {
			return OrderResult{}, invalid("orderDate", "invalid date format")
		}
		at = t
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = util.New()
	}
	o := model.Order{
		ID:         id,
		CustomerID: customerID,
		Amount:     amount,
		OrderDate:  at,
		Items:      req.Items,
		CreatedAt:  now,
	}

	var found bool
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.orders.Insert(ctx, tx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		var err error
		found, err = s.customers.ApplyOrder(ctx, tx, customerID, amount, at)
		if err != nil {
			return fmt.Errorf("update customer stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}

	metrics.OrdersIngested.WithLabelValues(strconv.FormatBool(found)).Inc()
	if !found {
		logger.Log.Warn("order for unknown customer", zap.String("order_id", id), zap.String("customer_id", customerID))
	}
	return OrderResult{Order: o, CustomerUpdated: found}, nil
}

func parseOrderDate(s string) (time.Time, bool) {
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
