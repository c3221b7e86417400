package model

import (
	"encoding/json"
	"time"
)

// Order is an ingested purchase. Recording one folds it into the customer's
// total_spend, total_visits and last_active.
type Order struct {
	ID         string          `db:"id"          json:"id"`
	CustomerID string          `db:"customer_id" json:"customerId"`
	Amount     float64         `db:"amount"      json:"amount"`
	OrderDate  time.Time       `db:"order_date"  json:"orderDate"`
	Items      json.RawMessage `db:"items"       json:"items,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"createdAt"`
}
