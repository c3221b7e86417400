package model

import (
	"encoding/json"
	"time"
)

// Customer is a row of the customers table. Read-only to the campaign core.
type Customer struct {
	ID          string          `db:"id"           json:"id"`
	Name        string          `db:"name"         json:"name"`
	Email       string          `db:"email"        json:"email"`
	Phone       string          `db:"phone"        json:"phone"`
	TotalSpend  float64         `db:"total_spend"  json:"totalSpend"`
	TotalVisits int64           `db:"total_visits" json:"totalVisits"`
	LastActive  *time.Time      `db:"last_active"  json:"lastActive,omitempty"`
	Attributes  json.RawMessage `db:"attributes"   json:"attributes,omitempty"` // free-form JSON object
	CreatedAt   time.Time       `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updatedAt"`
}

// Attr returns a free-form attribute rendered as text, or "" when absent.
func (c *Customer) Attr(key string) (string, bool) {
	if len(c.Attributes) == 0 {
		return "", false
	}
	var m map[string]any
	if err := json.Unmarshal(c.Attributes, &m); err != nil {
		return "", false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		b, _ := json.Marshal(t)
		return string(b), true
	}
}

// CustomerRef is the minimal projection needed to build delivery records.
type CustomerRef struct {
	ID   string `db:"id"   json:"id"`
	Name string `db:"name" json:"name"`
}
