package model

import (
	"encoding/json"
	"time"
)

// Segment is a named rule tree defining a customer audience.
type Segment struct {
	ID        string          `db:"id"         json:"id"`
	Name      string          `db:"name"       json:"name"`
	Rules     json.RawMessage `db:"rules"      json:"rules"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}
