package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliverySent || s == DeliveryFailed
}

// DeliveryRecord is the per-recipient unit of work and its outcome.
type DeliveryRecord struct {
	ID              string         `db:"id"                json:"id"`
	CampaignID      string         `db:"campaign_id"       json:"campaignId"`
	CustomerID      string         `db:"customer_id"       json:"customerId"`
	MessageContent  string         `db:"message_content"   json:"messageContent"`
	Status          DeliveryStatus `db:"status"            json:"status"`
	VendorMessageID *string        `db:"vendor_message_id" json:"vendorMessageId,omitempty"`
	FailureReason   *string        `db:"failure_reason"    json:"failureReason,omitempty"`
	CreatedAt       time.Time      `db:"created_at"        json:"createdAt"`
	SentAt          *time.Time     `db:"sent_at"           json:"sentAt,omitempty"`
	DeliveredAt     *time.Time     `db:"delivered_at"      json:"deliveredAt,omitempty"`
	FailedAt        *time.Time     `db:"failed_at"         json:"failedAt,omitempty"`
	UpdatedAt       time.Time      `db:"updated_at"        json:"updatedAt"`
}

// PendingDelivery is a PENDING record joined with its customer.
// Customer is nil when the customer row no longer exists.
type PendingDelivery struct {
	Record   DeliveryRecord
	Customer *Customer
}

// DeliveryCounts is the exact per-status tally of a campaign's records.
type DeliveryCounts struct {
	Sent    int64
	Failed  int64
	Pending int64
}

func (c DeliveryCounts) Total() int64 { return c.Sent + c.Failed + c.Pending }

// DeliveryUpdate is a receipt-driven PENDING→SENT|FAILED transition.
type DeliveryUpdate struct {
	RecordID        string
	Status          DeliveryStatus // sent | failed
	VendorMessageID string
	ErrorReason     string
}

// SendRequest is the payload posted to the vendor.
type SendRequest struct {
	RecipientAddress string `json:"recipientAddress"`
	Message          string `json:"message"`
	DeliveryRecordID string `json:"deliveryRecordId"`
}

// DeliveryEvent is one processed receipt as recorded in the analytics store.
type DeliveryEvent struct {
	DeliveryRecordID string    `db:"delivery_record_id" json:"deliveryRecordId"`
	CampaignID       string    `db:"campaign_id"        json:"campaignId"`
	Status           string    `db:"status"             json:"status"`
	VendorMessageID  string    `db:"vendor_message_id"  json:"vendorMessageId,omitempty"`
	ErrorReason      string    `db:"error_reason"       json:"errorReason,omitempty"`
	Applied          bool      `db:"applied"            json:"applied"` // false for duplicates
	ReceivedAt       time.Time `db:"received_at"        json:"receivedAt"`
}
