package model

import "strings"

const (
	VendorStatusSuccess = "success"
	VendorStatusFailure = "failure"
)

// DeliveryReceipt is the vendor callback payload carried on the receipts topic.
type DeliveryReceipt struct {
	DeliveryRecordID string `json:"deliveryRecordId"`
	VendorStatus     string `json:"vendorStatus"`
	VendorMessageID  string `json:"vendorMessageId,omitempty"`
	ErrorReason      string `json:"errorReason,omitempty"`
}

// DeliveryStatus maps the vendor status onto a record status.
// ok is false for anything other than success|failure.
func (r DeliveryReceipt) DeliveryStatus() (DeliveryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(r.VendorStatus)) {
	case VendorStatusSuccess:
		return DeliverySent, true
	case VendorStatusFailure:
		return DeliveryFailed, true
	default:
		return "", false
	}
}

// Update converts the receipt into a conditional record update.
func (r DeliveryReceipt) Update() (DeliveryUpdate, bool) {
	st, ok := r.DeliveryStatus()
	if !ok || strings.TrimSpace(r.DeliveryRecordID) == "" {
		return DeliveryUpdate{}, false
	}
	return DeliveryUpdate{
		RecordID:        strings.TrimSpace(r.DeliveryRecordID),
		Status:          st,
		VendorMessageID: r.VendorMessageID,
		ErrorReason:     r.ErrorReason,
	}, true
}
