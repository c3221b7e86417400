package model

import "time"

type CampaignStatus string

const (
	CampaignCreated              CampaignStatus = "CREATED"
	CampaignInitiated            CampaignStatus = "INITIATED"
	CampaignProcessing           CampaignStatus = "PROCESSING_MESSAGES"
	CampaignCompleted            CampaignStatus = "COMPLETED"
	CampaignCompletedWithPending CampaignStatus = "COMPLETED_WITH_PENDING"
	CampaignCompletedNoAudience  CampaignStatus = "COMPLETED_NO_AUDIENCE"
	CampaignFailed               CampaignStatus = "FAILED"
)

func (s CampaignStatus) String() string { return string(s) }

// Terminal reports whether no further transition is expected.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignCompletedWithPending, CampaignCompletedNoAudience, CampaignFailed:
		return true
	}
	return false
}

// Campaign is one execution of sending a templated message to a segment's audience.
type Campaign struct {
	ID                  string         `db:"id"                    json:"id"`
	SegmentID           string         `db:"segment_id"            json:"segmentId"`
	Name                string         `db:"name"                  json:"name"`
	MessageTemplate     string         `db:"message_template"      json:"messageTemplate"`
	AudienceSize        int64          `db:"audience_size"         json:"audienceSize"`
	SentCount           int64          `db:"sent_count"            json:"sentCount"`
	FailedCount         int64          `db:"failed_count"          json:"failedCount"`
	Status              CampaignStatus `db:"status"                json:"status"`
	FailureReason       *string        `db:"failure_reason"        json:"failureReason,omitempty"`
	CreatedAt           time.Time      `db:"created_at"            json:"createdAt"`
	UpdatedAt           time.Time      `db:"updated_at"            json:"updatedAt"`
	ProcessingStartedAt *time.Time     `db:"processing_started_at" json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at"          json:"completedAt,omitempty"`
}
