package repository

import (
	"context"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveryEventsRepository is the append-only ClickHouse log of receipts
// processed by the ingestion pipeline.
type DeliveryEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.DeliveryEvent) error
	ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]model.DeliveryEvent, error)
}

type chDeliveryEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveryEventsRepository(ch *sqlx.DB) DeliveryEventsRepository {
	return &chDeliveryEventsRepository{ch: ch}
}

// InsertBatch sends all rows as one ClickHouse block (prepare inside a tx).
func (r *chDeliveryEventsRepository) InsertBatch(ctx context.Context, events []model.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO crm.delivery_events
		    (delivery_record_id, campaign_id, status, vendor_message_id, error_reason, applied, received_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.DeliveryRecordID, e.CampaignID, e.Status, e.VendorMessageID, e.ErrorReason, e.Applied, e.ReceivedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chDeliveryEventsRepository) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]model.DeliveryEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	const q = `
		SELECT delivery_record_id, campaign_id, status, vendor_message_id, error_reason, applied, received_at
		FROM crm.delivery_events
		WHERE campaign_id = ?
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?
	`
	var rows []model.DeliveryEvent
	if err := r.ch.SelectContext(ctx, &rows, q, campaignID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
