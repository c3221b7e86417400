package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
)

// insertChunk bounds the placeholders of one multi-row INSERT.
const insertChunk = 500

// DeliveriesRepository persists per-recipient delivery records. Every
// transition out of PENDING is conditional on the record still being PENDING.
type DeliveriesRepository interface {
	InsertBatch(ctx context.Context, tx *sqlx.Tx, recs []model.DeliveryRecord) error
	ListPendingWithCustomer(ctx context.Context, campaignID string) ([]model.PendingDelivery, error)
	ListByCampaign(ctx context.Context, campaignID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryRecord, error)
	SaveContent(ctx context.Context, id, content string) error
	MarkTriggered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	// ApplyUpdates applies receipt transitions in one transaction and returns
	// the ids of records that actually left PENDING.
	ApplyUpdates(ctx context.Context, ups []model.DeliveryUpdate) ([]string, error)
	// CampaignIDs maps record id to campaign id for the records that exist.
	CampaignIDs(ctx context.Context, recordIDs []string) (map[string]string, error)
	CountByStatus(ctx context.Context, campaignID string) (model.DeliveryCounts, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

// InsertBatch inserts PENDING records with multi-row INSERT statements.
func (r *DeliveriesRepositoryImpl) InsertBatch(ctx context.Context, tx *sqlx.Tx, recs []model.DeliveryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(recs); start += insertChunk {
			end := min(start+insertChunk, len(recs))
			if err := insertDeliveries(ctx, tx, recs[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertDeliveries(ctx context.Context, tx *sqlx.Tx, recs []model.DeliveryRecord) error {
	var sb strings.Builder
	args := make([]any, 0, len(recs)*6)

	sb.WriteString(`INSERT INTO delivery_records (id, campaign_id, customer_id, message_content, status, created_at, updated_at) VALUES `)
	for i, d := range recs {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, 'PENDING', ?, ?)")
		args = append(args, d.ID, d.CampaignID, d.CustomerID, d.MessageContent, d.CreatedAt, d.CreatedAt)
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

type pendingRow struct {
	ID             string          `db:"id"`
	CampaignID     string          `db:"campaign_id"`
	CustomerID     string          `db:"customer_id"`
	MessageContent string          `db:"message_content"`
	CreatedAt      sql.NullTime    `db:"created_at"`
	CID            sql.NullString  `db:"c_id"`
	CName          sql.NullString  `db:"c_name"`
	CEmail         sql.NullString  `db:"c_email"`
	CPhone         sql.NullString  `db:"c_phone"`
	CTotalSpend    sql.NullFloat64 `db:"c_total_spend"`
	CTotalVisits   sql.NullInt64   `db:"c_total_visits"`
	CLastActive    sql.NullTime    `db:"c_last_active"`
	CAttributes    []byte          `db:"c_attributes"`
}

// ListPendingWithCustomer returns the campaign's PENDING records joined with
// their customer; Customer is nil for records whose customer is gone.
func (r *DeliveriesRepositoryImpl) ListPendingWithCustomer(ctx context.Context, campaignID string) ([]model.PendingDelivery, error) {
	const q = `
		SELECT d.id, d.campaign_id, d.customer_id, d.message_content, d.created_at,
		       c.id AS c_id, c.name AS c_name, c.email AS c_email, c.phone AS c_phone,
		       c.total_spend AS c_total_spend, c.total_visits AS c_total_visits,
		       c.last_active AS c_last_active, c.attributes AS c_attributes
		  FROM delivery_records d
		  LEFT JOIN customers c ON c.id = d.customer_id
		 WHERE d.campaign_id = ? AND d.status = 'PENDING'
		 ORDER BY d.id
	`
	var rows []pendingRow
	if err := r.db.SelectContext(ctx, &rows, q, campaignID); err != nil {
		return nil, err
	}

	out := make([]model.PendingDelivery, 0, len(rows))
	for _, row := range rows {
		pd := model.PendingDelivery{Record: model.DeliveryRecord{
			ID:             row.ID,
			CampaignID:     row.CampaignID,
			CustomerID:     row.CustomerID,
			MessageContent: row.MessageContent,
			Status:         model.DeliveryPending,
			CreatedAt:      row.CreatedAt.Time,
		}}
		if row.CID.Valid {
			c := &model.Customer{
				ID:          row.CID.String,
				Name:        row.CName.String,
				Email:       row.CEmail.String,
				Phone:       row.CPhone.String,
				TotalSpend:  row.CTotalSpend.Float64,
				TotalVisits: row.CTotalVisits.Int64,
				Attributes:  row.CAttributes,
			}
			if row.CLastActive.Valid {
				t := row.CLastActive.Time
				c.LastActive = &t
			}
			pd.Customer = c
		}
		out = append(out, pd)
	}
	return out, nil
}

func (r *DeliveriesRepositoryImpl) ListByCampaign(ctx context.Context, campaignID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, campaign_id, customer_id, message_content, status, vendor_message_id, failure_reason,
		       created_at, sent_at, delivered_at, failed_at, updated_at
		  FROM delivery_records
		 WHERE campaign_id = ?
	`
	args := []any{campaignID}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryRecord
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeliveriesRepositoryImpl) SaveContent(ctx context.Context, id, content string) error {
	const q = `UPDATE delivery_records SET message_content = ?, updated_at = NOW(6) WHERE id = ? AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, content, id)
	return err
}

// MarkTriggered stamps sent_at once the vendor accepted the send; the record stays PENDING.
func (r *DeliveriesRepositoryImpl) MarkTriggered(ctx context.Context, id string) error {
	const q = `UPDATE delivery_records SET sent_at = NOW(6), updated_at = NOW(6) WHERE id = ? AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	const q = `
		UPDATE delivery_records
		   SET status = 'FAILED', failure_reason = ?, failed_at = NOW(6), updated_at = NOW(6)
		 WHERE id = ? AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, q, reason, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

const (
	applySentQ = `
		UPDATE delivery_records
		   SET status = 'SENT', vendor_message_id = ?, delivered_at = NOW(6), updated_at = NOW(6)
		 WHERE id = ? AND status = 'PENDING'
	`
	applyFailedQ = `
		UPDATE delivery_records
		   SET status = 'FAILED', vendor_message_id = ?, failure_reason = ?, failed_at = NOW(6), updated_at = NOW(6)
		 WHERE id = ? AND status = 'PENDING'
	`
)

func (r *DeliveriesRepositoryImpl) ApplyUpdates(ctx context.Context, ups []model.DeliveryUpdate) ([]string, error) {
	if len(ups) == 0 {
		return nil, nil
	}

	applied := make([]string, 0, len(ups))
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		for _, u := range ups {
			var (
				res sql.Result
				err error
			)
			switch u.Status {
			case model.DeliverySent:
				res, err = tx.ExecContext(ctx, applySentQ, nullable(u.VendorMessageID), u.RecordID)
			case model.DeliveryFailed:
				res, err = tx.ExecContext(ctx, applyFailedQ, nullable(u.VendorMessageID), nullable(u.ErrorReason), u.RecordID)
			default:
				continue
			}
			if err != nil {
				return err
			}
			ok, err := affected(res)
			if err != nil {
				return err
			}
			if ok {
				applied = append(applied, u.RecordID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (r *DeliveriesRepositoryImpl) CampaignIDs(ctx context.Context, recordIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, campaign_id FROM delivery_records WHERE id IN (?)`, recordIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var rows []struct {
		ID         string `db:"id"`
		CampaignID string `db:"campaign_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.CampaignID
	}
	return out, nil
}

// CountByStatus re-scans every record of the campaign.
func (r *DeliveriesRepositoryImpl) CountByStatus(ctx context.Context, campaignID string) (model.DeliveryCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int64  `db:"n"`
	}
	const q = `SELECT status, COUNT(*) AS n FROM delivery_records WHERE campaign_id = ? GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, q, campaignID); err != nil {
		return model.DeliveryCounts{}, err
	}

	var c model.DeliveryCounts
	for _, row := range rows {
		switch model.DeliveryStatus(row.Status) {
		case model.DeliverySent:
			c.Sent = row.N
		case model.DeliveryFailed:
			c.Failed = row.N
		case model.DeliveryPending:
			c.Pending = row.N
		}
	}
	return c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
