package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
)

// CampaignsRepository persists campaigns. Every status change is a single
// conditional UPDATE so concurrent writers never lose a transition.
type CampaignsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, c model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, limit, offset int) ([]model.Campaign, error)
	// CompareAndSetStatus moves the campaign from `from` to `to` and reports whether it did.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error)
	// UpdateAggregates writes counts and status if the status is still `expected`.
	UpdateAggregates(ctx context.Context, id string, expected model.CampaignStatus, counts model.DeliveryCounts, next model.CampaignStatus) (bool, error)
	// MarkFailed moves the campaign to FAILED if its status is one of `from`
	// (any non-terminal status when empty) and reports whether it did.
	MarkFailed(ctx context.Context, id, reason string, from ...model.CampaignStatus) (bool, error)
	// ListProcessingBefore returns ids of PROCESSING_MESSAGES campaigns whose
	// processing started before the given instant, oldest first.
	ListProcessingBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type CampaignsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCampaignsRepository(db *sqlx.DB) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

const campaignColumns = `id, segment_id, name, message_template, audience_size, sent_count, failed_count,
	status, failure_reason, created_at, updated_at, processing_started_at, completed_at`

func (r *CampaignsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, c model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (id, segment_id, name, message_template, audience_size, sent_count, failed_count,
		     status, created_at, updated_at, completed_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.ID, c.SegmentID, c.Name, c.MessageTemplate, c.AudienceSize, c.SentCount, c.FailedCount,
			c.Status.String(), c.CreatedAt, c.UpdatedAt, c.CompletedAt,
		)
		return err
	})
}

// GetByID returns nil, nil when the campaign does not exist.
func (r *CampaignsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []model.Campaign
	q := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &rows, q, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignsRepositoryImpl) CompareAndSetStatus(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	const q = `
		UPDATE campaigns
		   SET status = ?,
		       processing_started_at = CASE WHEN ? = 'PROCESSING_MESSAGES' THEN NOW(6) ELSE processing_started_at END,
		       updated_at = NOW(6)
		 WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, q, to.String(), to.String(), id, from.String())
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *CampaignsRepositoryImpl) UpdateAggregates(ctx context.Context, id string, expected model.CampaignStatus, counts model.DeliveryCounts, next model.CampaignStatus) (bool, error) {
	const q = `
		UPDATE campaigns
		   SET sent_count = ?,
		       failed_count = ?,
		       status = ?,
		       completed_at = CASE WHEN ? THEN COALESCE(completed_at, NOW(6)) ELSE completed_at END,
		       updated_at = NOW(6)
		 WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, q,
		counts.Sent, counts.Failed, next.String(), next.Terminal(), id, expected.String(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// NonTerminalStatuses are the statuses a campaign can still fail from.
var NonTerminalStatuses = []model.CampaignStatus{
	model.CampaignCreated, model.CampaignInitiated, model.CampaignProcessing,
}

func (r *CampaignsRepositoryImpl) MarkFailed(ctx context.Context, id, reason string, from ...model.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		from = NonTerminalStatuses
	}
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = st.String()
	}

	query, args, err := sqlx.In(`
		UPDATE campaigns
		   SET status = 'FAILED', failure_reason = ?, completed_at = NOW(6), updated_at = NOW(6)
		 WHERE id = ? AND status IN (?)
	`, reason, id, statuses)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *CampaignsRepositoryImpl) ListProcessingBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id FROM campaigns
		 WHERE status = 'PROCESSING_MESSAGES' AND processing_started_at < ?
		 ORDER BY processing_started_at
		 LIMIT ?
	`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, q, before, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
