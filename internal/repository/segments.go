package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
)

type SegmentsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, s model.Segment) error
	GetByID(ctx context.Context, id string) (*model.Segment, error)
}

type SegmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSegmentsRepository(db *sqlx.DB) *SegmentsRepositoryImpl {
	return &SegmentsRepositoryImpl{db: db}
}

var _ SegmentsRepository = (*SegmentsRepositoryImpl)(nil)

func (r *SegmentsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, s model.Segment) error {
	const q = `INSERT INTO segments (id, name, rules, created_at) VALUES (?, ?, ?, ?)`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, s.ID, s.Name, []byte(s.Rules), s.CreatedAt)
		return err
	})
}

// GetByID returns nil, nil when the segment does not exist.
func (r *SegmentsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Segment, error) {
	var s model.Segment
	err := r.db.GetContext(ctx, &s, `SELECT id, name, rules, created_at FROM segments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
