package repository

import (
	"context"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
)

type OrdersRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

func (r *OrdersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error {
	const q = `
		INSERT INTO orders (id, customer_id, amount, order_date, items, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var items any
	if len(o.Items) > 0 {
		items = []byte(o.Items)
	}
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, o.ID, o.CustomerID, o.Amount, o.OrderDate, items, o.CreatedAt)
		return err
	})
}
