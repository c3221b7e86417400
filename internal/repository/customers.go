package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/jmoiron/sqlx"
)

// CustomersRepository selects customers by a compiled rule predicate and
// maintains the customer profile and purchase statistics.
type CustomersRepository interface {
	Count(ctx context.Context, p rules.Predicate) (int64, error)
	FindRefs(ctx context.Context, p rules.Predicate) ([]model.CustomerRef, error)

	GetByID(ctx context.Context, id string) (*model.Customer, error)
	List(ctx context.Context, limit, offset int) ([]model.Customer, error)
	// Upsert inserts the customer or refreshes its profile fields; statistics are left alone.
	Upsert(ctx context.Context, tx *sqlx.Tx, c model.Customer) error
	// ApplyOrder adds one visit of the given amount and reports whether the customer exists.
	ApplyOrder(ctx context.Context, tx *sqlx.Tx, customerID string, amount float64, at time.Time) (bool, error)
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

func (r *CustomersRepositoryImpl) Count(ctx context.Context, p rules.Predicate) (int64, error) {
	where, args := p.SQL()
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM customers WHERE `+where, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// FindRefs returns id and name only, ordered by id.
func (r *CustomersRepositoryImpl) FindRefs(ctx context.Context, p rules.Predicate) ([]model.CustomerRef, error) {
	where, args := p.SQL()
	var refs []model.CustomerRef
	if err := r.db.SelectContext(ctx, &refs, `SELECT id, name FROM customers WHERE `+where+` ORDER BY id`, args...); err != nil {
		return nil, err
	}
	return refs, nil
}

const customerColumns = `id, name, email, phone, total_spend, total_visits, last_active, attributes, created_at, updated_at`

type customerRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Email       sql.NullString `db:"email"`
	Phone       sql.NullString `db:"phone"`
	TotalSpend  float64        `db:"total_spend"`
	TotalVisits int64          `db:"total_visits"`
	LastActive  sql.NullTime   `db:"last_active"`
	Attributes  []byte         `db:"attributes"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (row customerRow) customer() model.Customer {
	c := model.Customer{
		ID:          row.ID,
		Name:        row.Name,
		Email:       row.Email.String,
		Phone:       row.Phone.String,
		TotalSpend:  row.TotalSpend,
		TotalVisits: row.TotalVisits,
		Attributes:  row.Attributes,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.LastActive.Valid {
		t := row.LastActive.Time
		c.LastActive = &t
	}
	return c
}

// GetByID returns nil, nil when the customer does not exist.
func (r *CustomersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Customer, error) {
	var row customerRow
	err := r.db.GetContext(ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := row.customer()
	return &c, nil
}

func (r *CustomersRepositoryImpl) List(ctx context.Context, limit, offset int) ([]model.Customer, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var rows []customerRow
	q := `SELECT ` + customerColumns + ` FROM customers ORDER BY id LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &rows, q, limit, offset); err != nil {
		return nil, err
	}
	out := make([]model.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.customer())
	}
	return out, nil
}

func (r *CustomersRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, c model.Customer) error {
	const q = `
		INSERT INTO customers
		    (id, name, email, phone, total_spend, total_visits, last_active, attributes, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, 0, 0, NULL, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    name       = VALUES(name),
		    email      = VALUES(email),
		    phone      = VALUES(phone),
		    attributes = VALUES(attributes),
		    updated_at = VALUES(updated_at)
	`
	attrs := []byte(c.Attributes)
	if len(attrs) == 0 {
		attrs = []byte("{}")
	}
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			c.ID, c.Name, nullable(c.Email), nullable(c.Phone), attrs, c.CreatedAt, c.UpdatedAt,
		)
		return err
	})
}

func (r *CustomersRepositoryImpl) ApplyOrder(ctx context.Context, tx *sqlx.Tx, customerID string, amount float64, at time.Time) (bool, error) {
	const q = `
		UPDATE customers
		   SET total_spend  = total_spend + ?,
		       total_visits = total_visits + 1,
		       last_active  = GREATEST(COALESCE(last_active, ?), ?),
		       updated_at   = NOW(6)
		 WHERE id = ?
	`
	var ok bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, amount, at, at, customerID)
		if err != nil {
			return err
		}
		ok, err = affected(res)
		return err
	})
	return ok, err
}
