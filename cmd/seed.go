package cmd

import (
	"fmt"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/db"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		n, err := seedCustomers(sqlDB, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.Log.Info("seed completed", zap.Int("customers", n))
		return nil
	},
}

func demoCustomers(now time.Time) []model.Customer {
	days := func(d int) *time.Time {
		t := now.AddDate(0, 0, -d)
		return &t
	}
	return []model.Customer{
		{ID: "cust_001", Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+4420700001", TotalSpend: 15200, TotalVisits: 42, LastActive: days(2), Attributes: []byte(`{"city":"London","tier":"gold"}`)},
		{ID: "cust_002", Name: "Grace Hopper", Email: "grace@example.com", TotalSpend: 8400, TotalVisits: 12, LastActive: days(20), Attributes: []byte(`{"city":"New York"}`)},
		{ID: "cust_003", Name: "Alan Turing", Phone: "+4420700003", TotalSpend: 3100, TotalVisits: 3, LastActive: days(120), Attributes: []byte(`{}`)},
		{ID: "cust_004", Name: "", Email: "anon@example.com", TotalSpend: 0, TotalVisits: 1, Attributes: []byte(`{}`)},
		{ID: "cust_005", Name: "Edsger Dijkstra", Email: "edsger@example.com", TotalSpend: 22000, TotalVisits: 5, LastActive: days(400), Attributes: []byte(`{"city":"Austin","tier":"platinum"}`)},
		{ID: "cust_006", Name: "Barbara Liskov", Email: "barbara@example.com", Phone: "+16175550106", TotalSpend: 6100, TotalVisits: 27, LastActive: days(7), Attributes: []byte(`{"city":"Boston"}`)},
		{ID: "cust_007", Name: "Ken Thompson", TotalSpend: 990, TotalVisits: 8, LastActive: days(1), Attributes: []byte(`{}`)},
	}
}

// seedCustomers upserts the demo customers by id.
func seedCustomers(dbx *sqlx.DB, now time.Time) (int, error) {
	const q = `
INSERT INTO customers
    (id, name, email, phone, total_spend, total_visits, last_active, attributes, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name         = VALUES(name),
    email        = VALUES(email),
    phone        = VALUES(phone),
    total_spend  = VALUES(total_spend),
    total_visits = VALUES(total_visits),
    last_active  = VALUES(last_active),
    attributes   = VALUES(attributes),
    updated_at   = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	customers := demoCustomers(now)
	for _, c := range customers {
		if _, err := tx.Exec(q,
			c.ID, c.Name, nullString(c.Email), nullString(c.Phone), c.TotalSpend, c.TotalVisits,
			c.LastActive, []byte(c.Attributes), now, now,
		); err != nil {
			return 0, fmt.Errorf("insert customer %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit customers: %w", err)
	}
	return len(customers), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
