package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDeliveries_InsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)
	now := time.Now().UTC()

	recs := []model.DeliveryRecord{
		{ID: "d1", CampaignID: "cmp1", CustomerID: "c1", CreatedAt: now},
		{ID: "d2", CampaignID: "cmp1", CustomerID: "c2", CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs("d1", "cmp1", "c1", "", now, now, "d2", "cmp1", "c2", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertBatch(context.Background(), nil, recs))
}

func TestDeliveries_InsertBatchEmptyIsNoop(t *testing.T) {
	db, _ := newMockDB(t)
	require.NoError(t, NewDeliveriesRepository(db).InsertBatch(context.Background(), nil, nil))
}

func TestDeliveries_ApplyUpdatesReportsOnlyTransitions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET status = 'SENT'").
		WithArgs("vm1", "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// d2 already left PENDING, so the update matches nothing.
	mock.ExpectExec("SET status = 'FAILED'").
		WithArgs(nil, "bounced", "d2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := repo.ApplyUpdates(context.Background(), []model.DeliveryUpdate{
		{RecordID: "d1", Status: model.DeliverySent, VendorMessageID: "vm1"},
		{RecordID: "d2", Status: model.DeliveryFailed, ErrorReason: "bounced"},
		{RecordID: "d3", Status: model.DeliveryPending},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, applied)
}

func TestDeliveries_ApplyUpdatesRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET status = 'SENT'").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	applied, err := repo.ApplyUpdates(context.Background(), []model.DeliveryUpdate{
		{RecordID: "d1", Status: model.DeliverySent},
	})
	require.Error(t, err)
	require.Nil(t, applied)
}

func TestDeliveries_CampaignIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)

	mock.ExpectQuery("SELECT id, campaign_id FROM delivery_records WHERE id IN \\(\\?, \\?\\)").
		WithArgs("d1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id"}).AddRow("d1", "cmp1"))

	m, err := repo.CampaignIDs(context.Background(), []string{"d1", "ghost"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"d1": "cmp1"}, m)
}

func TestDeliveries_CountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)

	mock.ExpectQuery("GROUP BY status").
		WithArgs("cmp1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
			AddRow("SENT", 2).AddRow("FAILED", 1))

	c, err := repo.CountByStatus(context.Background(), "cmp1")
	require.NoError(t, err)
	require.Equal(t, model.DeliveryCounts{Sent: 2, Failed: 1}, c)
	require.EqualValues(t, 3, c.Total())
}

func TestDeliveries_ListPendingWithCustomer(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)
	now := time.Now().UTC()

	cols := []string{
		"id", "campaign_id", "customer_id", "message_content", "created_at",
		"c_id", "c_name", "c_email", "c_phone", "c_total_spend", "c_total_visits", "c_last_active", "c_attributes",
	}
	mock.ExpectQuery("LEFT JOIN customers").
		WithArgs("cmp1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("d1", "cmp1", "c1", "", now, "c1", "Ada", "ada@example.com", nil, 120.5, 4, now, []byte(`{"city":"Oslo"}`)).
			AddRow("d2", "cmp1", "gone", "", now, nil, nil, nil, nil, nil, nil, nil, nil))

	rows, err := repo.ListPendingWithCustomer(context.Background(), "cmp1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NotNil(t, rows[0].Customer)
	require.Equal(t, "Ada", rows[0].Customer.Name)
	require.Empty(t, rows[0].Customer.Phone)
	require.NotNil(t, rows[0].Customer.LastActive)
	require.Equal(t, model.DeliveryPending, rows[0].Record.Status)

	require.Nil(t, rows[1].Customer)
	require.Equal(t, "gone", rows[1].Record.CustomerID)
}

func TestDeliveries_MarkFailedIsConditional(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveriesRepository(db)

	mock.ExpectExec("WHERE id = \\? AND status = 'PENDING'").
		WithArgs("customer data missing for sending", "d1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkFailed(context.Background(), "d1", "customer data missing for sending")
	require.NoError(t, err)
	require.False(t, ok)
}
