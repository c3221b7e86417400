package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/stretchr/testify/require"
)

var campaignCols = []string{
	"id", "segment_id", "name", "message_template", "audience_size", "sent_count", "failed_count",
	"status", "failure_reason", "created_at", "updated_at", "processing_started_at", "completed_at",
}

func TestCampaigns_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)

	mock.ExpectQuery("FROM campaigns WHERE id = \\?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(campaignCols))

	c, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestCampaigns_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM campaigns WHERE id = \\?").
		WithArgs("cmp1").
		WillReturnRows(sqlmock.NewRows(campaignCols).
			AddRow("cmp1", "seg1", "Spring", "Hi {{name}}", 3, 2, 1, "COMPLETED", nil, now, now, now, now))

	c, err := repo.GetByID(context.Background(), "cmp1")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, model.CampaignCompleted, c.Status)
	require.EqualValues(t, 3, c.AudienceSize)
	require.Nil(t, c.FailureReason)
	require.NotNil(t, c.CompletedAt)
}

func TestCampaigns_CompareAndSetStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)

	mock.ExpectExec("UPDATE campaigns").
		WithArgs("PROCESSING_MESSAGES", "PROCESSING_MESSAGES", "cmp1", "INITIATED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns").
		WithArgs("PROCESSING_MESSAGES", "PROCESSING_MESSAGES", "cmp1", "INITIATED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.CompareAndSetStatus(context.Background(), "cmp1", model.CampaignInitiated, model.CampaignProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.CompareAndSetStatus(context.Background(), "cmp1", model.CampaignInitiated, model.CampaignProcessing)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCampaigns_MarkFailedOnlyFromNonTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)

	mock.ExpectExec(`WHERE id = \? AND status IN \(\?, \?, \?\)`).
		WithArgs("boom", "cmp1", "CREATED", "INITIATED", "PROCESSING_MESSAGES").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`WHERE id = \? AND status IN \(\?\)`).
		WithArgs("boom", "cmp1", "INITIATED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkFailed(context.Background(), "cmp1", "boom")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.MarkFailed(context.Background(), "cmp1", "boom", model.CampaignInitiated)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCampaigns_UpdateAggregatesTerminalStampsCompletion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)

	mock.ExpectExec("UPDATE campaigns").
		WithArgs(int64(2), int64(1), "COMPLETED", true, "cmp1", "PROCESSING_MESSAGES").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateAggregates(context.Background(), "cmp1", model.CampaignProcessing,
		model.DeliveryCounts{Sent: 2, Failed: 1}, model.CampaignCompleted)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCampaigns_ListClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)

	mock.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT \\? OFFSET \\?").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(campaignCols))

	rows, err := repo.List(context.Background(), 10000, -1)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCampaigns_ListProcessingBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCampaignsRepository(db)
	cutoff := time.Now().Add(-time.Minute)

	mock.ExpectQuery("WHERE status = 'PROCESSING_MESSAGES' AND processing_started_at < \\?").
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListProcessingBefore(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}
