package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/kafka"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository/repotest"
	"github.com/jmehdipour/crm-campaigns/internal/service/campaign"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in      chan kafka.Message
	offset  atomic.Int64
	fetched atomic.Int64

	mu        sync.Mutex
	committed []kafka.Message
}

func newChanSource() *chanSource { return &chanSource{in: make(chan kafka.Message, 64)} }

func (s *chanSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-s.in:
		s.fetched.Add(1)
		return m, nil
	}
}

func (s *chanSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *chanSource) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

func (s *chanSource) pushRaw(b []byte) {
	s.in <- kafka.Message{Topic: "crm.delivery-receipts", Offset: s.offset.Add(1) - 1, Value: b}
}

func (s *chanSource) push(r model.DeliveryReceipt) {
	b, _ := json.Marshal(r)
	s.pushRaw(b)
}

// countingRefresher records which campaigns were refreshed.
type countingRefresher struct {
	next Refresher
	mu   sync.Mutex
	ids  []string
}

func (c *countingRefresher) Refresh(ctx context.Context, id string) error {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
	return c.next.Refresh(ctx, id)
}

func (c *countingRefresher) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

type memEvents struct {
	mu     sync.Mutex
	events []model.DeliveryEvent
}

func (m *memEvents) InsertBatch(_ context.Context, events []model.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memEvents) ListByCampaign(_ context.Context, campaignID string, _, _ int) ([]model.DeliveryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeliveryEvent
	for _, e := range m.events {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	db        *repotest.DB
	src       *chanSource
	refresher *countingRefresher
	events    *memEvents
	consumer  *ReceiptConsumer
}

// newFixture seeds one PROCESSING campaign "cmp1" with PENDING records r1..r3.
func newFixture(t *testing.T, batchSize int, wait time.Duration) *fixture {
	t.Helper()
	db := repotest.New()
	now := time.Now().UTC()
	db.PutCampaign(model.Campaign{ID: "cmp1", Name: "spring", MessageTemplate: "Hi", AudienceSize: 3, Status: model.CampaignProcessing, CreatedAt: now, UpdatedAt: now, ProcessingStartedAt: &now})
	for _, id := range []string{"r1", "r2", "r3"} {
		db.PutRecord(model.DeliveryRecord{ID: id, CampaignID: "cmp1", CustomerID: "c-" + id, Status: model.DeliveryPending, CreatedAt: now})
	}

	svc := campaign.New(db.Tx(), db.Segments(), db.Campaigns(), db.Deliveries(), nil, nil, campaign.Config{})
	f := &fixture{
		db:        db,
		src:       newChanSource(),
		refresher: &countingRefresher{next: svc},
		events:    &memEvents{},
	}
	f.consumer = &ReceiptConsumer{
		Source:          f.src,
		Deliveries:      db.Deliveries(),
		Campaigns:       f.refresher,
		Events:          f.events,
		BatchSize:       batchSize,
		BatchWait:       wait,
		ShutdownTimeout: time.Second,
	}
	return f
}

// start runs the consumer and returns a stop function that cancels and waits for Run.
func (f *fixture) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.consumer.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("consumer did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func (f *fixture) record(t *testing.T, id string) model.DeliveryRecord {
	t.Helper()
	for _, r := range f.db.Records("cmp1") {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("record %s not found", id)
	return model.DeliveryRecord{}
}

func (f *fixture) campaign(t *testing.T) model.Campaign {
	t.Helper()
	c, ok := f.db.Campaign("cmp1")
	require.True(t, ok)
	return c
}

func TestReceipts_PartialBatchFlushesOnTimeout(t *testing.T) {
	f := newFixture(t, 10, 50*time.Millisecond)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success", VendorMessageID: "vm-1"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "failure", ErrorReason: "bounced"})

	require.Eventually(t, func() bool { return f.src.commits() == 2 }, 2*time.Second, 10*time.Millisecond)

	c := f.campaign(t)
	require.Equal(t, model.CampaignProcessing, c.Status)
	require.EqualValues(t, 1, c.SentCount)
	require.EqualValues(t, 1, c.FailedCount)

	require.Equal(t, model.DeliverySent, f.record(t, "r1").Status)
	require.Equal(t, model.DeliveryFailed, f.record(t, "r2").Status)
	require.Equal(t, model.DeliveryPending, f.record(t, "r3").Status)
	require.Equal(t, []string{"cmp1"}, f.refresher.calls())
}

func TestReceipts_FlushesAtBatchSize(t *testing.T) {
	f := newFixture(t, 3, time.Hour)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "success"})
	require.Never(t, func() bool { return f.src.commits() > 0 }, 150*time.Millisecond, 10*time.Millisecond)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r3", VendorStatus: "SUCCESS"})
	require.Eventually(t, func() bool { return f.src.commits() == 3 }, 2*time.Second, 10*time.Millisecond)

	c := f.campaign(t)
	require.Equal(t, model.CampaignCompleted, c.Status)
	require.EqualValues(t, 3, c.SentCount)
	require.NotNil(t, c.CompletedAt)
}

func TestReceipts_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t, 1, time.Hour)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success", VendorMessageID: "first"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success", VendorMessageID: "second"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "failure"})
	require.Eventually(t, func() bool { return f.src.commits() == 3 }, 2*time.Second, 10*time.Millisecond)

	r := f.record(t, "r1")
	require.Equal(t, model.DeliverySent, r.Status)
	require.NotNil(t, r.VendorMessageID)
	require.Equal(t, "first", *r.VendorMessageID)
	require.EqualValues(t, 1, f.campaign(t).SentCount)
	require.Zero(t, f.campaign(t).FailedCount)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 3)
	require.True(t, f.events.events[0].Applied)
	require.False(t, f.events.events[1].Applied)
	require.False(t, f.events.events[2].Applied)
	require.Equal(t, "cmp1", f.events.events[0].CampaignID)
}

func TestReceipts_DuplicateInSameBatchLoggedOnce(t *testing.T) {
	f := newFixture(t, 3, time.Hour)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success", VendorMessageID: "first"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success", VendorMessageID: "again"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "failure"})
	require.Eventually(t, func() bool { return f.src.commits() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "first", *f.record(t, "r1").VendorMessageID)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 3)
	applied := make([]bool, 0, 3)
	for _, e := range f.events.events {
		applied = append(applied, e.Applied)
	}
	require.Equal(t, []bool{true, false, true}, applied)
}

func TestReceipts_UnknownStatusIsAcknowledgedOnly(t *testing.T) {
	f := newFixture(t, 1, time.Hour)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "delivered-ish"})
	require.Eventually(t, func() bool { return f.src.commits() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, model.DeliveryPending, f.record(t, "r1").Status)
	require.Empty(t, f.refresher.calls())
	require.Zero(t, f.campaign(t).SentCount)
}

func TestReceipts_MalformedIsDiscarded(t *testing.T) {
	f := newFixture(t, 3, time.Hour)
	f.start(t)

	f.src.pushRaw([]byte(`{not json`))
	f.src.push(model.DeliveryReceipt{VendorStatus: "success"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "success"})
	require.Eventually(t, func() bool { return f.src.commits() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, model.DeliverySent, f.record(t, "r2").Status)
	require.Equal(t, []string{"cmp1"}, f.refresher.calls())
}

func TestReceipts_UnknownRecordIsIgnored(t *testing.T) {
	f := newFixture(t, 1, time.Hour)
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "ghost", VendorStatus: "success"})
	require.Eventually(t, func() bool { return f.src.commits() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, f.refresher.calls())
}

func TestReceipts_StoreErrorStillAcknowledges(t *testing.T) {
	f := newFixture(t, 2, time.Hour)
	f.db.ErrApply = errors.New("lock wait timeout")
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "success"})
	require.Eventually(t, func() bool { return f.src.commits() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, model.DeliveryPending, f.record(t, "r1").Status)
	require.Empty(t, f.refresher.calls())
}

func TestReceipts_RefreshErrorDoesNotBlockCommit(t *testing.T) {
	f := newFixture(t, 1, time.Hour)
	f.db.ErrCount = errors.New("recount failed")
	f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success"})
	require.Eventually(t, func() bool { return f.src.commits() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, model.DeliverySent, f.record(t, "r1").Status)
	require.Equal(t, []string{"cmp1"}, f.refresher.calls())
	require.Zero(t, f.campaign(t).SentCount)
}

func TestReceipts_ShutdownFlushesBufferedBatch(t *testing.T) {
	f := newFixture(t, 100, time.Hour)
	stop := f.start(t)

	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r1", VendorStatus: "success"})
	f.src.push(model.DeliveryReceipt{DeliveryRecordID: "r2", VendorStatus: "success"})
	require.Eventually(t, func() bool { return f.src.fetched.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, f.src.commits())

	stop()

	require.Equal(t, 2, f.src.commits())
	require.EqualValues(t, 2, f.campaign(t).SentCount)
	require.Equal(t, model.CampaignProcessing, f.campaign(t).Status)
}
