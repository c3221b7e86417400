package worker

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/kafka"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"go.uber.org/zap"
)

// Source is an at-least-once message stream with explicit acknowledgement.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Deliveries applies receipt transitions.
type Deliveries interface {
	ApplyUpdates(ctx context.Context, ups []model.DeliveryUpdate) ([]string, error)
	CampaignIDs(ctx context.Context, recordIDs []string) (map[string]string, error)
}

// Refresher recomputes a campaign's aggregates from its records.
type Refresher interface {
	Refresh(ctx context.Context, campaignID string) error
}

// ReceiptConsumer:
// - fetches vendor receipts from the queue,
// - buffers them until BatchSize messages or BatchWait after the first one,
// - applies the batch in one transaction and refreshes affected campaigns,
// - commits every message of the batch, whatever the outcome.
type ReceiptConsumer struct {
	// Dependencies
	Source     Source
	Deliveries Deliveries
	Campaigns  Refresher
	Events     repository.DeliveryEventsRepository // optional

	// Behavior
	BatchSize       int
	BatchWait       time.Duration
	ShutdownTimeout time.Duration // bound for each flush, including the one on shutdown

	now func() time.Time
}

func NewReceiptConsumer(
	src Source,
	deliveries Deliveries,
	campaigns Refresher,
	events repository.DeliveryEventsRepository,
	cfg config.ReceiptsConfig,
) *ReceiptConsumer {
	return &ReceiptConsumer{
		Source:          src,
		Deliveries:      deliveries,
		Campaigns:       campaigns,
		Events:          events,
		BatchSize:       cfg.BatchSize,
		BatchWait:       cfg.BatchWait,
		ShutdownTimeout: cfg.ShutdownTimeout,
		now:             time.Now,
	}
}

// Run blocks until ctx is cancelled and the last batch has been flushed.
func (w *ReceiptConsumer) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 5 * time.Second
	}
	if w.ShutdownTimeout <= 0 {
		w.ShutdownTimeout = 10 * time.Second
	}
	if w.now == nil {
		w.now = time.Now
	}

	msgs := make(chan kafka.Message, w.BatchSize*2)
	go w.fetch(ctx, msgs)

	var (
		batch  []kafka.Message
		timer  *time.Timer
		expire <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, expire = nil, nil
		}
	}
	flush := func() {
		stopTimer()
		if len(batch) == 0 {
			return
		}
		w.flush(ctx, batch)
		batch = nil
	}

	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				// fetcher stopped: ctx is done and the channel is drained
				flush()
				logger.Log.Info("receipt consumer stopped")
				return nil
			}
			batch = append(batch, m)
			if len(batch) == 1 {
				timer = time.NewTimer(w.BatchWait)
				expire = timer.C
			}
			if len(batch) >= w.BatchSize {
				flush()
			}

		case <-expire:
			timer, expire = nil, nil
			flush()
		}
	}
}

func (w *ReceiptConsumer) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("receipt fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		out <- m
	}
}

// decode returns the recognised updates of a batch in arrival order.
func decode(batch []kafka.Message) []model.DeliveryUpdate {
	ups := make([]model.DeliveryUpdate, 0, len(batch))
	for _, m := range batch {
		var r model.DeliveryReceipt
		if err := json.Unmarshal(m.Value, &r); err != nil {
			metrics.ReceiptsTotal.WithLabelValues("malformed").Inc()
			logger.Log.Warn("discarding malformed receipt", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		u, ok := r.Update()
		if !ok {
			outcome := "unrecognized"
			if r.DeliveryRecordID == "" {
				outcome = "malformed"
			}
			metrics.ReceiptsTotal.WithLabelValues(outcome).Inc()
			logger.Log.Warn("discarding receipt",
				zap.String("outcome", outcome),
				zap.String("record_id", r.DeliveryRecordID),
				zap.String("vendor_status", r.VendorStatus),
			)
			continue
		}
		ups = append(ups, u)
	}
	return ups
}

// flush processes one batch on a context detached from shutdown so an
// in-progress batch is finished and acknowledged.
func (w *ReceiptConsumer) flush(parent context.Context, batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.ShutdownTimeout)
	defer cancel()

	metrics.ReceiptBatchSize.Observe(float64(len(batch)))
	ups := decode(batch)
	if len(ups) > 0 {
		w.apply(ctx, ups)
	}

	if err := w.Source.Commit(ctx, batch...); err != nil {
		logger.Log.Error("receipt commit failed", zap.Int("messages", len(batch)), zap.Error(err))
		return
	}
	logger.Log.Debug("receipt batch flushed", zap.Int("messages", len(batch)), zap.Int("updates", len(ups)))
}

func (w *ReceiptConsumer) apply(ctx context.Context, ups []model.DeliveryUpdate) {
	applied, err := w.Deliveries.ApplyUpdates(ctx, ups)
	if err != nil {
		// the batch is still acknowledged; the records stay PENDING
		metrics.ReceiptsTotal.WithLabelValues("store_error").Add(float64(len(ups)))
		logger.Log.Error("apply receipt batch failed", zap.Int("updates", len(ups)), zap.Error(err))
		return
	}
	metrics.ReceiptsTotal.WithLabelValues("applied").Add(float64(len(applied)))
	metrics.ReceiptsTotal.WithLabelValues("duplicate").Add(float64(len(ups) - len(applied)))

	recordIDs := make([]string, 0, len(ups))
	for _, u := range ups {
		recordIDs = append(recordIDs, u.RecordID)
	}
	owners, err := w.Deliveries.CampaignIDs(ctx, recordIDs)
	if err != nil {
		logger.Log.Error("resolve receipt campaigns failed", zap.Error(err))
		return
	}

	affected := make([]string, 0, len(owners))
	for _, id := range owners {
		if !slices.Contains(affected, id) {
			affected = append(affected, id)
		}
	}
	slices.Sort(affected)
	for _, id := range affected {
		if err := w.Campaigns.Refresh(ctx, id); err != nil {
			logger.Log.Error("campaign refresh failed", zap.String("campaign_id", id), zap.Error(err))
		}
	}

	w.record(ctx, ups, applied, owners)
}

// record appends the batch to the event log; failures only cost analytics.
func (w *ReceiptConsumer) record(ctx context.Context, ups []model.DeliveryUpdate, applied []string, owners map[string]string) {
	if w.Events == nil {
		return
	}
	now := w.now().UTC()
	// each applied id matches the first update for that record; later ones are duplicates
	remaining := make(map[string]int, len(applied))
	for _, id := range applied {
		remaining[id]++
	}
	events := make([]model.DeliveryEvent, 0, len(ups))
	for _, u := range ups {
		ok := remaining[u.RecordID] > 0
		if ok {
			remaining[u.RecordID]--
		}
		events = append(events, model.DeliveryEvent{
			DeliveryRecordID: u.RecordID,
			CampaignID:       owners[u.RecordID],
			Status:           u.Status.String(),
			VendorMessageID:  u.VendorMessageID,
			ErrorReason:      u.ErrorReason,
			Applied:          ok,
			ReceivedAt:       now,
		})
	}
	if err := w.Events.InsertBatch(ctx, events); err != nil {
		logger.Log.Warn("delivery events insert failed", zap.Int("events", len(events)), zap.Error(err))
	}
}
