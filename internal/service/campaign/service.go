package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/dispatcher"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/jmehdipour/crm-campaigns/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	reasonNotFound   = "campaign record not found during processing start"
	reasonUnexpected = "unexpected error during processing: "

	refreshAttempts = 3
)

// Audience resolves compiled predicates to customers.
type Audience interface {
	Count(ctx context.Context, p rules.Predicate) (int64, error)
	Members(ctx context.Context, p rules.Predicate) ([]model.CustomerRef, error)
}

// Dispatcher sends the PENDING records of a campaign.
type Dispatcher interface {
	DispatchAll(ctx context.Context, c model.Campaign, pending []model.PendingDelivery) dispatcher.Summary
}

type Config struct {
	// FailClosedOnInvalidRules rejects rule trees that lost conditions and
	// collapsed to match-all instead of targeting everyone.
	FailClosedOnInvalidRules bool
	ReconcileBatch           int
}

// Service owns the campaign lifecycle: creation, processing, aggregate
// refresh and the terminal reconciliation pass.
type Service struct {
	tx         repository.TxRunner
	segments   repository.SegmentsRepository
	campaigns  repository.CampaignsRepository
	deliveries repository.DeliveriesRepository
	audience   Audience
	dispatch   Dispatcher
	cfg        Config

	now     func() time.Time
	running sync.WaitGroup
}

func New(
	tx repository.TxRunner,
	segments repository.SegmentsRepository,
	campaigns repository.CampaignsRepository,
	deliveries repository.DeliveriesRepository,
	audience Audience,
	dispatch Dispatcher,
	cfg Config,
) *Service {
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 100
	}
	return &Service{
		tx:         tx,
		segments:   segments,
		campaigns:  campaigns,
		deliveries: deliveries,
		audience:   audience,
		dispatch:   dispatch,
		cfg:        cfg,
		now:        time.Now,
	}
}

type CreateRequest struct {
	Name            string      `json:"name"`
	Rules           *rules.Node `json:"rules"`
	MessageTemplate string      `json:"messageTemplate"`
}

type CreateResult struct {
	Segment  model.Segment  `json:"segment"`
	Campaign model.Campaign `json:"campaign"`
	Warnings []string       `json:"warnings,omitempty"`
}

type PreviewResult struct {
	AudienceSize int64    `json:"audienceSize"`
	Warnings     []string `json:"warnings"`
}

func (s *Service) compile(n *rules.Node) (rules.Result, error) {
	if n == nil {
		return rules.Result{}, invalid("rules", "required")
	}
	res := rules.Compile(*n)
	if s.cfg.FailClosedOnInvalidRules && res.Dropped() && res.Predicate.MatchAll() {
		return res, &ValidationError{Field: "rules", Msg: "no valid conditions: " + strings.Join(res.Warnings, "; ")}
	}
	return res, nil
}

// Preview compiles the rules and counts the matching audience.
func (s *Service) Preview(ctx context.Context, n *rules.Node) (PreviewResult, error) {
	res, err := s.compile(n)
	if err != nil {
		return PreviewResult{}, err
	}
	size, err := s.audience.Count(ctx, res.Predicate)
	if err != nil {
		return PreviewResult{}, err
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return PreviewResult{AudienceSize: size, Warnings: warnings}, nil
}

// Create persists a segment, its campaign and one PENDING record per member in
// a single transaction, then schedules processing. Empty audiences complete
// immediately as COMPLETED_NO_AUDIENCE.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return CreateResult{}, invalid("name", "required")
	}
	if strings.TrimSpace(req.MessageTemplate) == "" {
		return CreateResult{}, invalid("messageTemplate", "required")
	}
	res, err := s.compile(req.Rules)
	if err != nil {
		return CreateResult{}, err
	}
	rawRules, err := json.Marshal(req.Rules)
	if err != nil {
		return CreateResult{}, invalid("rules", err.Error())
	}

	members, err := s.audience.Members(ctx, res.Predicate)
	if err != nil {
		return CreateResult{}, fmt.Errorf("resolve audience: %w", err)
	}

	now := s.now().UTC()
	seg := model.Segment{
		ID:        util.New(),
		Name:      req.Name,
		Rules:     rawRules,
		CreatedAt: now,
	}
	c := model.Campaign{
		ID:              util.New(),
		SegmentID:       seg.ID,
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		AudienceSize:    int64(len(members)),
		Status:          model.CampaignInitiated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(members) == 0 {
		c.Status = model.CampaignCompletedNoAudience
		c.CompletedAt = &now
	}

	recs := make([]model.DeliveryRecord, 0, len(members))
	for _, m := range members {
		recs = append(recs, model.DeliveryRecord{
			ID:         util.New(),
			CampaignID: c.ID,
			CustomerID: m.ID,
			Status:     model.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.segments.Insert(ctx, tx, seg); err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
		if err := s.campaigns.Insert(ctx, tx, c); err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		if err := s.deliveries.InsertBatch(ctx, tx, recs); err != nil {
			return fmt.Errorf("insert delivery records: %w", err)
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	metrics.CampaignTransitions.WithLabelValues(c.Status.String()).Inc()
	metrics.DeliveriesTotal.WithLabelValues("created").Add(float64(len(recs)))
	logger.Log.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("segment_id", seg.ID),
		zap.Int64("audience_size", c.AudienceSize),
		zap.String("status", c.Status.String()),
		zap.Strings("warnings", res.Warnings),
	)

	if c.Status == model.CampaignInitiated {
		s.Trigger(c.ID)
	}
	return CreateResult{Segment: seg, Campaign: c, Warnings: res.Warnings}, nil
}

// Trigger runs Process in the background, detached from any request context.
func (s *Service) Trigger(id string) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.Process(context.Background(), id)
	}()
}

// Wait blocks until every triggered run has returned.
func (s *Service) Wait() { s.running.Wait() }

// Process moves an INITIATED campaign to PROCESSING_MESSAGES and dispatches
// its PENDING records. It never returns an error: failures end in FAILED.
// Running it for a campaign that is not INITIATED does nothing.
func (s *Service) Process(ctx context.Context, id string) {
	// status this run may fail the campaign from; advances once it owns the run
	from := model.CampaignInitiated
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, id, fmt.Sprintf("%s%v", reasonUnexpected, r), from)
		}
	}()
	if err := s.process(ctx, id, &from); err != nil {
		s.fail(ctx, id, reasonUnexpected+err.Error(), from)
	}
}

func (s *Service) process(ctx context.Context, id string, owned *model.CampaignStatus) error {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if c == nil {
		s.fail(ctx, id, reasonNotFound, model.CampaignInitiated)
		return nil
	}

	swapped, err := s.campaigns.CompareAndSetStatus(ctx, id, model.CampaignInitiated, model.CampaignProcessing)
	if err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	if !swapped {
		logger.Log.Debug("campaign not initiated, skipping", zap.String("campaign_id", id), zap.String("status", c.Status.String()))
		return nil
	}
	*owned = model.CampaignProcessing
	metrics.CampaignTransitions.WithLabelValues(model.CampaignProcessing.String()).Inc()
	c.Status = model.CampaignProcessing

	pending, err := s.deliveries.ListPendingWithCustomer(ctx, id)
	if err != nil {
		return fmt.Errorf("load pending records: %w", err)
	}

	sum := s.dispatch.DispatchAll(ctx, *c, pending)
	logger.Log.Info("campaign dispatched",
		zap.String("campaign_id", id),
		zap.Int("records", len(pending)),
		zap.Int("triggered", sum.Triggered),
		zap.Int("failed", sum.Failed),
	)

	if err := s.Refresh(ctx, id); err != nil {
		return fmt.Errorf("refresh aggregates: %w", err)
	}
	return nil
}

// fail marks the campaign FAILED if it is still in status from.
func (s *Service) fail(ctx context.Context, id, reason string, from model.CampaignStatus) {
	ok, err := s.campaigns.MarkFailed(context.WithoutCancel(ctx), id, reason, from)
	if err != nil {
		logger.Log.Error("mark campaign failed", zap.String("campaign_id", id), zap.Error(err))
		return
	}
	if !ok {
		logger.Log.Warn("campaign error ignored, status moved on",
			zap.String("campaign_id", id), zap.String("reason", reason), zap.String("expected", from.String()))
		return
	}
	logger.Log.Error("campaign failed", zap.String("campaign_id", id), zap.String("reason", reason))
	metrics.CampaignTransitions.WithLabelValues(model.CampaignFailed.String()).Inc()
}

// ErrContention is returned by Refresh when the status kept changing underneath it.
var ErrContention = errors.New("campaign status changed concurrently")

// Refresh recounts the campaign's records and writes the aggregates and the
// derived status, guarded by the status it observed.
func (s *Service) Refresh(ctx context.Context, id string) error {
	for range refreshAttempts {
		c, err := s.campaigns.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{ID: id}
		}

		counts, err := s.deliveries.CountByStatus(ctx, id)
		if err != nil {
			return err
		}
		next := NextStatus(c.Status, counts)

		ok, err := s.campaigns.UpdateAggregates(ctx, id, c.Status, counts, next)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if next != c.Status {
			metrics.CampaignTransitions.WithLabelValues(next.String()).Inc()
			logger.Log.Info("campaign status changed",
				zap.String("campaign_id", id),
				zap.String("from", c.Status.String()),
				zap.String("to", next.String()),
			)
		}
		return nil
	}
	return fmt.Errorf("refresh %s: %w", id, ErrContention)
}

// ReconcileStale closes campaigns stuck in PROCESSING_MESSAGES since before
// now-olderThan: COMPLETED when nothing is pending, COMPLETED_WITH_PENDING
// otherwise. It returns how many campaigns it closed.
func (s *Service) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.campaigns.ListProcessingBefore(ctx, s.now().Add(-olderThan), s.cfg.ReconcileBatch)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		counts, err := s.deliveries.CountByStatus(ctx, id)
		if err != nil {
			return closed, err
		}
		next := model.CampaignCompletedWithPending
		if counts.Pending == 0 {
			next = model.CampaignCompleted
		}
		ok, err := s.campaigns.UpdateAggregates(ctx, id, model.CampaignProcessing, counts, next)
		if err != nil {
			return closed, err
		}
		if !ok {
			continue
		}
		closed++
		metrics.CampaignTransitions.WithLabelValues(next.String()).Inc()
		logger.Log.Info("campaign reconciled",
			zap.String("campaign_id", id),
			zap.String("status", next.String()),
			zap.Int64("pending", counts.Pending),
		)
	}
	return closed, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{ID: id}
	}
	return c, nil
}

// List returns campaigns newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Campaign, error) {
	rows, err := s.campaigns.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.Campaign{}
	}
	return rows, nil
}
