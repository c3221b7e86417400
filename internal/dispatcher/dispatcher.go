package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/util"
	"go.uber.org/zap"
)

const (
	ReasonCustomerMissing = "customer data missing for sending"
	ReasonTemplateMissing = "campaign message template missing"
	ReasonNoAddress       = "customer has no recipient address"
	reasonTriggerPrefix   = "trigger error: "
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Store is the slice of the delivery store the dispatcher writes to.
type Store interface {
	SaveContent(ctx context.Context, id, content string) error
	MarkTriggered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
}

type Config struct {
	Workers     int
	MaxAttempts int
}

// Summary counts per-record outcomes of one DispatchAll call.
type Summary struct {
	Triggered int
	Failed    int
}

// Dispatcher renders and sends each PENDING record of a campaign through
// round-robin over healthy providers. A record's failure never affects others.
type Dispatcher struct {
	store       Store
	providers   []Provider
	rr          atomic.Uint64
	workers     int
	maxAttempts int
}

func NewDispatcher(store Store, provs []Provider, cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 8
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 2
	}
	return &Dispatcher{store: store, providers: provs, workers: cfg.Workers, maxAttempts: cfg.MaxAttempts}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, req model.SendRequest) error {
	p, err := d.selectProvider()
	if err != nil {
		return err
	}
	if !p.Acquire() {
		return ErrNoAcquire
	}
	return p.Send(ctx, req)
}

// Send delivers one request, retrying across providers up to MaxAttempts times.
func (d *Dispatcher) Send(ctx context.Context, req model.SendRequest) error {
	var last error
	for range d.maxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.tryOnce(ctx, req)
		if err == nil {
			return nil
		}
		last = err
	}
	if last == nil {
		last = errors.New("send failed")
	}
	return last
}

// DispatchAll processes pending with a bounded pool of workers and returns
// once every record has been handled.
func (d *Dispatcher) DispatchAll(ctx context.Context, c model.Campaign, pending []model.PendingDelivery) Summary {
	var (
		triggered atomic.Int64
		failed    atomic.Int64
		wg        sync.WaitGroup
	)

	jobs := make(chan model.PendingDelivery)
	workers := min(d.workers, len(pending))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pd := range jobs {
				if d.dispatchOne(ctx, c, pd) {
					triggered.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	for _, pd := range pending {
		jobs <- pd
	}
	close(jobs)
	wg.Wait()

	return Summary{Triggered: int(triggered.Load()), Failed: int(failed.Load())}
}

// dispatchOne reports whether the vendor accepted the record.
func (d *Dispatcher) dispatchOne(ctx context.Context, c model.Campaign, pd model.PendingDelivery) bool {
	id := pd.Record.ID

	if pd.Customer == nil {
		d.fail(ctx, id, ReasonCustomerMissing)
		return false
	}
	if strings.TrimSpace(c.MessageTemplate) == "" {
		d.fail(ctx, id, ReasonTemplateMissing)
		return false
	}
	addr := util.RecipientAddress(pd.Customer.Email, pd.Customer.Phone)
	if addr == "" {
		d.fail(ctx, id, ReasonNoAddress)
		return false
	}

	msg := Render(c.MessageTemplate, pd.Customer)
	if err := d.store.SaveContent(ctx, id, msg); err != nil {
		d.fail(ctx, id, reasonTriggerPrefix+fmt.Sprintf("save content: %v", err))
		return false
	}

	req := model.SendRequest{RecipientAddress: addr, Message: msg, DeliveryRecordID: id}
	if err := d.Send(ctx, req); err != nil {
		d.fail(ctx, id, reasonTriggerPrefix+err.Error())
		return false
	}

	if err := d.store.MarkTriggered(ctx, id); err != nil {
		// The vendor has the message; its receipt will settle the record.
		logger.Log.Warn("mark record triggered", zap.String("record_id", id), zap.Error(err))
	}
	metrics.DeliveriesTotal.WithLabelValues("triggered").Inc()
	return true
}

func (d *Dispatcher) fail(ctx context.Context, id, reason string) {
	metrics.DeliveriesTotal.WithLabelValues("dispatch_failed").Inc()
	logger.Log.Warn("delivery failed", zap.String("record_id", id), zap.String("reason", reason))

	if _, err := d.store.MarkFailed(context.WithoutCancel(ctx), id, reason); err != nil {
		logger.Log.Error("mark record failed", zap.String("record_id", id), zap.Error(err))
	}
}
