package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"go.uber.org/zap"
)

// StaleCloser closes campaigns whose receipts stopped arriving.
type StaleCloser interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Reconciler runs the terminal pass every Interval for campaigns that have
// been processing for longer than After.
type Reconciler struct {
	Campaigns StaleCloser
	After     time.Duration
	Interval  time.Duration
}

func NewReconciler(c StaleCloser, after, interval time.Duration) *Reconciler {
	return &Reconciler{Campaigns: c, After: after, Interval: interval}
}

// Run blocks until ctx is cancelled. The first pass runs immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.After <= 0 {
		r.After = 2 * time.Minute
	}
	if r.Interval <= 0 {
		r.Interval = 30 * time.Second
	}

	tick := time.NewTicker(r.Interval)
	defer tick.Stop()

	for {
		r.pass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	n, err := r.Campaigns.ReconcileStale(ctx, r.After)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Error("reconcile pass failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		logger.Log.Info("reconciled stale campaigns", zap.Int("closed", n))
	}
}
