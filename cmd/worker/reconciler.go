package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcilerCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Close campaigns whose remaining receipts never arrived",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		dbx, err := openMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		r := worker.NewReconciler(refreshOnly(dbx, cfg), cfg.Campaign.ReconcileAfter, cfg.Campaign.ReconcileInterval)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Log.Info("reconciler started",
			zap.Duration("after", cfg.Campaign.ReconcileAfter),
			zap.Duration("interval", cfg.Campaign.ReconcileInterval),
		)
		return r.Run(ctx)
	},
}
