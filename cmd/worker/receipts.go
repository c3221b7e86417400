package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/crm-campaigns/internal/db"
	"github.com/jmehdipour/crm-campaigns/internal/kafka"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/metrics"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Consume delivery receipts and reconcile campaign aggregates",
	RunE:  runReceipts,
}

func runReceipts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := openMySQL(cfg)
	if err != nil {
		return err
	}
	defer dbx.Close()

	var events repository.DeliveryEventsRepository
	if cfg.ClickHouse.Enabled {
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DatabaseConfig)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()
		events = repository.NewCHDeliveryEventsRepository(chDB)
	}

	consumer := kafka.NewConsumer(kafka.ReceiptsConsumerConfig(cfg.Kafka))
	defer consumer.Close()

	w := worker.NewReceiptConsumer(
		consumer,
		repository.NewDeliveriesRepository(dbx),
		refreshOnly(dbx, cfg),
		events,
		cfg.Receipts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("receipt consumer started",
		zap.String("topic", cfg.Kafka.ReceiptsTopic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)
	return w.Run(ctx)
}
