package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/db"
	"github.com/jmehdipour/crm-campaigns/internal/dispatcher"
	httpSrv "github.com/jmehdipour/crm-campaigns/internal/http"
	"github.com/jmehdipour/crm-campaigns/internal/kafka"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/service/audience"
	"github.com/jmehdipour/crm-campaigns/internal/service/campaign"
	"github.com/jmehdipour/crm-campaigns/internal/service/customer"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server and campaign processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		var redisClient *redis.Client
		if cfg.RateLimit.RPS > 0 {
			redisClient, err = db.NewRedisClient(cfg.Redis)
			if err != nil {
				logger.Log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
				redisClient = nil
			} else {
				defer func() { _ = redisClient.Close() }()
			}
		}

		var events repository.DeliveryEventsRepository
		if cfg.ClickHouse.Enabled {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DatabaseConfig)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			events = repository.NewCHDeliveryEventsRepository(chDB)
		}

		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.ReceiptsTopic)
		defer func() { _ = producer.Close() }()

		deliveries := repository.NewDeliveriesRepository(mysqlDB)
		providers := dispatcher.ProvidersFromConfig(cfg.Providers)
		if len(providers) == 0 {
			return fmt.Errorf("no providers enabled in config")
		}
		disp := dispatcher.NewDispatcher(deliveries, providers, dispatcher.Config{
			Workers:     cfg.Dispatcher.WorkerCount,
			MaxAttempts: cfg.Dispatcher.MaxRetryAttempts,
		})

		campaigns := campaign.New(
			repository.NewTxRunner(mysqlDB),
			repository.NewSegmentsRepository(mysqlDB),
			repository.NewCampaignsRepository(mysqlDB),
			deliveries,
			audience.NewResolver(repository.NewCustomersRepository(mysqlDB)),
			disp,
			campaign.Config{
				FailClosedOnInvalidRules: cfg.Audience.FailClosedOnInvalidRules,
				ReconcileBatch:           cfg.Campaign.ReconcileBatch,
			},
		)

		customers := customer.New(
			repository.NewTxRunner(mysqlDB),
			repository.NewCustomersRepository(mysqlDB),
			repository.NewOrdersRepository(mysqlDB),
		)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Campaigns:  campaigns,
			Customers:  customers,
			Deliveries: deliveries,
			Events:     events,
			Receipts:   producer,
			Redis:      redisClient,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)

		// in-flight campaign runs finish against the still-open stores
		campaigns.Wait()
		return nil
	},
}
