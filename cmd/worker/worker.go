package worker

import (
	"fmt"

	"github.com/jmehdipour/crm-campaigns/internal/config"
	"github.com/jmehdipour/crm-campaigns/internal/db"
	"github.com/jmehdipour/crm-campaigns/internal/logger"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/service/campaign"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.AddCommand(receiptsCmd)
	cmd.AddCommand(reconcilerCmd)

	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

// refreshOnly builds a campaign service for aggregate maintenance. It never
// resolves audiences or dispatches, so those collaborators are left unset.
func refreshOnly(dbx *sqlx.DB, cfg config.Config) *campaign.Service {
	return campaign.New(
		repository.NewTxRunner(dbx),
		repository.NewSegmentsRepository(dbx),
		repository.NewCampaignsRepository(dbx),
		repository.NewDeliveriesRepository(dbx),
		nil,
		nil,
		campaign.Config{ReconcileBatch: cfg.Campaign.ReconcileBatch},
	)
}

func openMySQL(cfg config.Config) (*sqlx.DB, error) {
	dbx, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}
