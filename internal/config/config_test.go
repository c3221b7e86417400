package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "delivery.receipts", cfg.Kafka.ReceiptsTopic)
	require.Equal(t, 10, cfg.Receipts.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Receipts.BatchWait)
	require.Equal(t, 2*time.Minute, cfg.Campaign.ReconcileAfter)
	require.False(t, cfg.Audience.FailClosedOnInvalidRules)
	require.False(t, cfg.ClickHouse.Enabled)
	require.Equal(t, 3*time.Second, cfg.ClickHouse.PingTimeout)
	require.Len(t, cfg.Providers, 1)
	require.Equal(t, "/api/dummy-vendor/send", cfg.Providers[0].SendPath)
	require.InDelta(t, 0.9, cfg.VendorSim.SuccessRate, 1e-9)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("receipts:\n  batch_size: 50\n  batch_wait: 250ms\n"), 0o600))

	t.Setenv("CRM_KAFKA_RECEIPTS_TOPIC", "receipts.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Receipts.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Receipts.BatchWait)
	require.Equal(t, "receipts.test", cfg.Kafka.ReceiptsTopic)
	// untouched keys keep their defaults
	require.Equal(t, 16, cfg.Dispatcher.WorkerCount)
}

func TestLoad_MySQLSessionIsUTC(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	dsn, err := mysql.ParseDSN(cfg.MySQL.DSN)
	require.NoError(t, err)
	require.Equal(t, time.UTC, dsn.Loc)
	require.True(t, dsn.ParseTime)
	require.True(t, dsn.ClientFoundRows)
	require.Equal(t, "'+00:00'", dsn.Params["time_zone"])
}
