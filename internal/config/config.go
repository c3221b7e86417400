package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Receipts   ReceiptsConfig   `mapstructure:"receipts"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Campaign   CampaignConfig   `mapstructure:"campaign"`
	Audience   AudienceConfig   `mapstructure:"audience"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	VendorSim  VendorSimConfig  `mapstructure:"vendor_sim"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

// ClickHouseConfig is optional: Enabled=false disables the delivery event log.
type ClickHouseConfig struct {
	DatabaseConfig `mapstructure:",squash"`
	Enabled        bool `mapstructure:"enabled"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	ReceiptsTopic  string   `mapstructure:"receipts_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	WriteTimeout   int      `mapstructure:"write_timeout_ms"`
}

type ReceiptsConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	BatchWait       time.Duration `mapstructure:"batch_wait"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DispatcherConfig struct {
	WorkerCount      int `mapstructure:"worker_count"`
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
}

type CampaignConfig struct {
	ReconcileAfter    time.Duration `mapstructure:"reconcile_after"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"`
}

type AudienceConfig struct {
	FailClosedOnInvalidRules bool `mapstructure:"fail_closed_on_invalid_rules"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type VendorSimConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SuccessRate float64       `mapstructure:"success_rate"`
	ReceiptURL  string        `mapstructure:"receipt_url"`
	Delay       time.Duration `mapstructure:"delay"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (CRM_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (CRM_MYSQL_DSN, CRM_KAFKA_RECEIPTS_TOPIC, ...)
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
