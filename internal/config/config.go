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
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Security   SecurityConfig   `mapstructure:"security"`
	Licenses   LicensesConfig   `mapstructure:"licenses"`
	Orders     OrdersConfig     `mapstructure:"orders"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Providers  []ProviderConfig `mapstructure:"providers"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

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

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	OrdersTopic    string   `mapstructure:"orders_topic"`
	EventsTopic    string   `mapstructure:"events_topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// SecurityConfig holds the secrets used for license key encryption and
// lookup hashing. Rotating either secret invalidates stored data.
type SecurityConfig struct {
	EncryptionSecret string `mapstructure:"encryption_secret"`
	HashSecret       string `mapstructure:"hash_secret"`
}

type LicensesConfig struct {
	AllowDuplicates   bool `mapstructure:"allow_duplicates"`
	MaxRetriesPerKey  int  `mapstructure:"max_retries_per_key"`
	MaxGenerateAmount int  `mapstructure:"max_generate_amount"`
}

type OrdersConfig struct {
	FulfillOn    []string `mapstructure:"fulfill_on"`
	RevokeOn     []string `mapstructure:"revoke_on"`
	RevokeStatus string   `mapstructure:"revoke_status"`
}

type DeliveryConfig struct {
	WorkerCount      int           `mapstructure:"worker_count"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchWait        time.Duration `mapstructure:"batch_wait"`
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff  time.Duration `mapstructure:"max_retry_backoff"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

// ProviderConfig describes an HTTP endpoint that receives delivered keys
// (mail relay, shop webhook, ...).
type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Path      string        `mapstructure:"path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (DLM_*).
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

	// env override (DLM_*), nested keys use "_": DLM_MYSQL_DSN
	v.SetEnvPrefix("DLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
