// Package config loads service configuration from config files and the
// environment. Precedence: defaults < config.yaml < environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database" validate:"required"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Rates          RatesConfig          `mapstructure:"rates"`
	Chains         ChainsConfig         `mapstructure:"chains"`
	Settlement     SettlementConfig     `mapstructure:"settlement"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Email          EmailConfig          `mapstructure:"email"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
	Issuer string `mapstructure:"issuer"`
}

// RatesConfig configures the price feed client and its cache
type RatesConfig struct {
	FeedURL        string `mapstructure:"feed_url" validate:"required,url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CacheTTL       int    `mapstructure:"cache_ttl"` // seconds
}

// ChainConfig configures one blockchain RPC endpoint and its hot wallet
type ChainConfig struct {
	RPCURL            string  `mapstructure:"rpc_url"`
	APIKey            string  `mapstructure:"api_key"`
	HotWalletAddress  string  `mapstructure:"hot_wallet_address"`
	HotWalletKey      string  `mapstructure:"hot_wallet_key"`
	TokenContract     string  `mapstructure:"token_contract"` // USDT / USDC contract or mint
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type ChainsConfig struct {
	Tron     ChainConfig `mapstructure:"tron"`
	Ethereum ChainConfig `mapstructure:"ethereum"`
	Solana   ChainConfig `mapstructure:"solana"`
}

// SettlementConfig bounds the orchestrator's suspension points
type SettlementConfig struct {
	TransferTimeoutSeconds int `mapstructure:"transfer_timeout_seconds"`
	ReserveTimeoutSeconds  int `mapstructure:"reserve_timeout_seconds"`
}

type ReconciliationConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SweepSchedule      string `mapstructure:"sweep_schedule"`
	DeepSchedule       string `mapstructure:"deep_schedule"`
	GracePeriodSeconds int    `mapstructure:"grace_period_seconds"`
	AlertRecipient     string `mapstructure:"alert_recipient"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type EmailConfig struct {
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromEmail      string `mapstructure:"from_email"`
	FromName       string `mapstructure:"from_name"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load reads configuration from config files and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "payout_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.migrations_path", "migrations")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "payout_service")

	// Rates defaults
	viper.SetDefault("rates.feed_url", "https://min-api.cryptocompare.com")
	viper.SetDefault("rates.timeout_seconds", 5)
	viper.SetDefault("rates.cache_ttl", 30)

	// Chain defaults
	for _, chain := range []string{"tron", "ethereum", "solana"} {
		viper.SetDefault("chains."+chain+".timeout_seconds", 15)
		viper.SetDefault("chains."+chain+".requests_per_second", 5.0)
	}

	// Settlement defaults
	viper.SetDefault("settlement.transfer_timeout_seconds", 60)
	viper.SetDefault("settlement.reserve_timeout_seconds", 10)

	// Reconciliation defaults
	viper.SetDefault("reconciliation.enabled", true)
	viper.SetDefault("reconciliation.sweep_schedule", "*/5 * * * *")
	viper.SetDefault("reconciliation.deep_schedule", "0 3 * * *")
	viper.SetDefault("reconciliation.grace_period_seconds", 300)

	// Kafka defaults
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "settlement.requested")
	viper.SetDefault("kafka.group_id", "payout-service")

	// Email defaults
	viper.SetDefault("email.from_email", "alerts@payout-service.io")
	viper.SetDefault("email.from_name", "Payout Service")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 0.1)
	viper.SetDefault("tracing.insecure", true)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	if ratesKey := os.Getenv("RATES_API_KEY"); ratesKey != "" {
		viper.Set("rates.api_key", ratesKey)
	}

	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		viper.Set("email.sendgrid_api_key", sendgridKey)
	}

	for _, chain := range []string{"TRON", "ETHEREUM", "SOLANA"} {
		prefix := strings.ToLower(chain)
		if url := os.Getenv(chain + "_RPC_URL"); url != "" {
			viper.Set("chains."+prefix+".rpc_url", url)
		}
		if key := os.Getenv(chain + "_HOT_WALLET_KEY"); key != "" {
			viper.Set("chains."+prefix+".hot_wallet_key", key)
		}
		if addr := os.Getenv(chain + "_HOT_WALLET_ADDRESS"); addr != "" {
			viper.Set("chains."+prefix+".hot_wallet_address", addr)
		}
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", strings.Split(brokers, ","))
		viper.Set("kafka.enabled", true)
	}
}

func validate(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return err
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	return nil
}
