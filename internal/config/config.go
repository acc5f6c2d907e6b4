// Package config provides configuration management for the commitment pool
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Verify    VerifyConfig
	Settle    SettleConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the audit event sink
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds per-chain RPC configuration
type ChainsConfig struct {
	Solana   SolanaConfig
	Ethereum EthereumConfig
}

// SolanaConfig holds Solana RPC and vault configuration
type SolanaConfig struct {
	RPCPrimary     string
	RPCSecondary   string
	Commitment     string
	TreasuryWallet string
	RequestTimeout time.Duration
}

// EthereumConfig holds EVM RPC configuration for hodl goals on EVM chains
type EthereumConfig struct {
	RPCPrimary     string
	RPCSecondary   string
	RequestTimeout time.Duration
}

// CacheConfig holds projection cache configuration
type CacheConfig struct {
	TTL          time.Duration
	LeaseTTL     time.Duration
	LeasePrefix  string
	ProjectionOn bool
}

// SchedulerConfig holds the verification/settlement agent configuration
type SchedulerConfig struct {
	VerifyCron     string
	TransitionCron string
	SettleCron     string
	MaxConcurrent  int
	CheckTimeout   time.Duration
}

// VerifyConfig holds verification behavior configuration
type VerifyConfig struct {
	MaxRetries          int
	RetryBackoff        time.Duration
	ActivityProviderURL string
	ActivityAPIKey      string
}

// SettleConfig holds settlement configuration
type SettleConfig struct {
	CustodyURL            string
	CustodyAPIKey         string
	DefaultCharityAddress string
	ConfirmTimeout        time.Duration
	MaxTransferRetries    int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	FreeTier    int
	BasicTier   int
	PremiumTier int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "commitment_pool"),
				User:           getEnv("POSTGRES_USER", "pool"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "commitment_pool"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Chains: ChainsConfig{
			Solana: SolanaConfig{
				RPCPrimary:     getEnv("SOLANA_RPC_PRIMARY", "https://api.devnet.solana.com"),
				RPCSecondary:   getEnv("SOLANA_RPC_SECONDARY", ""),
				Commitment:     getEnv("SOLANA_COMMITMENT", "confirmed"),
				TreasuryWallet: getEnv("SOLANA_TREASURY_WALLET", ""),
				RequestTimeout: getEnvAsDuration("SOLANA_REQUEST_TIMEOUT", 15*time.Second),
			},
			Ethereum: EthereumConfig{
				RPCPrimary:     getEnv("ETHEREUM_RPC_PRIMARY", ""),
				RPCSecondary:   getEnv("ETHEREUM_RPC_SECONDARY", ""),
				RequestTimeout: getEnvAsDuration("ETHEREUM_REQUEST_TIMEOUT", 15*time.Second),
			},
		},
		Cache: CacheConfig{
			TTL:          getEnvAsDuration("CACHE_TTL", 20*time.Second),
			LeaseTTL:     getEnvAsDuration("LEASE_TTL", 2*time.Minute),
			LeasePrefix:  getEnv("LEASE_PREFIX", "pool:lease:"),
			ProjectionOn: getEnvAsBool("CACHE_PROJECTIONS", true),
		},
		Scheduler: SchedulerConfig{
			VerifyCron:     getEnv("SCHEDULER_VERIFY_CRON", "*/10 * * * *"),
			TransitionCron: getEnv("SCHEDULER_TRANSITION_CRON", "* * * * *"),
			SettleCron:     getEnv("SCHEDULER_SETTLE_CRON", "*/5 * * * *"),
			MaxConcurrent:  getEnvAsInt("SCHEDULER_MAX_CONCURRENT", 10),
			CheckTimeout:   getEnvAsDuration("SCHEDULER_CHECK_TIMEOUT", 30*time.Second),
		},
		Verify: VerifyConfig{
			MaxRetries:          getEnvAsInt("VERIFY_MAX_RETRIES", 3),
			RetryBackoff:        getEnvAsDuration("VERIFY_RETRY_BACKOFF", 5*time.Second),
			ActivityProviderURL: getEnv("ACTIVITY_PROVIDER_URL", ""),
			ActivityAPIKey:      getEnv("ACTIVITY_API_KEY", ""),
		},
		Settle: SettleConfig{
			CustodyURL:            getEnv("CUSTODY_URL", "http://localhost:8090"),
			CustodyAPIKey:         getEnv("CUSTODY_API_KEY", ""),
			DefaultCharityAddress: getEnv("SETTLE_DEFAULT_CHARITY", ""),
			ConfirmTimeout:        getEnvAsDuration("SETTLE_CONFIRM_TIMEOUT", 90*time.Second),
			MaxTransferRetries:    getEnvAsInt("SETTLE_MAX_TRANSFER_RETRIES", 5),
		},
		RateLimit: RateLimitConfig{
			FreeTier:    getEnvAsInt("RATE_LIMIT_FREE_TIER", 1000),
			BasicTier:   getEnvAsInt("RATE_LIMIT_BASIC_TIER", 10000),
			PremiumTier: getEnvAsInt("RATE_LIMIT_PREMIUM_TIER", 100000),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
