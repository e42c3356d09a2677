package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration, loaded once at startup and handed
// to components through constructors. No global mutable state.
type Config struct {
	Environment string

	Server    ServerConfig
	Redis     RedisConfig
	Scylla    ScyllaConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Hashing   HashingConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type JWTConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type OTPConfig struct {
	Length       int
	Expiry       time.Duration
	MaxAttempts  int
	QuotaPerHour int
	SessionCache time.Duration
}

type RateLimitConfig struct {
	CallsPerMinute int
	CallsPerHour   int
}

type LockoutConfig struct {
	MaxFailedAttempts int
	BaseDuration      time.Duration
	MaxDuration       time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first if present (development convenience, absent in production images).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    strings.Split(getEnv("SCYLLA_NODES", "localhost:9042"), ","),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "vyapar"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   getEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", time.Hour),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
		},
		OTP: OTPConfig{
			Length:       getEnvInt("OTP_LENGTH", 6),
			Expiry:       getEnvDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:  getEnvInt("OTP_MAX_ATTEMPTS", 3),
			QuotaPerHour: getEnvInt("OTP_QUOTA_PER_HOUR", 5),
			SessionCache: getEnvDuration("SESSION_CACHE_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			CallsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
			CallsPerHour:   getEnvInt("RATE_LIMIT_PER_HOUR", 1000),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: getEnvInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			BaseDuration:      getEnvDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			MaxDuration:       getEnvDuration("LOCKOUT_MAX_DURATION", time.Hour),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
			Pepper:            getEnv("OTP_HASH_PEPPER", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		c.JWT.Secret = "dev-insecure-jwt-secret"
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTP.Length)
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.BaseDuration > c.Lockout.MaxDuration {
		return fmt.Errorf("LOCKOUT_BASE_DURATION exceeds LOCKOUT_MAX_DURATION")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
