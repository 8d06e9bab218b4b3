package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// CRMConfig holds settings for the external CRM API client
type CRMConfig struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	PageSize     int
}

// ModelConfig holds churn model artifact settings
type ModelConfig struct {
	Dir     string
	Version string
}

// PredictionConfig holds scoring thresholds and batch settings.
// HighThreshold and MediumThreshold are the risk tier boundaries;
// probabilities at or above a boundary fall into the higher tier.
type PredictionConfig struct {
	HighThreshold    float64
	MediumThreshold  float64
	HighConfidence   float64
	MediumConfidence float64
	TopRiskFactors   int
	BatchWorkers     int
	StaleAfter       time.Duration
}

// WorkerConfig holds background job pool settings
type WorkerConfig struct {
	PoolSize  int
	QueueSize int
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	CRM         CRMConfig
	Model       ModelConfig
	Prediction  PredictionConfig
	Worker      WorkerConfig
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", serviceName),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "churn_service"),
		},
		CRM: CRMConfig{
			Timeout:      getEnvAsDuration("CRM_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("CRM_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("CRM_RETRY_BACKOFF", 2*time.Second),
			PageSize:     getEnvAsInt("CRM_PAGE_SIZE", 500),
		},
		Model: ModelConfig{
			Dir:     getEnv("MODEL_DIR", "models"),
			Version: getEnv("MODEL_VERSION", "v1.0.0"),
		},
		Prediction: PredictionConfig{
			HighThreshold:    getEnvAsFloat("PREDICTION_THRESHOLD_HIGH", 0.7),
			MediumThreshold:  getEnvAsFloat("PREDICTION_THRESHOLD_MEDIUM", 0.4),
			HighConfidence:   getEnvAsFloat("CONFIDENCE_MARGIN_HIGH", 0.15),
			MediumConfidence: getEnvAsFloat("CONFIDENCE_MARGIN_MEDIUM", 0.05),
			TopRiskFactors:   getEnvAsInt("PREDICTION_TOP_RISK_FACTORS", 5),
			BatchWorkers:     getEnvAsInt("PREDICTION_BATCH_WORKERS", 8),
			StaleAfter:       getEnvAsDuration("PREDICTION_STALE_AFTER", 24*time.Hour),
		},
		Worker: WorkerConfig{
			PoolSize:  getEnvAsInt("WORKER_POOL_SIZE", 4),
			QueueSize: getEnvAsInt("WORKER_QUEUE_SIZE", 64),
		},
	}

	return config, nil
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as floats
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
