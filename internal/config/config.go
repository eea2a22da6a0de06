package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// CRM API
	CRMBaseURL        string
	CRMAPIKey         string
	CRMLocationID     string
	CRMAPIVersion     string
	CRMTimeout        time.Duration
	DefaultCalendarID string

	// Circuit breaker
	BreakerFailureThreshold  int
	BreakerResetTimeout      time.Duration
	BreakerHalfOpenMaxProbes int

	// Retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Fire-and-forget retry queue
	QueueSweepInterval time.Duration
	QueueMaxAttempts   int
	QueueSweepBatch    int

	// Conversation synthesis
	CacheTTL               time.Duration
	ConversationWindowSize int
	MessagePageLimit       int

	// Qualification rules
	MinQualifyingBudget   int
	MaxExtractionAttempts int
	DedupWindow           time.Duration

	// Localization
	Timezone string
	Language string

	// LLM providers
	GeminiAPIKey       string
	GeminiModelID      string
	BedrockModelID     string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Optional shared infrastructure
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CRMBaseURL:        getEnv("CRM_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMAPIKey:         getEnv("CRM_API_KEY", ""),
		CRMLocationID:     getEnv("CRM_LOCATION_ID", ""),
		CRMAPIVersion:     getEnv("CRM_API_VERSION", "2021-07-28"),
		CRMTimeout:        getEnvAsDuration("CRM_TIMEOUT", 10*time.Second),
		DefaultCalendarID: getEnv("DEFAULT_CALENDAR_ID", ""),

		BreakerFailureThreshold:  getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:      getEnvAsDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),
		BreakerHalfOpenMaxProbes: getEnvAsInt("BREAKER_HALF_OPEN_MAX_PROBES", 1),

		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", time.Second),

		QueueSweepInterval: getEnvAsDuration("QUEUE_SWEEP_INTERVAL", 30*time.Second),
		QueueMaxAttempts:   getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueSweepBatch:    getEnvAsInt("QUEUE_SWEEP_BATCH", 10),

		CacheTTL:               getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		ConversationWindowSize: getEnvAsInt("CONVERSATION_WINDOW_SIZE", 10),
		MessagePageLimit:       getEnvAsInt("MESSAGE_PAGE_LIMIT", 100),

		MinQualifyingBudget:   getEnvAsInt("MIN_QUALIFYING_BUDGET", 300),
		MaxExtractionAttempts: getEnvAsInt("MAX_EXTRACTION_ATTEMPTS", 3),
		DedupWindow:           getEnvAsDuration("DEDUP_WINDOW", 10*time.Minute),

		Timezone: getEnv("TIMEZONE", "America/Chicago"),
		Language: getEnv("LANGUAGE", "es"),

		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
