package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Embedding provider
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingTimeout time.Duration

	// Extraction provider
	ExtractionAPIKey     string
	ExtractionBaseURL    string
	ExtractionModel      string
	ExtractionTimeout    time.Duration
	PromptTemplatePath   string
	MaxConcurrentExtract int
	ActorUserID          string
	ActorCRNID           string

	// Catalog mapping
	TestCatalogPath     string
	ReferrerCatalogPath string
	SimilarityThreshold float64

	// Image handling
	MaxImageSizeMB    float64
	ImageFetchTimeout time.Duration
	ArtifactDir       string

	// Prescription persistence API
	PrescriptionServicePort  string
	PrescriptionBaseURL      string
	PrescriptionTimeout      time.Duration
	PrescriptionClientID     string
	PrescriptionClientSecret string
	PrescriptionTokenURL     string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	StatusTTL     time.Duration

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 180*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-large"),
		EmbeddingTimeout: getDuration("EMBEDDING_TIMEOUT", 30*time.Second),

		ExtractionAPIKey:     getEnv("EXTRACTION_API_KEY", ""),
		ExtractionBaseURL:    getEnv("EXTRACTION_BASE_URL", "https://api.openai.com/v1"),
		ExtractionModel:      getEnv("EXTRACTION_MODEL", "gpt-4o"),
		ExtractionTimeout:    getDuration("EXTRACTION_TIMEOUT", 120*time.Second),
		PromptTemplatePath:   getEnv("PROMPT_TEMPLATE_PATH", "configs/prompt.yaml"),
		MaxConcurrentExtract: getIntEnv("MAX_CONCURRENT_EXTRACTIONS", 8),
		ActorUserID:          getEnv("ACTOR_USER_ID", "user_id"),
		ActorCRNID:           getEnv("ACTOR_CRN_ID", "crn_id"),

		TestCatalogPath:     getEnv("TEST_CATALOG_PATH", "data/test_catalog.csv"),
		ReferrerCatalogPath: getEnv("REFERRER_CATALOG_PATH", "data/referrer_catalog.csv"),
		SimilarityThreshold: getFloatEnv("SIMILARITY_THRESHOLD", 0.8),

		MaxImageSizeMB:    getFloatEnv("MAX_IMAGE_SIZE_MB", 0.5),
		ImageFetchTimeout: getDuration("IMAGE_FETCH_TIMEOUT", 10*time.Second),
		ArtifactDir:       getEnv("ARTIFACT_DIR", ""),

		PrescriptionServicePort:  getEnv("PRESCRIPTION_SERVICE_PORT", "8091"),
		PrescriptionBaseURL:      getEnv("PRESCRIPTION_BASE_URL", "http://localhost:8091"),
		PrescriptionTimeout:      getDuration("PRESCRIPTION_TIMEOUT", 120*time.Second),
		PrescriptionClientID:     getEnv("PRESCRIPTION_CLIENT_ID", ""),
		PrescriptionClientSecret: getEnv("PRESCRIPTION_CLIENT_SECRET", ""),
		PrescriptionTokenURL:     getEnv("PRESCRIPTION_TOKEN_URL", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scripta"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scripta123"),
		PostgresDB:       getEnv("POSTGRES_DB", "scripta"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		StatusTTL:     getDuration("STATUS_TTL", 24*time.Hour),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "scripta-platform"),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
