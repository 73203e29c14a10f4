package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	JWTSecret          string
	JWTIssuer          string
	DBHost             string
	DBPort             string
	DBUser             string
	DBPass             string
	DBName             string
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	MinioHost          string
	MinioPort          string
	MinioUsername      string
	MinioPassword      string
	MinioUseSSL        bool
	MinioRegion        string
	BucketName         string
	AccessLinkTTL      time.Duration
	ListCacheTTL       time.Duration
	MaxUploadBytes     int64
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	RabbitMQURL      string
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPass     string
	RabbitMQVhost    string
	RabbitMQPrefetch int

	CleanupWorkerConcurrency int
	CleanupRate              float64
	CleanupBurst             int
	CleanupRetryMax          int
	CleanupRetryDelays       []time.Duration
}

var AppConfig Config

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	out := splitList(raw)
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

// getEnvDurationList parses "10s,1m,5m"; any bad entry falls back to the default list.
func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := splitList(raw)
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// allowedOrigins mirrors the web client's defaults: the local dev server plus FRONTEND_URL.
func allowedOrigins() []string {
	origins := []string{"http://localhost:5173"}
	if frontend := strings.TrimRight(strings.TrimSpace(os.Getenv("FRONTEND_URL")), "/"); frontend != "" {
		origins = append(origins, frontend)
	}
	return getEnvList("CORS_ALLOWED_ORIGINS", origins)
}

func rabbitURL(user, pass, host, port, vhost string) string {
	if raw := getEnv("RABBITMQ_URL", ""); raw != "" {
		return raw
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/%s",
		url.PathEscape(user),
		url.PathEscape(pass),
		host,
		port,
		url.PathEscape(vhost),
	)
}

// InitConfig loads configuration from the environment.
func InitConfig() {
	rabbitHost := getEnv("RABBITMQ_HOST", "localhost")
	rabbitPort := getEnv("RABBITMQ_PORT", "5672")
	rabbitUser := getEnv("RABBITMQ_USER", "guest")
	rabbitPass := getEnv("RABBITMQ_PASSWORD", "guest")
	rabbitVhost := getEnv("RABBITMQ_VHOST", "/")

	AppConfig = Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8000"),
		JWTSecret:          getEnv("JWT_SECRET", "l=ax+b"),
		JWTIssuer:          getEnv("JWT_ISSUER", ""),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "3306"),
		DBUser:             getEnv("DB_USER", "root"),
		DBPass:             getEnv("DB_PASS", "root"),
		DBName:             getEnv("DB_NAME", "drive_vault"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		MinioHost:          getEnv("MINIO_HOST", "localhost"),
		MinioPort:          getEnv("MINIO_PORT", "9000"),
		MinioUsername:      getEnv("MINIO_USERNAME", "minioadmin"),
		MinioPassword:      getEnv("MINIO_PASSWORD", "minioadmin"),
		MinioUseSSL:        getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:        getEnv("MINIO_REGION", "us-east-1"),
		BucketName:         getEnv("BUCKET_NAME", "drive-vault"),
		AccessLinkTTL:      getEnvDuration("ACCESS_LINK_TTL", 5*time.Minute),
		ListCacheTTL:       getEnvDuration("LIST_CACHE_TTL", 2*time.Minute),
		MaxUploadBytes:     getEnvInt64("MAX_UPLOAD_BYTES", 50<<20),
		CORSAllowedOrigins: allowedOrigins(),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		RabbitMQURL:      rabbitURL(rabbitUser, rabbitPass, rabbitHost, rabbitPort, rabbitVhost),
		RabbitMQHost:     rabbitHost,
		RabbitMQPort:     rabbitPort,
		RabbitMQUser:     rabbitUser,
		RabbitMQPass:     rabbitPass,
		RabbitMQVhost:    rabbitVhost,
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 8),

		CleanupWorkerConcurrency: getEnvInt("CLEANUP_WORKER_CONCURRENCY", 2),
		CleanupRate:              getEnvFloat("CLEANUP_RATE", 5),
		CleanupBurst:             getEnvInt("CLEANUP_BURST", 5),
		CleanupRetryMax:          getEnvInt("CLEANUP_RETRY_MAX", 6),
		CleanupRetryDelays: getEnvDurationList(
			"CLEANUP_RETRY_DELAYS",
			[]time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute, 30 * time.Minute},
		),
	}
}
