package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

// Pipeline holds the tuning knobs for the publishing pipeline. The defaults
// are operational choices, not semantics; each one can be overridden from the
// environment.
type Pipeline struct {
	BatchSize       int
	WorkerCount     int
	MaxPublishTries int
	MaxRetryCount   int
	AttemptTimeout  time.Duration
	LeaseDuration   time.Duration
	SoftDeadline    time.Duration
	BackoffBase     time.Duration
}

type Config struct {
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	R2                 R2
	Pipeline           Pipeline
	GoogleClientID     string
	GoogleClientSecret string
	SecretKey          string
	CookieName         string
	CronSecret         string
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", ""),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Pipeline: Pipeline{
			BatchSize:       getEnvInt("PIPELINE_BATCH_SIZE", 50),
			WorkerCount:     getEnvInt("PIPELINE_WORKER_COUNT", 5),
			MaxPublishTries: getEnvInt("PIPELINE_MAX_PUBLISH_TRIES", 3),
			MaxRetryCount:   getEnvInt("PIPELINE_MAX_RETRY_COUNT", 9),
			AttemptTimeout:  getEnvDuration("PIPELINE_ATTEMPT_TIMEOUT", 30*time.Second),
			LeaseDuration:   getEnvDuration("PIPELINE_LEASE_DURATION", 10*time.Minute),
			SoftDeadline:    getEnvDuration("PIPELINE_SOFT_DEADLINE", 8*time.Minute),
			BackoffBase:     getEnvDuration("PIPELINE_BACKOFF_BASE", 2*time.Second),
		},
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		SecretKey:          getEnv("SECRET_KEY", ""),
		CookieName:         getEnv("COOKIE_NAME", ""),
		CronSecret:         getEnv("CRON_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
