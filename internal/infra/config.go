package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string

	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderModel   string

	FFmpegPath string

	PollInitialDelay time.Duration
	PollInterval     time.Duration
	MaxPollDuration  time.Duration
	MaxPollAttempts  int

	TaskClaimInterval time.Duration
	MaxTaskAttempts   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from the environment (and optional .env
// files) and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		ProviderAPIKey:  os.Getenv("MEDIA_PROVIDER_API_KEY"),
		ProviderBaseURL: getEnv("MEDIA_PROVIDER_BASE_URL", "https://api.mediaforge.example/v1"),
		ProviderModel:   getEnv("MEDIA_PROVIDER_MODEL", "forge-video-1"),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		PollInitialDelay: time.Second * time.Duration(getEnvInt("POLL_INITIAL_DELAY_SECONDS", 10)),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)),
		MaxPollDuration:  time.Minute * time.Duration(getEnvInt("MAX_POLL_MINUTES", 10)),
		MaxPollAttempts:  getEnvInt("MAX_POLL_ATTEMPTS", 20),

		TaskClaimInterval: time.Second * time.Duration(getEnvInt("TASK_CLAIM_INTERVAL_SECONDS", 2)),
		MaxTaskAttempts:   getEnvInt("MAX_TASK_ATTEMPTS", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxPollAttempts < 1 {
		return nil, fmt.Errorf("MAX_POLL_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
