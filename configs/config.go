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

type Engine struct {
	SweepInterval      time.Duration
	PollSweepInterval  time.Duration
	PollWindow         time.Duration
	AdapterCallTimeout time.Duration
	MaxAttempts        int
	Concurrency        map[string]int
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	InstagramRedirectURI  string
	TiktokClientKey       string
	TiktokClientSecret    string
	TiktokRedirectURI     string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	TwitterClientID       string
	TwitterClientSecret   string
	TwitterRedirectURI    string
	PostgresURI           string
	RedisURI              string
	FrontendURL           string
	R2                    R2
	Engine                Engine
	SecretKey             string
	CookieName            string
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		InstagramRedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		TiktokRedirectURI:     getEnv("TIKTOK_REDIRECT_URI", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		TwitterClientID:       getEnv("TWITTER_CLIENT_ID", ""),
		TwitterClientSecret:   getEnv("TWITTER_CLIENT_SECRET", ""),
		TwitterRedirectURI:    getEnv("TWITTER_REDIRECT_URI", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", ""),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		Engine: Engine{
			SweepInterval:      getEnvDuration("ENGINE_SWEEP_INTERVAL", 15*time.Second),
			PollSweepInterval:  getEnvDuration("ENGINE_POLL_SWEEP_INTERVAL", 10*time.Second),
			PollWindow:         getEnvDuration("ENGINE_POLL_WINDOW", 24*time.Hour),
			AdapterCallTimeout: getEnvDuration("ENGINE_ADAPTER_CALL_TIMEOUT", 2*time.Minute),
			MaxAttempts:        getEnvInt("ENGINE_MAX_ATTEMPTS", 3),
			Concurrency: map[string]int{
				"tiktok":    getEnvInt("QUEUE_CONCURRENCY_TIKTOK", 4),
				"instagram": getEnvInt("QUEUE_CONCURRENCY_INSTAGRAM", 4),
				"youtube":   getEnvInt("QUEUE_CONCURRENCY_YOUTUBE", 2),
				"twitter":   getEnvInt("QUEUE_CONCURRENCY_TWITTER", 4),
			},
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "postfleet_session"),
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
