package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultFallbackURL = "https://jsonplaceholder.typicode.com/posts/1"

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Server
	Port             string
	LogLevel         string
	CORSAllowOrigins []string

	// Request Execution
	RequestTimeout  time.Duration
	MaxRequestSize  int64
	MaxResponseSize int64
	MaxHeaderCount  int
	MaxRedirects    int
	UserAgent       string

	// Flow Execution
	FallbackURL      string
	DemoRequestLimit int
	RunHistoryLimit  int

	// Optional backends
	RedisURL         string
	DemoCounterKey   string
	RunArchiveURL    string
	RunArchivePrefix string

	// Rate Limiting
	RateLimitRPS           int
	RateLimitBurst         int
	OutboundRateLimitRPS   float64
	OutboundRateLimitBurst int

	// SSRF Protection
	AllowLocalhost  bool
	AllowPrivateIPs bool
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "dev"),
		DBPassword:  getEnv("DB_PASSWORD", "localdb"),
		DBName:      getEnv("DB_NAME", "flowrunner"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		UserAgent:   getEnv("USER_AGENT", "FlowRunner/1.0"),
		FallbackURL: getEnv("FLOW_FALLBACK_URL", DefaultFallbackURL),

		RedisURL:         os.Getenv("REDIS_URL"),
		DemoCounterKey:   getEnv("DEMO_COUNTER_KEY", "flowrunner:demo_requests"),
		RunArchiveURL:    os.Getenv("RUN_ARCHIVE_URL"),
		RunArchivePrefix: getEnv("RUN_ARCHIVE_PREFIX", "runs/"),
	}
	cfg.CORSAllowOrigins = splitList(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173"))

	// Parse durations and integers
	var err error
	cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	cfg.MaxRequestSize, err = strconv.ParseInt(getEnv("MAX_REQUEST_SIZE", "10485760"), 10, 64) // 10MB
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_REQUEST_SIZE: %w", err)
	}

	cfg.MaxResponseSize, err = strconv.ParseInt(getEnv("MAX_RESPONSE_SIZE", "52428800"), 10, 64) // 50MB
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RESPONSE_SIZE: %w", err)
	}

	cfg.MaxHeaderCount, err = strconv.Atoi(getEnv("MAX_HEADER_COUNT", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_HEADER_COUNT: %w", err)
	}

	cfg.MaxRedirects, err = strconv.Atoi(getEnv("MAX_REDIRECTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_REDIRECTS: %w", err)
	}

	cfg.DemoRequestLimit, err = strconv.Atoi(getEnv("DEMO_REQUEST_LIMIT", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEMO_REQUEST_LIMIT: %w", err)
	}

	cfg.RunHistoryLimit, err = strconv.Atoi(getEnv("RUN_HISTORY_LIMIT", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_HISTORY_LIMIT: %w", err)
	}

	cfg.RateLimitRPS, err = strconv.Atoi(getEnv("RATE_LIMIT_RPS", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	cfg.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "2000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	cfg.OutboundRateLimitRPS, err = strconv.ParseFloat(getEnv("OUTBOUND_RATE_LIMIT_RPS", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OUTBOUND_RATE_LIMIT_RPS: %w", err)
	}

	cfg.OutboundRateLimitBurst, err = strconv.Atoi(getEnv("OUTBOUND_RATE_LIMIT_BURST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid OUTBOUND_RATE_LIMIT_BURST: %w", err)
	}

	cfg.AllowLocalhost = getEnv("ALLOW_LOCALHOST", "true") == "true"
	cfg.AllowPrivateIPs = getEnv("ALLOW_PRIVATE_IPS", "true") == "true"

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
