package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Storage    StorageConfig
	Render     RenderConfig
	QR         QRConfig
	Generation GenerationConfig
	Verify     VerifyConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	APIKeyHeader string
}

type StorageConfig struct {
	Backend        string // "supabase", "gcs" or "memory"
	SupabaseURL    string
	SupabaseKey    string
	GCSCredentials string // optional JSON; ADC is used when empty
	Bucket         string
}

type RenderConfig struct {
	Timeout       time.Duration
	MaxConcurrent int
	ChromePath    string // empty: chromedp looks up a local Chrome
	PageWidthIn   float64
	PageHeightIn  float64
}

type QRConfig struct {
	DefaultSize   float64
	DefaultOffset float64
}

type GenerationConfig struct {
	Workers     int
	BulkTimeout time.Duration
}

type VerifyConfig struct {
	BaseURL      string
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	renderTimeout, err := getEnvDuration("RENDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_TIMEOUT: %w", err)
	}

	renderMax, err := getEnvInt("RENDER_MAX_CONCURRENT", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_MAX_CONCURRENT: %w", err)
	}

	pageW, err := getEnvFloat("RENDER_PAGE_WIDTH_IN", 11.69)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_PAGE_WIDTH_IN: %w", err)
	}

	pageH, err := getEnvFloat("RENDER_PAGE_HEIGHT_IN", 8.27)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_PAGE_HEIGHT_IN: %w", err)
	}

	qrSize, err := getEnvFloat("QR_DEFAULT_SIZE", 120)
	if err != nil {
		return nil, fmt.Errorf("invalid QR_DEFAULT_SIZE: %w", err)
	}

	qrOffset, err := getEnvFloat("QR_DEFAULT_OFFSET", 24)
	if err != nil {
		return nil, fmt.Errorf("invalid QR_DEFAULT_OFFSET: %w", err)
	}

	workers, err := getEnvInt("GENERATION_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_WORKERS: %w", err)
	}

	bulkTimeout, err := getEnvDuration("GENERATION_BULK_TIMEOUT", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_BULK_TIMEOUT: %w", err)
	}

	cacheTTL, err := getEnvDuration("VERIFY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_CACHE_TTL: %w", err)
	}

	cacheEnabled, err := getEnvBool("VERIFY_CACHE_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("invalid VERIFY_CACHE_ENABLED: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORAGE_BACKEND", "supabase"),
			SupabaseURL:    getEnv("SUPABASE_URL", ""),
			SupabaseKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
			GCSCredentials: getEnv("GCS_CREDENTIALS_JSON", ""),
			Bucket:         getEnv("STORAGE_BUCKET", "documents"),
		},
		Render: RenderConfig{
			Timeout:       renderTimeout,
			MaxConcurrent: renderMax,
			ChromePath:    getEnv("RENDER_CHROME_PATH", ""),
			PageWidthIn:   pageW,
			PageHeightIn:  pageH,
		},
		QR: QRConfig{
			DefaultSize:   qrSize,
			DefaultOffset: qrOffset,
		},
		Generation: GenerationConfig{
			Workers:     workers,
			BulkTimeout: bulkTimeout,
		},
		Verify: VerifyConfig{
			BaseURL:      strings.TrimRight(getEnv("VERIFY_BASE_URL", "http://localhost:8080"), "/"),
			CacheEnabled: cacheEnabled,
			CacheTTL:     cacheTTL,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Storage.Backend == "supabase" && c.Storage.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	switch c.Storage.Backend {
	case "supabase", "gcs", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Render.MaxConcurrent < 1 || c.Generation.Workers < 1 {
		return fmt.Errorf("RENDER_MAX_CONCURRENT and GENERATION_WORKERS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
