package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	PublicBaseURL   string

	ObjectStoreType string
	ObjectPrefix    string
	LocalStoreDir   string
	GCSBucket       string
	GCSURLMode      string
	GCSMakePublic   bool
	AWSRegion       string
	S3Bucket        string
	S3URLMode       string

	RowStoreType      string
	SheetID           string
	SheetName         string
	DatabaseURL       string
	GoogleCredentials string

	SubmissionQueueURL string

	CacheBackend    string
	RedisAddr       string
	OptionsCacheTTL time.Duration

	MaxImageBytes      int64
	MaxRequestBytes    int64
	MaxImageWidth      int
	ImageFormat        string
	BlobWriteTimeout   time.Duration
	StoreRetryAttempts int
	CleanupOrphans     bool
	Timezone           string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		ObjectStoreType: normalizeChoice(getEnv("OBJECT_STORE", "local"), "local", "gcs", "s3"),
		ObjectPrefix:    getEnv("OBJECT_PREFIX", "you-posm"),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		GCSBucket:       getEnv("GCS_BUCKET_NAME", ""),
		GCSURLMode:      normalizeChoice(getEnv("GCS_URL_MODE", "public"), "public", "signed"),
		GCSMakePublic:   getBool("GCS_MAKE_PUBLIC", false),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3URLMode:       normalizeChoice(getEnv("S3_URL_MODE", "public"), "public", "signed"),

		RowStoreType:      normalizeChoice(getEnv("ROW_STORE", "memory"), "memory", "sheets", "postgres"),
		SheetID:           getEnv("SHEET_ID", ""),
		SheetName:         getEnv("SHEET_NAME", "Sheet1"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		GoogleCredentials: os.Getenv("GOOGLE_CREDENTIALS"),

		SubmissionQueueURL: strings.TrimSpace(os.Getenv("SUBMISSION_QUEUE_URL")),

		CacheBackend:    normalizeChoice(getEnv("CACHE_BACKEND", "memory"), "memory", "redis"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		OptionsCacheTTL: getDuration("OPTIONS_CACHE_TTL", 5*time.Minute),

		MaxImageBytes:      int64(getInt("MAX_IMAGE_BYTES", 10<<20)),
		MaxRequestBytes:    int64(getInt("MAX_REQUEST_BYTES", 0)),
		MaxImageWidth:      getInt("MAX_IMAGE_WIDTH", 1920),
		ImageFormat:        normalizeChoice(getEnv("IMAGE_FORMAT", "png"), "png", "jpeg"),
		BlobWriteTimeout:   getDuration("BLOB_WRITE_TIMEOUT", 30*time.Second),
		StoreRetryAttempts: getInt("STORE_RETRY_ATTEMPTS", 3),
		CleanupOrphans:     getBool("CLEANUP_ORPHANS", true),
		Timezone:           getEnv("TIMEZONE", "Asia/Jakarta"),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 10),
	}

	if env == "production" {
		if cfg.ObjectStoreType == "local" {
			log.Printf("OBJECT_STORE=local in production; images will not survive restarts")
		}
		if cfg.RowStoreType == "memory" {
			log.Printf("ROW_STORE=memory in production; records will not survive restarts")
		}
	}
	return cfg
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("invalid TIMEZONE %q, using UTC: %v", c.Timezone, err)
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("env %s invalid int: %v", key, err)
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("env %s invalid float: %v", key, err)
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("env %s invalid bool: %v", key, err)
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("env %s invalid duration: %v", key, err)
		return def
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

// normalizeChoice lowercases raw and returns it when it is one of allowed,
// otherwise the first allowed value.
func normalizeChoice(raw string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return allowed[0]
}
