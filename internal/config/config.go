// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"galleria/internal/security"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	Env                 string
	LogLevel            string
	LogFormat           string
	ShutdownGracePeriod time.Duration

	MediaBasePath      string
	SigningSecret      string
	SecretFromFallback bool // SECRET_KEY was used because GALLERY_SIGNED_URL_SECRET is unset
	SignedURLTTL       time.Duration
	SigningAlgorithm   string
	APIKey             string
	MediaRoot          string
	SignRate           float64

	DatabaseURL    string
	StorageBackend string
	FFProbeBin     string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
}

// Load reads the given .env files (default ".env") without overriding
// variables already present in the environment, then builds a Config.
// Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() Config {
	cfg := Config{
		Port:                getEnvIntOrDefault("PORT", 8080),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		MediaBasePath:    getEnvOrDefault("GALLERY_MEDIA_BASE_URL", security.DefaultBasePath),
		SignedURLTTL:     getEnvSecondsOrDefault("GALLERY_SIGNED_URL_TTL", security.DefaultTTL),
		SigningAlgorithm: getEnvOrDefault("GALLERY_SIGNED_URL_ALGORITHM", string(security.AlgorithmMD5)),
		APIKey:           strings.TrimSpace(os.Getenv("GALLERY_API_KEY")),
		MediaRoot:        strings.TrimSpace(os.Getenv("GALLERY_MEDIA_ROOT")),
		SignRate:         getEnvFloatOrDefault("GALLERY_SIGN_RATE", 20),

		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StorageBackend: strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "s3")),
		FFProbeBin:     getEnvOrDefault("FFPROBE_BIN", "ffprobe"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY")),
		SupabaseBucket:     strings.TrimSpace(os.Getenv("SUPABASE_BUCKET")),
	}

	// A dedicated secret is preferred; the app-wide one is a weaker default.
	if v, ok := os.LookupEnv("GALLERY_SIGNED_URL_SECRET"); ok {
		cfg.SigningSecret = v
	} else {
		cfg.SigningSecret = os.Getenv("SECRET_KEY")
		cfg.SecretFromFallback = cfg.SigningSecret != ""
	}

	return cfg
}

// Validate reports configuration that would make signing fail at request time.
func (c Config) Validate() error {
	if c.SigningSecret == "" {
		return errors.New("GALLERY_SIGNED_URL_SECRET or SECRET_KEY must be set for signed URLs")
	}
	if c.SignedURLTTL < time.Second {
		return fmt.Errorf("GALLERY_SIGNED_URL_TTL must be positive, got %s", c.SignedURLTTL)
	}
	if _, err := security.ParseAlgorithm(c.SigningAlgorithm); err != nil {
		return fmt.Errorf("GALLERY_SIGNED_URL_ALGORITHM %q: %w", c.SigningAlgorithm, err)
	}
	switch c.StorageBackend {
	case "s3", "supabase":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be s3 or supabase, got %q", c.StorageBackend)
	}
	return nil
}

// Signer builds the process-wide signer. Call Validate first.
func (c Config) Signer() (*security.Signer, error) {
	alg, err := security.ParseAlgorithm(c.SigningAlgorithm)
	if err != nil {
		return nil, err
	}
	if c.SigningSecret == "" {
		return nil, security.ErrMissingSecret
	}
	return security.NewSigner([]byte(c.SigningSecret), c.MediaBasePath, c.SignedURLTTL, alg), nil
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getEnvSecondsOrDefault accepts a bare number of seconds ("3600") or a Go
// duration ("1h"). A number of seconds outside the representable range
// becomes 0 so that Validate reports it.
func getEnvSecondsOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		ttl, err := security.TTLFromSeconds(n)
		if err != nil {
			return 0
		}
		return ttl
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
