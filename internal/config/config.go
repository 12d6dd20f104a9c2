// Package config centralizes how GalleryDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Transport kinds.
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// Finalize modes.
const (
	FinalizeHTTP  = "http"
	FinalizeQueue = "queue"
	FinalizeNone  = "none"
)

// Config represents runtime configuration for the pipeline and its hosts.
// Every field is read from a GALLERYDROP_ prefixed variable; the env struct
// tag names the variable and envDefault supplies the fallback.
type Config struct {
	Address       string   `env:"ADDRESS" envDefault:":8080"`
	MaxFileSize   int64    `env:"MAX_FILE_BYTES" envDefault:"26214400"`
	MaxBatchFiles int      `env:"MAX_BATCH_FILES" envDefault:"50"`
	AllowedTypes  []string `env:"ALLOWED_TYPES" envDefault:"image/jpeg,image/png,image/webp,image/gif" envSeparator:","`

	MaxWidth    int `env:"MAX_WIDTH" envDefault:"1920"`
	MaxHeight   int `env:"MAX_HEIGHT" envDefault:"1920"`
	JPEGQuality int `env:"JPEG_QUALITY" envDefault:"85"`
	Concurrency int `env:"CONCURRENCY" envDefault:"3"`

	Transport    string `env:"TRANSPORT" envDefault:"http"`
	UploadURL    string `env:"UPLOAD_URL" envDefault:"http://localhost:3000/api/gallery/upload"`
	FinalizeMode string `env:"FINALIZE_MODE" envDefault:"http"`
	FinalizeURL  string `env:"FINALIZE_URL" envDefault:"http://localhost:3000/api/gallery/index"`

	SigningSecret string        `env:"SIGNING_SECRET"`
	SignedURLTTL  time.Duration `env:"SIGNED_TTL" envDefault:"5m"`

	S3Endpoint  string `env:"S3_ENDPOINT" envDefault:"localhost:9000"`
	S3AccessKey string `env:"S3_ACCESS_KEY" envDefault:"minioadmin"`
	S3SecretKey string `env:"S3_SECRET_KEY" envDefault:"minioadmin"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3UseSSL    bool   `env:"S3_USE_SSL" envDefault:"false"`
	S3Bucket    string `env:"S3_BUCKET" envDefault:"gallery"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`

	// secret is unexported so the env parser leaves it alone.
	secret []byte
}

const (
	envPrefix = "GALLERYDROP_"

	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultMaxBatchFiles = 50
	defaultMaxDimension  = 1920
	defaultJPEGQuality   = 85
	defaultConcurrency   = 3
	defaultSignedTTL     = 5 * time.Minute
)

// Load reads an optional .env file and then the environment, falling back to
// defaults for anything missing or out of range.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.SigningSecret != "" {
		c.secret = []byte(c.SigningSecret)
	} else {
		c.secret = randomSecret()
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.MaxBatchFiles <= 0 {
		c.MaxBatchFiles = defaultMaxBatchFiles
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = defaultMaxDimension
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = defaultMaxDimension
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		c.JPEGQuality = defaultJPEGQuality
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = defaultSignedTTL
	}
	c.AllowedTypes = cleanList(c.AllowedTypes)

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case TransportHTTP, TransportS3:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	c.FinalizeMode = strings.ToLower(strings.TrimSpace(c.FinalizeMode))
	switch c.FinalizeMode {
	case FinalizeHTTP, FinalizeQueue, FinalizeNone:
	default:
		return fmt.Errorf("unknown finalize mode %q", c.FinalizeMode)
	}
	return nil
}

// Secret returns the HMAC key used to sign outgoing requests. When no secret
// was configured a random one is generated once per process.
func (c *Config) Secret() []byte {
	return c.secret
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	out.SigningSecret = mask(out.SigningSecret)
	out.secret = nil
	out.S3SecretKey = mask(out.S3SecretKey)
	out.RedisPassword = mask(out.RedisPassword)
	return out
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s := strings.ToLower(strings.TrimSpace(v)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte("gallerydrop-fallback-secret")
	}
	return buf
}
