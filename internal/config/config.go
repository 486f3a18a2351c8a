// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/imagevault/service/internal/logging"
)

// Supported media backends.
const (
	BackendCloudinary = "cloudinary"
	BackendMinio      = "minio"
	BackendLocal      = "local"
)

// Config holds all runtime configuration for the API server.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	// Origins allowed to call the API from a browser. "*" allows any.
	AllowedOrigins []string

	UploadMaxBytes  int64
	UpstreamTimeout time.Duration

	// Media namespace and store-side rules, shared by every backend.
	MediaBackend        string
	MediaFolder         string
	MediaMaxWidth       int
	MediaListLimit      int
	MediaAllowedFormats []string

	// Cloudinary (managed media store)
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	// Object storage (S3-compatible: MinIO locally, any S3 provider in production)
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageUseSSL     bool
	StoragePublicBase string // browser-accessible base URL, e.g. "http://localhost:9000/images"

	// Local filesystem store, served by the API itself under /media.
	LocalMediaDir   string
	LocalPublicBase string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug("no .env file found, reading from environment")
	}

	port := getEnv("PORT", "5000")
	cfg := &Config{
		Port:           port,
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnv("FRONTEND_URL", "*")),

		MediaBackend:        strings.ToLower(getEnv("MEDIA_BACKEND", BackendCloudinary)),
		MediaFolder:         strings.Trim(getEnv("MEDIA_FOLDER", "my-images"), "/"),
		MediaAllowedFormats: splitList(getEnv("MEDIA_ALLOWED_FORMATS", "jpg,jpeg,png,gif,webp")),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),

		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "images"),
		StorageUseSSL:     getEnv("STORAGE_USE_SSL", "false") == "true",
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", "http://localhost:9000/images"),

		LocalMediaDir:   getEnv("LOCAL_MEDIA_DIR", "./media"),
		LocalPublicBase: getEnv("LOCAL_PUBLIC_BASE", "http://localhost:"+port+"/media"),
	}

	var err error
	if cfg.MediaMaxWidth, err = getInt("MEDIA_MAX_WIDTH", 1024); err != nil {
		return nil, err
	}
	if cfg.MediaListLimit, err = getInt("MEDIA_LIST_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = getDuration("UPSTREAM_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadMaxBytes, err = getBytes("UPLOAD_MAX_SIZE", "10MB"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.MediaBackend {
	case BackendCloudinary:
		if c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
			return fmt.Errorf("cloudinary backend requires CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
	case BackendMinio:
		if c.StorageEndpoint == "" || c.StorageBucket == "" {
			return fmt.Errorf("minio backend requires STORAGE_ENDPOINT and STORAGE_BUCKET")
		}
	case BackendLocal:
		if c.LocalMediaDir == "" {
			return fmt.Errorf("local backend requires LOCAL_MEDIA_DIR")
		}
	default:
		return fmt.Errorf("unknown MEDIA_BACKEND %q", c.MediaBackend)
	}
	if c.MediaFolder == "" {
		return fmt.Errorf("MEDIA_FOLDER must not be empty")
	}
	if c.MediaListLimit <= 0 {
		return fmt.Errorf("MEDIA_LIST_LIMIT must be positive, got %d", c.MediaListLimit)
	}
	if len(c.MediaAllowedFormats) == 0 {
		return fmt.Errorf("MEDIA_ALLOWED_FORMATS must list at least one format")
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ClientConfig holds configuration for the gallery command-line client.
type ClientConfig struct {
	APIBaseURL    string
	Timeout       time.Duration
	DownloadDir   string
	ThumbnailSize int
	LogLevel      string
}

// LoadClient reads client configuration from a .env file (if present) and the environment.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		APIBaseURL:  strings.TrimRight(getEnv("GALLERY_API_BASE_URL", "http://localhost:5000"), "/"),
		DownloadDir: getEnv("GALLERY_DOWNLOAD_DIR", "."),
		LogLevel:    getEnv("LOG_LEVEL", "warn"),
	}

	var err error
	if cfg.Timeout, err = getDuration("GALLERY_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ThumbnailSize, err = getInt("GALLERY_THUMBNAIL_SIZE", 256); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getBytes(key, fallback string) (int64, error) {
	n, err := humanize.ParseBytes(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return int64(n), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
