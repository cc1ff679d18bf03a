package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"

	OCRProviderTesseract = "tesseract"
	OCRProviderRemote    = "remote"
)

type Config struct {
	Port         string
	DatabaseFile string
	LogLevel     string

	// Storage
	StorageBackend   string
	LocalStoragePath string

	// S3
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3UseSSL          bool

	// OCR
	OCRProvider            string
	OCREndpoint            string
	OCRAPIKey              string
	OCRMaxPages            int
	OCRTimeout             time.Duration
	OCRRetry               int
	OCRLanguageHints       []string
	OCRConfidenceThreshold float64
	OCRWorkers             int

	// Upload limits
	MaxFileSize int64
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseFile:      getEnv("DATABASE_FILE", "./data/fichas.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StorageBackend:    getEnv("STORAGE_BACKEND", StorageLocal),
		LocalStoragePath:  getEnv("LOCAL_STORAGE_PATH", "./data/blobs"),
		S3Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", "minioadmin"),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", "minioadmin"),
		S3BucketName:      getEnv("S3_BUCKET_NAME", "fichas"),
		S3UseSSL:          getEnv("S3_USE_SSL", "false") == "true",
		OCRProvider:       getEnv("OCR_PROVIDER", OCRProviderTesseract),
		OCREndpoint:       getEnv("OCR_ENDPOINT", ""),
		OCRAPIKey:         getEnv("OCR_API_KEY", ""),
		OCRLanguageHints:  splitList(getEnv("OCR_LANGUAGE_HINTS", "por")),
		MaxFileSize:       10 * 1024 * 1024,
	}

	var err error
	if cfg.OCRMaxPages, err = getEnvInt("OCR_MAX_PAGES", 10); err != nil {
		return nil, err
	}
	timeoutSeconds, err := getEnvInt("OCR_TIMEOUT_SECONDS", 180)
	if err != nil {
		return nil, err
	}
	cfg.OCRTimeout = time.Duration(timeoutSeconds) * time.Second
	if cfg.OCRRetry, err = getEnvInt("OCR_RETRY", 2); err != nil {
		return nil, err
	}
	if cfg.OCRWorkers, err = getEnvInt("OCR_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.OCRConfidenceThreshold, err = getEnvFloat("OCR_CONFIDENCE_THRESHOLD", 0.8); err != nil {
		return nil, err
	}

	if cfg.StorageBackend != StorageLocal && cfg.StorageBackend != StorageS3 {
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageLocal, StorageS3, cfg.StorageBackend)
	}
	if cfg.OCRProvider != OCRProviderTesseract && cfg.OCRProvider != OCRProviderRemote {
		return nil, fmt.Errorf("OCR_PROVIDER must be %q or %q, got %q", OCRProviderTesseract, OCRProviderRemote, cfg.OCRProvider)
	}
	if cfg.OCRProvider == OCRProviderRemote && cfg.OCREndpoint == "" {
		return nil, fmt.Errorf("OCR_ENDPOINT is required when OCR_PROVIDER=remote")
	}
	if cfg.OCRConfidenceThreshold < 0 || cfg.OCRConfidenceThreshold > 1 {
		return nil, fmt.Errorf("OCR_CONFIDENCE_THRESHOLD must be between 0 and 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
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
