package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	KafkaBrokers  []string
	KafkaTopic    string
	ArchiveBucket string
	ArchivePrefix string
	AuthKeysFile  string
	DevAllowLocal bool
}

const (
	defaultAddr       = ":8072"
	defaultKafkaTopic = "stemline.review-events"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:          getEnv("REVIEW_ENGINE_ADDR", defaultAddr),
		DatabaseURL:   firstNonEmpty(os.Getenv("REVIEW_ENGINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:  splitList(os.Getenv("REVIEW_ENGINE_KAFKA_BROKERS")),
		KafkaTopic:    getEnv("REVIEW_ENGINE_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket: os.Getenv("REVIEW_ENGINE_ARCHIVE_BUCKET"),
		ArchivePrefix: os.Getenv("REVIEW_ENGINE_ARCHIVE_PREFIX"),
		AuthKeysFile:  os.Getenv("REVIEW_ENGINE_AUTH_KEYS_FILE"),
		DevAllowLocal: os.Getenv("REVIEW_ENGINE_DEV_ALLOW_LOCAL") == "true",
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or REVIEW_ENGINE_DATABASE_URL required")
	}
	if cfg.AuthKeysFile == "" && !cfg.DevAllowLocal {
		return Config{}, fmt.Errorf("REVIEW_ENGINE_AUTH_KEYS_FILE required unless REVIEW_ENGINE_DEV_ALLOW_LOCAL=true")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
