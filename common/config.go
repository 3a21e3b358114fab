package common

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	SessionSecret string
	Domain        string

	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	PageSize            int
	CommentsRequireAuth bool

	FeedbackRecipient string
	SMTPHost          string
	SMTPPort          string
	SMTPUser          string
	SMTPPassword      string
	SMTPFrom          string

	ElasticsearchURL   string
	ElasticsearchIndex string
}

// LoadConfig reads the process environment, letting values from a .env file
// in the working directory fill in anything that is not already set.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Could not read .env file: %v", err)
	}

	get := func(key, fallback string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Port:               get("PORT", "8080"),
		SessionSecret:      get("SESSION_SECRET", ""),
		Domain:             get("DOMAIN", "http://localhost:8080"),
		DBDriver:           strings.ToLower(get("DB_DRIVER", "sqlite")),
		FeedbackRecipient:  get("FEEDBACK_RECIPIENT", ""),
		SMTPHost:           get("SMTP_HOST", ""),
		SMTPPort:           get("SMTP_PORT", "587"),
		SMTPUser:           get("SMTP_USER", ""),
		SMTPPassword:       get("SMTP_PASSWORD", ""),
		SMTPFrom:           get("SMTP_FROM", ""),
		ElasticsearchURL:   get("ELASTICSEARCH_URL", ""),
		ElasticsearchIndex: get("ELASTICSEARCH_INDEX", "posts"),
	}

	switch cfg.DBDriver {
	case "sqlite":
		cfg.DBDSN = get("sqlite_db", "blog.db")
	case "postgres":
		cfg.DBDSN = get("DATABASE_URL", "")
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	pageSize, err := strconv.Atoi(get("PAGE_SIZE", "6"))
	if err != nil || pageSize < 1 {
		return nil, fmt.Errorf("PAGE_SIZE must be a positive integer")
	}
	cfg.PageSize = pageSize

	requireAuth, err := strconv.ParseBool(get("COMMENTS_REQUIRE_AUTH", "true"))
	if err != nil {
		return nil, fmt.Errorf("COMMENTS_REQUIRE_AUTH: %w", err)
	}
	cfg.CommentsRequireAuth = requireAuth

	return cfg, nil
}
