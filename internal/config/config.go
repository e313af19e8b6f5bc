package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Port            int
	Database        DatabaseConfig
	JWTSecret       string
	Environment     string
	LogLevel        string
	AppURL          string
	CORSOrigins     []string
	ProfilePagePath string
	EncryptionKey   string
	Calendly        CalendlyConfig
	NotifyWebhook   string
	// NotifyAllowPrivate lets NotifyWebhook point at loopback or private addresses
	NotifyAllowPrivate bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// CalendlyConfig holds the integration's OAuth client and webhook settings
type CalendlyConfig struct {
	ClientID     string
	ClientSecret string
	SigningKey   string
	AuthBaseURL  string
	APIBaseURL   string
	RedirectURL  string
	WebhookURL   string
}

// Load loads configuration from environment variables and exits on invalid values
func Load() *Config {
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	return cfg
}

// FromEnv builds and validates configuration from environment variables
func FromEnv() (*Config, error) {
	env := getEnv("ENVIRONMENT", "production")
	jwtSecret, err := loadJWTSecret(env)
	if err != nil {
		return nil, err
	}
	appURL := getAppURL()

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWTSecret:       jwtSecret,
		Environment:     env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AppURL:          appURL,
		CORSOrigins:     loadCORSOrigins(env, appURL),
		ProfilePagePath: getEnv("PROFILE_PAGE_PATH", "/profile"),
		EncryptionKey:   strings.TrimSpace(os.Getenv("TOKEN_ENCRYPTION_KEY")),
		Calendly:        loadCalendlyConfig(appURL),
		NotifyWebhook:   os.Getenv("BOOKING_NOTIFY_WEBHOOK_URL"),

		NotifyAllowPrivate: getEnvBool("BOOKING_NOTIFY_ALLOW_PRIVATE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "schedsync")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "schedsync")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IsProduction() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.AppURL == "" {
			return fmt.Errorf("APP_URL is required in production")
		}
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Calendly.ClientID == "" || c.Calendly.ClientSecret == "" {
		return fmt.Errorf("CALENDLY_CLIENT_ID and CALENDLY_CLIENT_SECRET are required")
	}
	if c.Calendly.SigningKey == "" {
		return fmt.Errorf("CALENDLY_WEBHOOK_SIGNING_KEY is required")
	}

	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}

	if !strings.HasPrefix(c.ProfilePagePath, "/") {
		return fmt.Errorf("PROFILE_PAGE_PATH must be an absolute path")
	}

	return nil
}

func loadJWTSecret(env string) (string, error) {
	secret := os.Getenv("JWT_SECRET")

	if secret == "" {
		if env == "production" {
			return "", fmt.Errorf("JWT_SECRET environment variable is required in production")
		}

		log.Println("WARNING: JWT_SECRET not set. Generating random secret for development.")
		return generateRandomSecret()
	}

	if len(secret) < 16 {
		return "", fmt.Errorf("JWT_SECRET must be at least 16 characters long")
	}

	return secret, nil
}

func loadCORSOrigins(env, appURL string) []string {
	if appURL != "" {
		return []string{appURL}
	}

	if env != "development" {
		log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	}
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func loadCalendlyConfig(appURL string) CalendlyConfig {
	base := appURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", getEnvInt("PORT", 8080))
	}

	return CalendlyConfig{
		ClientID:     strings.TrimSpace(os.Getenv("CALENDLY_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("CALENDLY_CLIENT_SECRET")),
		SigningKey:   strings.TrimSpace(os.Getenv("CALENDLY_WEBHOOK_SIGNING_KEY")),
		AuthBaseURL:  strings.TrimRight(getEnv("CALENDLY_AUTH_URL", "https://auth.calendly.com"), "/"),
		APIBaseURL:   strings.TrimRight(getEnv("CALENDLY_API_URL", "https://api.calendly.com"), "/"),
		RedirectURL:  base + "/api/calendly/callback",
		WebhookURL:   base + "/api/webhooks/calendly",
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func generateRandomSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

func getAppURL() string {
	return strings.TrimRight(os.Getenv("APP_URL"), "/")
}
