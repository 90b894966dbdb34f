package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Backends selectable through configuration.
const (
	AIBackendAgent  = "agent"
	AIBackendGemini = "gemini"
	AIBackendNone   = "none"

	StoreBackendAPI      = "api"
	StoreBackendPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	CORSAllowedOrigins []string

	// External services
	PortalAPIURL string
	AgentAPIURL  string

	// AI assistant
	AIBackend    string
	GeminiAPIKey string
	GeminiModel  string

	// Tax type catalogue; when set it replaces GET /tax-types.
	TaxCatalogFile string

	// Persistence
	StoreBackend string
	DatabaseURL  string

	// Card payments
	StripeAPIKey   string
	StripeCurrency string

	// Notifications
	SlackBotToken string
	SlackChannel  string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Wizard
	SessionTTL             time.Duration
	TaxTypeCacheTTL        time.Duration
	MaxDeclarations        int
	DefaultUnitAmount      decimal.Decimal
	ReproductionTaxTypeIDs []string
	IssuerName             string

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	AuthEnabled  bool
	JWTSecret    string
	JWTAccessTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		PortalAPIURL: getEnv("PORTAL_API_URL", "http://localhost:8081"),
		AgentAPIURL:  getEnv("AGENT_API_URL", "http://localhost:8090"),

		AIBackend:    getEnv("AI_BACKEND", AIBackendAgent),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		TaxCatalogFile: getEnv("TAX_CATALOG_FILE", ""),

		StoreBackend: getEnv("STORE_BACKEND", StoreBackendAPI),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		StripeAPIKey:   getEnv("STRIPE_API_KEY", ""),
		StripeCurrency: getEnv("STRIPE_CURRENCY", "cdf"),

		SlackBotToken: getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:  getEnv("SLACK_CHANNEL", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		SessionTTL:             getEnvDuration("SESSION_TTL", 30*time.Minute),
		TaxTypeCacheTTL:        getEnvDuration("TAX_TYPE_CACHE_TTL", 5*time.Minute),
		MaxDeclarations:        getEnvInt("MAX_DECLARATIONS", 50),
		DefaultUnitAmount:      getEnvDecimal("DEFAULT_UNIT_AMOUNT", decimal.NewFromInt(15000)),
		ReproductionTaxTypeIDs: getEnvList("REPRODUCTION_TAX_TYPE_IDS"),
		IssuerName:             getEnv("ISSUER_NAME", "Direction Générale des Recettes"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		AuthEnabled:  getEnvBool("AUTH_ENABLED", false),
		JWTSecret:    getEnv("JWT_SECRET", "portal-default-dev-secret-change-me"),
		JWTAccessTTL: getEnvDuration("JWT_ACCESS_TTL", 8*time.Hour),
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.AIBackend {
	case AIBackendAgent, AIBackendNone:
	case AIBackendGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("AI_BACKEND=gemini requires GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AI_BACKEND %q", c.AIBackend))
	}

	switch c.StoreBackend {
	case StoreBackendAPI:
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("STORE_BACKEND=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_BOT_TOKEN requires SLACK_CHANNEL"))
	}
	if c.MaxDeclarations < 1 {
		errs = append(errs, errors.New("MAX_DECLARATIONS must be at least 1"))
	}
	if c.DefaultUnitAmount.IsNegative() {
		errs = append(errs, errors.New("DEFAULT_UNIT_AMOUNT must not be negative"))
	}
	if c.AuthEnabled && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("AUTH_ENABLED requires a JWT_SECRET of at least 16 bytes"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
