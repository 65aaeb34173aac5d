package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration.
// It is built once at startup and must not be mutated afterwards.
type Config struct {
	Server        ServerConfig
	Search        SearchConfig
	Embedding     EmbeddingConfig
	Completion    CompletionConfig
	Grounding     GroundingConfig
	Speech        SpeechConfig
	Database      *DatabaseConfig // Optional: exchange audit store. When nil, auditing is disabled.
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	StaticDir       string // Browser client assets; empty disables static serving
	AllowedOrigins  []string
}

// SearchConfig holds the document search service configuration
type SearchConfig struct {
	Endpoint              string
	IndexName             string
	APIKey                string
	APIVersion            string
	SemanticConfiguration string // Empty disables semantic query mode
	QueryLanguage         string
	VectorField           string
	URLField              string
	ContentField          string
	Timeout               time.Duration
}

// EmbeddingConfig holds the query embedding service configuration
type EmbeddingConfig struct {
	Enabled    bool // VECTOR_SEARCH_ENABLED
	Endpoint   string
	Deployment string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
}

// CompletionConfig holds the chat completion service configuration
type CompletionConfig struct {
	Endpoint    string
	Deployment  string
	APIKey      string
	APIVersion  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// GroundingConfig holds prompt assembly limits
type GroundingConfig struct {
	MaxTurns        int
	TopK            int
	MaxDocChars     int
	MaxPromptTokens int
	Instructions    string
}

// SpeechConfig holds the speech token service configuration
type SpeechConfig struct {
	Enabled       bool
	Key           string
	Region        string
	TokenEndpoint string // Overrides the region-derived STS endpoint
	Timeout       time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RateLimitConfig holds the inbound per-client limit applied to /chat
type RateLimitConfig struct {
	Enabled  bool
	Requests int64
	Period   time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	completionEndpoint := strings.TrimSuffix(getEnv("AZURE_OPENAI_ENDPOINT", ""), "/")
	completionKey := getEnv("AZURE_OPENAI_API_KEY", "")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			StaticDir:       getEnv("STATIC_DIR", "simple-chatbot/public"),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Search: SearchConfig{
			Endpoint:              strings.TrimSuffix(getEnv("AZURE_SEARCH_ENDPOINT", ""), "/"),
			IndexName:             getEnv("AZURE_SEARCH_INDEX_NAME", ""),
			APIKey:                getEnv("AZURE_SEARCH_KEY", ""),
			APIVersion:            getEnv("AZURE_SEARCH_API_VERSION", "2023-07-01-preview"),
			SemanticConfiguration: getEnv("AZURE_SEARCH_SEMANTIC_CONFIGURATION", ""),
			QueryLanguage:         getEnv("AZURE_SEARCH_QUERY_LANGUAGE", "en-us"),
			VectorField:           getEnv("AZURE_SEARCH_VECTOR_FIELD", "contentVector"),
			URLField:              getEnv("AZURE_SEARCH_URL_FIELD", "url"),
			ContentField:          getEnv("AZURE_SEARCH_CONTENT_FIELD", "content"),
			Timeout:               getEnvAsDuration("AZURE_SEARCH_TIMEOUT", 10*time.Second),
		},
		Embedding: EmbeddingConfig{
			Enabled:    getEnvAsBool("VECTOR_SEARCH_ENABLED", false),
			Endpoint:   strings.TrimSuffix(getEnv("AZURE_OPENAI_EMBEDDING_ENDPOINT", completionEndpoint), "/"),
			Deployment: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT", ""),
			APIKey:     getEnv("AZURE_OPENAI_EMBEDDING_API_KEY", completionKey),
			APIVersion: getEnv("AZURE_OPENAI_EMBEDDING_API_VERSION", "2023-05-15"),
			Timeout:    getEnvAsDuration("AZURE_OPENAI_EMBEDDING_TIMEOUT", 10*time.Second),
		},
		Completion: CompletionConfig{
			Endpoint:    completionEndpoint,
			Deployment:  getEnv("AZURE_OPENAI_DEPLOYMENT_NAME", ""),
			APIKey:      completionKey,
			APIVersion:  getEnv("AZURE_OPENAI_API_VERSION", "2023-05-15"),
			Temperature: getEnvAsFloat("OPENAI_TEMPERATURE", 0.5),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 500),
			Timeout:     getEnvAsDuration("AZURE_OPENAI_TIMEOUT", 30*time.Second),
		},
		Grounding: GroundingConfig{
			MaxTurns:        getEnvAsInt("MAX_TURNS", 3),
			TopK:            getEnvAsInt("TOP_K", 3),
			MaxDocChars:     getEnvAsInt("MAX_DOC_CHARS", 1500),
			MaxPromptTokens: getEnvAsInt("MAX_PROMPT_TOKENS", 3000),
			Instructions:    getEnv("AZURE_OPENAI_INSTRUCTIONS", "You are a helpful assistant that answers questions about our documentation."),
		},
		Speech: SpeechConfig{
			Enabled:       getEnvAsFlag("ENABLE_SPEECH"),
			Key:           getEnv("AZURE_SPEECH_KEY", ""),
			Region:        getEnv("AZURE_SPEECH_REGION", ""),
			TokenEndpoint: getEnv("AZURE_SPEECH_TOKEN_ENDPOINT", ""),
			Timeout:       getEnvAsDuration("AZURE_SPEECH_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		RateLimit: RateLimitConfig{
			Enabled:  getEnvAsBool("CHAT_RATE_LIMIT_ENABLED", true),
			Requests: int64(getEnvAsInt("CHAT_RATE_LIMIT_REQUESTS", 30)),
			Period:   getEnvAsDuration("CHAT_RATE_LIMIT_PERIOD", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Grounding.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be positive")
	}
	if c.Grounding.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive")
	}
	if c.Grounding.MaxDocChars <= 0 {
		return fmt.Errorf("MAX_DOC_CHARS must be positive")
	}
	if c.Grounding.MaxPromptTokens <= 0 {
		return fmt.Errorf("MAX_PROMPT_TOKENS must be positive")
	}

	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("OPENAI_TEMPERATURE must be between 0 and 2")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("OPENAI_MAX_TOKENS must be positive")
	}

	if c.Embedding.Enabled && c.Embedding.Deployment == "" {
		return fmt.Errorf("embedding deployment is required when vector search is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Period <= 0) {
		return fmt.Errorf("chat rate limit requires a positive request count and period")
	}

	// Upstream credentials are only enforced in production so local runs and tests can boot
	if c.IsProduction() {
		if c.Search.Endpoint == "" || c.Search.IndexName == "" || c.Search.APIKey == "" {
			return fmt.Errorf("search endpoint, index and key are required in production")
		}
		if c.Completion.Endpoint == "" || c.Completion.Deployment == "" || c.Completion.APIKey == "" {
			return fmt.Errorf("completion endpoint, deployment and key are required in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Available reports whether speech tokens can be issued at all.
func (c *SpeechConfig) Available() bool {
	return c.Enabled && c.Key != "" && c.Region != ""
}

// Endpoint returns the STS issueToken URL for the configured region.
func (c *SpeechConfig) Endpoint() string {
	if c.TokenEndpoint != "" {
		return c.TokenEndpoint
	}
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", c.Region)
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// loadDatabaseConfig loads the audit database config from DATABASE_URL.
// Returns nil when not set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 3000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 3000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsFlag is on only for the exact value "true"
func getEnvAsFlag(key string) bool {
	return os.Getenv(key) == "true"
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
