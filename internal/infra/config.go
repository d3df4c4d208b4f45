package infra

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// apiKeyPattern is the shape of a Leonardo API key. The process refuses to
// start with a key that cannot possibly authenticate.
var apiKeyPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	LeonardoAPIKey  string
	LeonardoBaseURL string
	DefaultModelID  string
	OutputWidth     int
	OutputHeight    int
	NumImages       int
	PromptMagic     bool
	PublicImages    bool

	PollMaxAttempts int
	PollDelay       time.Duration

	AllowedOrigins  []string
	RateLimitPerMin int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A missing or malformed provider key is fatal here,
// not at first request.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		LeonardoAPIKey:  strings.ToLower(strings.TrimSpace(os.Getenv("LEONARDO_API_KEY"))),
		LeonardoBaseURL: getEnv("LEONARDO_BASE_URL", "https://cloud.leonardo.ai/api/rest/v1"),
		DefaultModelID:  getEnv("LEONARDO_MODEL_ID", "2067ae52-33fd-4a82-bb92-c2c55e7d2786"),
		OutputWidth:     getEnvInt("LEONARDO_OUTPUT_WIDTH", 1024),
		OutputHeight:    getEnvInt("LEONARDO_OUTPUT_HEIGHT", 1024),
		NumImages:       getEnvInt("LEONARDO_NUM_IMAGES", 1),
		PromptMagic:     getEnvBool("LEONARDO_PROMPT_MAGIC", false),
		PublicImages:    getEnvBool("LEONARDO_PUBLIC_IMAGES", false),

		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 30),
		PollDelay:       time.Millisecond * time.Duration(getEnvInt("POLL_DELAY_MS", 2000)),

		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.LeonardoAPIKey == "" {
		return nil, fmt.Errorf("LEONARDO_API_KEY is required")
	}
	if !apiKeyPattern.MatchString(cfg.LeonardoAPIKey) {
		return nil, fmt.Errorf("LEONARDO_API_KEY is not a valid key")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
