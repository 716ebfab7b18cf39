package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Insecure default values that must never reach production.
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Stripe         StripeConfig
	DigitalOcean   DigitalOceanConfig
	ModelKeys      ModelKeyConfig
	App            AppConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type DigitalOceanConfig struct {
	APIToken string
	Region   string
	Image    string
	ImageTag string
	HTTPPort int
}

// ModelKeyConfig holds the platform-wide model API keys, used when a
// customer does not bring their own key. Priority order when provisioning:
// Anthropic, then OpenAI, then OpenRouter.
type ModelKeyConfig struct {
	AnthropicKey  string
	OpenAIKey     string
	OpenRouterKey string
}

type AppConfig struct {
	BaseURL string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "concierge_user"),
			Password: getEnv("DB_PASSWORD", "concierge_pass"),
			DBName:   getEnv("DB_NAME", "concierge_db"),
			Schema:   getEnv("DB_SCHEMA", "concierge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		DigitalOcean: DigitalOceanConfig{
			APIToken: getEnv("DO_API_TOKEN", ""),
			Region:   getEnv("DO_REGION", "nyc"),
			Image:    getEnv("DO_APP_IMAGE", "alpine/openclaw"),
			ImageTag: getEnv("DO_APP_IMAGE_TAG", "latest"),
			HTTPPort: getEnvInt("DO_APP_HTTP_PORT", 8080),
		},
		ModelKeys: ModelKeyConfig{
			AnthropicKey:  getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenRouterKey: getEnv("OPENROUTER_API_KEY", ""),
		},
		App: AppConfig{
			BaseURL: getEnv("APP_URL", "http://localhost:3000"),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// Do not log secrets.
	log.Printf("[config] Concierge Service loaded: port=%s db=%s/%s.%s region=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.DigitalOcean.Region)

	return cfg
}

// Validate rejects insecure or missing secrets. The DigitalOcean token is
// deliberately not required here: a missing token degrades to a stored
// provisioning error on deploy, it must not prevent startup.
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY must be set")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
