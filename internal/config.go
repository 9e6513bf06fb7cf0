package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	Source          string        `mapstructure:"source"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type CacheConfig struct {
	Backend     string        `mapstructure:"backend" validate:"required,oneof=memory redis"`
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	UserTTL     time.Duration `mapstructure:"user_ttl"`
	EndpointTTL time.Duration `mapstructure:"endpoint_ttl"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	InsightTTL  time.Duration `mapstructure:"insight_ttl"`
}

type SecurityConfig struct {
	IdentitySecret string `mapstructure:"identity_secret" validate:"required,min=32"`
}

// BackendConfig points at the company backend whose route layout is not
// known statically; credentials are ranked, first entry preferred.
type BackendConfig struct {
	BaseURL             string             `mapstructure:"base_url" validate:"required,url"`
	QueryPath           string             `mapstructure:"query_path"`
	RequestTimeout      time.Duration      `mapstructure:"request_timeout"`
	Credentials         []CredentialConfig `mapstructure:"credentials"`
	DevelopmentToken    string             `mapstructure:"development_token"`
	DiscoveryConcurrent bool               `mapstructure:"discovery_concurrent"`
}

type CredentialConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type AssistantConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	APIKey         string        `mapstructure:"api_key" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollMax        int           `mapstructure:"poll_max_attempts"`
	PollBaseDelay  time.Duration `mapstructure:"poll_base_delay"`
	PollMaxDelay   time.Duration `mapstructure:"poll_max_delay"`
	PollFactor     float64       `mapstructure:"poll_factor"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config entirely from environment variables
// for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", ""),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DATABASE_DRIVER", "sqlite"),
			Source:          getEnv("DATABASE_SOURCE", "meeting-insights.db"),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		Cache: CacheConfig{
			Backend:     getEnv("CACHE_BACKEND", "memory"),
			RedisURL:    getEnv("CACHE_REDIS_URL", ""),
			KeyPrefix:   getEnv("CACHE_KEY_PREFIX", "meeting-insights:"),
			UserTTL:     getEnvAsDuration("CACHE_USER_TTL", 30*time.Minute),
			EndpointTTL: getEnvAsDuration("CACHE_ENDPOINT_TTL", time.Hour),
			TokenTTL:    getEnvAsDuration("CACHE_TOKEN_TTL", time.Hour),
			InsightTTL:  getEnvAsDuration("CACHE_INSIGHT_TTL", 30*time.Minute),
		},
		Security: SecurityConfig{
			IdentitySecret: getEnv("SECURITY_IDENTITY_SECRET", ""),
		},
		Backend: BackendConfig{
			BaseURL:          getEnv("BACKEND_BASE_URL", ""),
			QueryPath:        getEnv("BACKEND_QUERY_PATH", ""),
			RequestTimeout:   getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 10*time.Second),
			DevelopmentToken: getEnv("BACKEND_DEVELOPMENT_TOKEN", ""),
		},
		Assistant: AssistantConfig{
			BaseURL:        getEnv("ASSISTANT_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("ASSISTANT_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("ASSISTANT_REQUEST_TIMEOUT", 30*time.Second),
			PollMax:        getEnvAsInt("ASSISTANT_POLL_MAX_ATTEMPTS", 7),
			PollBaseDelay:  getEnvAsDuration("ASSISTANT_POLL_BASE_DELAY", 500*time.Millisecond),
			PollMaxDelay:   getEnvAsDuration("ASSISTANT_POLL_MAX_DELAY", 5*time.Second),
			PollFactor:     1.5,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}

	if email := os.Getenv("BACKEND_ADMIN_EMAIL"); email != "" {
		cfg.Backend.Credentials = append(cfg.Backend.Credentials, CredentialConfig{
			Email:    email,
			Password: os.Getenv("BACKEND_ADMIN_PASSWORD"),
		})
	}

	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("cache config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("backend config: %v", err))
	}

	if err := c.Assistant.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("assistant config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Driver != "sqlite" && c.Driver != "postgres" {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *CacheConfig) Validate() error {
	if c.Backend != "memory" && c.Backend != "redis" {
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Backend == "redis" && c.RedisURL == "" {
		return errors.New("redis_url is required when backend is redis")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if len(c.IdentitySecret) < 32 {
		return errors.New("identity secret must be at least 32 characters")
	}
	return nil
}

func (c *BackendConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return nil
}

func (c *AssistantConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.PollMax <= 0 {
		return errors.New("poll_max_attempts must be positive")
	}
	return nil
}
