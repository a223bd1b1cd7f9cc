package global

import (
	"fmt"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	CatalogMongo    = "mongo"
	CatalogPostgres = "postgres"
)

type Config struct {
	AppEnv            string        `validate:"required,oneof=development test production"`
	BindAddress       string        `validate:"omitempty,ip"`
	Port              string        `validate:"required,numeric"`
	RedisAddress      string        `validate:"omitempty,hostname_port"`
	RedisPassword     string
	CatalogBackend    string        `validate:"required,oneof=mongo postgres"`
	MongoURI          string        `validate:"required_if=CatalogBackend mongo"`
	MongoDatabase     string        `validate:"required_if=CatalogBackend mongo"`
	DatabaseURL       string        `validate:"required_if=CatalogBackend postgres"`
	RemoteCartURL     string        `validate:"required,url"`
	RemoteCartTimeout time.Duration `validate:"gt=0"`
	CatalogCacheTTL   time.Duration `validate:"gt=0"`
	GuestCartKey      string        `validate:"required"`
	JWTSecret         string        `validate:"required,min=8"`
	AllowedOrigins    []string      `validate:"dive,url"`
	LogLevel          string        `validate:"required,oneof=debug info warn error"`
}

// LoadConfig reads .env when present and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		GetLogger().Debug("no .env file found, using process environment")
	}

	cfg := &Config{
		AppEnv:            GetEnvOrDefault("APP_ENV", "development"),
		BindAddress:       GetEnvOrDefault("BIND_ADDRESS", "127.0.0.1"),
		Port:              GetEnvOrDefault("PORT", "8000"),
		RedisAddress:      GetEnvOrDefault("REDIS_ADDRESS", ""),
		RedisPassword:     GetEnvOrDefault("REDIS_PASSWORD", ""),
		CatalogBackend:    GetEnvOrDefault("CATALOG_BACKEND", CatalogMongo),
		MongoURI:          GetEnvOrDefault("MONGODB_URI", ""),
		MongoDatabase:     GetEnvOrDefault("MONGODB_DATABASE", "boxcart"),
		DatabaseURL:       GetEnvOrDefault("DATABASE_URL", ""),
		RemoteCartURL:     GetEnvOrDefault("REMOTE_CART_URL", "http://localhost:8080/api"),
		RemoteCartTimeout: GetEnvDurationOrDefault("REMOTE_CART_TIMEOUT", 15*time.Second),
		CatalogCacheTTL:   GetEnvDurationOrDefault("CATALOG_CACHE_TTL", 5*time.Minute),
		GuestCartKey:      GetEnvOrDefault("GUEST_CART_KEY", "guest_cart"),
		JWTSecret:         GetEnvOrDefault("JWT_SECRET", ""),
		AllowedOrigins:    GetEnvListOrDefault("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		LogLevel:          GetEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr is host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, c.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
