package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	DatabaseURL    string
	DBMaxOpenConns int

	RedisURL     string
	RoleCacheTTL time.Duration

	MessageRateLimit int

	LogFormat string
	LogLevel  string

	ShutdownTimeout time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over the file.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:             3000,
		GinMode:          "release",
		DBMaxOpenConns:   25,
		RoleCacheTTL:     5 * time.Minute,
		MessageRateLimit: 30,
		LogFormat:        "text",
		LogLevel:         "info",
		ShutdownTimeout:  10 * time.Second,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	cfg.JWTSecret = env.Getenv("AUTH_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	cfg.JWTIssuer = env.Getenv("AUTH_JWT_ISSUER")
	cfg.JWTAudience = env.Getenv("AUTH_JWT_AUDIENCE")

	cfg.DatabaseURL = strings.TrimSpace(env.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.DBMaxOpenConns, err = positiveInt(env, "DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns); err != nil {
		return Config{}, err
	}

	cfg.RedisURL = strings.TrimSpace(env.Getenv("REDIS_URL"))

	ttl, err := positiveInt(env, "ROLE_CACHE_TTL_SECONDS", int(cfg.RoleCacheTTL/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.RoleCacheTTL = time.Duration(ttl) * time.Second

	if cfg.MessageRateLimit, err = positiveInt(env, "MESSAGE_RATE_LIMIT", cfg.MessageRateLimit); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		if raw != "text" && raw != "json" {
			return Config{}, fmt.Errorf("invalid LOG_FORMAT %q", raw)
		}
		cfg.LogFormat = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = strings.ToLower(raw)
	}

	shutdown, err := positiveInt(env, "SHUTDOWN_TIMEOUT_SECONDS", int(cfg.ShutdownTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdown) * time.Second

	return cfg, nil
}

func positiveInt(env Env, key string, def int) (int, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
