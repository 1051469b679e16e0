package config

import (
	"os"
	"time"
)

// Server captures process-level configuration. Workflow rules (attempt
// ceiling, abandonment timeout, fees) live in internal/workflow/config.
type Server struct {
	Addr          string
	DatabaseURL   string
	Redis         Redis
	JWTSigningKey string
	Maya          Maya
}

// Redis captures connection settings for the idempotency store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Maya captures the payment gateway credentials and the public base URL the
// gateway redirects applicants back to. Maya rejects relative redirect URLs,
// so the base must be an absolute origin.
type Maya struct {
	BaseURL       string
	SecretKey     string
	ReturnBaseURL string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("HEALTHPASS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	mayaBase := os.Getenv("MAYA_BASE_URL")
	if mayaBase == "" {
		mayaBase = "https://pg-sandbox.paymaya.com"
	}

	returnBase := os.Getenv("MAYA_RETURN_BASE_URL")
	if returnBase == "" {
		returnBase = "http://localhost:8080"
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: jwtSigningKey,
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Maya: Maya{
			BaseURL:       mayaBase,
			SecretKey:     os.Getenv("MAYA_SECRET_KEY"),
			ReturnBaseURL: returnBase,
		},
	}
}
