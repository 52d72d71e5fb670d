// Package config builds the process configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
)

// FIP describes an optional federated identity provider configured from the
// environment. Name empty means no provider is mounted.
type FIP struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// Server captures everything the process needs to boot.
type Server struct {
	// Addr is the listen address of the HTTP server.
	Addr string
	// BaseURL is the public root of this authorization server; the issuer is
	// derived from its origin. The ISS variable overrides the derivation.
	BaseURL string
	// Issuer is the explicit iss claim override (ISS).
	Issuer string
	// ConsentPage is the consent UI location, required in openid mode.
	ConsentPage string
	// Modes lists the flow families to enable (comma separated MODES).
	Modes []string
	// LogLevel follows slog level names; "trace" maps to debug.
	LogLevel string
	// RedisURL enables the redis-backed token store when set.
	RedisURL string
	// DatabaseURL enables the postgres-backed user store when set.
	DatabaseURL string
	// JWTSigningKey signs the built-in strategy's HS256 tokens.
	JWTSigningKey string

	// TokenRateLimit caps token and introspection requests per client IP per
	// minute.
	TokenRateLimit int64

	// Token lifetimes in seconds. RefreshTokenTTL 0 means never expires.
	AccessTokenTTL  int64
	IDTokenTTL      int64
	CodeTTL         int64
	RefreshTokenTTL int64

	// FIP is the optional federated identity provider.
	FIP FIP
}

// FromEnv reads the configuration. Defaults favour local development; the
// signing key default must be overridden in production.
func FromEnv() Server {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "dev-secret-key-change-in-production"
	}

	var modes []string
	if raw := os.Getenv("MODES"); raw != "" {
		modes = strings.Split(raw, ",")
	}

	var fipScopes []string
	if raw := os.Getenv("FIP_SCOPES"); raw != "" {
		fipScopes = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		BaseURL:       baseURL,
		Issuer:        os.Getenv("ISS"),
		ConsentPage:   os.Getenv("CONSENT_PAGE"),
		Modes:         modes,
		LogLevel:      os.Getenv("LOG_LEVEL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: signingKey,

		TokenRateLimit: intEnv("TOKEN_RATE_LIMIT", 60),

		AccessTokenTTL:  intEnv("ACCESS_TOKEN_TTL", 3600),
		IDTokenTTL:      intEnv("ID_TOKEN_TTL", 3600),
		CodeTTL:         intEnv("CODE_TTL", 30),
		RefreshTokenTTL: intEnv("REFRESH_TOKEN_TTL", 0),

		FIP: FIP{
			Name:         os.Getenv("FIP_NAME"),
			ClientID:     os.Getenv("FIP_CLIENT_ID"),
			ClientSecret: os.Getenv("FIP_CLIENT_SECRET"),
			AuthURL:      os.Getenv("FIP_AUTH_URL"),
			TokenURL:     os.Getenv("FIP_TOKEN_URL"),
			UserInfoURL:  os.Getenv("FIP_USERINFO_URL"),
			Scopes:       fipScopes,
		},
	}
}

func intEnv(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
