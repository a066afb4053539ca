// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for server, matchmaking, and
// persistence settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port      int
	ClientURL string // origin of the single trusted front-end, used for CORS/WS origin checks
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:      3001,
		ClientURL: "http://localhost:5173",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if url := os.Getenv("CLIENT_URL"); url != "" {
		cfg.ClientURL = url
	}

	return cfg
}

// =============================================================================
// MATCHMAKING CONFIGURATION
// =============================================================================

// MatchConfig controls match placement and capacity (§4.5, §6.3).
type MatchConfig struct {
	MaxPlayersPerMatch int
	ValidRegions       []string
}

// DefaultMatch returns the default matchmaking configuration.
func DefaultMatch() MatchConfig {
	return MatchConfig{
		MaxPlayersPerMatch: 10,
		ValidRegions:       []string{"NA", "EU", "ASIA", "GLOBAL"},
	}
}

// MatchFromEnv returns matchmaking configuration with environment overrides.
func MatchFromEnv() MatchConfig {
	cfg := DefaultMatch()

	if mp := getEnvInt("MAX_PLAYERS_PER_MATCH", 0); mp > 0 {
		cfg.MaxPlayersPerMatch = mp
	}
	if regions := os.Getenv("VALID_REGIONS"); regions != "" {
		parts := strings.Split(regions, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(strings.ToUpper(p)); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			cfg.ValidRegions = cleaned
		}
	}

	return cfg
}

// =============================================================================
// PERSISTENCE CONFIGURATION
// =============================================================================

// PersistenceConfig points at the store backing bug reports and daily
// rollups (§6.4). Redis stands in for whatever durable document/KV store a
// deployment prefers - MONGO_URI's role in the original design.
type PersistenceConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultPersistence returns the default persistence configuration.
func DefaultPersistence() PersistenceConfig {
	return PersistenceConfig{
		RedisAddr: "localhost:6379",
		RedisDB:   0,
	}
}

// PersistenceFromEnv returns persistence configuration with environment overrides.
func PersistenceFromEnv() PersistenceConfig {
	cfg := DefaultPersistence()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.RedisPassword = pw
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		cfg.RedisDB = db
	}

	return cfg
}

// =============================================================================
// RATE LIMIT CONFIGURATION
// =============================================================================

// RateLimitConfig configures the per-IP HTTP/WebSocket connection limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxWSPerIP        int
	MaxWSTotal        int
}

// DefaultRateLimit returns production-safe defaults.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		MaxWSPerIP:        10,
		MaxWSTotal:        2000,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server      ServerConfig
	Match       MatchConfig
	Persistence PersistenceConfig
	RateLimit   RateLimitConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server:      ServerFromEnv(),
		Match:       MatchFromEnv(),
		Persistence: PersistenceFromEnv(),
		RateLimit:   DefaultRateLimit(),
	}
}

// =============================================================================
// ORIGIN POLICY
// =============================================================================

// IsAllowedOrigin reports whether origin may open an HTTP/WebSocket
// connection, given the configured single trusted client origin. Any
// localhost origin is also allowed, matching local development against a
// production ClientURL.
func (c ServerConfig) IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "https://localhost") {
		return true
	}
	return origin == c.ClientURL
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
