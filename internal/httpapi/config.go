package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/parkwise/internal/projectioncache"
	"github.com/MarkoPoloResearchLab/parkwise/internal/receipt"
)

const (
	defaultListenAddr    = ":9090"
	defaultLedgerAddr    = "localhost:7000"
	defaultAllowedOrigin = "http://localhost:8000"
	defaultSessionIssuer = "tauth"
	defaultSessionCookie = "app_session"
	defaultTimezone      = "UTC"
	defaultLedgerTimeout = 3 * time.Second
	defaultHistoryLimit  = 20
	maximumHistoryLimit  = 100
	idempotencyRetention = 24 * time.Hour
	replayPurgeInterval  = time.Hour
	shutdownGracePeriod  = 5 * time.Second
)

// Config aggregates runtime settings for the HTTP façade.
type Config struct {
	ListenAddr        string
	LedgerAddress     string
	LedgerInsecure    bool
	LedgerTimeout     time.Duration
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	// RedisAddr enables the projection cache when set.
	RedisAddr string
	CacheTTL  time.Duration
	// IdempotencyDBPath enables Idempotency-Key replay when set.
	IdempotencyDBPath string
	QRSize            int
	Timezone          string
	Location          *time.Location
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.LedgerAddress = defaultIfEmpty(cfg.LedgerAddress, defaultLedgerAddr)
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = projectioncache.DefaultTTL
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = receipt.DefaultSize
	}
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = location
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
