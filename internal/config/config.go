// Package config aggregates every component's environment-sourced
// settings into the one struct internal/setup binds, following the
// per-service internal/federationout/config.go pattern: a flat struct of
// embedded component configs plus the process-level settings (port,
// debug flag, storage backend choice).
package config

import (
	"time"

	"github.com/interuss/flight-blender/internal/authgate"
	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/geozone"
	"github.com/interuss/flight-blender/internal/jwksverify"
	"github.com/interuss/flight-blender/internal/kv"
)

// Config is the full set of environment-bound settings for the
// flight-blender process.
type Config struct {
	Authority  authority.Config
	JWKS       jwksverify.Config
	Gate       authgate.Config
	Federation federation.Config
	Geozone    geozone.Config
	Redis      kv.RedisConfig

	Port     string `env:"PORT,default=8080"`
	IsDebug  bool   `env:"IS_DEBUG"`
	UseRedis bool   `env:"USE_REDIS"`
}

// MaintenanceMode satisfies internal/middleware.Maintainable: this
// process has no separate maintenance flag of its own, it degrades
// automatically when the DSS/Passport JWKS become unreachable (handled
// inline by internal/authgate), so this always reports false.
func (c *Config) MaintenanceMode() bool { return false }

// TestConfigDefaults returns a configuration populated with the default
// values each component's env tag declares. Only for testing.
func TestConfigDefaults() *Config {
	return &Config{
		Authority: authority.Config{
			AuthURL:           "http://host.docker.internal:8085",
			AuthTokenEndpoint: "/auth/token",
			HTTPTimeout:       10 * time.Second,
		},
		JWKS: jwksverify.Config{
			TTL:            300 * time.Second,
			BackoffInitial: 1 * time.Second,
			BackoffMax:     60 * time.Second,
		},
		Gate: authgate.Config{},
		Federation: federation.Config{
			HTTPTimeout:       10 * time.Second,
			NotifyConcurrency: 4,
		},
		Geozone: geozone.Config{
			MaxDownloadBytes: 5_000_000,
			MaxRedirects:     3,
			Timeout:          10 * time.Second,
		},
		Redis: kv.RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Port:     "8080",
		IsDebug:  false,
		UseRedis: false,
	}
}

// TestConfigValued returns a configuration populated with values that
// match TestConfigValues(). Only for testing.
func TestConfigValued() *Config {
	return &Config{
		Authority: authority.Config{
			AuthURL:           "https://auth.example.com",
			AuthTokenEndpoint: "/token",
			DSSSelfAudience:   "dss.example.com",
			ClientID:          "client-id",
			ClientSecret:      "client-secret",
			HTTPTimeout:       15 * time.Second,
		},
		JWKS: jwksverify.Config{
			TTL:            600 * time.Second,
			BackoffInitial: 2 * time.Second,
			BackoffMax:     120 * time.Second,
		},
		Gate: authgate.Config{
			BypassAuthTokenVerification: true,
			IsDebug:                     true,
			PassportJWKSURL:             "https://passport.example.com/jwks",
			PassportAudience:            "flight-blender.example.com",
			DSSJWKSURL:                  "https://dss.example.com/jwks",
		},
		Federation: federation.Config{
			DSSBaseURL:         "https://dss.example.com",
			DSSSelfAudience:    "dss.example.com",
			FlightBlenderFQDN:  "https://flight-blender.example.com",
			RIDFallbackUSSURLs: []string{"https://fallback-one.example.com", "https://fallback-two.example.com"},
			HTTPTimeout:        15 * time.Second,
			NotifyConcurrency:  8,
		},
		Geozone: geozone.Config{
			MaxDownloadBytes: 1_000_000,
			MaxRedirects:     5,
			IsDebug:          true,
			Timeout:          15 * time.Second,
		},
		Redis: kv.RedisConfig{
			Addr:     "redis.example.com:6379",
			Password: "redis-secret",
			DB:       2,
		},
		Port:     "9090",
		IsDebug:  true,
		UseRedis: true,
	}
}

// TestConfigValues returns the environment variable map that corresponds
// to TestConfigValued(). Only for testing.
func TestConfigValues() map[string]string {
	return map[string]string{
		"DSS_AUTH_URL":                    "https://auth.example.com",
		"DSS_AUTH_TOKEN_ENDPOINT":         "/token",
		"DSS_SELF_AUDIENCE":               "dss.example.com",
		"AUTH_DSS_CLIENT_ID":              "client-id",
		"AUTH_DSS_CLIENT_SECRET":          "client-secret",
		"HTTP_TIMEOUT_S":                  "15s",
		"JWKS_CACHE_TTL_S":                "600s",
		"JWKS_FETCH_BACKOFF_INITIAL_S":    "2s",
		"JWKS_FETCH_BACKOFF_MAX_S":        "120s",
		"BYPASS_AUTH_TOKEN_VERIFICATION":  "true",
		"IS_DEBUG":                        "true",
		"PASSPORT_URL":                    "https://passport.example.com/jwks",
		"PASSPORT_AUDIENCE":               "flight-blender.example.com",
		"DSS_AUTH_JWKS_ENDPOINT":          "https://dss.example.com/jwks",
		"DSS_BASE_URL":                    "https://dss.example.com",
		"FLIGHTBLENDER_FQDN":              "https://flight-blender.example.com",
		"RID_FALLBACK_USS_URLS":           "https://fallback-one.example.com,https://fallback-two.example.com",
		"FEDERATION_NOTIFY_CONCURRENCY":   "8",
		"GEOZONE_MAX_DOWNLOAD_BYTES":      "1000000",
		"GEOZONE_MAX_REDIRECTS":           "5",
		"REDIS_ADDR":                      "redis.example.com:6379",
		"REDIS_PASSWORD":                  "redis-secret",
		"REDIS_DB":                        "2",
		"PORT":                            "9090",
		"USE_REDIS":                       "true",
	}
}

// TestConfigOverridden returns a configuration with non-default values
// distinct from TestConfigValued, exercising the envconfig override path
// a second way. Only for testing.
func TestConfigOverridden() *Config {
	v := TestConfigValued()
	v.Port = "4444"
	v.Federation.NotifyConcurrency = 16
	v.Geozone.MaxRedirects = 1
	return v
}
