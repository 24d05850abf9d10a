// Package jwksverify maintains a process-wide, concurrency-safe cache of
// remote JSON Web Key Sets, with TTL expiry, exponential backoff on
// fetch failure, and stale-on-error semantics. It is the cache consulted
// by internal/authgate to resolve a token's kid to verifier material.
package jwksverify

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rakutentech/jwk-go/jwk"

	"github.com/interuss/flight-blender/internal/safefetch"
	"github.com/interuss/flight-blender/pkg/logging"
)

// JwksFetchError reports a failed JWKS fetch when the caller required a
// result and no usable cached value existed.
type JwksFetchError struct {
	URL     string
	Message string
}

func (e *JwksFetchError) Error() string {
	return fmt.Sprintf("jwksverify: fetching %s: %s", e.URL, e.Message)
}

// Config bounds the cache's TTL and backoff behavior (§6.4).
type Config struct {
	TTL            time.Duration `env:"JWKS_CACHE_TTL_S,default=300s"`
	BackoffInitial time.Duration `env:"JWKS_FETCH_BACKOFF_INITIAL_S,default=1s"`
	BackoffMax     time.Duration `env:"JWKS_FETCH_BACKOFF_MAX_S,default=60s"`
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 300 * time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 60 * time.Second
	}
	return c
}

// entry is the per-URL cache state described in spec §3.
type entry struct {
	rawKeys     []byte // last successfully parsed keys[] JSON, nil if never succeeded
	publicKeys  map[string]*rsa.PublicKey
	expiresAt   time.Time
	nextRetryAt time.Time
	backoff     time.Duration
}

// Cache is the process-scoped JWKS verifier cache. The zero value is not
// usable; construct with New. Cache is deliberately exposed as a
// concrete type behind a narrow interface-shaped API (Get/Clear) so a
// single process-wide instance can be wired via dependency injection
// rather than a package-level global, while still behaving like the
// singleton the design notes call for.
type Cache struct {
	cfg    Config
	client httpFetcher

	mu      sync.Mutex
	entries map[string]*entry
}

// httpFetcher abstracts safefetch.FetchJSON for testability.
type httpFetcher func(ctx context.Context, url string) (map[string]interface{}, error)

// New constructs a Cache. fetch, if nil, defaults to safefetch.FetchJSON
// with HTTPS required.
func New(cfg Config, fetch httpFetcher) *Cache {
	if fetch == nil {
		fetch = func(ctx context.Context, url string) (map[string]interface{}, error) {
			return safefetch.FetchJSON(ctx, nil, url, safefetch.Settings{RequireHTTPS: true, Accept: "application/json"})
		}
	}
	return &Cache{cfg: cfg.withDefaults(), client: fetch, entries: make(map[string]*entry)}
}

// Clear removes all cached state. Test-only per the design notes: "the
// cache must never leak across test processes; tests reset it in setup."
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Get returns the cached (or freshly fetched) public keys for url. When
// required is true and no usable key set can be produced, it returns a
// *JwksFetchError.
func (c *Cache) Get(ctx context.Context, url string, forceRefresh bool, required bool) (map[string]*rsa.PublicKey, error) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[url]
	if !ok {
		e = &entry{backoff: c.cfg.BackoffInitial}
		c.entries[url] = e
	}

	if !forceRefresh && e.rawKeys != nil && now.Before(e.expiresAt) {
		keys := e.publicKeys
		c.mu.Unlock()
		return keys, nil
	}
	if !forceRefresh && now.Before(e.nextRetryAt) {
		if e.rawKeys != nil {
			keys := e.publicKeys
			c.mu.Unlock()
			return keys, nil
		}
		c.mu.Unlock()
		if required {
			return nil, &JwksFetchError{URL: url, Message: "in backoff window, no cached keys"}
		}
		return map[string]*rsa.PublicKey{}, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock so network I/O does not serialize callers.
	obj, err := c.client(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.entries[url] // re-fetch in case Clear() ran concurrently
	if e == nil {
		e = &entry{backoff: c.cfg.BackoffInitial}
		c.entries[url] = e
	}

	if err != nil || obj == nil {
		e.nextRetryAt = now.Add(e.backoff)
		e.backoff = minDuration(e.backoff*2, c.cfg.BackoffMax)
		if e.rawKeys != nil {
			return e.publicKeys, nil
		}
		if required {
			msg := "fetch returned no result"
			if err != nil {
				msg = err.Error()
			}
			return nil, &JwksFetchError{URL: url, Message: msg}
		}
		return map[string]*rsa.PublicKey{}, nil
	}

	publicKeys := parseKeys(ctx, obj)
	raw, _ := json.Marshal(obj)
	e.rawKeys = raw
	e.publicKeys = publicKeys
	e.expiresAt = now.Add(c.cfg.TTL)
	e.nextRetryAt = time.Time{}
	e.backoff = c.cfg.BackoffInitial

	return publicKeys, nil
}

// parseKeys extracts RSA public keys by kid from a decoded JWKS
// document, skipping entries missing a kid or failing key construction
// (logged, not fatal) -- grounded on internal/jwks.Manager.parseKeys.
func parseKeys(ctx context.Context, obj map[string]interface{}) map[string]*rsa.PublicKey {
	result := make(map[string]*rsa.PublicKey)

	keysRaw, ok := obj["keys"].([]interface{})
	if !ok {
		return result
	}

	for _, keyRaw := range keysRaw {
		keyBytes, err := json.Marshal(keyRaw)
		if err != nil {
			continue
		}
		var jwkKey jwk.JWK
		if err := json.Unmarshal(keyBytes, &jwkKey); err != nil {
			logging.FromContext(ctx).Warnw("failed to unmarshal jwk entry", "error", err)
			continue
		}
		spec, err := jwkKey.ParseKeySpec()
		if err != nil {
			logging.FromContext(ctx).Warnw("failed to parse jwk key spec", "error", err)
			continue
		}
		if spec.KeyID == "" {
			continue
		}
		pub, ok := spec.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		result[spec.KeyID] = pub
	}
	return result
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var errNotFound = errors.New("jwksverify: kid not found")

// Lookup resolves a single kid against a previously fetched key map,
// returning errNotFound if absent -- a small helper so callers in
// internal/authgate don't need to know the map's zero-value behavior.
func Lookup(keys map[string]*rsa.PublicKey, kid string) (*rsa.PublicKey, error) {
	key, ok := keys[kid]
	if !ok {
		return nil, errNotFound
	}
	return key, nil
}
