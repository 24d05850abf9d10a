// Package authority obtains, scopes, and caches OAuth2 client-credentials
// bearer tokens for multiple audiences and token types, against an
// authority endpoint that may require a transport-protocol fallback
// (local dummy-OAuth GET vs. production POST-form with GET fallback).
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/pkg/logging"
)

// TokenType is a closed sum over the credential scope sets this broker
// knows how to request, replacing the teacher-adjacent string-keyed
// dispatch with an enum whose values carry their scopes as data (design
// note: "Dynamic dispatch over credential scopes").
type TokenType int

const (
	RID TokenType = iota
	SCD
	Constraints
)

var tokenTypeScopes = map[TokenType][]string{
	RID:         {"rid.service_provider", "rid.display_provider"},
	SCD:         {"utm.strategic_coordination", "utm.conformance_monitoring_sa"},
	Constraints: {"utm.constraint_processing"},
}

var tokenTypeSuffix = map[TokenType]string{
	RID:         "_auth_rid_token",
	SCD:         "_auth_scd_token",
	Constraints: "_auth_constraints_token",
}

// ErrInvalidTokenType is returned by Get for an unrecognized TokenType.
var ErrInvalidTokenType = errors.New("authority: invalid token type")

// cacheTTL is the soft expiry window: a cached token is served until the
// record is this old, regardless of the token's own exp claim.
const cacheTTL = 58 * time.Minute

// Credentials is the cached/fetched token payload. AccessToken is the
// only field every transport guarantees; Raw carries whatever else the
// authority returned.
type Credentials struct {
	AccessToken string                 `json:"access_token"`
	Raw         map[string]interface{} `json:"-"`
}

type cachedRecord struct {
	Credentials json.RawMessage `json:"credentials"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Config carries the authority endpoint and client-credential settings,
// using the sethvargo/go-envconfig struct-tag shape used across the repo.
type Config struct {
	AuthURL            string        `env:"DSS_AUTH_URL,default=http://host.docker.internal:8085"`
	AuthTokenEndpoint  string        `env:"DSS_AUTH_TOKEN_ENDPOINT,default=/auth/token"`
	DSSSelfAudience    string        `env:"DSS_SELF_AUDIENCE"`
	ClientID           string        `env:"AUTH_DSS_CLIENT_ID"`
	ClientSecret       string        `env:"AUTH_DSS_CLIENT_SECRET"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT_S,default=10s"`
}

// Broker fetches and caches authority tokens, backed by a kv.Store.
type Broker struct {
	cfg    Config
	store  kv.Store
	client *http.Client
}

// New constructs a Broker over the given store and HTTP client. A nil
// client uses http.DefaultClient.
func New(cfg Config, store kv.Store, client *http.Client) *Broker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Broker{cfg: cfg, store: store, client: client}
}

// Get returns cached credentials for (audience, tokenType) if the cache
// entry is younger than 58 minutes, otherwise requests, caches, and
// returns fresh ones.
func (b *Broker) Get(ctx context.Context, audience string, tokenType TokenType) (Credentials, error) {
	suffix, ok := tokenTypeSuffix[tokenType]
	if !ok {
		return Credentials{}, ErrInvalidTokenType
	}
	cacheKey := audience + suffix

	if raw, err := b.store.Get(ctx, cacheKey); err == nil {
		var rec cachedRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			if time.Now().Before(rec.CreatedAt.Add(cacheTTL)) {
				var creds Credentials
				if err := json.Unmarshal(rec.Credentials, &creds.Raw); err == nil {
					if at, ok := creds.Raw["access_token"].(string); ok {
						creds.AccessToken = at
					}
					return creds, nil
				}
			}
		}
	}

	creds, err := b.request(ctx, audience, tokenTypeScopes[tokenType])
	if err != nil {
		return Credentials{}, err
	}

	credsJSON, err := json.Marshal(creds.Raw)
	if err != nil {
		return Credentials{}, err
	}
	rec := cachedRecord{Credentials: credsJSON, CreatedAt: time.Now()}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return Credentials{}, err
	}
	if err := b.store.Set(ctx, cacheKey, recJSON, cacheTTL); err != nil {
		logging.FromContext(ctx).Warnw("failed to cache authority token", "error", err, "cache_key", cacheKey)
	}
	return creds, nil
}

// request performs the transport-selection/fallback dance of §4.C step 4.
func (b *Broker) request(ctx context.Context, audience string, scopes []string) (Credentials, error) {
	scopeStr := strings.Join(scopes, " ")
	var issuer string
	if audience == "localhost" {
		issuer = "localhost"
	}

	authServerURL := b.cfg.AuthURL + b.cfg.AuthTokenEndpoint

	if isLocalDummyOAuth(authServerURL) {
		return b.getWithQuery(ctx, authServerURL, map[string]string{
			"grant_type":        "client_credentials",
			"intended_audience": b.cfg.DSSSelfAudience,
			"scope":             scopeStr,
			"issuer":            issuer,
		})
	}

	creds, err := b.postForm(ctx, authServerURL, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     b.cfg.ClientID,
		"client_secret": b.cfg.ClientSecret,
		"audience":      audience,
		"scope":         scopeStr,
	})
	if err == nil {
		return creds, nil
	}

	// Fall back to GET /token on the same origin.
	parsed, parseErr := url.Parse(authServerURL)
	if parseErr != nil {
		return Credentials{}, err
	}
	parsed.Path = "/token"
	return b.getWithQuery(ctx, parsed.String(), map[string]string{
		"grant_type":        "client_credentials",
		"intended_audience": b.cfg.DSSSelfAudience,
		"scope":             scopeStr,
		"issuer":            issuer,
	})
}

// isLocalDummyOAuth matches the "local_"/"local-" hostname-prefix
// heuristic used to pick InterUSS dummy-oauth's GET-only endpoint over a
// production OAuth2 POST endpoint.
func isLocalDummyOAuth(rawURL string) bool {
	for _, prefix := range []string{"http://local_", "http://local-", "https://local_", "https://local-"} {
		if strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

func (b *Broker) getWithQuery(ctx context.Context, endpoint string, params map[string]string) (Credentials, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return Credentials{}, err
	}
	q := u.Query()
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Credentials{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("authority: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	return decodeCredentials(resp)
}

func (b *Broker) postForm(ctx context.Context, endpoint string, params map[string]string) (Credentials, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("authority: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("authority: POST %s: status %d", endpoint, resp.StatusCode)
	}
	return decodeCredentials(resp)
}

func decodeCredentials(resp *http.Response) (Credentials, error) {
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("authority: status %d", resp.StatusCode)
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Credentials{}, fmt.Errorf("authority: decoding response: %w", err)
	}
	creds := Credentials{Raw: raw}
	if at, ok := raw["access_token"].(string); ok {
		creds.AccessToken = at
	}
	return creds, nil
}

func (b *Broker) timeout() time.Duration {
	if b.cfg.HTTPTimeout > 0 {
		return b.cfg.HTTPTimeout
	}
	return 10 * time.Second
}
