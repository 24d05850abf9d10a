// Package geozone downloads and validates an external geozone source
// document under SSRF and size constraints, handing the parsed JSON to
// an external writer collaborator.
package geozone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/interuss/flight-blender/internal/safeurl"
)

// Status is the ingestion outcome reported to callers.
type Status string

const (
	StatusReady    Status = "Ready"
	StatusRejected Status = "Rejected"
	StatusError    Status = "Error"
)

// Config bounds a geozone fetch (§6.4).
type Config struct {
	MaxDownloadBytes int64         `env:"GEOZONE_MAX_DOWNLOAD_BYTES,default=5000000"`
	MaxRedirects     int           `env:"GEOZONE_MAX_REDIRECTS,default=3"`
	IsDebug          bool          `env:"IS_DEBUG"`
	Timeout          time.Duration `env:"HTTP_TIMEOUT_S,default=10s"`
}

func (c Config) withDefaults() Config {
	if c.MaxDownloadBytes == 0 {
		c.MaxDownloadBytes = 5_000_000
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

const chunkSize = 64 * 1024

// Writer is the external collaborator that ingests a parsed geozone
// document; this package only validates and fetches.
type Writer interface {
	WriteGeoZone(ctx context.Context, sourceID string, doc map[string]interface{}) error
}

// Fetch downloads url, validates it end to end per the taxonomic error
// codes below, and on success hands the parsed document to writer,
// returning the ingestion Status.
func Fetch(ctx context.Context, client *http.Client, sourceID, rawURL string, cfg Config, writer Writer) (Status, error) {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}

	doc, err := fetchGeozoneJSON(ctx, client, rawURL, cfg)
	if err != nil {
		if strings.HasPrefix(err.Error(), "url_not_allowed:") {
			return StatusRejected, err
		}
		return StatusError, err
	}

	if writer != nil {
		if err := writer.WriteGeoZone(ctx, sourceID, doc); err != nil {
			return StatusError, fmt.Errorf("request_failed:%s", err.Error())
		}
	}
	return StatusReady, nil
}

func fetchGeozoneJSON(ctx context.Context, client *http.Client, rawURL string, cfg Config) (map[string]interface{}, error) {
	current := rawURL
	opts := safeurl.Options{AllowHTTP: cfg.IsDebug, RequireHTTPS: !cfg.IsDebug}

	noRedirectClient := &http.Client{
		Transport:     client.Transport,
		Timeout:       cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}

	for hop := 0; ; hop++ {
		if hop > cfg.MaxRedirects {
			return nil, fmt.Errorf("too_many_redirects")
		}

		if ok, reason := safeurl.Validate(ctx, current, opts); !ok {
			return nil, fmt.Errorf("url_not_allowed:%s", reason)
		}

		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, current, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("request_failed:%s", err.Error())
		}
		req.Header.Set("Accept", "application/json")

		resp, err := noRedirectClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("request_failed:%s", err.Error())
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			cancel()
			if loc == "" {
				return nil, fmt.Errorf("redirect_without_location")
			}
			next, err := resolveRedirect(current, loc)
			if err != nil {
				return nil, fmt.Errorf("request_failed:%s", err.Error())
			}
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("http_status:%d", resp.StatusCode)
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "json") {
			resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("unsupported_content_type")
		}

		body, readErr := readCapped(resp.Body, cfg.MaxDownloadBytes)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return nil, readErr
		}

		var doc map[string]interface{}
		if err := jsonUnmarshalObject(body, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}
