// Package safefetch performs bounded, redirect-revalidated JSON GETs
// against URLs vetted by internal/safeurl. It never retries and never
// caches; callers that need either build it on top.
package safefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/interuss/flight-blender/internal/safeurl"
)

// redirectStatuses are the 3xx codes this fetcher follows itself, with
// HTTP redirect-following disabled on the underlying client.
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Settings parameterizes a single fetch. Zero-value MaxRedirects/
// MaxDownloadBytes/ChunkSize/Timeout are replaced with defaults.
type Settings struct {
	Timeout          time.Duration
	MaxRedirects     int
	MaxDownloadBytes int64
	ChunkSize        int
	AllowHTTP        bool
	RequireHTTPS     bool
	Accept           string
	Resolver         safeurl.Options
}

func (s Settings) withDefaults() Settings {
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.MaxRedirects == 0 {
		s.MaxRedirects = 3
	}
	if s.MaxDownloadBytes == 0 {
		s.MaxDownloadBytes = 1 << 20 // 1 MB
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = 64 * 1024
	}
	return s
}

// FetchJSON follows the URL-safety/redirect/size-cap loop described by
// the safe-fetcher contract, returning the decoded JSON object on
// success or nil if any step rejects the request. The returned error is
// always nil: every failure, a canceled context included, yields a nil
// object.
func FetchJSON(ctx context.Context, client *http.Client, rawURL string, settings Settings) (map[string]interface{}, error) {
	settings = settings.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	noRedirectClient := &http.Client{
		Transport:     client.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
		Timeout:       settings.Timeout,
	}

	current := rawURL
	opts := safeurl.Options{AllowHTTP: settings.AllowHTTP, RequireHTTPS: settings.RequireHTTPS, Resolver: settings.Resolver.Resolver}

	for hop := 0; hop <= settings.MaxRedirects; hop++ {
		if ok, _ := safeurl.Validate(ctx, current, opts); !ok {
			return nil, nil
		}

		reqCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, current, nil)
		if err != nil {
			cancel()
			return nil, nil
		}
		if settings.Accept != "" {
			req.Header.Set("Accept", settings.Accept)
		}

		resp, err := noRedirectClient.Do(req)
		if err != nil {
			cancel()
			return nil, nil
		}

		if redirectStatuses[resp.StatusCode] {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			cancel()
			if loc == "" {
				return nil, nil
			}
			next, err := resolveRedirect(current, loc)
			if err != nil {
				return nil, nil
			}
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			cancel()
			return nil, nil
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "json") {
			resp.Body.Close()
			cancel()
			return nil, nil
		}

		body, readErr := readCapped(resp.Body, settings.MaxDownloadBytes, settings.ChunkSize)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return nil, nil
		}

		var obj map[string]interface{}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, nil
		}
		return obj, nil
	}
	return nil, nil
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

func readCapped(r io.Reader, maxBytes int64, chunkSize int) ([]byte, error) {
	buf := make([]byte, 0, chunkSize)
	chunk := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return nil, fmt.Errorf("response exceeds %d bytes", maxBytes)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
