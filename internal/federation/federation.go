// Package federation implements the DSS federation coordinator: ISA and
// subscription lifecycle against the DSS, subscriber notification
// fan-out, peer-USS polling with flight-detail caching, and a
// fallback-to-peer-USS mode used when the DSS is unreachable.
package federation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/pkg/logging"
)

// Config carries the coordinator's environment-sourced settings (§6.4).
type Config struct {
	DSSBaseURL          string        `env:"DSS_BASE_URL"`
	DSSSelfAudience      string        `env:"DSS_SELF_AUDIENCE"`
	FlightBlenderFQDN    string        `env:"FLIGHTBLENDER_FQDN"`
	RIDFallbackUSSURLs   []string      `env:"RID_FALLBACK_USS_URLS,delimiter=,"`
	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT_S,default=10s"`
	NotifyConcurrency    int64         `env:"FEDERATION_NOTIFY_CONCURRENCY,default=4"`
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.NotifyConcurrency <= 0 {
		c.NotifyConcurrency = 4
	}
	return c
}

// Coordinator is the DSS federation coordinator.
type Coordinator struct {
	cfg     Config
	broker  *authority.Broker
	store   kv.Store
	client  *http.Client
	peer    PeerClient
}

// PeerClient abstracts the handful of cross-USS calls so tests can stub
// network behavior without standing up real servers for every case.
type PeerClient interface {
	NotifySubscriber(ctx context.Context, subscriberURL string, token string, body map[string]interface{}) error
	FetchFlights(ctx context.Context, baseURL, view, token string) (FlightsResponse, error)
	FetchFlightDetails(ctx context.Context, baseURL, flightID, token string) (map[string]interface{}, error)
}

// New constructs a Coordinator. peer may be nil to use the default
// HTTP-backed implementation.
func New(cfg Config, broker *authority.Broker, store kv.Store, client *http.Client, peer PeerClient) *Coordinator {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{}
	}
	if peer == nil {
		peer = &httpPeerClient{client: client, timeout: cfg.HTTPTimeout}
	}
	return &Coordinator{cfg: cfg, broker: broker, store: store, client: client, peer: peer}
}

// Extents is the opaque DSS "extents" document this coordinator passes
// through verbatim; its shape is owned by the DSS wire contract (§6.1),
// not by this package.
type Extents map[string]interface{}

// CreateISAResult is the outcome of CreateISA.
type CreateISAResult struct {
	Created     bool
	ServiceArea map[string]interface{}
	Subscribers []Subscriber
}

// Subscriber mirrors the DSS-returned subscriber-to-notify shape.
type Subscriber struct {
	URL           string
	Subscriptions []SubscriptionRef
}

// SubscriptionRef is one {subscription_id, notification_index} pair.
type SubscriptionRef struct {
	SubscriptionID    string
	NotificationIndex int
}

// CreateISA implements §4.H.1: PUT the ISA to the DSS, then notify every
// returned subscriber, logging and swallowing individual failures.
func (c *Coordinator) CreateISA(ctx context.Context, extents Extents, ussBaseURL string, ttlS int) (CreateISAResult, error) {
	log := logging.FromContext(ctx)
	if ttlS <= 0 {
		ttlS = 30
	}

	token, err := c.broker.Get(ctx, c.cfg.DSSSelfAudience, authority.RID)
	if err != nil {
		log.Warnw("failed to obtain RID token for ISA creation", "error", err)
		return CreateISAResult{Created: false}, nil
	}

	newISAID := uuid.New().String()
	putBody := map[string]interface{}{"extents": extents, "uss_base_url": ussBaseURL}

	respBody, status, err := c.dssPUT(ctx, fmt.Sprintf("/rid/v2/dss/identification_service_areas/%s", newISAID), token.AccessToken, putBody)
	if err != nil || status != http.StatusOK {
		log.Warnw("DSS rejected ISA creation", "status", status, "error", err)
		return CreateISAResult{Created: false}, nil
	}

	serviceArea, _ := respBody["service_area"].(map[string]interface{})
	subscribers := parseSubscribers(respBody["subscribers"])

	if err := c.store.Set(ctx, "isa-"+newISAID, []byte("1"), time.Duration(ttlS)*time.Second); err != nil {
		log.Warnw("failed to persist ISA TTL marker", "error", err)
	}

	c.notifySubscribers(ctx, newISAID, serviceArea, subscribers, extents)

	return CreateISAResult{Created: true, ServiceArea: serviceArea, Subscribers: subscribers}, nil
}

// notifySubscribers fans out POST notifications with bounded concurrency,
// aggregating (but never surfacing) individual failures.
func (c *Coordinator) notifySubscribers(ctx context.Context, isaID string, serviceArea map[string]interface{}, subscribers []Subscriber, extents Extents) {
	log := logging.FromContext(ctx)
	sem := semaphore.NewWeighted(c.cfg.NotifyConcurrency)
	var merr *multierror.Error
	var mu = &sync.Mutex{}
	var wg sync.WaitGroup

	for _, sub := range subscribers {
		sub := sub
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			audience := deriveAudience(sub.URL)
			token, err := c.broker.Get(ctx, audience, authority.RID)
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("token for %s: %w", sub.URL, err))
				mu.Unlock()
				return
			}

			body := map[string]interface{}{
				"service_area":  serviceArea,
				"subscriptions": subscriptionsAsMaps(sub.Subscriptions),
				"extents":       extents,
			}
			notifyURL := strings.TrimRight(sub.URL, "/") + "/uss/identification_service_areas/" + isaID
			if err := c.peer.NotifySubscriber(ctx, notifyURL, token.AccessToken, body); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("notify %s: %w", sub.URL, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if merr.ErrorOrNil() != nil {
		log.Warnw("some ISA subscriber notifications failed", "error", merr.ErrorOrNil())
	}
}

// CreateSubscription implements §4.H.2.
func (c *Coordinator) CreateSubscription(ctx context.Context, vertices []Vertex, view string, requestUUID string, ttlS int, isSimulated bool) (SubscriptionResponse, error) {
	log := logging.FromContext(ctx)
	if ttlS <= 0 {
		ttlS = 30
	}
	now := time.Now().UTC()
	endTime := now.Add(time.Duration(ttlS) * time.Second)

	token, tokenErr := c.broker.Get(ctx, c.cfg.DSSSelfAudience, authority.RID)
	if tokenErr != nil {
		log.Warnw("failed to obtain RID token for subscription creation", "error", tokenErr)
		return c.fallbackSubscription(ctx, requestUUID, view, now, endTime, isSimulated, "token_failed")
	}

	newSubscriptionID := uuid.New().String()
	extents := map[string]interface{}{
		"volume": map[string]interface{}{
			"outline_polygon": map[string]interface{}{"vertices": vertices},
			"altitude_lower":  map[string]interface{}{"value": 0.5, "reference": "W84", "units": "M"},
			"altitude_upper":  map[string]interface{}{"value": 800, "reference": "W84", "units": "M"},
		},
		"time_start": map[string]interface{}{"format": "RFC3339", "value": now.Format(time.RFC3339)},
		"time_end":   map[string]interface{}{"format": "RFC3339", "value": endTime.Format(time.RFC3339)},
	}
	ussBaseURL := strings.TrimRight(c.ResolveBaseURL(), "/") + "/rid"
	putBody := map[string]interface{}{"extents": extents, "uss_base_url": ussBaseURL}

	respBody, status, err := c.dssPUT(ctx, fmt.Sprintf("/rid/v2/dss/subscriptions/%s", newSubscriptionID), token.AccessToken, putBody)
	if err != nil {
		return c.fallbackSubscription(ctx, requestUUID, view, now, endTime, isSimulated, "request_failed")
	}
	if status != http.StatusOK {
		return c.fallbackSubscription(ctx, requestUUID, view, now, endTime, isSimulated, "dss_rejected")
	}

	record := FlightsRecord{
		ServiceAreas: parseServiceAreas(respBody["service_areas"]),
		Subscription: Subscription{ID: newSubscriptionID, Owner: c.cfg.DSSSelfAudience},
		View:         view,
		ViewHash:     viewHash(view),
		EndDatetime:  endTime,
		IsSimulated:  isSimulated,
	}
	if err := c.persistFlightsRecord(ctx, requestUUID, record); err != nil {
		log.Warnw("failed to persist subscription record", "error", err)
	}

	return SubscriptionResponse{Created: true, SubscriptionID: newSubscriptionID, RequestUUID: requestUUID}, nil
}

// DeleteSubscription implements §4.H.3: best-effort DELETE, accepting
// 200 or 204. On success the local record is cleared by overwriting it
// with an empty value, which loadFlightsRecord treats as absent.
func (c *Coordinator) DeleteSubscription(ctx context.Context, requestUUID, subscriptionID string) error {
	token, err := c.broker.Get(ctx, c.cfg.DSSSelfAudience, authority.RID)
	if err != nil {
		return err
	}
	_, status, err := c.dssDELETE(ctx, fmt.Sprintf("/rid/v2/dss/subscriptions/%s", subscriptionID), token.AccessToken)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("federation: delete subscription: status %d", status)
	}
	return c.store.Set(ctx, flightsRecordKey(requestUUID), nil, 0)
}

// ResolveBaseURL implements §4.H.6.
func (c *Coordinator) ResolveBaseURL() string {
	base := strings.TrimRight(c.cfg.FlightBlenderFQDN, "/")
	if base == "" {
		return "http://flight-blender:8000"
	}
	if isLoopbackHost(base) {
		if _, err := os.Stat("/.dockerenv"); err == nil {
			return "http://flight-blender:8000"
		}
	}
	return base
}

func isLoopbackHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
