package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/interuss/flight-blender/pkg/logging"
)

func (c *Coordinator) dssRequest(ctx context.Context, method, path, token string, body interface{}) (map[string]interface{}, int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(b)
	}

	endpoint := strings.TrimRight(c.cfg.DSSBaseURL, "/") + path
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out) // a non-200/non-JSON body is tolerated; status is authoritative
	return out, resp.StatusCode, nil
}

func (c *Coordinator) dssPUT(ctx context.Context, path, token string, body interface{}) (map[string]interface{}, int, error) {
	return c.dssRequest(ctx, http.MethodPut, path, token, body)
}

func (c *Coordinator) dssDELETE(ctx context.Context, path, token string) (map[string]interface{}, int, error) {
	return c.dssRequest(ctx, http.MethodDelete, path, token, nil)
}

// deriveAudience implements the registrable-domain audience derivation
// of §4.H.1/§4.H.5: localhost/internal/localutm-style test domains
// collapse to "localhost"; everything else uses the last three labels
// of the host (subdomain.domain.suffix), a small suffix-aware
// approximation of the reference implementation's public-suffix-list
// lookup (no PSL library exists in the retrieval corpus -- see
// DESIGN.md).
func deriveAudience(peerURL string) string {
	u, err := url.Parse(peerURL)
	if err != nil {
		return "localhost"
	}
	host := u.Hostname()
	labels := strings.Split(host, ".")

	switch labels[0] {
	case "localhost", "internal", "localutm":
		return "localhost"
	}
	for _, l := range labels {
		if l == "localhost" || l == "internal" || l == "localutm" {
			return "localhost"
		}
	}

	if len(labels) <= 3 {
		return host
	}
	return strings.Join(labels[len(labels)-3:], ".")
}

func parseSubscribers(raw interface{}) []Subscriber {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []Subscriber
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sub := Subscriber{}
		if u, ok := m["uss_base_url"].(string); ok {
			sub.URL = u
		} else if u, ok := m["url"].(string); ok {
			sub.URL = u
		}
		if subs, ok := m["subscriptions"].([]interface{}); ok {
			for _, s := range subs {
				sm, ok := s.(map[string]interface{})
				if !ok {
					continue
				}
				ref := SubscriptionRef{}
				if id, ok := sm["subscription_id"].(string); ok {
					ref.SubscriptionID = id
				}
				if idx, ok := sm["notification_index"].(float64); ok {
					ref.NotificationIndex = int(idx)
				}
				sub.Subscriptions = append(sub.Subscriptions, ref)
			}
		}
		out = append(out, sub)
	}
	return out
}

func subscriptionsAsMaps(refs []SubscriptionRef) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(refs))
	for _, r := range refs {
		out = append(out, map[string]interface{}{
			"subscription_id":     r.SubscriptionID,
			"notification_index": r.NotificationIndex,
		})
	}
	return out
}

func parseServiceAreas(raw interface{}) []ServiceArea {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []ServiceArea
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sa := ServiceArea{}
		if id, ok := m["id"].(string); ok {
			sa.ID = id
		}
		if u, ok := m["uss_base_url"].(string); ok {
			sa.URL = u
		}
		out = append(out, sa)
	}
	return out
}

func viewHash(view string) int64 {
	h := fnv.New64a()
	h.Write([]byte(view))
	return int64(h.Sum64() % 100000000)
}

func flightsRecordKey(requestUUID string) string {
	return "subscription-record-" + requestUUID
}

func (c *Coordinator) persistFlightsRecord(ctx context.Context, requestUUID string, record FlightsRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, flightsRecordKey(requestUUID), b, 0)
}

func (c *Coordinator) loadFlightsRecord(ctx context.Context, requestUUID string) (FlightsRecord, bool, error) {
	b, err := c.store.Get(ctx, flightsRecordKey(requestUUID))
	if err != nil || len(b) == 0 {
		return FlightsRecord{}, false, nil
	}
	var rec FlightsRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return FlightsRecord{}, false, err
	}
	return rec, true, nil
}

// fallbackSubscription implements §4.H.4: synthesize a subscription
// backed by peer USSes configured out of band, keeping the poller
// (§4.H.5) operational while the DSS is unreachable.
func (c *Coordinator) fallbackSubscription(ctx context.Context, requestUUID, view string, start, end time.Time, isSimulated bool, reason string) (SubscriptionResponse, error) {
	log := logging.FromContext(ctx)
	if len(c.cfg.RIDFallbackUSSURLs) == 0 {
		log.Warnw("no fallback USS URLs configured, subscription creation failed", "reason", reason)
		return SubscriptionResponse{Created: false, RequestUUID: requestUUID}, nil
	}

	newSubscriptionID := uuid.New().String()
	var areas []ServiceArea
	for i, fallbackURL := range c.cfg.RIDFallbackUSSURLs {
		areas = append(areas, ServiceArea{ID: fmt.Sprintf("fallback-%d", i), URL: strings.TrimSpace(fallbackURL)})
	}

	record := FlightsRecord{
		ServiceAreas: areas,
		Subscription: Subscription{ID: newSubscriptionID, Owner: "fallback"},
		View:         view,
		ViewHash:     viewHash(view),
		EndDatetime:  end,
		IsSimulated:  true,
	}
	if err := c.persistFlightsRecord(ctx, requestUUID, record); err != nil {
		log.Warnw("failed to persist fallback subscription record", "error", err)
	}

	return SubscriptionResponse{Created: true, SubscriptionID: newSubscriptionID, RequestUUID: requestUUID}, nil
}
