package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/pkg/logging"
)

// ObservationSink is the external collaborator that persists the
// single-airtraffic-observation records this poller emits.
type ObservationSink interface {
	WriteObservation(ctx context.Context, obs Observation) error
}

// PollPeerUSSes implements §4.H.5: for each service area in the
// FlightsRecord persisted under requestUUID, fetch flights in view, fetch
// and cache flight details on first sight, and emit an observation for
// every flight reporting a usable position.
func (c *Coordinator) PollPeerUSSes(ctx context.Context, requestUUID string, sink ObservationSink) error {
	log := logging.FromContext(ctx)

	record, found, err := c.loadFlightsRecord(ctx, requestUUID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("federation: no subscription record for %s", requestUUID)
	}

	for _, area := range record.ServiceAreas {
		audience := deriveAudience(area.URL)
		token := ""
		if creds, err := c.broker.Get(ctx, audience, authority.RID); err != nil {
			log.Warnw("no token available for peer poll, proceeding unauthenticated", "peer", area.URL, "error", err)
		} else {
			token = creds.AccessToken
		}

		resp, err := c.peer.FetchFlights(ctx, area.URL, record.View, token)
		if err != nil {
			log.Warnw("failed to fetch flights from peer", "peer", area.URL, "error", err)
			continue
		}

		for _, flight := range resp.Flights {
			detailKey := "flight-detail-" + flight.ID
			if exists, _ := c.store.Exists(ctx, detailKey); !exists {
				details, err := c.peer.FetchFlightDetails(ctx, area.URL, flight.ID, token)
				if err != nil {
					log.Warnw("failed to fetch flight details", "flight_id", flight.ID, "error", err)
				} else {
					if b, err := json.Marshal(details); err == nil {
						c.store.Set(ctx, detailKey, b, 0)
					}
				}
			}

			if flight.CurrentState == nil {
				log.Debugw("flight has no current_state, skipping observation", "flight_id", flight.ID)
				continue
			}

			position, _ := flight.CurrentState["position"].(map[string]interface{})
			if position == nil {
				continue
			}
			lat, latOK := toFloat(position["lat"])
			lng, lngOK := toFloat(position["lng"])
			alt, altOK := toFloat(position["alt"])
			if !latOK || !lngOK || !altOK {
				continue
			}

			obs := Observation{
				SessionID:     requestUUID,
				IcaoAddress:   flight.ID,
				TrafficSource: 11,
				SourceType:    1,
				LatDD:         lat,
				LonDD:         lng,
				AltitudeMM:    alt,
				Metadata:      map[string]interface{}{"aircraft_type": flight.AircraftType, "simulated": flight.Simulated},
			}
			if sink != nil {
				if err := sink.WriteObservation(ctx, obs); err != nil {
					log.Warnw("failed to write observation", "flight_id", flight.ID, "error", err)
				}
			}
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// httpPeerClient is the default network-backed PeerClient.
type httpPeerClient struct {
	client  *http.Client
	timeout time.Duration
}

func (p *httpPeerClient) NotifySubscriber(ctx context.Context, subscriberURL, token string, body map[string]interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, subscriberURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("peer notify: status %d", resp.StatusCode)
	}
	return nil
}

func (p *httpPeerClient) FetchFlights(ctx context.Context, baseURL, view, token string) (FlightsResponse, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/uss/flights?view=" + view
	var out FlightsResponse
	if err := p.get(ctx, endpoint, token, &out); err != nil {
		return FlightsResponse{}, err
	}
	return out, nil
}

func (p *httpPeerClient) FetchFlightDetails(ctx context.Context, baseURL, flightID, token string) (map[string]interface{}, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/uss/flights/" + flightID + "/details"
	var out map[string]interface{}
	if err := p.get(ctx, endpoint, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *httpPeerClient) get(ctx context.Context, endpoint, token string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer GET %s: status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

