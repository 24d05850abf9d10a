package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"

	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/geozone"
	"github.com/interuss/flight-blender/internal/jsonutil"
	"github.com/interuss/flight-blender/pkg/logging"
)

type handlers struct {
	deps Deps
}

// getFlights implements GET /uss/flights (§5): answers the peer-USS view
// query from the spatial index of flight declarations.
func (h *handlers) getFlights(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	bound, ok := parseViewBound(view)
	if !ok {
		http.Error(w, "missing or malformed view parameter", http.StatusBadRequest)
		return
	}

	payloads := h.deps.Flights.Intersect(bound)
	flights := make([]federation.Flight, 0, len(payloads))
	for _, p := range payloads {
		if f, ok := p.(federation.Flight); ok {
			flights = append(flights, f)
		}
	}

	writeJSON(w, http.StatusOK, federation.FlightsResponse{Flights: flights})
}

// getFlightDetails implements GET /uss/flights/{id}/details (§5): serves
// this node's own cached detail record for a flight, the peer-facing half
// of the detail contract internal/federation's poller consumes when
// polling other USSes.
func (h *handlers) getFlightDetails(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	raw, err := h.deps.Store.Get(r.Context(), "own-flight-detail-"+id)
	if err != nil {
		http.Error(w, "flight not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// postISANotification implements POST /uss/identification_service_areas/{id}
// (§5): the peer notification sink a subscriber to one of this node's ISAs
// calls back into. Accepted bodies are recorded for audit; no further
// action is specified (a conforming client visits the DSS itself to learn
// what changed).
func (h *handlers) postISANotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body map[string]interface{}
	if status, err := jsonutil.Unmarshal(w, r, &body); err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}
	if err := h.deps.Store.Set(r.Context(), "isa-notification-"+id, raw, 0); err != nil {
		logging.FromContext(r.Context()).Warnw("failed to persist ISA notification", "isa_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionRequest struct {
	Vertices    []federation.Vertex `json:"vertices"`
	View        string              `json:"view"`
	RequestUUID string              `json:"request_uuid"`
	DurationS   int                 `json:"duration_s"`
	IsSimulated bool                `json:"is_simulated"`
}

// postDSSSubscription implements POST /rid/dss_subscription (§5): triggers
// CreateSubscription for an operator-supplied view/vertex set.
func (h *handlers) postDSSSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if status, err := jsonutil.Unmarshal(w, r, &req); err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	if req.View == "" || req.RequestUUID == "" {
		http.Error(w, "view and request_uuid are required", http.StatusBadRequest)
		return
	}

	resp, err := h.deps.Federation.CreateSubscription(r.Context(), req.Vertices, req.View, req.RequestUUID, req.DurationS, req.IsSimulated)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// postGeozoneFetch implements POST /geozone/sources/{id}/fetch (§5):
// triggers the safe geozone download/ingest pipeline for a configured
// source.
func (h *handlers) postGeozoneFetch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		URL string `json:"url"`
	}
	if status, err := jsonutil.Unmarshal(w, r, &body); err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	if body.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	status, err := geozone.Fetch(r.Context(), h.deps.HTTPClient, id, body.URL, h.deps.GeozoneCfg, h.deps.Geozone)
	switch status {
	case geozone.StatusReady:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	case geozone.StatusRejected:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// parseViewBound parses the "minx,miny,maxx,maxy" view query parameter
// into an orb.Bound, matching internal/spatial's own bounds string format.
func parseViewBound(view string) (orb.Bound, bool) {
	parts := strings.Split(view, ",")
	if len(parts) != 4 {
		return orb.Bound{}, false
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, false
		}
		vals[i] = v
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, true
}
