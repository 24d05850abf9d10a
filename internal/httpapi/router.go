// Package httpapi wires the inbound HTTP surface named in SPEC_FULL.md §5:
// the peer-USS flight/details endpoints this node serves, the ISA
// notification sink, and the two operator-triggered endpoints
// (subscription creation, geozone ingestion). Every route is gated by
// internal/authgate with the scope that route's §5 entry names.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/interuss/flight-blender/internal/authgate"
	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/geozone"
	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/internal/spatial"
)

// Deps are the collaborators the handlers in this package call into.
// Every field is a narrow interface/struct named in SPEC_FULL.md §6: no
// handler here reaches into persistence, ORM, or transport choices beyond
// these.
type Deps struct {
	Gate        *authgate.Gate
	Flights     *spatial.Index
	Federation  *federation.Coordinator
	Geozone     geozone.Writer
	Store       kv.Store
	HTTPClient  *http.Client
	GeozoneCfg  geozone.Config
}

var (
	scopeDisplayProvider  = authgate.Policy{Required: []string{"rid.display_provider"}}
	scopeServiceProvider  = authgate.Policy{Required: []string{"rid.service_provider"}}
	scopeConstraints      = authgate.Policy{Required: []string{"utm.constraint_processing"}}
)

// NewRouter builds the gorilla/mux router for the full HTTP surface.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	h := &handlers{deps: deps}

	r.Handle("/uss/flights", deps.Gate.Require(scopeDisplayProvider)(http.HandlerFunc(h.getFlights))).Methods(http.MethodGet)
	r.Handle("/uss/flights/{id}/details", deps.Gate.Require(scopeDisplayProvider)(http.HandlerFunc(h.getFlightDetails))).Methods(http.MethodGet)
	r.Handle("/uss/identification_service_areas/{id}", deps.Gate.Require(scopeServiceProvider)(http.HandlerFunc(h.postISANotification))).Methods(http.MethodPost)
	r.Handle("/rid/dss_subscription", deps.Gate.Require(scopeDisplayProvider)(http.HandlerFunc(h.postDSSSubscription))).Methods(http.MethodPost)
	r.Handle("/geozone/sources/{id}/fetch", deps.Gate.Require(scopeConstraints)(http.HandlerFunc(h.postGeozoneFetch))).Methods(http.MethodPost)

	return r
}
