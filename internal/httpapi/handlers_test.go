package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/paulmach/orb"

	"github.com/interuss/flight-blender/internal/authgate"
	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/geozone"
	"github.com/interuss/flight-blender/internal/jwksverify"
	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/internal/spatial"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store := kv.NewMemory()
	gate := authgate.New(authgate.Config{BypassAuthTokenVerification: true, IsDebug: true}, jwksverify.New(jwksverify.Config{}, nil))

	broker := authority.New(authority.Config{}, store, http.DefaultClient)
	coord := federation.New(federation.Config{DSSSelfAudience: "localhost", RIDFallbackUSSURLs: []string{"https://fallback.example.com"}}, broker, store, http.DefaultClient, nil)

	idx := spatial.New()
	idx.Insert("flight-1", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, time.Now(), time.Now().Add(time.Hour),
		federation.Flight{ID: "flight-1", CurrentState: map[string]interface{}{"position": map[string]interface{}{"lat": 1.0, "lng": 1.0}}})

	return Deps{
		Gate:       gate,
		Flights:    idx,
		Federation: coord,
		Geozone:    nil,
		Store:      store,
		HTTPClient: http.DefaultClient,
		GeozoneCfg: geozone.Config{IsDebug: true},
	}
}

func bypassToken(t *testing.T, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "dummy",
		"aud":   "testsuite",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("unused-bypass-secret"))
	if err != nil {
		t.Fatalf("signing bypass token: %v", err)
	}
	return signed
}

func TestGetFlightsReturnsIntersectingFlights(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/uss/flights?view=0,0,5,5", nil)
	req.Header.Set("Authorization", "Bearer "+bypassToken(t, "rid.display_provider"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "flight-1") {
		t.Fatalf("expected flight-1 in response body, got %q", rec.Body.String())
	}
}

func TestGetFlightsRejectsMissingScope(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/uss/flights?view=0,0,5,5", nil)
	req.Header.Set("Authorization", "Bearer "+bypassToken(t, "utm.constraint_processing"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestPostDSSSubscriptionFallsBackWithoutDSS(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body := strings.NewReader(`{"vertices":[{"lat":1,"lng":1}],"view":"0,0,1,1","request_uuid":"req-1","duration_s":30}`)
	req := httptest.NewRequest(http.MethodPost, "/rid/dss_subscription", body)
	req.Header.Set("Authorization", "Bearer "+bypassToken(t, "rid.display_provider"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"created":true`) {
		t.Fatalf("expected created=true in fallback response, got %q", rec.Body.String())
	}
}

func TestPostGeozoneFetchRejectsUnsafeURL(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body := strings.NewReader(`{"url":"https://localhost/geozone.json"}`)
	req := httptest.NewRequest(http.MethodPost, "/geozone/sources/src-1/fetch", body)
	req.Header.Set("Authorization", "Bearer "+bypassToken(t, "utm.constraint_processing"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %q", rec.Code, rec.Body.String())
	}
}

func TestPostISANotificationStoresBody(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body := strings.NewReader(`{"service_area":{"id":"isa-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/uss/identification_service_areas/isa-1", body)
	req.Header.Set("Authorization", "Bearer "+bypassToken(t, "rid.service_provider"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, body %q", rec.Code, rec.Body.String())
	}

	if _, err := deps.Store.Get(context.Background(), "isa-notification-isa-1"); err != nil {
		t.Fatalf("expected notification to be persisted: %v", err)
	}
}
