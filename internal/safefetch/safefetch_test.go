package safefetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// publicURL is a public literal address, so safeurl.Validate accepts it
// without a DNS lookup; clientTo routes every connection to the local
// test server, which safeurl would reject as loopback if addressed directly.
const publicURL = "http://93.184.216.34/"

func clientTo(srv *httptest.Server) *http.Client {
	addr := srv.Listener.Addr().String()
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}}
}

func TestFetchJSONFollowsRedirectThenParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/final" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	obj, err := FetchJSON(context.TODO(), clientTo(srv), publicURL, Settings{AllowHTTP: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj == nil {
		t.Fatal("expected a parsed object, got nil")
	}
	keys, ok := obj["keys"].([]interface{})
	if !ok || len(keys) != 0 {
		t.Fatalf("got keys=%v, want empty array", obj["keys"])
	}
}

func TestFetchJSONRejectsRedirectToLoopback(t *testing.T) {
	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://127.0.0.1/evil", http.StatusFound)
	}))
	defer redirecting.Close()

	obj, err := FetchJSON(context.TODO(), clientTo(redirecting), publicURL, Settings{AllowHTTP: true, RequireHTTPS: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj != nil {
		t.Fatalf("expected nil, got %v", obj)
	}
}

func TestFetchJSONRejectsNonObjectRoot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	obj, err := FetchJSON(context.TODO(), clientTo(srv), publicURL, Settings{AllowHTTP: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj != nil {
		t.Fatalf("expected nil for non-object root, got %v", obj)
	}
}

func TestFetchJSONRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":"` + string(make([]byte, 2048)) + `"}`))
	}))
	defer srv.Close()

	obj, err := FetchJSON(context.TODO(), clientTo(srv), publicURL, Settings{AllowHTTP: true, MaxDownloadBytes: 16, ChunkSize: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj != nil {
		t.Fatalf("expected nil for oversized body, got %v", obj)
	}
}
