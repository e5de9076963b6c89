package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestHTTPFeedMissingURL(t *testing.T) {
	f := NewHTTP(HTTPOptions{}, noopLogger())
	if _, err := f.Refresh(context.Background(), "eth"); err == nil {
		t.Fatal("missing url should fail")
	}
}

func TestHTTPFeedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream down"})
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := f.Refresh(context.Background(), "eth"); err == nil {
		t.Fatal("HTTP 502 should fail")
	}
}

func TestHTTPFeedFlatObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Source-Id") != "eth" {
			t.Errorf("source header missing: %q", r.Header.Get("X-Source-Id"))
		}
		_, _ = w.Write([]byte(`{"ETH": 3705.25, "volume": "1200.5", "note": "n/a"}`))
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	readings, err := f.Refresh(context.Background(), "eth")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("non-numeric values should be skipped: %#v", readings)
	}
	if readings["ETH"].Value != 3705.25 || readings["volume"].Value != 1200.5 {
		t.Fatalf("readings = %#v", readings)
	}
}

func TestHTTPFeedEnvelope(t *testing.T) {
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"timestamp": stamp,
			"metrics":   map[string]any{"gas": 21},
		})
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{URL: srv.URL}, noopLogger())
	readings, err := f.Refresh(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := readings["gas"]; got.Value != 21 || !got.Timestamp.Equal(stamp) {
		t.Fatalf("gas reading = %#v", got)
	}
}

func TestChainFeedMissingConfig(t *testing.T) {
	c := NewChain(ChainOptions{}, noopLogger())
	if _, err := c.Refresh(context.Background(), "eth"); err == nil {
		t.Fatal("missing rpc url should fail")
	}
}

func TestRefresherIsolatesFailures(t *testing.T) {
	good := NewStatic()
	good.Set("eth", "ETH", 3700)
	bad := NewStatic()
	bad.Fail(errors.New("boom"))

	r := NewRefresher(noopLogger())
	if err := r.Register(Source{ID: "eth", Categories: []Category{CategoryPrice}}, good); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Source{ID: "bsc"}, bad); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Source{ID: "eth"}, good); err == nil {
		t.Fatal("duplicate source should be rejected")
	}

	results := r.RefreshAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results = %#v", results)
	}
	if results[0].Err != nil || results[0].Readings["ETH"].Value != 3700 {
		t.Fatalf("eth result = %#v", results[0])
	}
	if results[1].Err == nil {
		t.Fatal("bsc should report its error")
	}

	src, ok := r.Source("eth")
	if !ok || !src.Reports(CategoryPrice) || src.Reports(CategoryGas) {
		t.Fatalf("source lookup = %#v, %v", src, ok)
	}
}
