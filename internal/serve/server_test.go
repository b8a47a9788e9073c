package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tickerhub/tickerd/internal/core/config"
	"github.com/tickerhub/tickerd/internal/data"
	"github.com/tickerhub/tickerd/internal/fetch"
	"github.com/tickerhub/tickerd/internal/infra/cache/memory"
	"github.com/tickerhub/tickerd/internal/infra/upstream/newsdatahub"
	"github.com/tickerhub/tickerd/internal/infra/upstream/openai"
	"github.com/tickerhub/tickerd/internal/infra/upstream/polygon"
)

const aggsBody = `{"status":"OK","results":[
	{"t":1756080000000,"o":100,"h":105,"l":99,"c":104,"v":1000},
	{"t":1756166400000,"o":104,"h":110,"l":103,"c":108,"v":1200}
]}`

func newTestServer(t *testing.T, upstream http.HandlerFunc) (*Server, func()) {
	t.Helper()
	up := httptest.NewServer(upstream)

	store := memory.NewStore()
	orc := fetch.NewOrchestrator(fetch.Options{
		Store: store,
		Mode:  fetch.ModeInteractive,
		TTL:   10 * time.Minute,
	})
	pc := polygon.New(polygon.Config{APIKey: "pk", BaseURL: up.URL}, nil)
	nc := newsdatahub.New(newsdatahub.Config{APIKey: "nk", BaseURL: up.URL}, nil)
	oc := openai.New(openai.Config{APIKey: "ok", BaseURL: up.URL}, nil)
	tickers := []config.TickerConfig{
		{Symbol: "NFLX", Name: "Netflix", SearchTerm: "Netflix", Related: []string{"DIS"}},
	}
	svc := data.NewService(orc, pc, nc, oc, tickers)
	return NewServer(svc, 0, nil), up.Close
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v: %s", err, rr.Body.String())
	}
	return rr, body
}

func TestPriceEndpoint(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, aggsBody)
	})
	defer done()

	rr, body := get(t, s, "/api/v1/price/NFLX")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["ticker"] != "NFLX" {
		t.Errorf("ticker = %v", body["ticker"])
	}
	if body["source"] != "upstream" {
		t.Errorf("source = %v, want upstream", body["source"])
	}
	if body["is_fallback"] != false {
		t.Errorf("is_fallback = %v", body["is_fallback"])
	}

	// Second request is served from fresh cache with an age.
	rr, body = get(t, s, "/api/v1/price/NFLX")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["source"] != "fresh" {
		t.Errorf("source = %v, want fresh", body["source"])
	}
	if _, ok := body["data_age"]; !ok {
		t.Error("cached response missing data_age")
	}
}

func TestUnknownTicker(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, aggsBody)
	})
	defer done()

	rr, body := get(t, s, "/api/v1/price/ZZZZ")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer done()

	rr, _ := get(t, s, "/api/v1/price/NFLX")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}

func TestNewsEndpoint(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"title":"Netflix surges","source_title":"Reuters","pub_date":"2026-08-25T10:00:00Z"}],"next_cursor":""}`)
	})
	defer done()

	rr, body := get(t, s, "/api/v1/news/NFLX")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["source"] != "upstream" {
		t.Errorf("source = %v", body["source"])
	}
}

func TestInsightsEndpoint(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/chat/completions"):
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Momentum looks steady."}}],"usage":{"prompt_tokens":80,"completion_tokens":40,"total_tokens":120}}`)
		case strings.HasPrefix(r.URL.Path, "/news"):
			fmt.Fprint(w, `{"data":[{"title":"Netflix surges","source_title":"Reuters","pub_date":"2026-08-25T10:00:00Z"}],"next_cursor":""}`)
		default:
			fmt.Fprint(w, aggsBody)
		}
	})
	defer done()

	rr, body := get(t, s, "/api/v1/insights/NFLX")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body["source"] != "upstream" {
		t.Errorf("source = %v, want upstream on empty cache", body["source"])
	}

	// Without ?refresh=true a second request serves the cached insight.
	rr, body = get(t, s, "/api/v1/insights/NFLX")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["source"] != "fresh" {
		t.Errorf("source = %v, want cached", body["source"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, done := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	defer done()

	rr, body := get(t, s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
