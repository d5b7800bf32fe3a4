package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/stockleague/league-engine/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/probe/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/probe/"+id, nil))
	}

	want := `league_http_requests_total{method="GET",path="/probe/{id}",status="418"} 2`
	if body := scrape(t); !strings.Contains(body, want) {
		t.Errorf("expected %q in scrape output", want)
	}
}

func TestCacheCallbacks(t *testing.T) {
	metrics.CacheHit("probe")()
	metrics.CacheMiss("probe")()
	metrics.CacheMiss("probe")()

	body := scrape(t)
	for _, want := range []string{
		`league_cache_lookups_total{cache="probe",result="hit"} 1`,
		`league_cache_lookups_total{cache="probe",result="miss"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}
