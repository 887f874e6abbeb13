package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsLookupsAndRounds(t *testing.T) {
	collector := NewCollector()
	collector.ObserveLookup("found", time.Millisecond)
	collector.ObserveLookup("found", time.Millisecond)
	collector.ObserveLookup("absent", time.Millisecond)
	collector.ObserveRound(RoundSucceeded, time.Second)
	collector.SetSnapshotSize(3, 2, 1)

	if value := testutil.ToFloat64(collector.lookups.WithLabelValues("found")); value != 2 {
		t.Fatalf("expected 2 found lookups, got %v", value)
	}
	if value := testutil.ToFloat64(collector.rounds.WithLabelValues(RoundSucceeded)); value != 1 {
		t.Fatalf("expected 1 round, got %v", value)
	}
	if value := testutil.ToFloat64(collector.users); value != 3 {
		t.Fatalf("expected users gauge 3, got %v", value)
	}
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	collector := NewCollector()
	collector.ObserveRound(RoundFailed, time.Millisecond)

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, name := range []string{"hexnews_sync_rounds_total", "hexnews_snapshot_posts", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition output", name)
		}
	}
}
