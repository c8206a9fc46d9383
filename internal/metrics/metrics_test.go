package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.MessageSent()
	m.MessageSent()
	m.ConversationCreated()
	m.RoleCache("hit")
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()

	if got := testutil.ToFloat64(m.messagesSent); got != 2 {
		t.Fatalf("expected 2 messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.conversationsCreated); got != 1 {
		t.Fatalf("expected 1 conversation, got %v", got)
	}
	if got := testutil.ToFloat64(m.roleCacheResults.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.liveSubscribers); got != 1 {
		t.Fatalf("expected 1 subscriber, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `fundconnect_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Fatalf("expected request counter in output")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.MessageSent()
	m.RoleCache("miss")
	m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
}
