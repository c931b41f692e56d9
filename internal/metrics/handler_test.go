package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(body)
}

func TestHandler_ExposesRecordedSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordMutation("create_post", OutcomeConfirmed)
	c.RecordMutation("like_post", OutcomePartiallyApplied)
	c.RecordSessionsCleaned(3)

	body := scrape(t, Handler(reg))

	for _, want := range []string{
		`postboard_mutations_total{operation="create_post",outcome="confirmed"} 1`,
		`postboard_mutations_total{operation="like_post",outcome="partially_applied"} 1`,
		"postboard_sessions_cleaned_total 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
}

// 未使用のレジストリでもスクレイプは成功する
func TestHandler_EmptyRegistry(t *testing.T) {
	body := scrape(t, Handler(prometheus.NewRegistry()))
	if strings.Contains(body, "postboard_") {
		t.Errorf("expected no postboard series, got:\n%s", body)
	}
}

func TestNop_DoesNotRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	var m MetricsCollector = Nop{}
	m.RecordMutation("create_post", OutcomeFailed)
	m.RecordSessionsCleaned(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	if len(families) != 0 {
		t.Errorf("expected no metric families, got %d", len(families))
	}
}
