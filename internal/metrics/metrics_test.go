package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily は収集結果から指定名のメトリクスファミリーを取り出す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordIdentityResolution_CountsBySource は解決元ラベルごとに集計されることを検証する。
func TestRecordIdentityResolution_CountsBySource(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityResolution("bearer")
	c.RecordIdentityResolution("bearer")
	c.RecordIdentityResolution("anonymous")

	mf := findFamily(t, reg, "postboard_identity_resolutions_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		val := m.GetCounter().GetValue()
		switch labelValue(m, "source") {
		case "bearer":
			if val != 2 {
				t.Errorf("source=bearer = %v, want 2", val)
			}
		case "anonymous":
			if val != 1 {
				t.Errorf("source=anonymous = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", labelValue(m, "source"))
		}
	}
}

// TestRecordSearch_ObservesCountsAndLatency は検索回数・件数・レイテンシが記録されることを検証する。
func TestRecordSearch_ObservesCountsAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSearch("tag", 3, 100*time.Millisecond)
	c.RecordSearch("tag", 0, 2*time.Second)

	searches := findFamily(t, reg, "postboard_searches_total")
	if val := searches.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("searches_total = %v, want 2", val)
	}

	results := findFamily(t, reg, "postboard_search_results")
	h := results.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 3 {
		t.Errorf("sample_sum = %v, want 3", h.GetSampleSum())
	}

	latency := findFamily(t, reg, "postboard_search_latency_seconds")
	lh := latency.GetMetric()[0].GetHistogram()
	// 合計は0.1 + 2.0 = 2.1秒
	if lh.GetSampleSum() < 2.0 || lh.GetSampleSum() > 2.2 {
		t.Errorf("latency sample_sum = %v, want ~2.1", lh.GetSampleSum())
	}
}

// TestRecordSearchFailure_IncrementsCounter は検索失敗カウンタが増加することを検証する。
func TestRecordSearchFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSearchFailure("text")

	mf := findFamily(t, reg, "postboard_search_failures_total")
	m := mf.GetMetric()[0]
	if labelValue(m, "mode") != "text" {
		t.Errorf("mode = %q, want text", labelValue(m, "mode"))
	}
	if val := m.GetCounter().GetValue(); val != 1 {
		t.Errorf("search_failures_total = %v, want 1", val)
	}
}

// TestRecordMutation_CountsByOperationAndOutcome は操作と結果の組み合わせごとに集計されることを検証する。
func TestRecordMutation_CountsByOperationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMutation("create_post", OutcomeConfirmed)
	c.RecordMutation("create_post", OutcomeConfirmed)
	c.RecordMutation("create_post", OutcomePartiallyApplied)
	c.RecordMutation("remove_post", OutcomeFailed)

	mf := findFamily(t, reg, "postboard_mutations_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		op, outcome := labelValue(m, "operation"), labelValue(m, "outcome")
		val := m.GetCounter().GetValue()
		if op == "create_post" && outcome == OutcomeConfirmed && val != 2 {
			t.Errorf("create_post/confirmed = %v, want 2", val)
		}
		if op == "create_post" && outcome == OutcomePartiallyApplied && val != 1 {
			t.Errorf("create_post/partially_applied = %v, want 1", val)
		}
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	mf := findFamily(t, reg, "postboard_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		val := m.GetCounter().GetValue()
		switch labelValue(m, "status_code") {
		case "200":
			if val != 2 {
				t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
			}
		case "401":
			if val != 1 {
				t.Errorf("http_status_total{status_code=401} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", labelValue(m, "status_code"))
		}
	}
}

// TestRecordSessionsCleaned_AddsCount は削除セッション数が加算されることを検証する。
func TestRecordSessionsCleaned_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsCleaned(10)
	c.RecordSessionsCleaned(5)

	mf := findFamily(t, reg, "postboard_sessions_cleaned_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 15 {
		t.Errorf("sessions_cleaned_total = %v, want 15", val)
	}
}

// TestNewCollector_DoubleRegisterPanics は同じレジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
