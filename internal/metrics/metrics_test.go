package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordOperation_IncrementsByOpAndKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOperation("sign_in", "ok")
	c.RecordOperation("sign_in", "ok")
	c.RecordOperation("sign_in", "not_found")

	m := findMetric(t, reg, "sessionauth_operation_total", map[string]string{"op": "sign_in", "kind": "ok"})
	if m == nil {
		t.Fatal("sessionauth_operation_total{op=sign_in,kind=ok} not found")
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("operation_total = %v, want 2", got)
	}

	m = findMetric(t, reg, "sessionauth_operation_total", map[string]string{"op": "sign_in", "kind": "not_found"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("sessionauth_operation_total{op=sign_in,kind=not_found} should be 1")
	}
}

func TestRecordProviderCall_ObservesLatencyAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderCall("verify_session_token", 50*time.Millisecond, nil)
	c.RecordProviderCall("verify_session_token", 120*time.Millisecond, errors.New("expired"))

	m := findMetric(t, reg, "sessionauth_provider_latency_seconds", map[string]string{"call": "verify_session_token"})
	if m == nil {
		t.Fatal("provider latency histogram not found")
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}

	m = findMetric(t, reg, "sessionauth_provider_errors_total", map[string]string{"call": "verify_session_token"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("provider_errors_total should be 1")
	}
}

// TestRecordHTTPStatus_IncrementsByStatusCode はHTTPステータスコード別カウンタが増加することを検証する。
func TestRecordHTTPStatus_IncrementsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	m := findMetric(t, reg, "sessionauth_http_status_total", map[string]string{"status_code": "200"})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("http_status_total{status_code=200} should be 2")
	}
	m = findMetric(t, reg, "sessionauth_http_status_total", map[string]string{"status_code": "401"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("http_status_total{status_code=401} should be 1")
	}
}

func TestRecordRateLimited_IncrementsByScope(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("sign_in")

	m := findMetric(t, reg, "sessionauth_rate_limited_total", map[string]string{"scope": "sign_in"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("rate_limited_total{scope=sign_in} should be 1")
	}
}

// TestNewCollector_DoubleRegister_Panics は同一レジストリへの二重登録でパニックすることを検証する。
func TestNewCollector_DoubleRegister_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on double registration")
		}
	}()
	_ = NewCollector(reg)
}
