package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncRetryDecision("attach", "retry_now")
	pr.ObserveOperation("attach", 150*time.Millisecond, "success")
	pr.IncRefreshCycle(CyclePublished)
	pr.IncReconnect(true)
	pr.IncAttachOutcome("success")
	pr.IncTask("set_run_mode", "ok")
	pr.SetStatus("available", "idle", "available")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestSetStatusMovesActiveValue(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetStatus("available", "idle", "available")
	pr.SetStatus("available", "computing", "suspended")

	if v := gaugeValue(t, reg, "gridlink_status", map[string]string{"dimension": "computing", "value": "idle"}); v != 0 {
		t.Fatalf("expected previous computing value cleared, got %v", v)
	}
	if v := gaugeValue(t, reg, "gridlink_status", map[string]string{"dimension": "computing", "value": "computing"}); v != 1 {
		t.Fatalf("expected computing=computing set, got %v", v)
	}
	if v := gaugeValue(t, reg, "gridlink_status", map[string]string{"dimension": "network", "value": "suspended"}); v != 1 {
		t.Fatalf("expected network=suspended set, got %v", v)
	}
}

func TestHTTPHandlerServesMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncRefreshCycle(CycleSkipped)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `gridlink_refresh_cycles_total{result="skipped"} 1`) {
		t.Fatalf("expected refresh cycle counter in output, got:\n%s", body)
	}
}

func TestNoopRecorderIsDefault(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Fatal("expected NoopRecorder for nil")
	}
}
