package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func gather(t *testing.T, src fakeSource) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollectorFromSource(src)); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestCollectCountersAndHistogram(t *testing.T) {
	families := gather(t, fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         7,
				authcore.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	if got := families["authcore_login_success_total"].GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Fatalf("login success: got %v", got)
	}
	if got := families["authcore_refresh_reuse_detected_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("reuse detected: got %v", got)
	}
	if got := families["authcore_audit_dropped_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("audit dropped: got %v", got)
	}

	h := families["authcore_authenticate_latency_seconds"].GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
	}
	buckets := h.GetBucket()
	if len(buckets) != 7 {
		t.Fatalf("expected 7 finite buckets, got %d", len(buckets))
	}
	if buckets[0].GetUpperBound() != 0.005 || buckets[0].GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket: %v", buckets[0])
	}
	if buckets[6].GetCumulativeCount() != 28 {
		t.Fatalf("unexpected last finite bucket: %v", buckets[6])
	}
}

func TestCollectZeroesForEmptySnapshot(t *testing.T) {
	families := gather(t, fakeSource{snapshot: authcore.MetricsSnapshot{}})
	if got := families["authcore_login_failure_total"].GetMetric()[0].GetCounter().GetValue(); got != 0 {
		t.Fatalf("expected zero, got %v", got)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	h, err := Handler(NewCollectorFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricCSRFRejected: 4},
		},
	}))
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "authcore_csrf_rejected_total 4") {
		t.Fatalf("expected csrf counter in output, got:\n%s", body)
	}
}
