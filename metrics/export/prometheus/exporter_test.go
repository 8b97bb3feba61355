package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters:   map[authgate.MetricID]uint64{},
			Histograms: map[authgate.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
	if got := (*Exporter)(nil).Render(); got != "" {
		t.Fatalf("nil exporter rendered %q", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess:          7,
				authgate.MetricTokenAttemptsExceeded: 2,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE authgate_login_success_total counter",
		"authgate_login_success_total 7",
		"authgate_token_attempts_exceeded_total 2",
		"authgate_totp_failure_total 0",
		`authgate_login_latency_seconds_bucket{le="0.005"} 1`,
		`authgate_login_latency_seconds_bucket{le="+Inf"} 36`,
		"authgate_login_latency_seconds_count 36",
		"authgate_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authgate_token_validate_latency_seconds") {
		t.Fatalf("histogram without samples should be omitted:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters:   map[authgate.MetricID]uint64{authgate.MetricLoginSuccess: 1},
			Histograms: map[authgate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("escapeHelp = %q", got)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess:                1000,
				authgate.MetricLoginFailure:                40,
				authgate.MetricTOTPSuccess:                 800,
				authgate.MetricSessionCreated:              800,
				authgate.MetricSessionInvalidated:          20,
				authgate.MetricPasswordResetConfirmFailure: 3,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricLoginLatency:         {10, 20, 30, 40, 50, 60, 70, 80},
				authgate.MetricTokenValidateLatency: {80, 10, 5, 1, 0, 0, 0, 0},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
