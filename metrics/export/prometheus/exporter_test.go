package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgauth "github.com/medmarket/tgauth"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot tgauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tgauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tgauth.MetricsSnapshot{
			Counters:   map[tgauth.MetricID]uint64{},
			Histograms: map[tgauth.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no series for disabled metrics, got %d", n)
	}
}

func TestScrapeIncludesCounterAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tgauth.MetricsSnapshot{
			Counters: map[tgauth.MetricID]uint64{
				tgauth.MetricTelegramLoginSuccess: 7,
			},
			Histograms: map[tgauth.MetricID][]uint64{
				tgauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := scrape(t, exp)
	for _, want := range []string{
		"tgauth_telegram_login_success_total 7",
		"tgauth_refresh_failure_total 0",
		`tgauth_validate_latency_seconds_bucket{le="0.005"} 1`,
		`tgauth_validate_latency_seconds_bucket{le="0.5"} 28`,
		`tgauth_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"tgauth_validate_latency_seconds_count 36",
		"tgauth_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestScrapeSkipsHistogramWhenLatencyDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tgauth.MetricsSnapshot{
			Counters:   map[tgauth.MetricID]uint64{tgauth.MetricRefreshSuccess: 1},
			Histograms: map[tgauth.MetricID][]uint64{},
		},
	})

	out := scrape(t, exp)
	if strings.Contains(out, "tgauth_validate_latency_seconds") {
		t.Fatalf("histogram should be absent, got:\n%s", out)
	}
	if !strings.Contains(out, "tgauth_refresh_success_total 1") {
		t.Fatalf("expected refresh counter, got:\n%s", out)
	}
}

func TestCollectorLintClean(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tgauth.MetricsSnapshot{
			Counters: map[tgauth.MetricID]uint64{tgauth.MetricValidateSuccess: 1},
		},
	})

	problems, err := testutil.CollectAndLint(exp)
	if err != nil {
		t.Fatalf("CollectAndLint: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("lint problems: %+v", problems)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: tgauth.MetricsSnapshot{
			Counters: map[tgauth.MetricID]uint64{
				tgauth.MetricTelegramLoginSuccess: 1000,
				tgauth.MetricTelegramLoginFailure: 40,
				tgauth.MetricPasswordLoginSuccess: 30,
				tgauth.MetricRefreshSuccess:       800,
				tgauth.MetricRefreshFailure:       10,
				tgauth.MetricValidateSuccess:      9000,
			},
			Histograms: map[tgauth.MetricID][]uint64{
				tgauth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
