package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetServerBuildInfo("1.0.0", "abc", "2024-01-01")
	RecordRequest("gateway", "success")
	RecordRequest("gateway", "success")
	RecordFragments("mistral", 3)
	RecordFragments("mistral", 0)
	RecordDroppedLine()
	RecordModelTokens("mistral", "out", 12)
	ObserveRequestDuration("gateway", "mistral", 100*time.Millisecond)

	if v := testutil.ToFloat64(requests.WithLabelValues("gateway", "success")); v != 2 {
		t.Fatalf("requests: %v", v)
	}
	if v := testutil.ToFloat64(streamFragments.WithLabelValues("mistral")); v != 3 {
		t.Fatalf("fragments: %v", v)
	}
	if v := testutil.ToFloat64(streamDroppedLines); v != 1 {
		t.Fatalf("dropped lines: %v", v)
	}
	if v := testutil.ToFloat64(modelTokens.WithLabelValues("out", "mistral")); v != 12 {
		t.Fatalf("model tokens: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
	if n := testutil.CollectAndCount(requestDuration); n != 1 {
		t.Fatalf("duration series: %d", n)
	}
}

func TestTrackInFlight(t *testing.T) {
	base := InFlight()
	done1 := TrackInFlight("stream")
	done2 := TrackInFlight("stream")
	if got := InFlight() - base; got != 2 {
		t.Fatalf("in flight = %d; want 2", got)
	}
	if v := testutil.ToFloat64(inFlightGauge.WithLabelValues("stream")); v != 2 {
		t.Fatalf("gauge = %v", v)
	}
	done1()
	done1()
	done2()
	if got := InFlight() - base; got != 0 {
		t.Fatalf("in flight after done = %d; want 0", got)
	}
}
