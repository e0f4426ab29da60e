package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CallDispatched("dispatched")
	m.CreditsSpend(3)
	m.PollerTick("calls.retry", time.Second)
}

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CallDispatched("dispatched")
	m.CallDispatched("dispatched")
	m.CreditsSpend(2)
	m.CreditsSpend(0)

	if got := testutil.ToFloat64(m.CallsDispatched.WithLabelValues("dispatched")); got != 2 {
		t.Fatalf("unexpected dispatch count %v", got)
	}
	if got := testutil.ToFloat64(m.CreditsSpent); got != 2 {
		t.Fatalf("unexpected credits spent %v", got)
	}
}
