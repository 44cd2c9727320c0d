package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLinkGaugesTrackLabelValues(t *testing.T) {
	LinkConnected.WithLabelValues("7", "0").Set(1)
	if got := testutil.ToFloat64(LinkConnected.WithLabelValues("7", "0")); got != 1 {
		t.Fatalf("LinkConnected = %v, want 1", got)
	}

	LinkLatencyMicroseconds.WithLabelValues("7", "0").Set(1500)
	if got := testutil.ToFloat64(LinkLatencyMicroseconds.WithLabelValues("7", "0")); got != 1500 {
		t.Fatalf("LinkLatencyMicroseconds = %v, want 1500", got)
	}
}

func TestCountersIncrementIndependentlyPerLabel(t *testing.T) {
	PingsSent.WithLabelValues("7", "0").Inc()
	PingsSent.WithLabelValues("7", "1").Inc()
	PingsSent.WithLabelValues("7", "1").Inc()

	if got := testutil.ToFloat64(PingsSent.WithLabelValues("7", "0")); got != 1 {
		t.Fatalf("PingsSent{link=0} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(PingsSent.WithLabelValues("7", "1")); got != 2 {
		t.Fatalf("PingsSent{link=1} = %v, want 2", got)
	}
}

func TestDedupDropsLabeledByChannel(t *testing.T) {
	DedupDrops.WithLabelValues("7", "unicast").Inc()
	DedupDrops.WithLabelValues("7", "broadcast").Inc()
	DedupDrops.WithLabelValues("7", "broadcast").Inc()

	if got := testutil.ToFloat64(DedupDrops.WithLabelValues("7", "unicast")); got != 1 {
		t.Fatalf("DedupDrops{channel=unicast} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DedupDrops.WithLabelValues("7", "broadcast")); got != 2 {
		t.Fatalf("DedupDrops{channel=broadcast} = %v, want 2", got)
	}
}
