package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RangeProcessed(3)
	m.RangeFailed()
	m.TransfersDecoded(1)
	m.TransfersAccepted(1)
	m.MissingReceipts()
	m.Notification("committed")
	m.Checkpoint(10)
	m.Errors()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewUnregistered(reg)

	m.RangeProcessed(3)
	m.RangeProcessed(2)
	m.MissingReceipts()
	m.Notification("committed")
	m.Notification("committed")
	m.Notification("reorged")
	m.Checkpoint(42)

	if got := testutil.ToFloat64(m.rangesProcessed); got != 2 {
		t.Fatalf("ranges processed = %v", got)
	}
	if got := testutil.ToFloat64(m.blocksProcessed); got != 5 {
		t.Fatalf("blocks processed = %v", got)
	}
	if got := testutil.ToFloat64(m.missingReceipts); got != 1 {
		t.Fatalf("missing receipts = %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("committed")); got != 2 {
		t.Fatalf("committed notifications = %v", got)
	}
	if got := testutil.ToFloat64(m.checkpointHeight); got != 42 {
		t.Fatalf("checkpoint = %v", got)
	}
}
