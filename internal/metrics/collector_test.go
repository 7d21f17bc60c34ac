package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/metrics"
)

func testID() fix.SessionID {
	return fix.SessionID{
		BeginString:  fix.BeginStringFIX44,
		SenderCompID: "TW",
		TargetCompID: "ISLD",
	}
}

func TestCollectorCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	id := testID()

	c.IncMessagesSent(id)
	c.IncMessagesSent(id)
	c.IncMessagesReceived(id)
	c.IncRejectsSent(id)
	c.IncResentMessages(id)
	c.IncGapFillsSent(id)
	c.IncDisconnects(id)

	label := id.String()
	if got := testutil.ToFloat64(c.MessagesSent.WithLabelValues(label)); got != 2 {
		t.Errorf("messages_sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.MessagesReceived.WithLabelValues(label)); got != 1 {
		t.Errorf("messages_received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.GapFillsSent.WithLabelValues(label)); got != 1 {
		t.Errorf("gap_fills_sent = %v, want 1", got)
	}
}

func TestCollectorStatusGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	id := testID()

	c.SessionStatus(id, fix.StatusActive)
	if got := testutil.ToFloat64(c.Status.WithLabelValues(id.String())); got != float64(fix.StatusActive) {
		t.Errorf("session_status = %v, want %d", got, fix.StatusActive)
	}

	c.SessionStatus(id, fix.StatusDisconnected)
	if got := testutil.ToFloat64(c.Status.WithLabelValues(id.String())); got != 0 {
		t.Errorf("session_status = %v, want 0", got)
	}
}

func TestCollectorRegistersOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	// Vectors with no observations yet gather empty; registering must
	// not fail and gathering must not error.
	_ = families
}
