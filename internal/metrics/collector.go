// Package metrics exposes fixd session telemetry as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fixwire/fixd/internal/fix"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "fixd"
	subsystem = "fix"
)

// Label names for FIX session metrics.
const (
	labelSession = "session"
)

// -------------------------------------------------------------------------
// Collector — Prometheus FIX session metrics
// -------------------------------------------------------------------------

// Collector holds all fixd Prometheus metrics and implements
// fix.MetricsReporter.
//
// Metrics are designed for production trading connectivity monitoring:
//   - The status gauge distinguishes logon handshake stalls from drops.
//   - Message counters track per-session wire volume.
//   - Resend, gap-fill, and reject counters flag recovery activity that
//     usually precedes sequence problems.
type Collector struct {
	// Status is the session lifecycle state as a numeric gauge
	// (0=Disconnected .. 4=LogoutSent).
	Status *prometheus.GaugeVec

	// MessagesSent counts framed messages handed to the transport.
	MessagesSent *prometheus.CounterVec

	// MessagesReceived counts framed messages consumed from the wire.
	MessagesReceived *prometheus.CounterVec

	// RejectsSent counts session-level Reject(3) messages emitted.
	RejectsSent *prometheus.CounterVec

	// ResentMessages counts application messages replayed with
	// PossDupFlag=Y in answer to resend requests.
	ResentMessages *prometheus.CounterVec

	// GapFillsSent counts SequenceReset gap-fills emitted during replay.
	GapFillsSent *prometheus.CounterVec

	// Disconnects counts transport teardowns.
	Disconnects *prometheus.CounterVec
}

// verify interface compliance at compile time.
var _ fix.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "fixd_fix_" prefix (namespace_subsystem) to
// avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	reg.MustRegister(
		c.Status,
		c.MessagesSent,
		c.MessagesReceived,
		c.RejectsSent,
		c.ResentMessages,
		c.GapFillsSent,
		c.Disconnects,
	)
	return c
}

// newMetrics constructs the metric vectors.
func newMetrics() *Collector {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{labelSession})
	}
	return &Collector{
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_status",
			Help:      "Session lifecycle state (0=Disconnected, 1=LogonSent, 2=LogonReceived, 3=Active, 4=LogoutSent).",
		}, []string{labelSession}),
		MessagesSent:     counter("messages_sent_total", "Framed messages handed to the transport."),
		MessagesReceived: counter("messages_received_total", "Framed messages consumed from the wire."),
		RejectsSent:      counter("rejects_sent_total", "Session-level Reject(3) messages emitted."),
		ResentMessages:   counter("resent_messages_total", "Application messages replayed with PossDupFlag=Y."),
		GapFillsSent:     counter("gap_fills_sent_total", "SequenceReset gap-fills emitted during replay."),
		Disconnects:      counter("disconnects_total", "Transport teardowns."),
	}
}

// SessionStatus implements fix.MetricsReporter.
func (c *Collector) SessionStatus(id fix.SessionID, status fix.Status) {
	c.Status.WithLabelValues(id.String()).Set(float64(status))
}

// IncMessagesSent implements fix.MetricsReporter.
func (c *Collector) IncMessagesSent(id fix.SessionID) {
	c.MessagesSent.WithLabelValues(id.String()).Inc()
}

// IncMessagesReceived implements fix.MetricsReporter.
func (c *Collector) IncMessagesReceived(id fix.SessionID) {
	c.MessagesReceived.WithLabelValues(id.String()).Inc()
}

// IncRejectsSent implements fix.MetricsReporter.
func (c *Collector) IncRejectsSent(id fix.SessionID) {
	c.RejectsSent.WithLabelValues(id.String()).Inc()
}

// IncResentMessages implements fix.MetricsReporter.
func (c *Collector) IncResentMessages(id fix.SessionID) {
	c.ResentMessages.WithLabelValues(id.String()).Inc()
}

// IncGapFillsSent implements fix.MetricsReporter.
func (c *Collector) IncGapFillsSent(id fix.SessionID) {
	c.GapFillsSent.WithLabelValues(id.String()).Inc()
}

// IncDisconnects implements fix.MetricsReporter.
func (c *Collector) IncDisconnects(id fix.SessionID) {
	c.Disconnects.WithLabelValues(id.String()).Inc()
}
