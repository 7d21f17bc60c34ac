package fix

// -------------------------------------------------------------------------
// Application — host-supplied callback interface
// -------------------------------------------------------------------------

// Application is the host side of the engine. The engine invokes it from
// the session's reactor goroutine; implementations that share state
// across sessions must synchronize themselves.
//
// Outbound interception: ToAdmin and ToApp may mutate the message before
// it is serialized. Returning ErrDoNotSend aborts the send without
// consuming a sequence number; returning ErrLogonReject from ToAdmin on
// a pending Logon aborts the logon. Inbound delivery: FromApp may return
// ErrUnsupportedMessageType to have the engine answer with
// BusinessMessageReject(j); a *FieldError wrapping ErrFieldNotFound
// produces a session Reject with RequiredTagMissing.
type Application interface {
	// OnCreate is called once, before the session is first used.
	OnCreate(id SessionID)

	// OnLogon is called when the session reaches Active. For acceptors
	// it is consulted before the Logon is echoed: a non-nil error
	// rejects the logon, and the engine sends Logout and disconnects.
	OnLogon(id SessionID) error

	// OnLogout is called when the session leaves Active.
	OnLogout(id SessionID)

	// ToAdmin intercepts outbound administrative messages.
	ToAdmin(msg *Message, id SessionID) error

	// FromAdmin receives inbound administrative messages.
	FromAdmin(msg *Message, id SessionID) error

	// ToApp intercepts outbound application messages.
	ToApp(msg *Message, id SessionID) error

	// FromApp receives inbound application messages.
	FromApp(msg *Message, id SessionID) error
}

// NullApplication accepts everything and does nothing. Embed it to
// implement only the callbacks a host cares about.
type NullApplication struct{}

// OnCreate implements Application.
func (NullApplication) OnCreate(SessionID) {}

// OnLogon implements Application.
func (NullApplication) OnLogon(SessionID) error { return nil }

// OnLogout implements Application.
func (NullApplication) OnLogout(SessionID) {}

// ToAdmin implements Application.
func (NullApplication) ToAdmin(*Message, SessionID) error { return nil }

// FromAdmin implements Application.
func (NullApplication) FromAdmin(*Message, SessionID) error { return nil }

// ToApp implements Application.
func (NullApplication) ToApp(*Message, SessionID) error { return nil }

// FromApp implements Application.
func (NullApplication) FromApp(*Message, SessionID) error { return nil }

// -------------------------------------------------------------------------
// Responder — engine's handle on the transport
// -------------------------------------------------------------------------

// Responder is the engine's capability on its transport: hand bytes to
// the peer and request disconnection. The reactor owning the connection
// implements it; the engine never touches the socket directly.
type Responder interface {
	// Send queues msg for transmission. It reports false when the
	// transport can no longer accept data.
	Send(msg []byte) bool

	// Disconnect asks the transport to shut down after flushing
	// pending writes.
	Disconnect()
}

// -------------------------------------------------------------------------
// MetricsReporter — observability hooks
// -------------------------------------------------------------------------

// MetricsReporter receives session telemetry. The prometheus-backed
// implementation lives in internal/metrics; a no-op reporter is used
// when none is configured.
type MetricsReporter interface {
	SessionStatus(id SessionID, status Status)
	IncMessagesSent(id SessionID)
	IncMessagesReceived(id SessionID)
	IncRejectsSent(id SessionID)
	IncResentMessages(id SessionID)
	IncGapFillsSent(id SessionID)
	IncDisconnects(id SessionID)
}

// noopMetrics is the default reporter.
type noopMetrics struct{}

func (noopMetrics) SessionStatus(SessionID, Status) {}
func (noopMetrics) IncMessagesSent(SessionID)       {}
func (noopMetrics) IncMessagesReceived(SessionID)   {}
func (noopMetrics) IncRejectsSent(SessionID)        {}
func (noopMetrics) IncResentMessages(SessionID)     {}
func (noopMetrics) IncGapFillsSent(SessionID)       {}
func (noopMetrics) IncDisconnects(SessionID)        {}
