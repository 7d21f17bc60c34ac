package fix

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fixwire/fixd/internal/fix/dict"
	"github.com/fixwire/fixd/internal/fix/store"
)

// -------------------------------------------------------------------------
// Session configuration
// -------------------------------------------------------------------------

// Role distinguishes the connection-establishment side of a session.
type Role uint8

const (
	// RoleInitiator dials out and sends the first Logon.
	RoleInitiator Role = iota + 1

	// RoleAcceptor listens and answers the peer's Logon.
	RoleAcceptor
)

// String returns the human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleAcceptor:
		return "Acceptor"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Defaults applied by NewSession when the corresponding config field is
// zero.
const (
	DefaultHeartBtInt    = 30 * time.Second
	DefaultLogonTimeout  = 10 * time.Second
	DefaultLogoutTimeout = 10 * time.Second
	DefaultMaxLatency    = 120 * time.Second

	// testRequestNum/testRequestDen encode the 1.2 x HeartBtInt idle
	// threshold that triggers a TestRequest probe.
	testRequestNum = 12
	testRequestDen = 10

	// outboxSize bounds the cross-thread submission channel drained on
	// every Poll.
	outboxSize = 64
)

// SessionConfig carries the per-session behavior knobs, mapped from the
// settings file by internal/config.
type SessionConfig struct {
	// ID is the local view of the session identity.
	ID SessionID

	// Role selects initiator or acceptor behavior.
	Role Role

	// HeartBtInt is the heartbeat interval. Acceptors adopt the
	// peer's Logon value instead.
	HeartBtInt time.Duration

	// LogonTimeout aborts a logon exchange that stalls.
	LogonTimeout time.Duration

	// LogoutTimeout aborts a logout exchange that stalls.
	LogoutTimeout time.Duration

	// CheckLatency enforces MaxLatency on inbound SendingTime.
	CheckLatency bool

	// MaxLatency is the allowed SendingTime drift.
	MaxLatency time.Duration

	// Validation holds the parser strictness flags.
	Validation ValidationSettings

	// ValidateLengthAndChecksum verifies BodyLength and CheckSum on
	// every inbound message.
	ValidateLengthAndChecksum bool

	// ResetOnLogon zeroes sequence numbers when a logon exchange begins.
	ResetOnLogon bool

	// ResetOnLogout zeroes sequence numbers after a graceful logout.
	ResetOnLogout bool

	// ResetOnDisconnect zeroes sequence numbers on any disconnect.
	ResetOnDisconnect bool

	// RefreshOnLogon reloads the store when a logon exchange begins.
	RefreshOnLogon bool

	// PersistMessages enables the replay store; when false every
	// resend request is answered entirely with gap-fills.
	PersistMessages bool

	// TimestampPrecision selects SendingTime sub-second precision.
	TimestampPrecision TimestampPrecision

	// MaxMessagesInResendRequest chunks outbound ResendRequests;
	// zero means unlimited.
	MaxMessagesInResendRequest int

	// SendRedundantResendRequests re-issues the current ResendRequest
	// for every out-of-order inbound message.
	SendRedundantResendRequests bool

	// SendLogoutBeforeDisconnectFromTimeout precedes a timeout
	// disconnect with a Logout.
	SendLogoutBeforeDisconnectFromTimeout bool

	// IgnorePossDupResendRequests drops inbound ResendRequests that
	// carry PossDupFlag=Y.
	IgnorePossDupResendRequests bool

	// RequiresOrigSendingTime rejects PossDup messages lacking
	// OrigSendingTime(122); when false they are tolerated.
	RequiresOrigSendingTime bool

	// ResendSessionLevelRejects replays stored Reject(3) messages
	// instead of gap-filling them.
	ResendSessionLevelRejects bool

	// EnableLastMsgSeqNumProcessed stamps tag 369 on outbound messages.
	EnableLastMsgSeqNumProcessed bool

	// DefaultApplVerID is carried in FIXT Logons.
	DefaultApplVerID string

	// Schedule is the session activity window; nil means non-stop.
	Schedule Schedule
}

// applyDefaults fills zero-valued knobs.
func (c *SessionConfig) applyDefaults() {
	if c.HeartBtInt <= 0 {
		c.HeartBtInt = DefaultHeartBtInt
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = DefaultLogonTimeout
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = DefaultLogoutTimeout
	}
	if c.MaxLatency <= 0 {
		c.MaxLatency = DefaultMaxLatency
	}
	if c.Schedule == nil {
		c.Schedule = NonStopSchedule{}
	}
}

// Sentinel errors for session construction and use.
var (
	// ErrMissingCompIDs indicates an identity without both comp ids.
	ErrMissingCompIDs = errors.New("session id requires sender and target comp ids")

	// ErrBadBeginString indicates an unsupported BeginString.
	ErrBadBeginString = errors.New("unsupported BeginString")

	// ErrInvalidRole indicates an unknown session role.
	ErrInvalidRole = errors.New("invalid session role")

	// ErrNotConnected indicates a send without a bound transport.
	ErrNotConnected = errors.New("session is not connected")

	// ErrOutboxFull indicates the cross-thread submission channel is full.
	ErrOutboxFull = errors.New("session outbox is full")
)

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// SessionOption configures optional Session parameters.
type SessionOption func(*Session)

// WithMetrics attaches a MetricsReporter. A nil reporter keeps the
// default no-op.
func WithMetrics(mr MetricsReporter) SessionOption {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithClock overrides the time source; tests drive timers with it.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Session is the FIX session engine: it consumes framed inbound
// messages, maintains sequence numbers and timers, answers the
// administrative protocol, and frames outbound messages.
//
// All mutable state is owned by the reactor goroutine driving the
// session; the only cross-thread entry point is Submit, which enqueues
// onto a bounded channel drained by Poll.
type Session struct {
	cfg SessionConfig
	dd  *dict.Dictionary

	st     *sessionState
	status atomic.Uint32
	store  store.MessageStore
	app    Application

	responder Responder
	logger    *slog.Logger
	metrics   MetricsReporter
	clock     func() time.Time

	outbox chan *Message
}

// NewSession builds a session over its store and dictionary. The
// Application's OnCreate is invoked before return.
func NewSession(
	cfg SessionConfig,
	dd *dict.Dictionary,
	st store.MessageStore,
	app Application,
	logger *slog.Logger,
	opts ...SessionOption,
) (*Session, error) {
	cfg.applyDefaults()
	if cfg.ID.SenderCompID == "" || cfg.ID.TargetCompID == "" {
		return nil, ErrMissingCompIDs
	}
	if !ValidBeginString(cfg.ID.BeginString) {
		return nil, fmt.Errorf("%w: %q", ErrBadBeginString, cfg.ID.BeginString)
	}
	if cfg.Role != RoleInitiator && cfg.Role != RoleAcceptor {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, cfg.Role)
	}

	s := &Session{
		cfg:     cfg,
		dd:      dd,
		store:   st,
		app:     app,
		metrics: noopMetrics{},
		clock:   time.Now,
		outbox:  make(chan *Message, outboxSize),
		logger: logger.With(
			slog.String("session", cfg.ID.String()),
			slog.String("role", cfg.Role.String()),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.st = newSessionState(s.now())

	app.OnCreate(cfg.ID)
	return s, nil
}

// now returns the session clock in UTC.
func (s *Session) now() time.Time { return s.clock().UTC() }

// ID returns the session identity.
func (s *Session) ID() SessionID { return s.cfg.ID }

// Status returns the lifecycle state (atomic read, safe from any
// goroutine).
func (s *Session) Status() Status { return Status(s.status.Load()) }

// setStatus transitions the lifecycle state, mirroring it into the
// atomic for cross-thread snapshot reads.
func (s *Session) setStatus(status Status, now time.Time) {
	s.st.setStatus(status, now)
	s.status.Store(uint32(status))
}

// NextSenderSeqNum exposes the outbound counter for monitoring.
func (s *Session) NextSenderSeqNum() int { return s.store.NextSenderSeqNum() }

// NextTargetSeqNum exposes the inbound counter for monitoring.
func (s *Session) NextTargetSeqNum() int { return s.store.NextTargetSeqNum() }

// heartBtInt returns the effective heartbeat interval: the peer's
// Logon value when adopted, the configured one otherwise.
func (s *Session) heartBtInt() time.Duration {
	if s.st.peerHeartBtInt > 0 {
		return s.st.peerHeartBtInt
	}
	return s.cfg.HeartBtInt
}

// -------------------------------------------------------------------------
// Transport lifecycle
// -------------------------------------------------------------------------

// OnConnect binds the transport. An initiator immediately sends Logon;
// an acceptor waits for the peer's.
func (s *Session) OnConnect(r Responder) error {
	now := s.now()
	s.responder = r
	s.st.reset(now)
	s.status.Store(uint32(StatusDisconnected))
	s.st.lastReceived = now
	s.st.lastSent = now

	if s.cfg.Role != RoleInitiator {
		s.logger.Info("transport connected, awaiting logon")
		return nil
	}

	if s.cfg.RefreshOnLogon {
		if err := s.store.Refresh(); err != nil {
			return fmt.Errorf("refresh store: %w", err)
		}
	}
	if s.cfg.ResetOnLogon {
		if err := s.store.Reset(); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}

	logon := s.buildLogon(s.cfg.ResetOnLogon)
	if s.cfg.ResetOnLogon {
		s.st.sentReset = true
	}
	if err := s.send(logon); err != nil {
		return err
	}
	s.st.logonSent = true
	s.setStatus(StatusLogonSent, now)
	s.metrics.SessionStatus(s.cfg.ID, s.st.status)
	s.logger.Info("logon sent", slog.Int("next_sender", s.store.NextSenderSeqNum()))
	return nil
}

// Disconnect tears down the connection-scoped state and asks the
// transport to close. Sequence numbers survive unless
// ResetOnDisconnect is set.
func (s *Session) Disconnect(reason string) {
	if s.st.status == StatusDisconnected {
		return
	}
	wasActive := s.st.status == StatusActive || s.st.status == StatusLogoutSent
	s.logger.Info("disconnecting", slog.String("reason", reason))

	if s.cfg.ResetOnDisconnect {
		if err := s.store.Reset(); err != nil {
			s.logger.Error("reset store on disconnect", slog.String("error", err.Error()))
		}
	}
	s.st.reset(s.now())
	s.status.Store(uint32(StatusDisconnected))
	s.metrics.SessionStatus(s.cfg.ID, s.st.status)
	s.metrics.IncDisconnects(s.cfg.ID)

	if s.responder != nil {
		s.responder.Disconnect()
		s.responder = nil
	}
	if wasActive {
		s.app.OnLogout(s.cfg.ID)
	}
}

// InitiateLogout starts a graceful logout with optional text.
func (s *Session) InitiateLogout(text string) error {
	logout := NewAdminMessage(MsgTypeLogout)
	if text != "" {
		logout.Body.Set(TagText, text)
	}
	if err := s.send(logout); err != nil {
		return err
	}
	s.st.logoutSent = true
	s.setStatus(StatusLogoutSent, s.now())
	s.metrics.SessionStatus(s.cfg.ID, s.st.status)
	return nil
}

// -------------------------------------------------------------------------
// Outbound path
// -------------------------------------------------------------------------

// Submit enqueues a message from another goroutine; the owning reactor
// sends it on its next Poll. Used by the session registry.
func (s *Session) Submit(msg *Message) error {
	select {
	case s.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Send sequences and transmits a message, invoking ToAdmin or ToApp
// first. A callback returning ErrDoNotSend aborts silently without
// consuming the sequence number.
func (s *Session) Send(msg *Message) error {
	return s.send(msg)
}

// send is the common outbound path for application and admin messages.
func (s *Session) send(msg *Message) error {
	if s.responder == nil {
		return ErrNotConnected
	}

	seq := s.store.NextSenderSeqNum()
	s.fillHeader(msg, seq)

	var cbErr error
	if msg.IsAdmin() {
		cbErr = s.app.ToAdmin(msg, s.cfg.ID)
	} else {
		cbErr = s.app.ToApp(msg, s.cfg.ID)
	}
	if errors.Is(cbErr, ErrDoNotSend) {
		s.logger.Debug("send aborted by application")
		return nil
	}
	if cbErr != nil {
		return fmt.Errorf("application callback: %w", cbErr)
	}

	data := msg.Bytes()
	if s.cfg.PersistMessages {
		if err := s.store.Save(seq, data); err != nil {
			return fmt.Errorf("persist message %d: %w", seq, err)
		}
	}
	if err := s.store.IncrNextSenderSeqNum(); err != nil {
		return fmt.Errorf("advance sender seq: %w", err)
	}
	s.transmit(data)
	return nil
}

// sendReplay transmits an already-sequenced replay message (gap-fill or
// PossDup re-send) without touching the store or counters.
func (s *Session) sendReplay(msg *Message) {
	s.transmit(msg.Bytes())
}

// transmit hands framed bytes to the transport and stamps lastSent.
func (s *Session) transmit(data []byte) {
	if s.responder == nil {
		return
	}
	if !s.responder.Send(data) {
		s.logger.Warn("transport refused write")
	}
	s.st.lastSent = s.now()
	s.metrics.IncMessagesSent(s.cfg.ID)
}

// fillHeader stamps the standard header: identity, sequence number,
// and SendingTime.
func (s *Session) fillHeader(msg *Message, seq int) {
	h := &msg.Header
	h.Set(TagBeginString, s.cfg.ID.BeginString)
	h.Set(TagSenderCompID, s.cfg.ID.SenderCompID)
	h.Set(TagTargetCompID, s.cfg.ID.TargetCompID)
	setIf := func(tag Tag, v string) {
		if v != "" {
			h.Set(tag, v)
		}
	}
	setIf(TagSenderSubID, s.cfg.ID.SenderSubID)
	setIf(TagSenderLocationID, s.cfg.ID.SenderLocationID)
	setIf(TagTargetSubID, s.cfg.ID.TargetSubID)
	setIf(TagTargetLocationID, s.cfg.ID.TargetLocationID)
	h.SetInt(TagMsgSeqNum, seq)
	h.SetUTCTimestamp(TagSendingTime, s.now(), s.cfg.TimestampPrecision)
	if s.cfg.EnableLastMsgSeqNumProcessed {
		h.SetInt(TagLastMsgSeqNumProcessed, s.st.lastInboundSeq)
	}
}

// buildLogon constructs the outbound Logon.
func (s *Session) buildLogon(reset bool) *Message {
	logon := NewAdminMessage(MsgTypeLogon)
	logon.Body.Set(TagEncryptMethod, EncryptMethodNone)
	logon.Body.SetInt(TagHeartBtInt, int(s.heartBtInt()/time.Second))
	if reset {
		logon.Body.SetBool(TagResetSeqNumFlag, true)
	}
	if s.cfg.ID.IsFIXT() && s.cfg.DefaultApplVerID != "" {
		logon.Body.Set(TagDefaultApplVerID, s.cfg.DefaultApplVerID)
	}
	return logon
}

// -------------------------------------------------------------------------
// Timers — Poll is invoked by the reactor on every loop iteration
// -------------------------------------------------------------------------

// Poll drains cross-thread submissions and runs the timer rules:
// schedule rollover, logon/logout timeouts, test-request escalation,
// and heartbeat emission.
func (s *Session) Poll(now time.Time) {
	s.drainOutbox()

	if s.st.status == StatusDisconnected {
		return
	}
	now = now.UTC()

	if s.cfg.Schedule.IsNewSession(s.store.CreationTime(), now) {
		s.logger.Info("session schedule rolled over, resetting")
		if err := s.store.Reset(); err != nil {
			s.logger.Error("reset store on rollover", slog.String("error", err.Error()))
		}
		s.Disconnect("schedule rollover")
		return
	}
	if !s.cfg.Schedule.IsSessionTime(now) {
		if s.st.status == StatusActive {
			if err := s.InitiateLogout("session window closed"); err != nil {
				s.Disconnect("session window closed")
			}
		}
		return
	}

	switch s.st.status {
	case StatusLogonSent, StatusLogonReceived:
		if now.Sub(s.st.statusSince) >= s.cfg.LogonTimeout {
			s.Disconnect("logon timed out")
		}
		return
	case StatusLogoutSent:
		if now.Sub(s.st.statusSince) >= s.cfg.LogoutTimeout {
			s.Disconnect("logout timed out")
		}
		return
	case StatusActive:
	default:
		return
	}

	s.pollActive(now)
}

// pollActive runs the Active-state liveness rules.
func (s *Session) pollActive(now time.Time) {
	hb := s.heartBtInt()
	probeAfter := hb * testRequestNum / testRequestDen

	idle := now.Sub(s.st.lastReceived)
	if idle >= probeAfter*time.Duration(s.st.testRequestCounter+1) {
		if s.st.testRequestCounter >= 1 {
			// Second consecutive probe window expired without traffic.
			if s.cfg.SendLogoutBeforeDisconnectFromTimeout {
				if err := s.InitiateLogout("test request timed out"); err != nil {
					s.logger.Warn("logout before timeout disconnect",
						slog.String("error", err.Error()))
				}
			}
			s.Disconnect("peer unresponsive")
			return
		}
		probe := NewAdminMessage(MsgTypeTestRequest)
		probe.Body.Set(TagTestReqID, FormatUTCTimestamp(now, PrecisionMillis))
		if err := s.send(probe); err != nil {
			s.logger.Error("send test request", slog.String("error", err.Error()))
			return
		}
		s.st.testRequestCounter++
		return
	}

	if now.Sub(s.st.lastSent) >= hb {
		hbMsg := NewAdminMessage(MsgTypeHeartbeat)
		if err := s.send(hbMsg); err != nil {
			s.logger.Error("send heartbeat", slog.String("error", err.Error()))
		}
	}
}

// drainOutbox sends every message queued via Submit.
func (s *Session) drainOutbox() {
	for {
		select {
		case msg := <-s.outbox:
			if err := s.send(msg); err != nil {
				s.logger.Error("send submitted message", slog.String("error", err.Error()))
			}
		default:
			return
		}
	}
}
