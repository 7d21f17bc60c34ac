package fix_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/fix/dict"
	"github.com/fixwire/fixd/internal/fix/store"
)

// sessionDictXML covers the administrative messages plus one
// application message so inbound app traffic validates.
const sessionDictXML = `
<fix major="4" minor="4">
  <header>
    <field name="BeginString" required="Y"/>
    <field name="BodyLength" required="Y"/>
    <field name="MsgType" required="Y"/>
    <field name="SenderCompID" required="Y"/>
    <field name="TargetCompID" required="Y"/>
    <field name="MsgSeqNum" required="Y"/>
    <field name="SendingTime" required="Y"/>
    <field name="PossDupFlag" required="N"/>
    <field name="PossResend" required="N"/>
    <field name="OrigSendingTime" required="N"/>
    <field name="LastMsgSeqNumProcessed" required="N"/>
  </header>
  <trailer>
    <field name="CheckSum" required="Y"/>
  </trailer>
  <messages>
    <message name="Heartbeat" msgtype="0">
      <field name="TestReqID" required="N"/>
    </message>
    <message name="TestRequest" msgtype="1">
      <field name="TestReqID" required="Y"/>
    </message>
    <message name="ResendRequest" msgtype="2">
      <field name="BeginSeqNo" required="Y"/>
      <field name="EndSeqNo" required="Y"/>
    </message>
    <message name="Reject" msgtype="3">
      <field name="RefSeqNum" required="Y"/>
      <field name="RefTagID" required="N"/>
      <field name="RefMsgType" required="N"/>
      <field name="SessionRejectReason" required="N"/>
      <field name="Text" required="N"/>
    </message>
    <message name="SequenceReset" msgtype="4">
      <field name="NewSeqNo" required="Y"/>
      <field name="GapFillFlag" required="N"/>
    </message>
    <message name="Logout" msgtype="5">
      <field name="Text" required="N"/>
    </message>
    <message name="Logon" msgtype="A">
      <field name="EncryptMethod" required="Y"/>
      <field name="HeartBtInt" required="Y"/>
      <field name="ResetSeqNumFlag" required="N"/>
    </message>
    <message name="BusinessMessageReject" msgtype="j">
      <field name="RefMsgType" required="Y"/>
      <field name="BusinessRejectReason" required="Y"/>
      <field name="BusinessRejectRefID" required="N"/>
      <field name="RefSeqNum" required="N"/>
      <field name="Text" required="N"/>
    </message>
    <message name="NewOrderSingle" msgtype="D">
      <field name="Symbol" required="Y"/>
      <field name="ClOrdID" required="N"/>
    </message>
  </messages>
  <components/>
  <fields>
    <field number="7" name="BeginSeqNo" type="SEQNUM"/>
    <field number="8" name="BeginString" type="STRING"/>
    <field number="9" name="BodyLength" type="LENGTH"/>
    <field number="10" name="CheckSum" type="STRING"/>
    <field number="11" name="ClOrdID" type="STRING"/>
    <field number="16" name="EndSeqNo" type="SEQNUM"/>
    <field number="34" name="MsgSeqNum" type="SEQNUM"/>
    <field number="35" name="MsgType" type="STRING"/>
    <field number="36" name="NewSeqNo" type="SEQNUM"/>
    <field number="43" name="PossDupFlag" type="BOOLEAN"/>
    <field number="45" name="RefSeqNum" type="SEQNUM"/>
    <field number="49" name="SenderCompID" type="STRING"/>
    <field number="52" name="SendingTime" type="UTCTIMESTAMP"/>
    <field number="55" name="Symbol" type="STRING"/>
    <field number="56" name="TargetCompID" type="STRING"/>
    <field number="58" name="Text" type="STRING"/>
    <field number="97" name="PossResend" type="BOOLEAN"/>
    <field number="98" name="EncryptMethod" type="INT"/>
    <field number="108" name="HeartBtInt" type="INT"/>
    <field number="112" name="TestReqID" type="STRING"/>
    <field number="122" name="OrigSendingTime" type="UTCTIMESTAMP"/>
    <field number="123" name="GapFillFlag" type="BOOLEAN"/>
    <field number="141" name="ResetSeqNumFlag" type="BOOLEAN"/>
    <field number="369" name="LastMsgSeqNumProcessed" type="SEQNUM"/>
    <field number="371" name="RefTagID" type="INT"/>
    <field number="372" name="RefMsgType" type="STRING"/>
    <field number="373" name="SessionRejectReason" type="INT"/>
    <field number="379" name="BusinessRejectRefID" type="STRING"/>
    <field number="380" name="BusinessRejectReason" type="INT"/>
  </fields>
</fix>`

// -------------------------------------------------------------------------
// Test doubles
// -------------------------------------------------------------------------

// wireRecorder captures everything the engine hands to the transport.
type wireRecorder struct {
	frames       [][]byte
	disconnected bool
}

func (w *wireRecorder) Send(msg []byte) bool {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	w.frames = append(w.frames, cp)
	return true
}

func (w *wireRecorder) Disconnect() { w.disconnected = true }

// recorder is an Application that records deliveries and can be
// programmed to fail.
type recorder struct {
	fix.NullApplication
	fromApp    []*fix.Message
	fromAdmin  []*fix.Message
	fromAppErr error
	toAppErr   error
	logonErr   error
	logons     int
	logouts    int
}

func (r *recorder) ToApp(*fix.Message, fix.SessionID) error { return r.toAppErr }

func (r *recorder) OnLogon(fix.SessionID) error {
	r.logons++
	return r.logonErr
}

func (r *recorder) OnLogout(fix.SessionID) { r.logouts++ }

func (r *recorder) FromApp(msg *fix.Message, _ fix.SessionID) error {
	r.fromApp = append(r.fromApp, msg)
	return r.fromAppErr
}

func (r *recorder) FromAdmin(msg *fix.Message, _ fix.SessionID) error {
	r.fromAdmin = append(r.fromAdmin, msg)
	return nil
}

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// -------------------------------------------------------------------------
// Harness
// -------------------------------------------------------------------------

// harness bundles a session with its doubles.
type harness struct {
	session *fix.Session
	wire    *wireRecorder
	app     *recorder
	clock   *fakeClock
	store   *store.MemoryStore
	dd      *dict.Dictionary
	hbSecs  int
	t       *testing.T
}

// newHarness builds an initiator-side session TW->ISLD unless mutate
// changes it.
func newHarness(t *testing.T, mutate func(*fix.SessionConfig)) *harness {
	t.Helper()

	dd, err := dict.Parse([]byte(sessionDictXML))
	if err != nil {
		t.Fatalf("parse session dictionary: %v", err)
	}

	cfg := fix.SessionConfig{
		ID: fix.SessionID{
			BeginString:  fix.BeginStringFIX44,
			SenderCompID: "TW",
			TargetCompID: "ISLD",
		},
		Role:                      fix.RoleInitiator,
		HeartBtInt:                30 * time.Second,
		PersistMessages:           true,
		ValidateLengthAndChecksum: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		wire:  &wireRecorder{},
		app:   &recorder{},
		clock: &fakeClock{t: time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)},
		store: store.NewMemoryStore(),
		dd:    dd,
		t:     t,
	}
	h.hbSecs = int(cfg.HeartBtInt / time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.session, err = fix.NewSession(cfg, dd, h.store, h.app, logger, fix.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("NewSession() = %v", err)
	}
	return h
}

// peer returns the peer's comp ids from the session's point of view.
func (h *harness) peer() (sender, target string) {
	id := h.session.ID()
	return id.TargetCompID, id.SenderCompID
}

// inbound builds a framed message from the peer.
func (h *harness) inbound(mt fix.MsgType, seq int, mutate func(*fix.Message)) []byte {
	h.t.Helper()
	sender, target := h.peer()
	m := fix.NewAdminMessage(mt)
	m.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	m.Header.Set(fix.TagSenderCompID, sender)
	m.Header.Set(fix.TagTargetCompID, target)
	m.Header.SetInt(fix.TagMsgSeqNum, seq)
	m.Header.SetUTCTimestamp(fix.TagSendingTime, h.clock.Now(), fix.PrecisionMillis)
	if mutate != nil {
		mutate(m)
	}
	return m.Bytes()
}

// feed delivers a framed message, failing the test on engine error.
func (h *harness) feed(raw []byte) {
	h.t.Helper()
	if err := h.session.NextMsg(raw); err != nil {
		h.t.Fatalf("NextMsg() = %v", err)
	}
}

// sent parses the i-th captured outbound frame.
func (h *harness) sent(i int) *fix.Message {
	h.t.Helper()
	if i >= len(h.wire.frames) {
		h.t.Fatalf("only %d frames sent, want index %d", len(h.wire.frames), i)
	}
	msg, err := fix.ParseMessage(h.wire.frames[i], h.dd)
	if err != nil {
		h.t.Fatalf("parse sent frame %d: %v", i, err)
	}
	return msg
}

// lastSent parses the most recent outbound frame.
func (h *harness) lastSent() *fix.Message {
	h.t.Helper()
	return h.sent(len(h.wire.frames) - 1)
}

// connect runs the initiator logon exchange to Active.
func (h *harness) connect() {
	h.t.Helper()
	if err := h.session.OnConnect(h.wire); err != nil {
		h.t.Fatalf("OnConnect() = %v", err)
	}
	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, h.hbSecs)
	}))
	if h.session.Status() != fix.StatusActive {
		h.t.Fatalf("status after logon exchange = %v, want Active", h.session.Status())
	}
}

// sendOrder sends one application message through the engine.
func (h *harness) sendOrder(symbol string) {
	h.t.Helper()
	order := fix.NewAdminMessage("D")
	order.Body.Set(55, symbol)
	if err := h.session.Send(order); err != nil {
		h.t.Fatalf("Send() = %v", err)
	}
}

// wantField asserts a field value on a message section.
func wantField(t *testing.T, m *fix.FieldMap, tag fix.Tag, want string) {
	t.Helper()
	got, err := m.Get(tag)
	if err != nil {
		t.Fatalf("Get(%d) = %v", tag, err)
	}
	if got != want {
		t.Errorf("tag %d = %q, want %q", tag, got, want)
	}
}

// -------------------------------------------------------------------------
// Logon
// -------------------------------------------------------------------------

func TestInitiatorLogonExchange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatalf("OnConnect() = %v", err)
	}
	if h.session.Status() != fix.StatusLogonSent {
		t.Fatalf("status = %v, want LogonSent", h.session.Status())
	}

	logon := h.sent(0)
	if mt, _ := logon.MsgType(); mt != fix.MsgTypeLogon {
		t.Fatalf("first frame MsgType = %v, want A", mt)
	}
	wantField(t, &logon.Header, fix.TagSenderCompID, "TW")
	wantField(t, &logon.Header, fix.TagTargetCompID, "ISLD")
	wantField(t, &logon.Header, fix.TagMsgSeqNum, "1")
	wantField(t, &logon.Body, fix.TagEncryptMethod, "0")
	wantField(t, &logon.Body, fix.TagHeartBtInt, "30")

	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 30)
	}))

	if h.session.Status() != fix.StatusActive {
		t.Errorf("status = %v, want Active", h.session.Status())
	}
	if h.app.logons != 1 {
		t.Errorf("OnLogon calls = %d, want 1", h.app.logons)
	}
	if h.session.NextSenderSeqNum() != 2 || h.session.NextTargetSeqNum() != 2 {
		t.Errorf("seqs = %d/%d, want 2/2",
			h.session.NextSenderSeqNum(), h.session.NextTargetSeqNum())
	}
}

func TestAcceptorEchoesLogon(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) {
		c.Role = fix.RoleAcceptor
		c.ID.SenderCompID = "ISLD"
		c.ID.TargetCompID = "TW"
	})
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatalf("OnConnect() = %v", err)
	}
	if len(h.wire.frames) != 0 {
		t.Fatalf("acceptor sent %d frames before logon", len(h.wire.frames))
	}

	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 17)
	}))

	if h.session.Status() != fix.StatusActive {
		t.Fatalf("status = %v, want Active", h.session.Status())
	}
	echo := h.sent(0)
	if mt, _ := echo.MsgType(); mt != fix.MsgTypeLogon {
		t.Fatalf("reply MsgType = %v, want A", mt)
	}
	wantField(t, &echo.Header, fix.TagSenderCompID, "ISLD")
	wantField(t, &echo.Header, fix.TagTargetCompID, "TW")
	// HeartBtInt is adopted from the peer's Logon.
	wantField(t, &echo.Body, fix.TagHeartBtInt, "17")
	wantField(t, &echo.Body, fix.TagEncryptMethod, "0")
}

func TestAcceptorLogonRejectedByApplication(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) {
		c.Role = fix.RoleAcceptor
		c.ID.SenderCompID = "ISLD"
		c.ID.TargetCompID = "TW"
	})
	h.app.logonErr = errors.New("unknown counterparty")
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatalf("OnConnect() = %v", err)
	}
	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 30)
	}))

	logout := h.sent(0)
	if mt, _ := logout.MsgType(); mt != fix.MsgTypeLogout {
		t.Errorf("reply MsgType = %v, want Logout (no Logon echo)", mt)
	}
	if !h.wire.disconnected {
		t.Error("transport not disconnected after rejected logon")
	}
}

func TestResetSeqNumFlagLogon(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) {
		c.ResetOnLogon = true
	})
	// Pre-existing sequence state must be discarded by the reset.
	if err := h.store.SetNextSenderSeqNum(50); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetNextTargetSeqNum(60); err != nil {
		t.Fatal(err)
	}

	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatalf("OnConnect() = %v", err)
	}
	logon := h.sent(0)
	wantField(t, &logon.Header, fix.TagMsgSeqNum, "1")
	wantField(t, &logon.Body, fix.TagResetSeqNumFlag, "Y")

	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 30)
		m.Body.SetBool(fix.TagResetSeqNumFlag, true)
	}))

	// Both sides' next sequence numbers equal 2 after the exchange.
	if h.session.NextSenderSeqNum() != 2 || h.session.NextTargetSeqNum() != 2 {
		t.Errorf("seqs = %d/%d, want 2/2",
			h.session.NextSenderSeqNum(), h.session.NextTargetSeqNum())
	}
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

func TestHeartbeatAfterIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) { c.HeartBtInt = time.Second })
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatal(err)
	}
	h.feed(h.inbound(fix.MsgTypeLogon, 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 1)
	}))

	before := len(h.wire.frames)
	h.clock.Advance(1100 * time.Millisecond)
	h.session.Poll(h.clock.Now())

	if len(h.wire.frames) != before+1 {
		t.Fatalf("frames after idle = %d, want %d", len(h.wire.frames), before+1)
	}
	hb := h.lastSent()
	if mt, _ := hb.MsgType(); mt != fix.MsgTypeHeartbeat {
		t.Errorf("idle emission = %v, want Heartbeat", mt)
	}
	wantField(t, &hb.Header, fix.TagMsgSeqNum, "2")
}

func TestTestRequestEscalationDisconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) { c.HeartBtInt = time.Second })
	h.connect()

	// First probe window (1.2 x HeartBtInt) expires: TestRequest.
	h.clock.Advance(1300 * time.Millisecond)
	h.session.Poll(h.clock.Now())
	probe := h.lastSent()
	if mt, _ := probe.MsgType(); mt != fix.MsgTypeTestRequest {
		t.Fatalf("first timeout emission = %v, want TestRequest", mt)
	}
	if !probe.Body.Has(fix.TagTestReqID) {
		t.Error("TestRequest lacks TestReqID")
	}

	// Second window expires without any traffic: disconnect.
	h.clock.Advance(1300 * time.Millisecond)
	h.session.Poll(h.clock.Now())
	if !h.wire.disconnected {
		t.Error("session did not disconnect after second probe window")
	}
	if h.session.Status() != fix.StatusDisconnected {
		t.Errorf("status = %v, want Disconnected", h.session.Status())
	}
}

func TestHeartbeatAnswersTestRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	h.feed(h.inbound(fix.MsgTypeTestRequest, 2, func(m *fix.Message) {
		m.Body.Set(fix.TagTestReqID, "probe-77")
	}))
	hb := h.lastSent()
	if mt, _ := hb.MsgType(); mt != fix.MsgTypeHeartbeat {
		t.Fatalf("reply = %v, want Heartbeat", mt)
	}
	wantField(t, &hb.Body, fix.TagTestReqID, "probe-77")
}

func TestLogonTimeoutDisconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(fix.DefaultLogonTimeout + time.Second)
	h.session.Poll(h.clock.Now())
	if !h.wire.disconnected {
		t.Error("stalled logon did not disconnect")
	}
}

// -------------------------------------------------------------------------
// Sequence numbers
// -------------------------------------------------------------------------

func TestMsgSeqNumTooLowLogsOutAndDisconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	// Resume an established session expecting seq 10.
	if err := h.store.SetNextTargetSeqNum(10); err != nil {
		t.Fatal(err)
	}
	if err := h.session.OnConnect(h.wire); err != nil {
		t.Fatal(err)
	}
	h.feed(h.inbound(fix.MsgTypeLogon, 10, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.SetInt(fix.TagHeartBtInt, 30)
	}))

	h.feed(h.inbound("D", 5, func(m *fix.Message) {
		m.Body.Set(55, "MSFT")
	}))

	logout := h.lastSent()
	if mt, _ := logout.MsgType(); mt != fix.MsgTypeLogout {
		t.Fatalf("reply = %v, want Logout", mt)
	}
	text, _ := logout.Body.Get(fix.TagText)
	if !strings.Contains(text, "MsgSeqNum too low, expecting 11 but received 5") {
		t.Errorf("logout text = %q", text)
	}
	if !h.wire.disconnected {
		t.Error("transport not disconnected")
	}
	if len(h.app.fromApp) != 0 {
		t.Error("stale message delivered to application")
	}
}

func TestGapDetectionBuffersAndResendRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect() // next target = 2

	// Message 8 arrives early: buffered, gap [2,7] requested.
	h.feed(h.inbound("D", 8, func(m *fix.Message) { m.Body.Set(55, "LATE") }))

	req := h.lastSent()
	if mt, _ := req.MsgType(); mt != fix.MsgTypeResendRequest {
		t.Fatalf("gap emission = %v, want ResendRequest", mt)
	}
	wantField(t, &req.Body, fix.TagBeginSeqNo, "2")
	wantField(t, &req.Body, fix.TagEndSeqNo, "7")
	if len(h.app.fromApp) != 0 {
		t.Fatal("out-of-order message delivered before gap closed")
	}

	// The gap fills in order; 8 is delivered last.
	for seq := 2; seq <= 7; seq++ {
		h.feed(h.inbound("D", seq, func(m *fix.Message) { m.Body.Set(55, "FILL") }))
	}

	if len(h.app.fromApp) != 7 {
		t.Fatalf("delivered %d app messages, want 7", len(h.app.fromApp))
	}
	lastSeq, _ := h.app.fromApp[6].SeqNum()
	if lastSeq != 8 {
		t.Errorf("final delivered seq = %d, want 8", lastSeq)
	}
	if h.session.NextTargetSeqNum() != 9 {
		t.Errorf("next target = %d, want 9", h.session.NextTargetSeqNum())
	}
}

func TestResendRequestChunking(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) {
		c.MaxMessagesInResendRequest = 2
	})
	h.connect() // next target = 2

	h.feed(h.inbound("D", 7, func(m *fix.Message) { m.Body.Set(55, "LATE") }))

	first := h.lastSent()
	wantField(t, &first.Body, fix.TagBeginSeqNo, "2")
	wantField(t, &first.Body, fix.TagEndSeqNo, "3")

	h.feed(h.inbound("D", 2, func(m *fix.Message) { m.Body.Set(55, "A") }))
	h.feed(h.inbound("D", 3, func(m *fix.Message) { m.Body.Set(55, "B") }))

	// Chunk [2,3] satisfied: the next chunk goes out automatically.
	next := h.lastSent()
	if mt, _ := next.MsgType(); mt != fix.MsgTypeResendRequest {
		t.Fatalf("after chunk close = %v, want ResendRequest", mt)
	}
	wantField(t, &next.Body, fix.TagBeginSeqNo, "4")
	wantField(t, &next.Body, fix.TagEndSeqNo, "5")
}

func TestPossDupDuplicateDroppedSilently(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	wire := h.inbound("D", 2, func(m *fix.Message) { m.Body.Set(55, "MSFT") })
	h.feed(wire)
	if len(h.app.fromApp) != 1 {
		t.Fatalf("delivered %d, want 1", len(h.app.fromApp))
	}

	frames := len(h.wire.frames)
	h.feed(h.inbound("D", 2, func(m *fix.Message) {
		m.Body.Set(55, "MSFT")
		m.Header.SetBool(fix.TagPossDupFlag, true)
		m.Header.SetUTCTimestamp(fix.TagOrigSendingTime, h.clock.Now(), fix.PrecisionMillis)
	}))

	// Idempotence: no second delivery, no reply, no disconnect.
	if len(h.app.fromApp) != 1 {
		t.Errorf("duplicate delivered; FromApp calls = %d", len(h.app.fromApp))
	}
	if len(h.wire.frames) != frames {
		t.Errorf("duplicate provoked %d new frames", len(h.wire.frames)-frames)
	}
	if h.wire.disconnected {
		t.Error("duplicate caused disconnect")
	}
}

// -------------------------------------------------------------------------
// Resend responding
// -------------------------------------------------------------------------

func TestResendReplaysWithPossDupAndGapFillsAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect() // sent Logon at seq 1
	h.sendOrder("MSFT")
	h.sendOrder("AAPL")
	h.sendOrder("IBM") // seqs 2..4, next sender = 5

	framesBefore := len(h.wire.frames)
	h.clock.Advance(time.Second)
	h.feed(h.inbound(fix.MsgTypeResendRequest, 2, func(m *fix.Message) {
		m.Body.SetInt(fix.TagBeginSeqNo, 1)
		m.Body.SetInt(fix.TagEndSeqNo, 0) // 0 = infinity
	}))

	replayed := h.wire.frames[framesBefore:]
	if len(replayed) != 4 {
		t.Fatalf("resend produced %d frames, want 4 (gap-fill + 3 replays)", len(replayed))
	}

	// The admin Logon at seq 1 becomes a gap-fill pointing at seq 2.
	gf, err := fix.ParseMessage(replayed[0], h.dd)
	if err != nil {
		t.Fatal(err)
	}
	if mt, _ := gf.MsgType(); mt != fix.MsgTypeSequenceReset {
		t.Fatalf("first replay = %v, want SequenceReset", mt)
	}
	wantField(t, &gf.Header, fix.TagMsgSeqNum, "1")
	wantField(t, &gf.Body, fix.TagGapFillFlag, "Y")
	wantField(t, &gf.Body, fix.TagNewSeqNo, "2")

	// Application messages replay verbatim with PossDupFlag=Y and
	// OrigSendingTime preserved from the original SendingTime.
	symbols := []string{"MSFT", "AAPL", "IBM"}
	for i, frame := range replayed[1:] {
		msg, err := fix.ParseMessage(frame, h.dd)
		if err != nil {
			t.Fatal(err)
		}
		wantField(t, &msg.Header, fix.TagPossDupFlag, "Y")
		wantField(t, &msg.Body, 55, symbols[i])
		orig, err := msg.Header.GetUTCTimestamp(fix.TagOrigSendingTime)
		if err != nil {
			t.Fatalf("replay %d missing OrigSendingTime: %v", i, err)
		}
		sending, _ := msg.Header.GetUTCTimestamp(fix.TagSendingTime)
		if orig.After(sending) {
			t.Errorf("replay %d OrigSendingTime %v after SendingTime %v", i, orig, sending)
		}
		seq, _ := msg.SeqNum()
		if seq != i+2 {
			t.Errorf("replay %d seq = %d, want %d", i, seq, i+2)
		}
	}
	// Sender counter is untouched by replay.
	if h.session.NextSenderSeqNum() != 5 {
		t.Errorf("next sender after replay = %d, want 5", h.session.NextSenderSeqNum())
	}
}

func TestResendWithoutPersistenceGapFillsEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *fix.SessionConfig) {
		c.PersistMessages = false
	})
	h.connect()
	h.sendOrder("MSFT")
	h.sendOrder("AAPL") // next sender = 4

	framesBefore := len(h.wire.frames)
	h.feed(h.inbound(fix.MsgTypeResendRequest, 2, func(m *fix.Message) {
		m.Body.SetInt(fix.TagBeginSeqNo, 1)
		m.Body.SetInt(fix.TagEndSeqNo, 3)
	}))

	replayed := h.wire.frames[framesBefore:]
	if len(replayed) != 1 {
		t.Fatalf("resend produced %d frames, want a single coalesced gap-fill", len(replayed))
	}
	gf, err := fix.ParseMessage(replayed[0], h.dd)
	if err != nil {
		t.Fatal(err)
	}
	wantField(t, &gf.Header, fix.TagMsgSeqNum, "1")
	wantField(t, &gf.Body, fix.TagGapFillFlag, "Y")
	wantField(t, &gf.Body, fix.TagNewSeqNo, "4")
}

// -------------------------------------------------------------------------
// SequenceReset
// -------------------------------------------------------------------------

func TestSequenceResetResetMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect() // next target = 2

	h.feed(h.inbound(fix.MsgTypeSequenceReset, 2, func(m *fix.Message) {
		m.Body.SetInt(fix.TagNewSeqNo, 100)
	}))
	if h.session.NextTargetSeqNum() != 100 {
		t.Errorf("next target = %d, want 100", h.session.NextTargetSeqNum())
	}

	// A non-increasing NewSeqNo is rejected with ValueIsIncorrect.
	h.feed(h.inbound(fix.MsgTypeSequenceReset, 100, func(m *fix.Message) {
		m.Body.SetInt(fix.TagNewSeqNo, 2)
	}))
	reject := h.lastSent()
	if mt, _ := reject.MsgType(); mt != fix.MsgTypeReject {
		t.Fatalf("reply = %v, want Reject", mt)
	}
	wantField(t, &reject.Body, fix.TagSessionRejectReason, "5")
	if h.session.NextTargetSeqNum() != 100 {
		t.Errorf("next target moved to %d on rejected reset", h.session.NextTargetSeqNum())
	}
}

func TestSequenceResetGapFillMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect() // next target = 2

	h.feed(h.inbound(fix.MsgTypeSequenceReset, 2, func(m *fix.Message) {
		m.Body.SetBool(fix.TagGapFillFlag, true)
		m.Body.SetInt(fix.TagNewSeqNo, 8)
	}))
	if h.session.NextTargetSeqNum() != 8 {
		t.Errorf("next target = %d, want 8", h.session.NextTargetSeqNum())
	}

	// Gap-fill whose NewSeqNo does not advance is rejected.
	h.feed(h.inbound(fix.MsgTypeSequenceReset, 8, func(m *fix.Message) {
		m.Body.SetBool(fix.TagGapFillFlag, true)
		m.Body.SetInt(fix.TagNewSeqNo, 8)
	}))
	reject := h.lastSent()
	if mt, _ := reject.MsgType(); mt != fix.MsgTypeReject {
		t.Fatalf("reply = %v, want Reject", mt)
	}
	wantField(t, &reject.Body, fix.TagSessionRejectReason, "5")
}

// -------------------------------------------------------------------------
// Rejects and logout
// -------------------------------------------------------------------------

func TestChecksumFailureRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	wire := h.inbound("D", 2, func(m *fix.Message) { m.Body.Set(55, "MSFT") })
	// Corrupt the checksum digits.
	wire[len(wire)-2] = 'x'
	h.feed(wire)

	reject := h.lastSent()
	if mt, _ := reject.MsgType(); mt != fix.MsgTypeReject {
		t.Fatalf("reply = %v, want Reject", mt)
	}
	wantField(t, &reject.Body, fix.TagRefSeqNum, "2")
	// The offending sequence number is consumed.
	if h.session.NextTargetSeqNum() != 3 {
		t.Errorf("next target = %d, want 3", h.session.NextTargetSeqNum())
	}
	if len(h.app.fromApp) != 0 {
		t.Error("malformed message delivered to application")
	}
}

func TestRequiredTagMissingRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	// NewOrderSingle without its required Symbol(55).
	h.feed(h.inbound("D", 2, func(m *fix.Message) { m.Body.Set(11, "ORD-1") }))

	reject := h.lastSent()
	if mt, _ := reject.MsgType(); mt != fix.MsgTypeReject {
		t.Fatalf("reply = %v, want Reject", mt)
	}
	wantField(t, &reject.Body, fix.TagSessionRejectReason, "1")
	wantField(t, &reject.Body, fix.TagRefTagID, "55")
	if len(h.app.fromApp) != 0 {
		t.Error("invalid message delivered to application")
	}
}

func TestUnknownMsgTypeRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	h.feed(h.inbound("ZZ", 2, func(m *fix.Message) { m.Body.Set(55, "MSFT") }))

	reject := h.lastSent()
	if mt, _ := reject.MsgType(); mt != fix.MsgTypeReject {
		t.Fatalf("reply = %v, want Reject", mt)
	}
	wantField(t, &reject.Body, fix.TagSessionRejectReason, "11")
}

func TestUnsupportedMessageTypeBusinessReject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()
	h.app.fromAppErr = fix.ErrUnsupportedMessageType

	h.feed(h.inbound("D", 2, func(m *fix.Message) { m.Body.Set(55, "MSFT") }))

	bmr := h.lastSent()
	if mt, _ := bmr.MsgType(); mt != fix.MsgTypeBusinessMessageReject {
		t.Fatalf("reply = %v, want BusinessMessageReject", mt)
	}
	wantField(t, &bmr.Body, fix.TagRefMsgType, "D")
	wantField(t, &bmr.Body, fix.TagBusinessRejectReason, "3")
}

func TestCompIDMismatchRejectsAndDisconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	m := fix.NewAdminMessage("D")
	m.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	m.Header.Set(fix.TagSenderCompID, "INTRUDER")
	m.Header.Set(fix.TagTargetCompID, "TW")
	m.Header.SetInt(fix.TagMsgSeqNum, 2)
	m.Header.SetUTCTimestamp(fix.TagSendingTime, h.clock.Now(), fix.PrecisionMillis)
	m.Body.Set(55, "MSFT")
	h.feed(m.Bytes())

	if !h.wire.disconnected {
		t.Error("comp id mismatch did not disconnect")
	}
	// Reject then Logout went out.
	var sawReject, sawLogout bool
	for i := range h.wire.frames {
		msg, err := fix.ParseMessage(h.wire.frames[i], h.dd)
		if err != nil {
			continue
		}
		switch mt, _ := msg.MsgType(); mt {
		case fix.MsgTypeReject:
			sawReject = true
		case fix.MsgTypeLogout:
			sawLogout = true
		}
	}
	if !sawReject || !sawLogout {
		t.Errorf("sawReject=%v sawLogout=%v, want both", sawReject, sawLogout)
	}
}

func TestPeerLogoutIsConfirmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	h.feed(h.inbound(fix.MsgTypeLogout, 2, nil))

	logout := h.lastSent()
	if mt, _ := logout.MsgType(); mt != fix.MsgTypeLogout {
		t.Fatalf("reply = %v, want Logout", mt)
	}
	if !h.wire.disconnected {
		t.Error("transport not disconnected after logout exchange")
	}
	if h.app.logouts != 1 {
		t.Errorf("OnLogout calls = %d, want 1", h.app.logouts)
	}
	// The peer's Logout consumed its sequence number.
	if h.session.NextTargetSeqNum() != 3 {
		t.Errorf("next target = %d, want 3", h.session.NextTargetSeqNum())
	}
}

// -------------------------------------------------------------------------
// Cross-thread submission
// -------------------------------------------------------------------------

func TestSubmitDrainedOnPoll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()

	order := fix.NewAdminMessage("D")
	order.Body.Set(55, "MSFT")
	if err := h.session.Submit(order); err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	frames := len(h.wire.frames)
	h.session.Poll(h.clock.Now())
	if len(h.wire.frames) != frames+1 {
		t.Fatalf("Poll sent %d frames, want 1", len(h.wire.frames)-frames)
	}
	sent := h.lastSent()
	if mt, _ := sent.MsgType(); mt != "D" {
		t.Errorf("submitted MsgType = %v, want D", mt)
	}
	wantField(t, &sent.Header, fix.TagMsgSeqNum, "2")
}

func TestDoNotSendAbortsWithoutConsumingSeq(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.connect()
	h.app.toAppErr = fix.ErrDoNotSend

	frames := len(h.wire.frames)
	order := fix.NewAdminMessage("D")
	order.Body.Set(55, "MSFT")
	if err := h.session.Send(order); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if len(h.wire.frames) != frames {
		t.Error("DoNotSend still transmitted")
	}
	if h.session.NextSenderSeqNum() != 2 {
		t.Errorf("sequence number consumed: next sender = %d, want 2",
			h.session.NextSenderSeqNum())
	}

	// With the veto lifted the same sequence number is used.
	h.app.toAppErr = nil
	h.sendOrder("AAPL")
	sent := h.lastSent()
	wantField(t, &sent.Header, fix.TagMsgSeqNum, "2")
}
