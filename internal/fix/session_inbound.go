package fix

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// -------------------------------------------------------------------------
// Inbound dispatch — Session.NextMsg
// -------------------------------------------------------------------------

// msgSeqNumMarker locates MsgSeqNum(34) for the pre-parse probe used
// when a message is too malformed for a full parse.
var msgSeqNumMarker = []byte("\x0134=")

// readSeqNum probes a framed message for its MsgSeqNum without parsing.
func readSeqNum(raw []byte) (int, bool) {
	at := bytes.Index(raw, msgSeqNumMarker)
	if at < 0 {
		return 0, false
	}
	valStart := at + len(msgSeqNumMarker)
	sohAt := bytes.IndexByte(raw[valStart:], SOH)
	if sohAt < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(raw[valStart : valStart+sohAt]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextMsg processes one framed inbound message through the full
// pipeline: parse, pre-checks, sequence handling, and dispatch. It
// never returns an error for protocol violations — those are answered
// on the wire; only transport and store failures surface.
func (s *Session) NextMsg(raw []byte) error {
	now := s.now()
	s.st.lastReceived = now
	s.st.testRequestCounter = 0
	s.metrics.IncMessagesReceived(s.cfg.ID)

	if s.cfg.ValidateLengthAndChecksum {
		if err := VerifyChecksum(raw); err != nil {
			return s.rejectMalformed(raw, err)
		}
	}

	msg, err := ParseMessage(raw, s.dd)
	if err != nil {
		return s.rejectMalformed(raw, err)
	}

	msgType, err := msg.MsgType()
	if err != nil {
		return s.rejectMalformed(raw, rejectErr(RejectRequiredTagMissing, TagMsgType))
	}

	if fatal, err := s.preChecks(msg, msgType, now); fatal || err != nil {
		return err
	}

	// Reset-mode SequenceReset bypasses sequence number checks: its
	// entire point is to repair them.
	if msgType == MsgTypeSequenceReset && !gapFillFlag(msg) {
		return s.handleSequenceResetReset(msg)
	}

	// A Logon carrying ResetSeqNumFlag=Y restarts sequencing before the
	// sequence number of the Logon itself is judged.
	if msgType == MsgTypeLogon {
		if err := s.prepareLogon(msg); err != nil {
			return err
		}
	}

	seq, err := msg.SeqNum()
	if err != nil {
		return s.sendReject(0, rejectErr(RejectRequiredTagMissing, TagMsgSeqNum))
	}

	expected := s.store.NextTargetSeqNum()
	switch {
	case seq < expected:
		return s.handleSeqTooLow(msg, seq, expected)
	case seq > expected:
		return s.handleSeqTooHigh(msg, msgType, raw, seq, expected)
	}

	return s.processInSequence(msg, msgType, seq)
}

// processInSequence dispatches an in-order message, advances the
// target counter, and drains any queued successors.
func (s *Session) processInSequence(msg *Message, msgType MsgType, seq int) error {
	advance, err := s.dispatch(msg, msgType)
	if err != nil {
		return err
	}
	if advance {
		if err := s.store.IncrNextTargetSeqNum(); err != nil {
			return fmt.Errorf("advance target seq: %w", err)
		}
		s.st.lastInboundSeq = seq
	}
	return s.afterAdvance()
}

// afterAdvance services resend bookkeeping and queued messages once the
// target counter moved.
func (s *Session) afterAdvance() error {
	if s.st.status == StatusDisconnected {
		return nil
	}
	expected := s.store.NextTargetSeqNum()

	if r := s.st.resend; r != nil {
		switch {
		case expected > r.end:
			s.logger.Info("resend range satisfied",
				slog.Int("begin", r.begin), slog.Int("end", r.end))
			s.st.resend = nil
		case expected > r.chunkEnd:
			// Current chunk satisfied; request the next one.
			if err := s.requestResend(expected, r.end); err != nil {
				return err
			}
		}
	}

	if raw, ok := s.st.queued[expected]; ok {
		delete(s.st.queued, expected)
		s.logger.Debug("delivering queued message", slog.Int("seq", expected))
		return s.NextMsg(raw)
	}
	return nil
}

// -------------------------------------------------------------------------
// Pre-checks
// -------------------------------------------------------------------------

// preChecks runs the identity, latency, dictionary, and structure
// checks. fatal=true means the message must not be processed further
// (the reply, if any, has been sent).
func (s *Session) preChecks(msg *Message, msgType MsgType, now time.Time) (fatal bool, err error) {
	// BeginString must match the session's protocol version.
	if bs := msg.Header.GetOr(TagBeginString, ""); bs != s.cfg.ID.BeginString {
		s.logger.Warn("incorrect BeginString", slog.String("got", bs))
		if err := s.sendLogout("Incorrect BeginString"); err != nil {
			return true, err
		}
		s.Disconnect("incorrect BeginString")
		return true, nil
	}

	// Comp ids arrive in reverse: their sender is our target.
	sender := msg.Header.GetOr(TagSenderCompID, "")
	target := msg.Header.GetOr(TagTargetCompID, "")
	senderOK := sender == s.cfg.ID.TargetCompID || s.cfg.ID.TargetCompID == WildcardCompID
	if !senderOK || target != s.cfg.ID.SenderCompID {
		if err := s.compIDFailure(msg); err != nil {
			return true, err
		}
		return true, nil
	}

	// SendingTime drift.
	if s.cfg.CheckLatency {
		sendingTime, stErr := msg.Header.GetUTCTimestamp(TagSendingTime)
		if stErr != nil || absDuration(now.Sub(sendingTime)) > s.cfg.MaxLatency {
			if err := s.latencyFailure(msg); err != nil {
				return true, err
			}
			return true, nil
		}
	}

	// MsgType known to the dictionary.
	if !s.dd.IsMsgType(string(msgType)) {
		seq, _ := msg.SeqNum()
		if err := s.advanceAndReject(seq, rejectErr(RejectInvalidMsgType, TagMsgType)); err != nil {
			return true, err
		}
		return true, nil
	}

	// Dictionary structure.
	if vErr := validateMessage(msg, s.dd, s.cfg.Validation); vErr != nil {
		var re *RejectError
		if errors.As(vErr, &re) {
			seq, _ := msg.SeqNum()
			if err := s.advanceAndReject(seq, re); err != nil {
				return true, err
			}
			return true, nil
		}
		return true, vErr
	}

	// PossDup plausibility: OrigSendingTime must not postdate SendingTime.
	if msg.PossDup() {
		if fatal, err := s.checkPossDup(msg); fatal || err != nil {
			return fatal, err
		}
	}
	return false, nil
}

// checkPossDup validates OrigSendingTime on replayed messages.
func (s *Session) checkPossDup(msg *Message) (fatal bool, err error) {
	orig, origErr := msg.Header.GetUTCTimestamp(TagOrigSendingTime)
	if origErr != nil {
		if !s.cfg.RequiresOrigSendingTime {
			return false, nil
		}
		seq, _ := msg.SeqNum()
		if err := s.advanceAndReject(seq, rejectErr(RejectRequiredTagMissing, TagOrigSendingTime)); err != nil {
			return true, err
		}
		return true, nil
	}
	sending, sendErr := msg.Header.GetUTCTimestamp(TagSendingTime)
	if sendErr == nil && orig.After(sending) {
		if err := s.latencyFailure(msg); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// compIDFailure answers a comp id mismatch: Reject, Logout, disconnect.
func (s *Session) compIDFailure(msg *Message) error {
	seq, _ := msg.SeqNum()
	if err := s.advanceAndReject(seq, rejectErr(RejectCompIDProblem, TagSenderCompID)); err != nil {
		return err
	}
	if err := s.sendLogout("CompID problem"); err != nil {
		return err
	}
	s.Disconnect("CompID problem")
	return nil
}

// latencyFailure answers a SendingTime accuracy problem: Reject,
// Logout, disconnect.
func (s *Session) latencyFailure(msg *Message) error {
	seq, _ := msg.SeqNum()
	if err := s.advanceAndReject(seq, rejectErr(RejectSendingTimeAccuracy, TagSendingTime)); err != nil {
		return err
	}
	if err := s.sendLogout("SendingTime accuracy problem"); err != nil {
		return err
	}
	s.Disconnect("SendingTime accuracy problem")
	return nil
}

// absDuration returns |d|.
func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// gapFillFlag reads GapFillFlag(123).
func gapFillFlag(msg *Message) bool {
	v, err := msg.Body.GetBool(TagGapFillFlag)
	return err == nil && v
}

// -------------------------------------------------------------------------
// Sequence number handling
// -------------------------------------------------------------------------

// handleSeqTooLow answers a message below the expected sequence number.
// Replayed duplicates are dropped silently; anything else is a fatal
// protocol violation.
func (s *Session) handleSeqTooLow(msg *Message, seq, expected int) error {
	if msg.PossDup() {
		s.logger.Debug("dropping duplicate",
			slog.Int("seq", seq), slog.Int("expected", expected))
		return nil
	}
	text := fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, seq)
	s.logger.Warn("sequence number too low",
		slog.Int("seq", seq), slog.Int("expected", expected))
	if err := s.sendLogout(text); err != nil {
		return err
	}
	s.Disconnect(text)
	return nil
}

// handleSeqTooHigh buffers a message above the expected sequence number
// and requests the missing range. A Logon is also processed immediately
// so the exchange completes and the peer can answer the ResendRequest.
func (s *Session) handleSeqTooHigh(msg *Message, msgType MsgType, raw []byte, seq, expected int) error {
	if msgType == MsgTypeLogon && !s.st.logonReceived {
		if _, err := s.dispatch(msg, msgType); err != nil {
			return err
		}
	}

	s.st.queued[seq] = raw
	s.logger.Info("sequence gap detected",
		slog.Int("seq", seq), slog.Int("expected", expected))

	if s.st.resend == nil {
		return s.startResend(expected, seq-1)
	}
	if s.cfg.SendRedundantResendRequests {
		r := s.st.resend
		return s.sendResendRequest(expected, r.chunkEnd)
	}
	return nil
}

// startResend begins a new resend range [begin, end], chunked by
// MaxMessagesInResendRequest.
func (s *Session) startResend(begin, end int) error {
	s.st.resend = &resendRange{begin: begin, end: end}
	return s.requestResend(begin, end)
}

// requestResend issues the ResendRequest for the next chunk of the
// current range.
func (s *Session) requestResend(begin, end int) error {
	chunkEnd := end
	if limit := s.cfg.MaxMessagesInResendRequest; limit > 0 && begin+limit-1 < end {
		chunkEnd = begin + limit - 1
	}
	s.st.resend.chunkEnd = chunkEnd
	return s.sendResendRequest(begin, chunkEnd)
}

// sendResendRequest emits ResendRequest(2) for [begin, end].
func (s *Session) sendResendRequest(begin, end int) error {
	req := NewAdminMessage(MsgTypeResendRequest)
	req.Body.SetInt(TagBeginSeqNo, begin)
	req.Body.SetInt(TagEndSeqNo, end)
	s.logger.Info("requesting resend", slog.Int("begin", begin), slog.Int("end", end))
	return s.send(req)
}

// -------------------------------------------------------------------------
// Dispatch by MsgType
// -------------------------------------------------------------------------

// dispatch routes an in-sequence message. advance reports whether the
// target counter should be incremented afterwards (gap-fills manage the
// counter themselves).
func (s *Session) dispatch(msg *Message, msgType MsgType) (advance bool, err error) {
	switch msgType {
	case MsgTypeLogon:
		return true, s.handleLogon(msg)
	case MsgTypeHeartbeat:
		return true, nil
	case MsgTypeTestRequest:
		return true, s.handleTestRequest(msg)
	case MsgTypeResendRequest:
		return true, s.handleResendRequest(msg)
	case MsgTypeSequenceReset:
		return false, s.handleSequenceResetGapFill(msg)
	case MsgTypeLogout:
		// Logout manages the counter itself so ResetOnLogout is not
		// undone by a post-dispatch increment.
		return false, s.handleLogout(msg)
	case MsgTypeReject, MsgTypeBusinessMessageReject:
		return true, s.app.FromAdmin(msg, s.cfg.ID)
	default:
		return true, s.handleApp(msg)
	}
}

// handleApp delivers an application message, translating callback
// errors into wire replies.
func (s *Session) handleApp(msg *Message) error {
	err := s.app.FromApp(msg, s.cfg.ID)
	if err == nil {
		return nil
	}
	seq, _ := msg.SeqNum()
	switch {
	case errors.Is(err, ErrUnsupportedMessageType):
		return s.sendBusinessReject(msg, seq)
	case errors.Is(err, ErrFieldNotFound):
		re := &RejectError{Reason: RejectRequiredTagMissing}
		var fe *FieldError
		if errors.As(err, &fe) {
			re.RefTag = fe.Tag
		}
		return s.sendReject(seq, re)
	default:
		return fmt.Errorf("application FromApp: %w", err)
	}
}

// -------------------------------------------------------------------------
// Logon
// -------------------------------------------------------------------------

// prepareLogon runs the pre-sequence-check parts of logon handling:
// store refresh and ResetSeqNumFlag.
func (s *Session) prepareLogon(msg *Message) error {
	if s.cfg.RefreshOnLogon && !s.st.logonReceived {
		if err := s.store.Refresh(); err != nil {
			return fmt.Errorf("refresh store: %w", err)
		}
	}
	if s.cfg.ResetOnLogon && s.cfg.Role == RoleAcceptor && !s.st.logonReceived {
		if err := s.store.Reset(); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}
	reset, err := msg.Body.GetBool(TagResetSeqNumFlag)
	if err != nil || !reset {
		return nil
	}
	// The peer mirrors our own reset flag back; resetting again would
	// discard the Logon we just sent.
	if s.st.sentReset {
		return nil
	}
	if s.store.NextTargetSeqNum() != 1 || s.store.NextSenderSeqNum() != 1 {
		s.logger.Info("peer requested sequence number reset")
		if err := s.store.Reset(); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}
	return nil
}

// handleLogon completes the logon exchange for either role.
func (s *Session) handleLogon(msg *Message) error {
	if s.st.logonReceived {
		// A queued duplicate delivered after the gap closed; the
		// exchange already completed.
		return nil
	}
	s.st.logonReceived = true

	if hb, err := msg.Body.GetInt(TagHeartBtInt); err == nil && hb > 0 && s.cfg.Role == RoleAcceptor {
		s.st.peerHeartBtInt = time.Duration(hb) * time.Second
	}

	if s.cfg.Role == RoleAcceptor {
		return s.acceptLogon(msg)
	}

	// Initiator: the peer's Logon answers ours.
	if !s.st.logonSent {
		s.logger.Warn("logon received before logon sent")
		s.Disconnect("unexpected logon")
		return nil
	}
	if err := s.app.OnLogon(s.cfg.ID); err != nil {
		if sendErr := s.sendLogout("Logon rejected"); sendErr != nil {
			return sendErr
		}
		s.Disconnect("logon rejected by application")
		return nil
	}
	s.becomeActive()
	return nil
}

// acceptLogon validates and echoes the peer's Logon (acceptor side).
func (s *Session) acceptLogon(msg *Message) error {
	s.setStatus(StatusLogonReceived, s.now())

	reset, _ := msg.Body.GetBool(TagResetSeqNumFlag)

	if err := s.app.OnLogon(s.cfg.ID); err != nil {
		s.logger.Info("logon rejected by application", slog.String("error", err.Error()))
		if sendErr := s.sendLogout("Logon rejected"); sendErr != nil {
			return sendErr
		}
		s.Disconnect("logon rejected by application")
		return nil
	}

	reply := s.buildLogon(reset)
	if err := s.send(reply); err != nil {
		if errors.Is(err, ErrLogonReject) {
			s.logger.Info("logon rejected by application", slog.String("error", err.Error()))
			if sendErr := s.sendLogout("Logon rejected"); sendErr != nil {
				return sendErr
			}
			s.Disconnect("logon rejected by application")
			return nil
		}
		return err
	}
	s.st.logonSent = true
	s.becomeActive()
	return nil
}

// becomeActive transitions to Active and reports it.
func (s *Session) becomeActive() {
	s.setStatus(StatusActive, s.now())
	s.metrics.SessionStatus(s.cfg.ID, s.st.status)
	s.logger.Info("session active",
		slog.Int("next_sender", s.store.NextSenderSeqNum()),
		slog.Int("next_target", s.store.NextTargetSeqNum()),
	)
}

// -------------------------------------------------------------------------
// TestRequest / Logout
// -------------------------------------------------------------------------

// handleTestRequest answers a TestRequest with a Heartbeat echoing the
// TestReqID.
func (s *Session) handleTestRequest(msg *Message) error {
	hb := NewAdminMessage(MsgTypeHeartbeat)
	if id, err := msg.Body.Get(TagTestReqID); err == nil {
		hb.Body.Set(TagTestReqID, id)
	}
	return s.send(hb)
}

// handleLogout completes a logout exchange: confirm ours, or answer and
// disconnect.
func (s *Session) handleLogout(msg *Message) error {
	s.st.logoutReceived = true
	text := msg.Body.GetOr(TagText, "")

	if err := s.store.IncrNextTargetSeqNum(); err != nil {
		return fmt.Errorf("advance target seq: %w", err)
	}
	if !s.st.logoutSent {
		if err := s.InitiateLogout(""); err != nil {
			s.logger.Warn("answer logout", slog.String("error", err.Error()))
		}
	}
	if s.cfg.ResetOnLogout {
		if err := s.store.Reset(); err != nil {
			return fmt.Errorf("reset store on logout: %w", err)
		}
	}
	if text != "" {
		s.logger.Info("logout received", slog.String("text", text))
	}
	s.Disconnect("logout")
	return nil
}

// -------------------------------------------------------------------------
// SequenceReset
// -------------------------------------------------------------------------

// handleSequenceResetGapFill processes a resend-stream gap-fill:
// SequenceReset with GapFillFlag=Y. Accepted iff
// NewSeqNo > MsgSeqNum >= next target; the counter jumps to NewSeqNo.
func (s *Session) handleSequenceResetGapFill(msg *Message) error {
	seq, err := msg.SeqNum()
	if err != nil {
		return s.sendReject(0, rejectErr(RejectRequiredTagMissing, TagMsgSeqNum))
	}
	newSeq, err := msg.Body.GetInt(TagNewSeqNo)
	if err != nil {
		return s.sendReject(seq, rejectErr(RejectRequiredTagMissing, TagNewSeqNo))
	}
	if newSeq <= seq {
		return s.sendReject(seq, rejectErr(RejectValueIsIncorrect, TagNewSeqNo))
	}
	s.logger.Info("gap fill", slog.Int("from", seq), slog.Int("new_seq", newSeq))
	if err := s.store.SetNextTargetSeqNum(newSeq); err != nil {
		return fmt.Errorf("apply gap fill: %w", err)
	}
	s.st.lastInboundSeq = seq
	return s.afterAdvance()
}

// handleSequenceResetReset processes a reset-mode SequenceReset (no
// GapFillFlag): the counter is set unconditionally, provided NewSeqNo
// increases.
func (s *Session) handleSequenceResetReset(msg *Message) error {
	newSeq, err := msg.Body.GetInt(TagNewSeqNo)
	if err != nil {
		seq, _ := msg.SeqNum()
		return s.sendReject(seq, rejectErr(RejectRequiredTagMissing, TagNewSeqNo))
	}
	expected := s.store.NextTargetSeqNum()
	if newSeq <= expected {
		seq, _ := msg.SeqNum()
		return s.sendReject(seq, rejectErr(RejectValueIsIncorrect, TagNewSeqNo))
	}
	s.logger.Info("sequence reset", slog.Int("new_seq", newSeq))
	if err := s.store.SetNextTargetSeqNum(newSeq); err != nil {
		return fmt.Errorf("apply sequence reset: %w", err)
	}
	return s.afterAdvance()
}

// -------------------------------------------------------------------------
// Reject / Logout senders
// -------------------------------------------------------------------------

// advanceAndReject consumes the offending message's sequence number and
// answers with a session-level Reject. Used for malformed-but-framed
// messages so the counters stay aligned.
func (s *Session) advanceAndReject(refSeq int, re *RejectError) error {
	if err := s.store.IncrNextTargetSeqNum(); err != nil {
		return fmt.Errorf("advance target seq: %w", err)
	}
	if refSeq > 0 {
		s.st.lastInboundSeq = refSeq
	}
	return s.sendReject(refSeq, re)
}

// rejectMalformed handles a message that failed framing-level or parse
// checks: the sequence number is consumed (when readable) and a Reject
// citing the offending tag goes out.
func (s *Session) rejectMalformed(raw []byte, err error) error {
	var re *RejectError
	if !errors.As(err, &re) {
		return err
	}
	seq, _ := readSeqNum(raw)
	s.logger.Warn("malformed message",
		slog.Int("seq", seq),
		slog.String("reason", re.Reason.String()),
	)
	return s.advanceAndReject(seq, re)
}

// sendReject emits a session-level Reject(3).
func (s *Session) sendReject(refSeq int, re *RejectError) error {
	reject := NewAdminMessage(MsgTypeReject)
	reject.Body.SetInt(TagRefSeqNum, refSeq)
	reject.Body.SetInt(TagSessionRejectReason, int(re.Reason))
	if re.RefTag != 0 {
		reject.Body.SetInt(TagRefTagID, int(re.RefTag))
	}
	reject.Body.Set(TagText, re.Error())
	s.metrics.IncRejectsSent(s.cfg.ID)
	return s.send(reject)
}

// sendBusinessReject emits BusinessMessageReject(j) for an application
// message the host refused.
func (s *Session) sendBusinessReject(msg *Message, refSeq int) error {
	bmr := NewAdminMessage(MsgTypeBusinessMessageReject)
	if mt, err := msg.MsgType(); err == nil {
		bmr.Body.Set(TagRefMsgType, string(mt))
	}
	bmr.Body.SetInt(TagRefSeqNum, refSeq)
	bmr.Body.Set(TagBusinessRejectReason, BusinessRejectReasonUnsupportedMsgType)
	bmr.Body.Set(TagText, "Unsupported message type")
	return s.send(bmr)
}

// sendLogout emits Logout(5) with explanatory text.
func (s *Session) sendLogout(text string) error {
	logout := NewAdminMessage(MsgTypeLogout)
	if text != "" {
		logout.Body.Set(TagText, text)
	}
	if err := s.send(logout); err != nil {
		return err
	}
	s.st.logoutSent = true
	return nil
}
