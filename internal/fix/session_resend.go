package fix

import (
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Resend responding — answering an inbound ResendRequest(2)
// -------------------------------------------------------------------------

// handleResendRequest replays the requested range from the message
// store. Administrative messages and sequence numbers missing from the
// store are covered by coalesced SequenceReset gap-fills; application
// messages are re-sent verbatim with PossDupFlag=Y and OrigSendingTime
// preserved.
func (s *Session) handleResendRequest(msg *Message) error {
	if s.cfg.IgnorePossDupResendRequests && msg.PossDup() {
		s.logger.Debug("ignoring PossDup resend request")
		return nil
	}

	begin, err := msg.Body.GetInt(TagBeginSeqNo)
	if err != nil {
		seq, _ := msg.SeqNum()
		return s.sendReject(seq, rejectErr(RejectRequiredTagMissing, TagBeginSeqNo))
	}
	end, err := msg.Body.GetInt(TagEndSeqNo)
	if err != nil {
		seq, _ := msg.SeqNum()
		return s.sendReject(seq, rejectErr(RejectRequiredTagMissing, TagEndSeqNo))
	}

	last := s.store.NextSenderSeqNum() - 1
	if end == EndSeqNoInfinity || end == EndSeqNoInfinityFIX42 || end > last {
		end = last
	}
	if begin < 1 {
		begin = 1
	}
	s.logger.Info("resend requested",
		slog.Int("begin", begin), slog.Int("end", end))
	if begin > end {
		return nil
	}
	return s.replayRange(begin, end)
}

// replayRange walks [begin, end], replaying stored application messages
// and coalescing everything else into gap-fills.
func (s *Session) replayRange(begin, end int) error {
	var stored []storedEntry
	if s.cfg.PersistMessages {
		var err error
		stored, err = s.loadStored(begin, end)
		if err != nil {
			return err
		}
	}

	next := begin // next sequence number to cover
	gapStart := 0 // first seq of the open gap-fill run, 0 = none
	for _, entry := range stored {
		// Sequence numbers missing from the store join the gap run.
		if gapStart == 0 && entry.seq > next {
			gapStart = next
		}

		if entry.replayable {
			if gapStart != 0 {
				if err := s.sendGapFill(gapStart, entry.seq); err != nil {
					return err
				}
				gapStart = 0
			}
			if err := s.replay(entry.msg); err != nil {
				return err
			}
		} else if gapStart == 0 {
			gapStart = entry.seq
		}
		next = entry.seq + 1
	}

	// Trailing gap: everything after the last replayed message.
	if gapStart == 0 && next <= end {
		gapStart = next
	}
	if gapStart != 0 {
		return s.sendGapFill(gapStart, end+1)
	}
	return nil
}

// storedEntry is one resolved store record.
type storedEntry struct {
	seq        int
	msg        *Message
	replayable bool
}

// loadStored fetches and classifies the stored messages in the range.
// Administrative messages are not replayable (gap-filled instead),
// except stored Reject(3)s when ResendSessionLevelRejects is set.
func (s *Session) loadStored(begin, end int) ([]storedEntry, error) {
	records, err := s.store.Get(begin, end)
	if err != nil {
		return nil, fmt.Errorf("load stored messages [%d,%d]: %w", begin, end, err)
	}

	out := make([]storedEntry, 0, len(records))
	for _, rec := range records {
		msg, parseErr := ParseMessage(rec.Data, s.dd)
		if parseErr != nil {
			s.logger.Error("unparsable stored message",
				slog.Int("seq", rec.Seq), slog.String("error", parseErr.Error()))
			out = append(out, storedEntry{seq: rec.Seq})
			continue
		}
		out = append(out, storedEntry{
			seq:        rec.Seq,
			msg:        msg,
			replayable: s.replayable(msg),
		})
	}
	return out, nil
}

// replayable decides whether a stored message is re-sent verbatim.
func (s *Session) replayable(msg *Message) bool {
	mt, err := msg.MsgType()
	if err != nil {
		return false
	}
	if mt == MsgTypeReject && s.cfg.ResendSessionLevelRejects {
		return true
	}
	return !mt.IsAdmin()
}

// replay re-sends a stored application message with PossDupFlag=Y,
// OrigSendingTime set to the original SendingTime, and a fresh
// SendingTime. The original sequence number is kept.
func (s *Session) replay(msg *Message) error {
	orig := msg.Header.GetOr(TagSendingTime, "")
	msg.Header.SetBool(TagPossDupFlag, true)
	if orig != "" {
		msg.Header.Set(TagOrigSendingTime, orig)
	}
	msg.Header.SetUTCTimestamp(TagSendingTime, s.now(), s.cfg.TimestampPrecision)

	seq, err := msg.SeqNum()
	if err != nil {
		return fmt.Errorf("replay without MsgSeqNum: %w", err)
	}
	s.logger.Debug("replaying message", slog.Int("seq", seq))
	s.sendReplay(msg)
	s.metrics.IncResentMessages(s.cfg.ID)
	return nil
}

// sendGapFill emits a SequenceReset gap-fill covering [atSeq, newSeq):
// MsgSeqNum = atSeq, NewSeqNo = newSeq, PossDupFlag set so a peer that
// already saw the range drops it.
func (s *Session) sendGapFill(atSeq, newSeq int) error {
	gf := NewAdminMessage(MsgTypeSequenceReset)
	now := s.now()
	s.fillHeader(gf, atSeq)
	gf.Header.SetBool(TagPossDupFlag, true)
	gf.Header.SetUTCTimestamp(TagOrigSendingTime, now, s.cfg.TimestampPrecision)
	gf.Body.SetBool(TagGapFillFlag, true)
	gf.Body.SetInt(TagNewSeqNo, newSeq)

	s.logger.Debug("gap fill", slog.Int("at", atSeq), slog.Int("new_seq", newSeq))
	s.sendReplay(gf)
	s.metrics.IncGapFillsSent(s.cfg.ID)
	return nil
}
