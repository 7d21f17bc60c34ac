package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// -------------------------------------------------------------------------
// Framer — streaming reassembly of length-prefixed FIX messages
// -------------------------------------------------------------------------

// DefaultMaxMessageSize is the framer's buffer ceiling. A buffer growing
// beyond it without completing a message fails with ErrMessageTooLarge
// and the framer resynchronizes at the next start-of-message.
const DefaultMaxMessageSize = 64 * 1024

// Sentinel errors surfaced by the framer.
var (
	// ErrMessageTooLarge indicates the buffer exceeded the configured
	// maximum without yielding a complete message.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Byte sequences that delimit the framing prefix and suffix.
var (
	beginStringPrefix = []byte("8=")
	bodyLengthMarker  = []byte("\x019=")
	checkSumMarker    = []byte("\x0110=")
	msgTypeMarker     = []byte("\x0135=")
)

// Framer reassembles complete FIX messages from an arbitrary byte stream.
//
// Feed appends raw bytes; TryNext yields the next complete message, or
// nil when more bytes are needed. A message is complete when the buffer
// holds "8=", then "9=<digits><SOH>" announcing BodyLength N, then at
// least N more bytes, then the first "<SOH>10=" starting at or after the
// N-th of them, then the checksum field's own SOH. A BodyLength that
// does not end right before "10=" still frames; the engine rejects it.
// Bytes before "8=" are discarded as garbage.
//
// The framer validates neither the checksum nor BodyLength arithmetic;
// the session engine does, so a malformed message can still be rejected
// with its sequence number.
type Framer struct {
	buf []byte
	max int
}

// NewFramer returns a framer with the default size ceiling.
func NewFramer() *Framer {
	return &Framer{max: DefaultMaxMessageSize}
}

// NewFramerSize returns a framer with a custom size ceiling.
// A non-positive max falls back to the default.
func NewFramerSize(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return &Framer{max: max}
}

// Feed appends bytes to the reassembly buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Pending returns the number of buffered, unconsumed bytes.
func (f *Framer) Pending() int { return len(f.buf) }

// FeedFrom moves other's buffered bytes into f, draining other. Used
// when connection ownership passes between framers during session
// selection.
func (f *Framer) FeedFrom(other *Framer) {
	f.buf = append(f.buf, other.buf...)
	other.buf = other.buf[:0]
}

// Clear drops all buffered bytes.
func (f *Framer) Clear() { f.buf = f.buf[:0] }

// TryNext returns the next complete message, or nil when the buffer does
// not yet hold one. On ErrMessageTooLarge the buffer has been
// resynchronized to the next candidate start-of-message.
func (f *Framer) TryNext() ([]byte, error) {
	msg := f.next()
	if msg != nil {
		return msg, nil
	}
	if len(f.buf) > f.max {
		f.resync()
		return nil, ErrMessageTooLarge
	}
	return nil, nil
}

// next extracts one message from the buffer, or returns nil.
func (f *Framer) next() []byte {
	if len(f.buf) < len(beginStringPrefix) {
		return nil
	}

	// Discard garbage before the start-of-message.
	start := bytes.Index(f.buf, beginStringPrefix)
	if start < 0 {
		return nil
	}
	if start > 0 {
		f.buf = f.buf[start:]
	}

	// Locate "9=<digits><SOH>" and decode BodyLength.
	bodyStart, bodyLen, ok := extractLength(f.buf)
	if !ok {
		return nil
	}

	// The body must be fully buffered; the CheckSum field is the first
	// "<SOH>10=" starting at or after the body's final byte.
	end := bodyStart + bodyLen
	if len(f.buf) < end {
		return nil
	}
	rest := f.buf[end-1:]
	ckAt := bytes.Index(rest, checkSumMarker)
	if ckAt < 0 {
		return nil
	}
	// Skip past "<SOH>10=" and find the terminating SOH.
	ckValStart := end - 1 + ckAt + len(checkSumMarker)
	termAt := bytes.IndexByte(f.buf[ckValStart:], SOH)
	if termAt < 0 {
		return nil
	}
	msgEnd := ckValStart + termAt + 1

	msg := make([]byte, msgEnd)
	copy(msg, f.buf[:msgEnd])
	f.buf = f.buf[msgEnd:]
	return msg
}

// resync discards up to and including the current "8=" so scanning can
// resume at the next candidate start-of-message.
func (f *Framer) resync() {
	at := bytes.Index(f.buf[len(beginStringPrefix):], beginStringPrefix)
	if at < 0 {
		f.buf = f.buf[:0]
		return
	}
	f.buf = f.buf[at+len(beginStringPrefix):]
}

// extractLength locates the BodyLength(9) field. It returns the index of
// the first byte after the field's SOH and the decoded length.
func extractLength(buf []byte) (start, length int, ok bool) {
	at := bytes.Index(buf, bodyLengthMarker)
	if at < 0 {
		return 0, 0, false
	}
	valStart := at + len(bodyLengthMarker)
	sohAt := bytes.IndexByte(buf[valStart:], SOH)
	if sohAt < 0 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(string(buf[valStart : valStart+sohAt]))
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return valStart + sohAt + 1, n, true
}

// -------------------------------------------------------------------------
// Version / MsgType probes
// -------------------------------------------------------------------------

// ReadVersion returns the BeginString(8) value of a framed message
// without a full parse. Used to select the dictionary before parsing.
func ReadVersion(msg []byte) (string, bool) {
	at := bytes.Index(msg, beginStringPrefix)
	if at < 0 {
		return "", false
	}
	valStart := at + len(beginStringPrefix)
	sohAt := bytes.IndexByte(msg[valStart:], SOH)
	if sohAt < 0 {
		return "", false
	}
	return string(msg[valStart : valStart+sohAt]), true
}

// ReadMsgType returns the MsgType(35) value of a framed message without
// a full parse.
func ReadMsgType(msg []byte) (MsgType, bool) {
	at := bytes.Index(msg, msgTypeMarker)
	if at < 0 {
		return "", false
	}
	valStart := at + len(msgTypeMarker)
	sohAt := bytes.IndexByte(msg[valStart:], SOH)
	if sohAt < 0 || sohAt == 0 {
		return "", false
	}
	return MsgType(msg[valStart : valStart+sohAt]), true
}

// ReadFieldValue scans a framed message for the first occurrence of
// tag and returns its value without a full parse. Used by the acceptor
// to read the Logon's comp ids before a session is bound.
func ReadFieldValue(msg []byte, tag Tag) (string, bool) {
	marker := append([]byte{SOH}, tag.String()...)
	marker = append(marker, '=')
	at := bytes.Index(msg, marker)
	if at < 0 {
		return "", false
	}
	valStart := at + len(marker)
	sohAt := bytes.IndexByte(msg[valStart:], SOH)
	if sohAt < 0 {
		return "", false
	}
	return string(msg[valStart : valStart+sohAt]), true
}

// -------------------------------------------------------------------------
// Checksum
// -------------------------------------------------------------------------

// Checksum returns the FIX checksum of data: the byte sum modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// FormatChecksum renders a checksum as the zero-padded three-digit
// decimal required by CheckSum(10).
func FormatChecksum(sum byte) string {
	return fmt.Sprintf("%03d", sum)
}

// VerifyChecksum recomputes the checksum of a framed message and compares
// it against the CheckSum(10) field. It also verifies BodyLength(9)
// covers exactly the bytes between its own SOH and the start of "10=".
func VerifyChecksum(msg []byte) error {
	ckAt := bytes.Index(msg, checkSumMarker)
	if ckAt < 0 {
		return rejectErr(RejectValueIsIncorrect, TagCheckSum)
	}
	// ckAt is the SOH ending the body; checksum covers everything
	// through that SOH.
	covered := msg[:ckAt+1]

	valStart := ckAt + len(checkSumMarker)
	sohAt := bytes.IndexByte(msg[valStart:], SOH)
	if sohAt < 0 {
		return rejectErr(RejectValueIsIncorrect, TagCheckSum)
	}
	declared := string(msg[valStart : valStart+sohAt])
	if declared != FormatChecksum(Checksum(covered)) {
		return rejectErr(RejectValueIsIncorrect, TagCheckSum)
	}

	bodyStart, bodyLen, ok := extractLength(msg)
	if !ok || bodyStart+bodyLen != ckAt+1 {
		return rejectErr(RejectValueIsIncorrect, TagBodyLength)
	}
	return nil
}
