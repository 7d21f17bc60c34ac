package fix

import (
	"bytes"
	"strconv"
)

// -------------------------------------------------------------------------
// Message — header, body, trailer in document order
// -------------------------------------------------------------------------

// Message is a FIX message: three field maps serialized in document
// order. BodyLength(9) and CheckSum(10) are computed during
// serialization and never need to be set by callers.
type Message struct {
	Header  FieldMap
	Body    FieldMap
	Trailer FieldMap

	// raw holds the wire bytes a parsed message came from; nil for
	// locally built messages.
	raw []byte
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{}
}

// NewAdminMessage returns a message with MsgType(35) preset.
func NewAdminMessage(msgType MsgType) *Message {
	m := NewMessage()
	m.Header.Set(TagMsgType, string(msgType))
	return m
}

// MsgType returns the MsgType(35) header value.
func (m *Message) MsgType() (MsgType, error) {
	v, err := m.Header.Get(TagMsgType)
	if err != nil {
		return "", err
	}
	return MsgType(v), nil
}

// SeqNum returns the MsgSeqNum(34) header value.
func (m *Message) SeqNum() (int, error) {
	return m.Header.GetInt(TagMsgSeqNum)
}

// IsAdmin reports whether the message is a session-level admin message.
func (m *Message) IsAdmin() bool {
	mt, err := m.MsgType()
	return err == nil && mt.IsAdmin()
}

// PossDup reports whether PossDupFlag(43) is set to Y.
func (m *Message) PossDup() bool {
	v, err := m.Header.GetBool(TagPossDupFlag)
	return err == nil && v
}

// Raw returns the wire bytes this message was parsed from, or nil.
func (m *Message) Raw() []byte { return m.raw }

// -------------------------------------------------------------------------
// Serialization
// -------------------------------------------------------------------------

// Bytes serializes the message: header fields with the canonical
// 8,9,35 prefix, body, then trailer ending in CheckSum(10).
// BodyLength and CheckSum are recomputed on every call.
func (m *Message) Bytes() []byte {
	// Serialize everything after BodyLength's SOH first, so its byte
	// count becomes the BodyLength value. BeginString, BodyLength, and
	// CheckSum lingering from a parse are re-emitted by the frame.
	var inner bytes.Buffer
	if m.Header.Has(TagMsgType) {
		writeField(&inner, TagMsgType, m.Header.GetOr(TagMsgType, ""))
	}
	for _, tag := range m.Header.Tags() {
		switch tag {
		case TagBeginString, TagBodyLength, TagMsgType:
			continue
		}
		m.Header.writeOne(&inner, tag)
	}
	m.Body.write(&inner)
	for _, tag := range m.Trailer.Tags() {
		if tag == TagCheckSum {
			continue
		}
		m.Trailer.writeOne(&inner, tag)
	}

	var out bytes.Buffer
	out.Grow(inner.Len() + 32)
	writeField(&out, TagBeginString, m.Header.GetOr(TagBeginString, BeginStringFIX44))
	writeField(&out, TagBodyLength, strconv.Itoa(inner.Len()))
	out.Write(inner.Bytes())
	writeField(&out, TagCheckSum, FormatChecksum(Checksum(out.Bytes())))
	return out.Bytes()
}

// String renders the framed message with SOH shown as '|', the
// conventional log form.
func (m *Message) String() string {
	b := m.Bytes()
	out := make([]byte, len(b))
	for i, c := range b {
		if c == SOH {
			c = '|'
		}
		out[i] = c
	}
	return string(out)
}
