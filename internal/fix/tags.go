package fix

import "strconv"

// -------------------------------------------------------------------------
// Tags — numeric field identifiers
// -------------------------------------------------------------------------

// Tag is a FIX field identifier. Tags are positive integers; the session
// layer only names the ones it manipulates directly. Application-level
// tags are resolved through the data dictionary.
type Tag int

// String returns the decimal form used on the wire.
func (t Tag) String() string { return strconv.Itoa(int(t)) }

// Session-layer tags (FIX 4.4 Volume 1, standard header/trailer and
// administrative message fields).
const (
	TagBeginSeqNo             Tag = 7
	TagBeginString            Tag = 8
	TagBodyLength             Tag = 9
	TagCheckSum               Tag = 10
	TagEndSeqNo               Tag = 16
	TagMsgSeqNum              Tag = 34
	TagMsgType                Tag = 35
	TagNewSeqNo               Tag = 36
	TagPossDupFlag            Tag = 43
	TagRefSeqNum              Tag = 45
	TagSenderCompID           Tag = 49
	TagSenderSubID            Tag = 50
	TagSendingTime            Tag = 52
	TagTargetCompID           Tag = 56
	TagTargetSubID            Tag = 57
	TagText                   Tag = 58
	TagSignature              Tag = 89
	TagSignatureLength        Tag = 93
	TagPossResend             Tag = 97
	TagEncryptMethod          Tag = 98
	TagHeartBtInt             Tag = 108
	TagTestReqID              Tag = 112
	TagOrigSendingTime        Tag = 122
	TagGapFillFlag            Tag = 123
	TagResetSeqNumFlag        Tag = 141
	TagSenderLocationID       Tag = 142
	TagTargetLocationID       Tag = 143
	TagLastMsgSeqNumProcessed Tag = 369
	TagRefTagID               Tag = 371
	TagRefMsgType             Tag = 372
	TagSessionRejectReason    Tag = 373
	TagBusinessRejectRefID    Tag = 379
	TagBusinessRejectReason   Tag = 380
	TagDefaultApplVerID       Tag = 1137
)

// EncryptMethodNone is the only EncryptMethod(98) value the engine emits.
// Encryption, when used, is delegated to the TLS transport.
const EncryptMethodNone = "0"

// -------------------------------------------------------------------------
// MsgType — tag 35 values
// -------------------------------------------------------------------------

// MsgType is the value of tag 35, selecting the message class.
type MsgType string

// Administrative message types (FIX 4.4 Volume 2: Session Protocol).
const (
	MsgTypeHeartbeat             MsgType = "0"
	MsgTypeTestRequest           MsgType = "1"
	MsgTypeResendRequest         MsgType = "2"
	MsgTypeReject                MsgType = "3"
	MsgTypeSequenceReset         MsgType = "4"
	MsgTypeLogout                MsgType = "5"
	MsgTypeLogon                 MsgType = "A"
	MsgTypeBusinessMessageReject MsgType = "j"
)

// IsAdmin reports whether the message type is a session-level
// administrative message. BusinessMessageReject(j) is an application
// message by the FIX taxonomy even though the engine can emit it.
func (m MsgType) IsAdmin() bool {
	if len(m) != 1 {
		return false
	}
	switch m {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	default:
		return false
	}
}

// -------------------------------------------------------------------------
// BeginString — tag 8 values
// -------------------------------------------------------------------------

// Accepted BeginString(8) values. FIXT.1.1 sessions additionally carry
// DefaultApplVerID(1137) in the Logon.
const (
	BeginStringFIX40   = "FIX.4.0"
	BeginStringFIX41   = "FIX.4.1"
	BeginStringFIX42   = "FIX.4.2"
	BeginStringFIX43   = "FIX.4.3"
	BeginStringFIX44   = "FIX.4.4"
	BeginStringFIX50   = "FIX.5.0"
	BeginStringFIX50S1 = "FIX.5.0SP1"
	BeginStringFIX50S2 = "FIX.5.0SP2"
	BeginStringFIXT11  = "FIXT.1.1"
)

// knownBeginStrings is the closed set of supported protocol versions.
var knownBeginStrings = map[string]bool{
	BeginStringFIX40:   true,
	BeginStringFIX41:   true,
	BeginStringFIX42:   true,
	BeginStringFIX43:   true,
	BeginStringFIX44:   true,
	BeginStringFIX50:   true,
	BeginStringFIX50S1: true,
	BeginStringFIX50S2: true,
	BeginStringFIXT11:  true,
}

// ValidBeginString reports whether bs names a supported FIX version.
func ValidBeginString(bs string) bool { return knownBeginStrings[bs] }

// IsFIXT reports whether bs selects the FIXT transport (FIX 5.0 family).
func IsFIXT(bs string) bool {
	return len(bs) >= 4 && bs[:4] == "FIXT"
}

// EndSeqNoInfinity is the EndSeqNo(16) value meaning "all messages after
// BeginSeqNo". FIX 4.2 used 999999; 4.3 and later use 0. The engine
// accepts both on receipt.
const (
	EndSeqNoInfinity      = 0
	EndSeqNoInfinityFIX42 = 999999
)
