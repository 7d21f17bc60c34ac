package dict

// Built-in session-level dictionary. It covers the standard header and
// trailer plus the administrative messages, so a session configured
// without dictionary files can still parse and validate the session
// layer. Application message types are added by the XML dictionaries.

// Standard header tags common to FIX 4.x and FIXT.
var headerTags = []struct {
	tag int
	req bool
}{
	{8, true},     // BeginString
	{9, true},     // BodyLength
	{35, true},    // MsgType
	{49, true},    // SenderCompID
	{56, true},    // TargetCompID
	{34, true},    // MsgSeqNum
	{52, true},    // SendingTime
	{50, false},   // SenderSubID
	{57, false},   // TargetSubID
	{115, false},  // OnBehalfOfCompID
	{128, false},  // DeliverToCompID
	{43, false},   // PossDupFlag
	{97, false},   // PossResend
	{122, false},  // OrigSendingTime
	{142, false},  // SenderLocationID
	{143, false},  // TargetLocationID
	{369, false},  // LastMsgSeqNumProcessed
	{1128, false}, // ApplVerID
	{1129, false}, // CustApplVerID
}

// builtinFields are the field definitions the transport dictionary needs.
var builtinFields = []Field{
	{Tag: 7, Name: "BeginSeqNo", Type: TypeInt},
	{Tag: 8, Name: "BeginString", Type: TypeString},
	{Tag: 9, Name: "BodyLength", Type: TypeInt},
	{Tag: 10, Name: "CheckSum", Type: TypeString},
	{Tag: 16, Name: "EndSeqNo", Type: TypeInt},
	{Tag: 34, Name: "MsgSeqNum", Type: TypeInt},
	{Tag: 35, Name: "MsgType", Type: TypeString},
	{Tag: 36, Name: "NewSeqNo", Type: TypeInt},
	{Tag: 43, Name: "PossDupFlag", Type: TypeBoolean},
	{Tag: 45, Name: "RefSeqNum", Type: TypeInt},
	{Tag: 49, Name: "SenderCompID", Type: TypeString},
	{Tag: 50, Name: "SenderSubID", Type: TypeString},
	{Tag: 52, Name: "SendingTime", Type: TypeDateTime},
	{Tag: 56, Name: "TargetCompID", Type: TypeString},
	{Tag: 57, Name: "TargetSubID", Type: TypeString},
	{Tag: 58, Name: "Text", Type: TypeString},
	{Tag: 89, Name: "Signature", Type: TypeData},
	{Tag: 93, Name: "SignatureLength", Type: TypeInt},
	{Tag: 97, Name: "PossResend", Type: TypeBoolean},
	{Tag: 98, Name: "EncryptMethod", Type: TypeInt},
	{Tag: 108, Name: "HeartBtInt", Type: TypeInt},
	{Tag: 112, Name: "TestReqID", Type: TypeString},
	{Tag: 115, Name: "OnBehalfOfCompID", Type: TypeString},
	{Tag: 122, Name: "OrigSendingTime", Type: TypeDateTime},
	{Tag: 123, Name: "GapFillFlag", Type: TypeBoolean},
	{Tag: 128, Name: "DeliverToCompID", Type: TypeString},
	{Tag: 141, Name: "ResetSeqNumFlag", Type: TypeBoolean},
	{Tag: 142, Name: "SenderLocationID", Type: TypeString},
	{Tag: 143, Name: "TargetLocationID", Type: TypeString},
	{Tag: 369, Name: "LastMsgSeqNumProcessed", Type: TypeInt},
	{Tag: 371, Name: "RefTagID", Type: TypeInt},
	{Tag: 372, Name: "RefMsgType", Type: TypeString},
	{Tag: 373, Name: "SessionRejectReason", Type: TypeInt},
	{Tag: 379, Name: "BusinessRejectRefID", Type: TypeString},
	{Tag: 380, Name: "BusinessRejectReason", Type: TypeInt},
	{Tag: 789, Name: "NextExpectedMsgSeqNum", Type: TypeInt},
	{Tag: 1128, Name: "ApplVerID", Type: TypeString},
	{Tag: 1129, Name: "CustApplVerID", Type: TypeString},
	{Tag: 1137, Name: "DefaultApplVerID", Type: TypeString},
}

// adminShape lists an admin message's fields: required first.
type adminShape struct {
	msgType  string
	required []int
	optional []int
}

var adminShapes = []adminShape{
	{msgType: "0", optional: []int{112}},                                          // Heartbeat
	{msgType: "1", required: []int{112}},                                          // TestRequest
	{msgType: "2", required: []int{7, 16}},                                        // ResendRequest
	{msgType: "3", required: []int{45}, optional: []int{371, 372, 373, 58}},       // Reject
	{msgType: "4", required: []int{36}, optional: []int{123}},                     // SequenceReset
	{msgType: "5", optional: []int{58}},                                           // Logout
	{msgType: "A", required: []int{98, 108}, optional: []int{141, 789, 1137, 58}}, // Logon
	{msgType: "j", required: []int{372, 380}, optional: []int{379, 45, 58}},       // BusinessMessageReject
}

// Transport builds the built-in session-level dictionary for the given
// BeginString. The shape is identical across versions; only Version
// differs so BeginString checks read naturally.
func Transport(beginString string) *Dictionary {
	d := New(beginString)
	for i := range builtinFields {
		f := builtinFields[i]
		d.addField(&f)
	}
	for _, h := range headerTags {
		d.header.addField(h.tag, h.req)
	}
	d.trailer.addField(10, true)
	d.trailer.addField(93, false)
	d.trailer.addField(89, false)

	for _, shape := range adminShapes {
		m := NewMap()
		for _, tag := range shape.required {
			m.addField(tag, true)
		}
		for _, tag := range shape.optional {
			m.addField(tag, false)
		}
		d.addMessage(shape.msgType, m)
	}
	return d
}
