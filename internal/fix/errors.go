package fix

import (
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Reject taxonomy — SessionRejectReason(373)
// -------------------------------------------------------------------------

// RejectReason is the SessionRejectReason(373) code carried on a
// session-level Reject(3). Values are the wire encoding.
type RejectReason int

const (
	// RejectInvalidTagNumber indicates a tag unknown to the data dictionary.
	RejectInvalidTagNumber RejectReason = 0

	// RejectRequiredTagMissing indicates a required field was absent.
	RejectRequiredTagMissing RejectReason = 1

	// RejectTagNotDefinedForMessage indicates a known tag appeared in a
	// message type that does not allow it.
	RejectTagNotDefinedForMessage RejectReason = 2

	// RejectUndefinedTag indicates a tag outside the dictionary entirely
	// (user-defined range, when user-defined fields are checked).
	RejectUndefinedTag RejectReason = 3

	// RejectTagWithoutValue indicates an empty value where one is required.
	RejectTagWithoutValue RejectReason = 4

	// RejectValueIsIncorrect indicates an enum violation, or a reset-mode
	// SequenceReset with a non-increasing NewSeqNo.
	RejectValueIsIncorrect RejectReason = 5

	// RejectIncorrectDataFormat indicates a typed conversion failure.
	RejectIncorrectDataFormat RejectReason = 6

	// RejectCompIDProblem indicates a SenderCompID/TargetCompID mismatch.
	RejectCompIDProblem RejectReason = 9

	// RejectSendingTimeAccuracy indicates SendingTime drift beyond MaxLatency.
	RejectSendingTimeAccuracy RejectReason = 10

	// RejectInvalidMsgType indicates a MsgType unknown to the dictionary.
	RejectInvalidMsgType RejectReason = 11
)

// String returns the conventional FIX description for the reason.
func (r RejectReason) String() string {
	switch r {
	case RejectInvalidTagNumber:
		return "Invalid tag number"
	case RejectRequiredTagMissing:
		return "Required tag missing"
	case RejectTagNotDefinedForMessage:
		return "Tag not defined for this message type"
	case RejectUndefinedTag:
		return "Undefined tag"
	case RejectTagWithoutValue:
		return "Tag specified without a value"
	case RejectValueIsIncorrect:
		return "Value is incorrect (out of range) for this tag"
	case RejectIncorrectDataFormat:
		return "Incorrect data format for value"
	case RejectCompIDProblem:
		return "CompID problem"
	case RejectSendingTimeAccuracy:
		return "SendingTime accuracy problem"
	case RejectInvalidMsgType:
		return "Invalid MsgType"
	default:
		return fmt.Sprintf("SessionRejectReason(%d)", int(r))
	}
}

// RejectError is a protocol violation that the engine answers with a
// session-level Reject(3), citing the offending tag when known.
type RejectError struct {
	// Reason is the SessionRejectReason(373) to emit.
	Reason RejectReason

	// RefTag is the tag in error; zero when unknown.
	RefTag Tag

	// Text overrides the default Text(58); empty uses Reason.String().
	Text string
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	if e.Text != "" {
		return e.Text
	}
	if e.RefTag != 0 {
		return fmt.Sprintf("%s (tag %d)", e.Reason, e.RefTag)
	}
	return e.Reason.String()
}

// rejectErr is shorthand for constructing a RejectError.
func rejectErr(reason RejectReason, tag Tag) *RejectError {
	return &RejectError{Reason: reason, RefTag: tag}
}

// -------------------------------------------------------------------------
// Field access errors
// -------------------------------------------------------------------------

// Sentinel errors for field map access and conversion.
var (
	// ErrFieldNotFound indicates the requested tag is not present.
	ErrFieldNotFound = errors.New("field not found")

	// ErrGroupNotFound indicates no repeating group exists for the counter tag.
	ErrGroupNotFound = errors.New("repeating group not found")

	// ErrIncorrectFormat indicates a value failed typed conversion.
	ErrIncorrectFormat = errors.New("incorrect data format for value")
)

// FieldError wraps a field-level failure with the tag it occurred on.
type FieldError struct {
	Tag Tag
	Err error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("tag %d: %v", e.Tag, e.Err)
}

// Unwrap exposes the underlying sentinel for errors.Is.
func (e *FieldError) Unwrap() error { return e.Err }

// fieldErr wraps sentinel err with its tag.
func fieldErr(tag Tag, err error) *FieldError {
	return &FieldError{Tag: tag, Err: err}
}

// -------------------------------------------------------------------------
// Application signalling errors
// -------------------------------------------------------------------------

// Sentinel errors returned by Application callbacks to steer the engine.
var (
	// ErrDoNotSend aborts an outbound send without consuming the
	// sequence number. Returned from ToAdmin or ToApp.
	ErrDoNotSend = errors.New("do not send")

	// ErrLogonReject aborts a pending acceptor-side logon; the engine
	// replies with Logout and disconnects without echoing the Logon.
	ErrLogonReject = errors.New("logon rejected")

	// ErrUnsupportedMessageType causes the engine to answer an inbound
	// application message with BusinessMessageReject(j). Returned from
	// FromApp.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
)

// BusinessRejectReasonUnsupportedMsgType is the BusinessRejectReason(380)
// emitted for ErrUnsupportedMessageType.
const BusinessRejectReasonUnsupportedMsgType = "3"
