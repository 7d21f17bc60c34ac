package fix

import (
	"bytes"
	"strconv"

	"github.com/fixwire/fixd/internal/fix/dict"
)

// -------------------------------------------------------------------------
// Dictionary-driven message parsing
// -------------------------------------------------------------------------

// token is one tag=value record from the wire.
type token struct {
	tag   Tag
	value string
}

// tokenize splits a framed message at SOH boundaries and each record at
// its first '='. A record without '=' or with a non-numeric tag fails
// with InvalidTagNumber.
func tokenize(raw []byte) ([]token, error) {
	var out []token
	for len(raw) > 0 {
		sohAt := bytes.IndexByte(raw, SOH)
		if sohAt < 0 {
			// Trailing bytes without SOH: treat as a final record.
			sohAt = len(raw)
		}
		record := raw[:sohAt]
		if sohAt < len(raw) {
			raw = raw[sohAt+1:]
		} else {
			raw = nil
		}
		if len(record) == 0 {
			continue
		}
		eqAt := bytes.IndexByte(record, '=')
		if eqAt <= 0 {
			return nil, rejectErr(RejectInvalidTagNumber, 0)
		}
		n, err := strconv.Atoi(string(record[:eqAt]))
		if err != nil || n <= 0 {
			return nil, rejectErr(RejectInvalidTagNumber, 0)
		}
		out = append(out, token{tag: Tag(n), value: string(record[eqAt+1:])})
	}
	return out, nil
}

// ParseMessage builds a Message from framed bytes, placing each field in
// header, body, or trailer by dictionary membership and expanding
// repeating groups by the message type's group definitions.
//
// Structural validation (required fields, enums, types) is a separate
// pass; see validateMessage. Parsing only fails on errors that make the
// message unrepresentable: unparsable tags and group count mismatches.
func ParseMessage(raw []byte, dd *dict.Dictionary) (*Message, error) {
	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}

	msg := NewMessage()
	msg.raw = raw

	msgType := ""
	for _, t := range tokens {
		if t.tag == TagMsgType {
			msgType = t.value
			break
		}
	}
	bodyDef, _ := dd.MessageDef(msgType)

	i := 0
	for i < len(tokens) {
		t := tokens[i]
		switch {
		case dd.IsHeaderField(int(t.tag)):
			msg.Header.Set(t.tag, t.value)
			i++
		case dd.IsTrailerField(int(t.tag)):
			msg.Trailer.Set(t.tag, t.value)
			i++
		default:
			if bodyDef != nil {
				if gdef, ok := bodyDef.Group(int(t.tag)); ok {
					next, err := parseGroup(tokens, i, gdef, &msg.Body)
					if err != nil {
						return nil, err
					}
					i = next
					continue
				}
			}
			msg.Body.Set(t.tag, t.value)
			i++
		}
	}
	return msg, nil
}

// parseGroup consumes a repeating group starting at the counter token.
// Fields are consumed into the current instance until a tag appears that
// does not belong to the group's allowed set; the delimiter tag reopens
// a new instance. Nested groups recurse. Returns the index of the first
// unconsumed token.
func parseGroup(tokens []token, i int, gdef *dict.Group, into *FieldMap) (int, error) {
	counter := tokens[i]
	declared, err := strconv.Atoi(counter.value)
	if err != nil || declared < 0 {
		return 0, rejectErr(RejectIncorrectDataFormat, counter.tag)
	}
	i++

	g := NewGroup(counter.tag, Tag(gdef.DelimiterTag))
	var inst *FieldMap

	for i < len(tokens) {
		t := tokens[i]
		if int(t.tag) == gdef.DelimiterTag {
			inst = g.Add()
			inst.Set(t.tag, t.value)
			i++
			continue
		}
		if inst == nil {
			// First field is not the delimiter: the group body is
			// malformed (or empty with trailing fields).
			break
		}
		if nested, ok := gdef.Group(int(t.tag)); ok {
			next, err := parseGroup(tokens, i, nested, inst)
			if err != nil {
				return 0, err
			}
			i = next
			continue
		}
		if !gdef.Allows(int(t.tag)) {
			break
		}
		inst.Set(t.tag, t.value)
		i++
	}

	if g.Len() != declared {
		return 0, &RejectError{
			Reason: RejectValueIsIncorrect,
			RefTag: counter.tag,
			Text:   "Incorrect NumInGroup count for repeating group",
		}
	}
	into.SetGroup(g)
	return i, nil
}
