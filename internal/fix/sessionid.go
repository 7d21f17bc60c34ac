package fix

import "strings"

// -------------------------------------------------------------------------
// SessionID — logical session identity
// -------------------------------------------------------------------------

// WildcardCompID matches any comp id when used in a configured session's
// identity. Lookup prefers exact matches over wildcards.
const WildcardCompID = "*"

// SessionID identifies a logical FIX session by BeginString and the
// comp/sub/location id tuple. Equality is structural; empty sub and
// location ids are simply absent from the canonical form.
type SessionID struct {
	BeginString      string
	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string

	// Qualifier distinguishes otherwise-identical sessions configured
	// more than once (e.g. separate primary and backup connections).
	Qualifier string
}

// String returns the canonical display form:
// "FIX.4.4:SENDER->TARGET" with sub/location ids appended when present.
func (id SessionID) String() string {
	var b strings.Builder
	b.WriteString(id.BeginString)
	b.WriteString(":")
	writeParty(&b, id.SenderCompID, id.SenderSubID, id.SenderLocationID)
	b.WriteString("->")
	writeParty(&b, id.TargetCompID, id.TargetSubID, id.TargetLocationID)
	if id.Qualifier != "" {
		b.WriteString(":")
		b.WriteString(id.Qualifier)
	}
	return b.String()
}

// writeParty appends comp[/sub[/loc]] to b.
func writeParty(b *strings.Builder, comp, sub, loc string) {
	b.WriteString(comp)
	if sub != "" {
		b.WriteString("/")
		b.WriteString(sub)
	}
	if loc != "" {
		b.WriteString("/")
		b.WriteString(loc)
	}
}

// Prefix returns the file-name-safe form used to key on-disk store
// files: "FIX.4.4-SENDER-TARGET", with sub/location ids interleaved
// when present.
func (id SessionID) Prefix() string {
	var b strings.Builder
	b.WriteString(id.BeginString)
	b.WriteString("-")
	b.WriteString(id.SenderCompID)
	for _, part := range []string{id.SenderSubID, id.SenderLocationID} {
		if part != "" {
			b.WriteString("-")
			b.WriteString(part)
		}
	}
	b.WriteString("-")
	b.WriteString(id.TargetCompID)
	for _, part := range []string{id.TargetSubID, id.TargetLocationID} {
		if part != "" {
			b.WriteString("-")
			b.WriteString(part)
		}
	}
	if id.Qualifier != "" {
		b.WriteString("-")
		b.WriteString(id.Qualifier)
	}
	return b.String()
}

// IsFIXT reports whether the session runs the FIXT transport.
func (id SessionID) IsFIXT() bool { return IsFIXT(id.BeginString) }

// Reverse returns the peer's view of this session: sender and target
// swapped. Used to derive the expected inbound header.
func (id SessionID) Reverse() SessionID {
	return SessionID{
		BeginString:      id.BeginString,
		SenderCompID:     id.TargetCompID,
		SenderSubID:      id.TargetSubID,
		SenderLocationID: id.TargetLocationID,
		TargetCompID:     id.SenderCompID,
		TargetSubID:      id.SenderSubID,
		TargetLocationID: id.SenderLocationID,
		Qualifier:        id.Qualifier,
	}
}

// MatchScore scores how well a configured identity matches a concrete
// inbound identity. Exact comp-id matches outrank wildcards; any
// mismatch returns -1. Higher scores win acceptor session selection.
func (id SessionID) MatchScore(inbound SessionID) int {
	if id.BeginString != inbound.BeginString {
		return -1
	}
	score := 0
	for _, pair := range [][2]string{
		{id.SenderCompID, inbound.SenderCompID},
		{id.TargetCompID, inbound.TargetCompID},
	} {
		configured, got := pair[0], pair[1]
		switch {
		case configured == WildcardCompID:
			// wildcard matches anything, scores nothing
		case configured == got:
			score += 2
		default:
			return -1
		}
	}
	return score
}
