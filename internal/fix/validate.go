package fix

import (
	"strconv"

	"github.com/fixwire/fixd/internal/fix/dict"
)

// -------------------------------------------------------------------------
// Structural validation against the data dictionary
// -------------------------------------------------------------------------

// UserDefinedTagMin is the first tag of the user-defined range. Unknown
// tags at or above it are tolerated unless CheckUserDefinedFields is set.
const UserDefinedTagMin = 5000

// ValidationSettings are the per-session parser strictness knobs.
type ValidationSettings struct {
	// CheckFieldsOutOfOrder is carried from the settings file; the parser
	// does not consult it. Fields are placed by dictionary membership, so
	// ordering problems surface as misplaced required fields.
	CheckFieldsOutOfOrder bool

	// CheckFieldsHaveValues rejects empty field values.
	CheckFieldsHaveValues bool

	// CheckUserDefinedFields extends unknown-tag rejection into the
	// user-defined range (5000+).
	CheckUserDefinedFields bool

	// AllowUnknownMessageFields tolerates known tags in messages that do
	// not declare them.
	AllowUnknownMessageFields bool
}

// DefaultValidationSettings mirrors the strict defaults of the settings
// file: everything checked, nothing unknown tolerated.
func DefaultValidationSettings() ValidationSettings {
	return ValidationSettings{
		CheckFieldsOutOfOrder:     true,
		CheckFieldsHaveValues:     true,
		CheckUserDefinedFields:    true,
		AllowUnknownMessageFields: false,
	}
}

// validateMessage enforces dictionary structure on a parsed message:
// required fields present, no unknown fields, enum membership, group
// counts, and type conformance. The first violation is returned as a
// *RejectError.
func validateMessage(msg *Message, dd *dict.Dictionary, vs ValidationSettings) error {
	msgType, err := msg.MsgType()
	if err != nil {
		return rejectErr(RejectRequiredTagMissing, TagMsgType)
	}
	bodyDef, ok := dd.MessageDef(string(msgType))
	if !ok {
		return rejectErr(RejectInvalidMsgType, TagMsgType)
	}

	if err := validateSection(&msg.Header, dd, dd.Header(), vs); err != nil {
		return err
	}
	if err := validateSection(&msg.Trailer, dd, dd.Trailer(), vs); err != nil {
		return err
	}
	if err := validateBody(&msg.Body, dd, bodyDef, vs); err != nil {
		return err
	}

	if err := requireAll(dd.Header().Required(), &msg.Header); err != nil {
		return err
	}
	if err := requireAll(dd.Trailer().Required(), &msg.Trailer); err != nil {
		return err
	}
	return requireAll(bodyDef.Required(), &msg.Body)
}

// requireAll checks that every required tag is present in the section.
func requireAll(required []int, section *FieldMap) error {
	for _, tag := range required {
		if !section.Has(Tag(tag)) && !section.HasGroup(Tag(tag)) {
			return rejectErr(RejectRequiredTagMissing, Tag(tag))
		}
	}
	return nil
}

// validateSection checks header/trailer fields: known to the dictionary,
// allowed in the section, non-empty, format-conformant.
func validateSection(section *FieldMap, dd *dict.Dictionary, shape *dict.Map, vs ValidationSettings) error {
	for _, tag := range section.Tags() {
		value := section.GetOr(tag, "")
		if err := validateField(tag, value, dd, vs); err != nil {
			return err
		}
		if _, known := dd.FieldByTag(int(tag)); known && !shape.Allows(int(tag)) {
			return rejectErr(RejectTagNotDefinedForMessage, tag)
		}
	}
	return nil
}

// validateBody checks body fields and recurses into repeating groups.
func validateBody(body *FieldMap, dd *dict.Dictionary, shape *dict.Map, vs ValidationSettings) error {
	for _, tag := range body.Tags() {
		if g, err := body.GetGroup(tag); err == nil {
			gdef, ok := shape.Group(int(tag))
			if !ok {
				return rejectErr(RejectTagNotDefinedForMessage, tag)
			}
			for i := 0; i < g.Len(); i++ {
				if err := validateBody(g.Instance(i), dd, gdef.Map, vs); err != nil {
					return err
				}
				if err := requireAll(gdef.Map.Required(), g.Instance(i)); err != nil {
					return err
				}
			}
			continue
		}

		value := body.GetOr(tag, "")
		if err := validateField(tag, value, dd, vs); err != nil {
			return err
		}
		if _, known := dd.FieldByTag(int(tag)); known {
			if !shape.Allows(int(tag)) && !vs.AllowUnknownMessageFields {
				return rejectErr(RejectTagNotDefinedForMessage, tag)
			}
		}
	}
	return nil
}

// validateField checks a single field: dictionary membership, non-empty
// value, enum membership, and declared-type conformance.
func validateField(tag Tag, value string, dd *dict.Dictionary, vs ValidationSettings) error {
	def, known := dd.FieldByTag(int(tag))
	if !known {
		if int(tag) >= UserDefinedTagMin {
			if vs.CheckUserDefinedFields {
				return rejectErr(RejectUndefinedTag, tag)
			}
			return nil
		}
		return rejectErr(RejectInvalidTagNumber, tag)
	}

	if value == "" {
		if vs.CheckFieldsHaveValues {
			return rejectErr(RejectTagWithoutValue, tag)
		}
		return nil
	}

	if len(def.Enums) > 0 && def.Type != dict.TypeData {
		if _, ok := def.Enums[value]; !ok {
			return rejectErr(RejectValueIsIncorrect, tag)
		}
	}

	return checkFormat(tag, value, def.Type)
}

// checkFormat verifies value conforms to the declared field type.
func checkFormat(tag Tag, value string, ft dict.FieldType) error {
	bad := func() error { return rejectErr(RejectIncorrectDataFormat, tag) }
	switch ft {
	case dict.TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return bad()
		}
	case dict.TypeDecimal:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return bad()
		}
	case dict.TypeBoolean:
		if value != "Y" && value != "N" {
			return bad()
		}
	case dict.TypeChar:
		if len(value) != 1 {
			return bad()
		}
	case dict.TypeDateTime:
		if _, err := ParseUTCTimestamp(value); err != nil {
			return bad()
		}
	case dict.TypeDate:
		if _, err := ParseUTCDate(value); err != nil {
			return bad()
		}
	case dict.TypeTime:
		if _, err := ParseUTCTimeOnly(value); err != nil {
			return bad()
		}
	}
	return nil
}
