// Package dict holds the in-memory FIX data dictionary model: field
// definitions, message shapes, components, and repeating groups. The
// session engine consults it for structural questions and typed
// conversion; validation itself lives with the engine so rejects can
// carry session context.
package dict

// -------------------------------------------------------------------------
// Field types
// -------------------------------------------------------------------------

// FieldType is the declared wire type of a field, driving typed access.
type FieldType uint8

const (
	// TypeString is the default for unrecognized declarations.
	TypeString FieldType = iota

	// TypeBoolean is Y/N.
	TypeBoolean

	// TypeChar is a single character.
	TypeChar

	// TypeInt covers INT, LENGTH, SEQNUM, NUMINGROUP, DAYOFMONTH.
	TypeInt

	// TypeDecimal covers PRICE, QTY, AMT, FLOAT, PERCENTAGE, PRICEOFFSET.
	TypeDecimal

	// TypeDate covers UTCDATEONLY and LOCALMKTDATE.
	TypeDate

	// TypeTime covers UTCTIMEONLY.
	TypeTime

	// TypeDateTime covers UTCTIMESTAMP and TZTIMESTAMP.
	TypeDateTime

	// TypeData is raw data preceded by a length field; its value may
	// contain SOH and is never enum- or format-checked.
	TypeData
)

// typeNames maps dictionary type declarations to FieldType.
var typeNames = map[string]FieldType{
	"STRING":              TypeString,
	"MULTIPLEVALUESTRING": TypeString,
	"MULTIPLESTRINGVALUE": TypeString,
	"MULTIPLECHARVALUE":   TypeString,
	"EXCHANGE":            TypeString,
	"CURRENCY":            TypeString,
	"COUNTRY":             TypeString,
	"LANGUAGE":            TypeString,
	"XMLDATA":             TypeData,
	"DATA":                TypeData,
	"BOOLEAN":             TypeBoolean,
	"CHAR":                TypeChar,
	"INT":                 TypeInt,
	"LENGTH":              TypeInt,
	"SEQNUM":              TypeInt,
	"NUMINGROUP":          TypeInt,
	"DAYOFMONTH":          TypeInt,
	"PRICE":               TypeDecimal,
	"QTY":                 TypeDecimal,
	"AMT":                 TypeDecimal,
	"FLOAT":               TypeDecimal,
	"PERCENTAGE":          TypeDecimal,
	"PRICEOFFSET":         TypeDecimal,
	"UTCDATEONLY":         TypeDate,
	"UTCDATE":             TypeDate,
	"LOCALMKTDATE":        TypeDate,
	"MONTHYEAR":           TypeString,
	"UTCTIMEONLY":         TypeTime,
	"UTCTIMESTAMP":        TypeDateTime,
	"TZTIMESTAMP":         TypeDateTime,
	"TZTIMEONLY":          TypeTime,
}

// TypeFromName resolves a dictionary type declaration; unknown names
// fall back to TypeString.
func TypeFromName(name string) FieldType {
	if t, ok := typeNames[name]; ok {
		return t
	}
	return TypeString
}

// -------------------------------------------------------------------------
// Model
// -------------------------------------------------------------------------

// Field is a single field definition.
type Field struct {
	// Tag is the numeric identifier.
	Tag int

	// Name is the symbolic name from the dictionary.
	Name string

	// Type drives typed conversion and format checks.
	Type FieldType

	// Enums maps allowed wire values to their descriptions. Empty means
	// the field is unconstrained.
	Enums map[string]string
}

// Map describes the shape of a message section: the set of allowed
// fields (transitively through components), which of them are required,
// and any repeating groups keyed by counter tag.
type Map struct {
	required []int
	fields   map[int]bool
	groups   map[int]*Group
}

// NewMap returns an empty shape.
func NewMap() *Map {
	return &Map{fields: make(map[int]bool), groups: make(map[int]*Group)}
}

// Allows reports whether tag may appear in this section.
func (m *Map) Allows(tag int) bool { return m.fields[tag] }

// Required returns the required tags in declaration order. The slice is
// shared; callers must not mutate it.
func (m *Map) Required() []int { return m.required }

// Group returns the group definition for a counter tag.
func (m *Map) Group(counter int) (*Group, bool) {
	g, ok := m.groups[counter]
	return g, ok
}

// Groups returns the group definitions keyed by counter tag.
func (m *Map) Groups() map[int]*Group { return m.groups }

// addField records an allowed field, marking it required when req.
func (m *Map) addField(tag int, req bool) {
	if req {
		m.required = append(m.required, tag)
	}
	m.fields[tag] = true
}

// addGroup records a repeating group under its counter tag.
func (m *Map) addGroup(g *Group) {
	m.groups[g.CounterTag] = g
}

// Group is a repeating group definition: the counter tag, the delimiter
// tag that opens each instance, and the inner shape (which may nest
// further groups).
type Group struct {
	// CounterTag is the NumInGroup field announcing the count.
	CounterTag int

	// DelimiterTag marks the start of each repetition: the first field
	// declared inside the group.
	DelimiterTag int

	// Required marks the group itself required in its parent.
	Required bool

	// Map is the inner shape: allowed and required fields, nested groups.
	*Map
}

// Dictionary is the full data dictionary for one BeginString: field
// definitions by tag and name, message shapes by MsgType, and the
// header and trailer shapes.
type Dictionary struct {
	// Version is the dictionary's protocol version, e.g. "FIX.4.4".
	Version string

	fieldsByTag  map[int]*Field
	fieldsByName map[string]*Field
	messages     map[string]*Map
	header       *Map
	trailer      *Map
}

// New returns an empty dictionary for version.
func New(version string) *Dictionary {
	return &Dictionary{
		Version:      version,
		fieldsByTag:  make(map[int]*Field),
		fieldsByName: make(map[string]*Field),
		messages:     make(map[string]*Map),
		header:       NewMap(),
		trailer:      NewMap(),
	}
}

// FieldByTag returns the field definition for tag.
func (d *Dictionary) FieldByTag(tag int) (*Field, bool) {
	f, ok := d.fieldsByTag[tag]
	return f, ok
}

// FieldByName returns the field definition for a symbolic name.
func (d *Dictionary) FieldByName(name string) (*Field, bool) {
	f, ok := d.fieldsByName[name]
	return f, ok
}

// FieldType returns the declared type for tag; TypeString for unknown
// tags, with ok=false.
func (d *Dictionary) FieldType(tag int) (FieldType, bool) {
	f, ok := d.fieldsByTag[tag]
	if !ok {
		return TypeString, false
	}
	return f.Type, true
}

// IsHeaderField reports whether tag belongs to the standard header.
func (d *Dictionary) IsHeaderField(tag int) bool { return d.header.Allows(tag) }

// IsTrailerField reports whether tag belongs to the standard trailer.
func (d *Dictionary) IsTrailerField(tag int) bool { return d.trailer.Allows(tag) }

// IsMsgType reports whether the dictionary defines msgType.
func (d *Dictionary) IsMsgType(msgType string) bool {
	_, ok := d.messages[msgType]
	return ok
}

// MessageDef returns the body shape for msgType.
func (d *Dictionary) MessageDef(msgType string) (*Map, bool) {
	m, ok := d.messages[msgType]
	return m, ok
}

// Header returns the header shape.
func (d *Dictionary) Header() *Map { return d.header }

// Trailer returns the trailer shape.
func (d *Dictionary) Trailer() *Map { return d.trailer }

// GroupInfo returns the group definition for a counter tag within a
// message's body.
func (d *Dictionary) GroupInfo(msgType string, counter int) (*Group, bool) {
	m, ok := d.messages[msgType]
	if !ok {
		return nil, false
	}
	return m.Group(counter)
}

// addField registers a field definition under both indexes.
func (d *Dictionary) addField(f *Field) {
	d.fieldsByTag[f.Tag] = f
	d.fieldsByName[f.Name] = f
}

// addMessage registers a message shape.
func (d *Dictionary) addMessage(msgType string, m *Map) {
	d.messages[msgType] = m
}
