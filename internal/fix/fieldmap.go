package fix

import (
	"bytes"
	"strconv"
	"time"
)

// -------------------------------------------------------------------------
// FieldMap — ordered tag=value container with repeating groups
// -------------------------------------------------------------------------

// FieldMap holds fields and repeating groups with preserved insertion
// order. Re-setting an existing tag overwrites the value but keeps the
// original position, so serialization is stable across mutation.
//
// A FieldMap is not safe for concurrent use; each message is owned by a
// single session goroutine.
type FieldMap struct {
	values map[Tag]string
	groups map[Tag]*Group
	order  []Tag
}

// NewFieldMap returns an empty field map.
func NewFieldMap() *FieldMap {
	return &FieldMap{
		values: make(map[Tag]string),
		groups: make(map[Tag]*Group),
	}
}

// init lazily allocates the maps so the zero value is usable.
func (m *FieldMap) init() {
	if m.values == nil {
		m.values = make(map[Tag]string)
	}
	if m.groups == nil {
		m.groups = make(map[Tag]*Group)
	}
}

// Set stores a string field, appending to the order on first insertion.
func (m *FieldMap) Set(tag Tag, value string) {
	m.init()
	if _, dup := m.values[tag]; !dup {
		if _, grp := m.groups[tag]; !grp {
			m.order = append(m.order, tag)
		}
	}
	m.values[tag] = value
}

// SetInt stores an integer field.
func (m *FieldMap) SetInt(tag Tag, value int) {
	m.Set(tag, strconv.Itoa(value))
}

// SetBool stores a boolean field as Y/N.
func (m *FieldMap) SetBool(tag Tag, value bool) {
	if value {
		m.Set(tag, "Y")
	} else {
		m.Set(tag, "N")
	}
}

// SetUTCTimestamp stores a UTCTimestamp field at the given precision.
func (m *FieldMap) SetUTCTimestamp(tag Tag, t time.Time, p TimestampPrecision) {
	m.Set(tag, FormatUTCTimestamp(t, p))
}

// Has reports whether the tag is present as a plain field.
func (m *FieldMap) Has(tag Tag) bool {
	_, ok := m.values[tag]
	return ok
}

// Get returns the raw string value for tag.
func (m *FieldMap) Get(tag Tag) (string, error) {
	v, ok := m.values[tag]
	if !ok {
		return "", fieldErr(tag, ErrFieldNotFound)
	}
	return v, nil
}

// GetOr returns the value for tag, or def when absent.
func (m *FieldMap) GetOr(tag Tag, def string) string {
	if v, ok := m.values[tag]; ok {
		return v
	}
	return def
}

// GetInt returns the value for tag converted to an integer.
func (m *FieldMap) GetInt(tag Tag) (int, error) {
	v, err := m.Get(tag)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fieldErr(tag, ErrIncorrectFormat)
	}
	return n, nil
}

// GetBool returns the value for tag converted from Y/N.
func (m *FieldMap) GetBool(tag Tag) (bool, error) {
	v, err := m.Get(tag)
	if err != nil {
		return false, err
	}
	switch v {
	case "Y":
		return true, nil
	case "N":
		return false, nil
	default:
		return false, fieldErr(tag, ErrIncorrectFormat)
	}
}

// GetDecimal returns the value for tag converted to a float.
func (m *FieldMap) GetDecimal(tag Tag) (float64, error) {
	v, err := m.Get(tag)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fieldErr(tag, ErrIncorrectFormat)
	}
	return f, nil
}

// GetUTCTimestamp returns the value for tag parsed as a UTCTimestamp.
func (m *FieldMap) GetUTCTimestamp(tag Tag) (time.Time, error) {
	v, err := m.Get(tag)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseUTCTimestamp(v)
	if err != nil {
		return time.Time{}, fieldErr(tag, ErrIncorrectFormat)
	}
	return t, nil
}

// Remove deletes a field or group and its position.
func (m *FieldMap) Remove(tag Tag) {
	_, hadValue := m.values[tag]
	_, hadGroup := m.groups[tag]
	if !hadValue && !hadGroup {
		return
	}
	delete(m.values, tag)
	delete(m.groups, tag)
	for i, t := range m.order {
		if t == tag {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Tags returns the tags in insertion order. The slice is shared; callers
// must not mutate it.
func (m *FieldMap) Tags() []Tag { return m.order }

// Len returns the number of fields and groups.
func (m *FieldMap) Len() int { return len(m.order) }

// Clear removes all fields and groups.
func (m *FieldMap) Clear() {
	m.values = make(map[Tag]string)
	m.groups = make(map[Tag]*Group)
	m.order = m.order[:0]
}

// -------------------------------------------------------------------------
// Repeating groups
// -------------------------------------------------------------------------

// Group is an ordered sequence of group instances keyed by a counter tag.
// Each instance is a FieldMap whose first field is the group's delimiter
// tag. On the wire the count field precedes the first instance.
type Group struct {
	// CounterTag is the NumInGroup field (e.g. NoOrders).
	CounterTag Tag

	// DelimiterTag marks the start of each repetition.
	DelimiterTag Tag

	instances []*FieldMap
}

// NewGroup returns an empty group for counter/delimiter.
func NewGroup(counter, delimiter Tag) *Group {
	return &Group{CounterTag: counter, DelimiterTag: delimiter}
}

// Add appends a new empty instance and returns it.
func (g *Group) Add() *FieldMap {
	inst := NewFieldMap()
	g.instances = append(g.instances, inst)
	return inst
}

// Len returns the number of instances.
func (g *Group) Len() int { return len(g.instances) }

// Instance returns the i-th instance.
func (g *Group) Instance(i int) *FieldMap { return g.instances[i] }

// SetGroup attaches a repeating group under its counter tag, appending to
// the order on first insertion.
func (m *FieldMap) SetGroup(g *Group) {
	m.init()
	if _, dup := m.groups[g.CounterTag]; !dup {
		if _, val := m.values[g.CounterTag]; !val {
			m.order = append(m.order, g.CounterTag)
		}
	}
	delete(m.values, g.CounterTag)
	m.groups[g.CounterTag] = g
}

// GetGroup returns the repeating group stored under counter.
func (m *FieldMap) GetGroup(counter Tag) (*Group, error) {
	g, ok := m.groups[counter]
	if !ok {
		return nil, fieldErr(counter, ErrGroupNotFound)
	}
	return g, nil
}

// HasGroup reports whether a group is stored under counter.
func (m *FieldMap) HasGroup(counter Tag) bool {
	_, ok := m.groups[counter]
	return ok
}

// -------------------------------------------------------------------------
// Serialization
// -------------------------------------------------------------------------

// SOH is the FIX field separator, ASCII 0x01.
const SOH = byte(0x01)

// writeField appends tag=value<SOH> to buf.
func writeField(buf *bytes.Buffer, tag Tag, value string) {
	buf.WriteString(strconv.Itoa(int(tag)))
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(SOH)
}

// write serializes the map into buf in insertion order.
func (m *FieldMap) write(buf *bytes.Buffer) {
	for _, tag := range m.order {
		m.writeOne(buf, tag)
	}
}

// writeOne serializes a single field or group; reports presence.
func (m *FieldMap) writeOne(buf *bytes.Buffer, tag Tag) bool {
	if v, ok := m.values[tag]; ok {
		writeField(buf, tag, v)
		return true
	}
	if g, ok := m.groups[tag]; ok {
		writeField(buf, tag, strconv.Itoa(len(g.instances)))
		for _, inst := range g.instances {
			inst.write(buf)
		}
		return true
	}
	return false
}
