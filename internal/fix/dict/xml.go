package dict

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
)

// -------------------------------------------------------------------------
// XML loader — QuickFIX-format data dictionary files
// -------------------------------------------------------------------------

// Sentinel errors for dictionary loading.
var (
	// ErrBadDictionary indicates a structurally invalid dictionary file.
	ErrBadDictionary = errors.New("malformed data dictionary")

	// ErrUnknownFieldRef indicates a message, component, or group
	// references a field missing from the <fields> section.
	ErrUnknownFieldRef = errors.New("field not defined in fields section")
)

// xmlNode is a generic element-tree node; the dictionary schema is
// walked structurally rather than unmarshalled into fixed types.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

// attr returns the named attribute value, or "".
func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// child returns the first child element with the given name.
func (n *xmlNode) child(name string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

// Load reads and parses a QuickFIX-format dictionary file.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load dictionary %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load dictionary %s: %w", path, err)
	}
	return d, nil
}

// Parse builds a Dictionary from QuickFIX-format XML. Every field
// referenced by a message, component, or group must be defined in the
// <fields> section.
func Parse(data []byte) (*Dictionary, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDictionary, err)
	}
	if root.XMLName.Local != "fix" {
		return nil, fmt.Errorf("%w: root element %q", ErrBadDictionary, root.XMLName.Local)
	}

	version, err := versionOf(&root)
	if err != nil {
		return nil, err
	}
	d := New(version)

	if fields := root.child("fields"); fields != nil {
		for i := range fields.Nodes {
			node := &fields.Nodes[i]
			if node.XMLName.Local != "field" {
				continue
			}
			f, err := parseFieldDef(node)
			if err != nil {
				return nil, err
			}
			d.addField(f)
		}
	}

	components := componentIndex(&root)

	if header := root.child("header"); header != nil {
		if err := parseShape(header, d.header, d, components, nil); err != nil {
			return nil, err
		}
	}
	if trailer := root.child("trailer"); trailer != nil {
		if err := parseShape(trailer, d.trailer, d, components, nil); err != nil {
			return nil, err
		}
	}
	if messages := root.child("messages"); messages != nil {
		for i := range messages.Nodes {
			node := &messages.Nodes[i]
			if node.XMLName.Local != "message" {
				continue
			}
			msgType := node.attr("msgtype")
			if msgType == "" {
				return nil, fmt.Errorf("%w: message %q missing msgtype", ErrBadDictionary, node.attr("name"))
			}
			m := NewMap()
			if err := parseShape(node, m, d, components, nil); err != nil {
				return nil, err
			}
			d.addMessage(msgType, m)
		}
	}
	return d, nil
}

// versionOf assembles "FIX.major.minor" (or FIXT) from root attributes.
func versionOf(root *xmlNode) (string, error) {
	major, minor := root.attr("major"), root.attr("minor")
	if major == "" || minor == "" {
		return "", fmt.Errorf("%w: missing major/minor version", ErrBadDictionary)
	}
	typ := root.attr("type")
	if typ == "" {
		typ = "FIX"
	}
	if typ != "FIX" && typ != "FIXT" {
		return "", fmt.Errorf("%w: type must be FIX or FIXT, got %q", ErrBadDictionary, typ)
	}
	return fmt.Sprintf("%s.%s.%s", typ, major, minor), nil
}

// parseFieldDef builds a Field from a <field> node.
func parseFieldDef(node *xmlNode) (*Field, error) {
	name := node.attr("name")
	numStr := node.attr("number")
	if name == "" || numStr == "" {
		return nil, fmt.Errorf("%w: field missing name or number", ErrBadDictionary)
	}
	var tag int
	if _, err := fmt.Sscanf(numStr, "%d", &tag); err != nil || tag <= 0 {
		return nil, fmt.Errorf("%w: field %s number %q", ErrBadDictionary, name, numStr)
	}
	f := &Field{Tag: tag, Name: name, Type: TypeFromName(node.attr("type"))}
	for i := range node.Nodes {
		val := &node.Nodes[i]
		if val.XMLName.Local != "value" {
			continue
		}
		if f.Enums == nil {
			f.Enums = make(map[string]string)
		}
		f.Enums[val.attr("enum")] = val.attr("description")
	}
	return f, nil
}

// componentIndex caches <component> nodes by name for shape expansion.
func componentIndex(root *xmlNode) map[string]*xmlNode {
	idx := make(map[string]*xmlNode)
	components := root.child("components")
	if components == nil {
		return idx
	}
	for i := range components.Nodes {
		node := &components.Nodes[i]
		if node.XMLName.Local == "component" {
			idx[node.attr("name")] = node
		}
	}
	return idx
}

// parseShape expands a message, component, or group node into m.
// componentRequired overrides the default required flag while expanding
// a component's children (a field inside an optional component is not
// required of the message).
func parseShape(
	node *xmlNode,
	m *Map,
	d *Dictionary,
	components map[string]*xmlNode,
	componentRequired *bool,
) error {
	for i := range node.Nodes {
		child := &node.Nodes[i]
		name := child.attr("name")
		if name == "" {
			return fmt.Errorf("%w: %s node without name in %q",
				ErrBadDictionary, child.XMLName.Local, node.attr("name"))
		}

		switch child.XMLName.Local {
		case "field", "group":
			f, ok := d.FieldByName(name)
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownFieldRef, name)
			}
			req := requiredOf(child, componentRequired, true)
			m.addField(f.Tag, req)

			if child.XMLName.Local == "group" {
				g := &Group{CounterTag: f.Tag, Required: req, Map: NewMap()}
				if err := parseShape(child, g.Map, d, components, nil); err != nil {
					return err
				}
				// The delimiter is the first field declared inside the
				// group, resolved through a leading component if needed.
				g.DelimiterTag = firstFieldTag(child, d, components)
				m.addGroup(g)
			}

		case "component":
			comp, ok := components[name]
			if !ok {
				return fmt.Errorf("%w: component %q not defined", ErrBadDictionary, name)
			}
			req := requiredOf(child, componentRequired, false)
			if err := parseShape(comp, m, d, components, &req); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unexpected node %q in %q",
				ErrBadDictionary, child.XMLName.Local, node.attr("name"))
		}
	}
	return nil
}

// requiredOf resolves the required flag: inside an optional component
// nothing is required; otherwise an explicit attribute wins, then the
// enclosing component's flag, then def.
func requiredOf(node *xmlNode, componentRequired *bool, def bool) bool {
	if componentRequired != nil && !*componentRequired {
		return false
	}
	if v := node.attr("required"); v != "" {
		return v == "Y"
	}
	if componentRequired != nil {
		return *componentRequired
	}
	return def
}

// firstFieldTag returns the tag of the group's first declared member,
// descending into a leading component when necessary.
func firstFieldTag(group *xmlNode, d *Dictionary, components map[string]*xmlNode) int {
	for i := range group.Nodes {
		child := &group.Nodes[i]
		switch child.XMLName.Local {
		case "field", "group":
			if f, ok := d.FieldByName(child.attr("name")); ok {
				return f.Tag
			}
		case "component":
			if comp, ok := components[child.attr("name")]; ok {
				if tag := firstFieldTag(comp, d, components); tag != 0 {
					return tag
				}
			}
		}
	}
	return 0
}
