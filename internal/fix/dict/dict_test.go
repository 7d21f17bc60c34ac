package dict_test

import (
	"errors"
	"testing"

	"github.com/fixwire/fixd/internal/fix/dict"
)

func TestTransportDictionaryShape(t *testing.T) {
	t.Parallel()

	d := dict.Transport("FIX.4.4")
	if d.Version != "FIX.4.4" {
		t.Errorf("Version = %q, want FIX.4.4", d.Version)
	}

	for _, tag := range []int{8, 9, 35, 49, 56, 34, 52, 43, 122} {
		if !d.IsHeaderField(tag) {
			t.Errorf("IsHeaderField(%d) = false", tag)
		}
	}
	if !d.IsTrailerField(10) {
		t.Error("IsTrailerField(10) = false")
	}
	if d.IsHeaderField(10) || d.IsTrailerField(35) {
		t.Error("header/trailer membership crossed over")
	}

	for _, mt := range []string{"0", "1", "2", "3", "4", "5", "A", "j"} {
		if !d.IsMsgType(mt) {
			t.Errorf("IsMsgType(%q) = false", mt)
		}
	}
	if d.IsMsgType("D") {
		t.Error("transport dictionary should not define application messages")
	}

	logon, _ := d.MessageDef("A")
	wantRequired := map[int]bool{98: true, 108: true}
	for _, tag := range logon.Required() {
		if !wantRequired[tag] {
			t.Errorf("unexpected required logon tag %d", tag)
		}
		delete(wantRequired, tag)
	}
	if len(wantRequired) != 0 {
		t.Errorf("missing required logon tags: %v", wantRequired)
	}

	if ft, ok := d.FieldType(108); !ok || ft != dict.TypeInt {
		t.Errorf("FieldType(108) = %v, %v; want TypeInt", ft, ok)
	}
	if ft, ok := d.FieldType(52); !ok || ft != dict.TypeDateTime {
		t.Errorf("FieldType(52) = %v, %v; want TypeDateTime", ft, ok)
	}
}

func TestTypeFromName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want dict.FieldType
	}{
		{"INT", dict.TypeInt},
		{"SEQNUM", dict.TypeInt},
		{"PRICE", dict.TypeDecimal},
		{"QTY", dict.TypeDecimal},
		{"BOOLEAN", dict.TypeBoolean},
		{"CHAR", dict.TypeChar},
		{"UTCTIMESTAMP", dict.TypeDateTime},
		{"LOCALMKTDATE", dict.TypeDate},
		{"UTCTIMEONLY", dict.TypeTime},
		{"DATA", dict.TypeData},
		{"STRING", dict.TypeString},
		{"SOMETHING_NEW", dict.TypeString},
	}
	for _, tt := range tests {
		if got := dict.TypeFromName(tt.name); got != tt.want {
			t.Errorf("TypeFromName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// componentDictXML exercises component expansion and enum parsing.
const componentDictXML = `
<fix major="4" minor="2">
  <header>
    <field name="BeginString" required="Y"/>
    <field name="MsgType" required="Y"/>
  </header>
  <trailer>
    <field name="CheckSum" required="Y"/>
  </trailer>
  <messages>
    <message name="Order" msgtype="D">
      <field name="Side" required="Y"/>
      <component name="Instrument" required="Y"/>
    </message>
  </messages>
  <components>
    <component name="Instrument">
      <field name="Symbol" required="Y"/>
      <field name="SecurityID" required="N"/>
    </component>
  </components>
  <fields>
    <field number="8" name="BeginString" type="STRING"/>
    <field number="35" name="MsgType" type="STRING"/>
    <field number="10" name="CheckSum" type="STRING"/>
    <field number="54" name="Side" type="CHAR">
      <value enum="1" description="BUY"/>
      <value enum="2" description="SELL"/>
    </field>
    <field number="55" name="Symbol" type="STRING"/>
    <field number="48" name="SecurityID" type="STRING"/>
  </fields>
</fix>`

func TestParseComponentExpansion(t *testing.T) {
	t.Parallel()

	d, err := dict.Parse([]byte(componentDictXML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.Version != "FIX.4.2" {
		t.Errorf("Version = %q, want FIX.4.2", d.Version)
	}

	order, ok := d.MessageDef("D")
	if !ok {
		t.Fatal("MessageDef(D) missing")
	}
	// Component fields are flattened into the message's allowed set.
	for _, tag := range []int{54, 55, 48} {
		if !order.Allows(tag) {
			t.Errorf("Allows(%d) = false", tag)
		}
	}
	// A required component propagates its required fields; optional
	// members stay optional.
	required := map[int]bool{}
	for _, tag := range order.Required() {
		required[tag] = true
	}
	if !required[54] || !required[55] {
		t.Errorf("required set = %v, want 54 and 55", order.Required())
	}
	if required[48] {
		t.Error("optional component member became required")
	}

	side, _ := d.FieldByTag(54)
	if len(side.Enums) != 2 || side.Enums["1"] != "BUY" {
		t.Errorf("Side enums = %v", side.Enums)
	}
}

func TestParseRejectsUnknownFieldRef(t *testing.T) {
	t.Parallel()

	const bad = `
<fix major="4" minor="4">
  <header/>
  <trailer/>
  <messages>
    <message name="X" msgtype="X"><field name="Ghost" required="Y"/></message>
  </messages>
  <fields/>
</fix>`
	if _, err := dict.Parse([]byte(bad)); !errors.Is(err, dict.ErrUnknownFieldRef) {
		t.Errorf("Parse() error = %v, want ErrUnknownFieldRef", err)
	}
}

func TestParseRejectsBadRoot(t *testing.T) {
	t.Parallel()

	if _, err := dict.Parse([]byte(`<notfix major="4" minor="4"/>`)); !errors.Is(err, dict.ErrBadDictionary) {
		t.Errorf("Parse() error = %v, want ErrBadDictionary", err)
	}
}
