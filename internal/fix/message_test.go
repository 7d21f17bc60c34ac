package fix_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/fix/dict"
)

// orderDictXML is a compact dictionary with one application message
// carrying a nested repeating group.
const orderDictXML = `
<fix major="4" minor="4">
  <header>
    <field name="BeginString" required="Y"/>
    <field name="BodyLength" required="Y"/>
    <field name="MsgType" required="Y"/>
    <field name="SenderCompID" required="Y"/>
    <field name="TargetCompID" required="Y"/>
    <field name="MsgSeqNum" required="Y"/>
    <field name="SendingTime" required="Y"/>
    <field name="PossDupFlag" required="N"/>
    <field name="OrigSendingTime" required="N"/>
  </header>
  <trailer>
    <field name="CheckSum" required="Y"/>
  </trailer>
  <messages>
    <message name="NewOrderList" msgtype="E">
      <field name="ListID" required="Y"/>
      <group name="NoOrders" required="Y">
        <field name="ClOrdID" required="Y"/>
        <field name="Symbol" required="N"/>
        <group name="NoAllocs" required="N">
          <field name="AllocAccount" required="Y"/>
          <field name="AllocShares" required="N"/>
        </group>
      </group>
    </message>
  </messages>
  <components/>
  <fields>
    <field number="8" name="BeginString" type="STRING"/>
    <field number="9" name="BodyLength" type="LENGTH"/>
    <field number="35" name="MsgType" type="STRING"/>
    <field number="49" name="SenderCompID" type="STRING"/>
    <field number="56" name="TargetCompID" type="STRING"/>
    <field number="34" name="MsgSeqNum" type="SEQNUM"/>
    <field number="52" name="SendingTime" type="UTCTIMESTAMP"/>
    <field number="43" name="PossDupFlag" type="BOOLEAN"/>
    <field number="122" name="OrigSendingTime" type="UTCTIMESTAMP"/>
    <field number="10" name="CheckSum" type="STRING"/>
    <field number="66" name="ListID" type="STRING"/>
    <field number="73" name="NoOrders" type="NUMINGROUP"/>
    <field number="11" name="ClOrdID" type="STRING"/>
    <field number="55" name="Symbol" type="STRING"/>
    <field number="78" name="NoAllocs" type="NUMINGROUP"/>
    <field number="79" name="AllocAccount" type="STRING"/>
    <field number="80" name="AllocShares" type="QTY"/>
  </fields>
</fix>`

// orderDict parses orderDictXML once per test that needs it.
func orderDict(t *testing.T) *dict.Dictionary {
	t.Helper()
	d, err := dict.Parse([]byte(orderDictXML))
	if err != nil {
		t.Fatalf("dict.Parse() error = %v", err)
	}
	return d
}

// buildListOrder assembles an E message with a nested group.
func buildListOrder() *fix.Message {
	m := fix.NewAdminMessage("E")
	m.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	m.Header.Set(fix.TagSenderCompID, "TW")
	m.Header.Set(fix.TagTargetCompID, "ISLD")
	m.Header.SetInt(fix.TagMsgSeqNum, 3)
	m.Header.Set(fix.TagSendingTime, "20260802-09:30:00.000")
	m.Body.Set(66, "L-1")

	orders := fix.NewGroup(73, 11)
	first := orders.Add()
	first.Set(11, "ORD-1")
	first.Set(55, "MSFT")
	allocs := fix.NewGroup(78, 79)
	a := allocs.Add()
	a.Set(79, "ACCT-A")
	a.Set(80, "60")
	a = allocs.Add()
	a.Set(79, "ACCT-B")
	first.SetGroup(allocs)

	second := orders.Add()
	second.Set(11, "ORD-2")
	second.Set(55, "AAPL")
	m.Body.SetGroup(orders)
	return m
}

func TestMessageBytesFramingInvariants(t *testing.T) {
	t.Parallel()

	wire := buildListOrder().Bytes()

	if !bytes.HasPrefix(wire, []byte("8=FIX.4.4\x019=")) {
		t.Fatalf("wire prefix = %q", wire[:16])
	}
	// BodyLength and CheckSum must both verify.
	if err := fix.VerifyChecksum(wire); err != nil {
		t.Fatalf("VerifyChecksum() = %v\nwire: %s", err, strings.ReplaceAll(string(wire), "\x01", "|"))
	}
	// Canonical prefix ordering: 8, 9, 35 then the rest.
	if got := string(wire[:9]); got != "8=FIX.4.4" {
		t.Errorf("first field = %q", got)
	}
}

func TestMessageRoundTripPreservesGroups(t *testing.T) {
	t.Parallel()

	d := orderDict(t)
	original := buildListOrder()
	wire := original.Bytes()

	parsed, err := fix.ParseMessage(wire, d)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if mt, _ := parsed.MsgType(); mt != "E" {
		t.Errorf("MsgType = %q, want E", mt)
	}
	if v, _ := parsed.Body.Get(66); v != "L-1" {
		t.Errorf("ListID = %q, want L-1", v)
	}

	orders, err := parsed.Body.GetGroup(73)
	if err != nil {
		t.Fatalf("GetGroup(73) error = %v", err)
	}
	if orders.Len() != 2 {
		t.Fatalf("NoOrders = %d, want 2", orders.Len())
	}

	first := orders.Instance(0)
	if v, _ := first.Get(11); v != "ORD-1" {
		t.Errorf("first ClOrdID = %q, want ORD-1", v)
	}
	allocs, err := first.GetGroup(78)
	if err != nil {
		t.Fatalf("nested GetGroup(78) error = %v", err)
	}
	if allocs.Len() != 2 {
		t.Fatalf("NoAllocs = %d, want 2", allocs.Len())
	}
	if v, _ := allocs.Instance(0).Get(80); v != "60" {
		t.Errorf("AllocShares = %q, want 60", v)
	}
	if v, _ := allocs.Instance(1).Get(79); v != "ACCT-B" {
		t.Errorf("second AllocAccount = %q, want ACCT-B", v)
	}

	second := orders.Instance(1)
	if v, _ := second.Get(55); v != "AAPL" {
		t.Errorf("second Symbol = %q, want AAPL", v)
	}

	// Serializing the parsed message reproduces identical wire bytes.
	if !bytes.Equal(parsed.Bytes(), wire) {
		t.Errorf("re-serialized wire differs:\n got %q\nwant %q", parsed.Bytes(), wire)
	}
}

func TestMessageGroupCountMismatchRejected(t *testing.T) {
	t.Parallel()

	d := orderDict(t)
	wire := buildListOrder().Bytes()
	// Claim three orders where two exist.
	bad := bytes.Replace(wire, []byte("\x0173=2\x01"), []byte("\x0173=3\x01"), 1)

	if _, err := fix.ParseMessage(bad, d); err == nil {
		t.Error("ParseMessage(bad count) = nil error, want reject")
	}
}
