package lia

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testInterfaceXML = `<node>
  <interface name="org.example.myapp.MyObj1Iface">
    <method name="Ask">
      <arg name="question" type="s" direction="in"/>
      <arg name="answer" type="b" direction="out"/>
    </method>
    <method name="Lookup">
      <arg name="key" type="s"/>
      <arg name="vals" type="a{sv}" direction="out"/>
      <arg type="u" direction="out"/>
      <annotation name="org.freedesktop.DBus.Deprecated" value="true"/>
    </method>
    <method name="Notify">
      <arg name="msg" type="s" direction="in"/>
      <annotation name="org.freedesktop.DBus.Method.NoReply" value="true"/>
    </method>
    <method name="Backwards">
      <arg name="ok" type="b" direction="out"/>
      <arg name="in-arg" type="(is)" direction="in"/>
    </method>
    <signal name="Changed">
      <arg name="what" type="s"/>
    </signal>
    <property name="Count" type="u" access="read">
      <annotation name="org.freedesktop.DBus.Property.EmitsChangedSignal" value="false"/>
    </property>
  </interface>
</node>`

const testInterfaceString = `interface org.example.myapp.MyObj1Iface {
  func Ask(question s) (answer b)
  func Backwards(in_arg (is)) (ok b)
  func Lookup(key s) (vals a{sv}, u) [deprecated]
  func Notify(msg s) [noreply]
  signal Changed(what s)
  property Count u [readonly]
}`

func TestParseInterface(t *testing.T) {
	iface, err := ParseInterface([]byte(testInterfaceXML))
	if err != nil {
		t.Fatalf("ParseInterface got err: %v", err)
	}
	if diff := cmp.Diff(iface.String(), testInterfaceString); diff != "" {
		t.Errorf("wrong interface (-got+want):\n%s", diff)
	}

	back := iface.Method("Backwards")
	if back == nil {
		t.Fatal("Backwards method missing")
	}
	// Declaration order is preserved, and directions split on demand.
	if back.Args[0].Direction != DirectionOut || back.Args[1].Direction != DirectionIn {
		t.Errorf("Backwards args reordered: %v", back.Args)
	}
	if got, want := back.InSignature().String(), "(is)"; got != want {
		t.Errorf("InSignature = %q, want %q", got, want)
	}
	if got, want := back.OutSignature().String(), "b"; got != want {
		t.Errorf("OutSignature = %q, want %q", got, want)
	}
	if iface.Method("Nope") != nil {
		t.Error("Method found a method that does not exist")
	}
	if got := iface.Properties[0].Annotations["org.freedesktop.DBus.Property.EmitsChangedSignal"]; got != "false" {
		t.Errorf("property annotation = %q, want %q", got, "false")
	}

	// A bare interface element parses the same.
	start := strings.Index(testInterfaceXML, "<interface")
	end := strings.LastIndex(testInterfaceXML, "</node>")
	bare, err := ParseInterface([]byte(testInterfaceXML[start:end]))
	if err != nil {
		t.Fatalf("ParseInterface of bare interface got err: %v", err)
	}
	if diff := cmp.Diff(bare.String(), testInterfaceString); diff != "" {
		t.Errorf("wrong bare interface (-got+want):\n%s", diff)
	}
}

func TestInterfaceXMLRoundTrip(t *testing.T) {
	iface, err := ParseInterface([]byte(testInterfaceXML))
	if err != nil {
		t.Fatalf("ParseInterface got err: %v", err)
	}
	var doc strings.Builder
	if err := iface.WriteXML(&doc); err != nil {
		t.Fatalf("WriteXML got err: %v", err)
	}
	back, err := ParseInterface([]byte(doc.String()))
	if err != nil {
		t.Fatalf("parsing WriteXML output got err: %v\n%s", err, doc.String())
	}
	if diff := cmp.Diff(back.String(), iface.String()); diff != "" {
		t.Errorf("interface changed by round trip (-got+want):\n%s", diff)
	}
}

func TestNodeRoundTrip(t *testing.T) {
	iface, err := ParseInterface([]byte(testInterfaceXML))
	if err != nil {
		t.Fatalf("ParseInterface got err: %v", err)
	}
	node := &NodeDescription{
		Interfaces: []*InterfaceDescription{iface, builtinNode.Interfaces[0]},
		Children:   []string{"a", "b"},
	}
	back, err := ParseNode([]byte(node.String()))
	if err != nil {
		t.Fatalf("ParseNode got err: %v\n%s", err, node.String())
	}
	if diff := cmp.Diff(back.Children, node.Children); diff != "" {
		t.Errorf("wrong children (-got+want):\n%s", diff)
	}
	if len(back.Interfaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(back.Interfaces))
	}
	for i := range back.Interfaces {
		if diff := cmp.Diff(back.Interfaces[i].String(), node.Interfaces[i].String()); diff != "" {
			t.Errorf("interface %d changed by round trip (-got+want):\n%s", i, diff)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `<interface name="a.b"><method name="M">`},
		{"not xml", `hello`},
		{"wrong root", `<method name="M"/>`},
		{"empty node", `<node/>`},
		{"two interfaces", `<node><interface name="a.b"/><interface name="a.c"/></node>`},
		{"bad interface name", `<interface name="bad"/>`},
		{"duplicate method", `<interface name="a.b"><method name="M"/><method name="M"/></interface>`},
		{"bad method name", `<interface name="a.b"><method name="2M"/></interface>`},
		{"bad type", `<interface name="a.b"><method name="M"><arg type="z"/></method></interface>`},
		{"two types in one arg", `<interface name="a.b"><method name="M"><arg type="ss"/></method></interface>`},
		{"missing type", `<interface name="a.b"><method name="M"><arg name="x"/></method></interface>`},
		{"bad direction", `<interface name="a.b"><method name="M"><arg type="s" direction="sideways"/></method></interface>`},
		{"signal in arg", `<interface name="a.b"><signal name="S"><arg type="s" direction="in"/></signal></interface>`},
		{"bad property access", `<interface name="a.b"><property name="P" type="s" access="sometimes"/></interface>`},
		{"bad property type", `<interface name="a.b"><property name="P" type="" access="read"/></interface>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInterface([]byte(tc.doc))
			if err == nil {
				t.Fatalf("ParseInterface succeeded with %v, want error", got)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("ParseInterface got err %v, want *ParseError", err)
			}
		})
	}
}

func TestParseNodeDuplicateInterface(t *testing.T) {
	_, err := ParseNode([]byte(`<node><interface name="a.b"/><interface name="a.b"/></node>`))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("ParseNode got err %v, want *ParseError", err)
	}
	if pe.Interface != "a.b" {
		t.Errorf("ParseError.Interface = %q, want %q", pe.Interface, "a.b")
	}
}

func TestInterfaceValidate(t *testing.T) {
	good := func() *InterfaceDescription {
		return &InterfaceDescription{
			Name: "org.example.Iface",
			Methods: []*MethodDescription{
				{Name: "M", Args: []ArgumentDescription{{Name: "x", Type: TypeString, Direction: DirectionIn}}},
			},
		}
	}
	if err := good().Validate(); err != nil {
		t.Fatalf("Validate of good interface got err: %v", err)
	}

	tests := []struct {
		name   string
		mangle func(*InterfaceDescription)
	}{
		{"no type", func(d *InterfaceDescription) { d.Methods[0].Args[0].Type = Type{} }},
		{"bad direction", func(d *InterfaceDescription) { d.Methods[0].Args[0].Direction = 7 }},
		{"bad signal name", func(d *InterfaceDescription) { d.Signals = []*SignalDescription{{Name: "a.b"}} }},
		{"bad property name", func(d *InterfaceDescription) { d.Properties = []*PropertyDescription{{Name: "", Type: TypeByte}} }},
		{"duplicate method", func(d *InterfaceDescription) { d.Methods = append(d.Methods, &MethodDescription{Name: "M"}) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := good()
			tc.mangle(d)
			if err := d.Validate(); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}
}
