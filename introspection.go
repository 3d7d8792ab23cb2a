package lia

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/creachadair/mds/mapset"
)

const introspectDocType = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
`

// NodeDescription describes an object's interfaces and child
// objects, as found in an introspection document.
type NodeDescription struct {
	// Name is the node's name attribute, often empty for the root
	// node of a document.
	Name string
	// Interfaces are the interfaces implemented by the object.
	Interfaces []*InterfaceDescription
	// Children are the names of child objects, relative to this
	// node.
	Children []string
}

// InterfaceDescription describes an interface.
type InterfaceDescription struct {
	Name       string
	Methods    []*MethodDescription
	Signals    []*SignalDescription
	Properties []*PropertyDescription
}

// Method returns the method with the given name, or nil.
func (d *InterfaceDescription) Method(name string) *MethodDescription {
	for _, m := range d.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (d InterfaceDescription) String() string {
	var ret strings.Builder
	fmt.Fprintf(&ret, "interface %s {\n", d.Name)

	methods := slices.SortedFunc(slices.Values(d.Methods), func(a, b *MethodDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, m := range methods {
		fmt.Fprintf(&ret, "  %s\n", m)
	}

	signals := slices.SortedFunc(slices.Values(d.Signals), func(a, b *SignalDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, s := range signals {
		fmt.Fprintf(&ret, "  %s\n", s)
	}

	props := slices.SortedFunc(slices.Values(d.Properties), func(a, b *PropertyDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, s := range props {
		fmt.Fprintf(&ret, "  %s\n", s)
	}
	ret.WriteString("}")
	return ret.String()
}

// Validate checks that the interface is well formed: names are
// syntactically valid, method names are unique, and every argument
// has a single complete type and a sensible direction.
func (d *InterfaceDescription) Validate() error {
	if err := validInterfaceName(d.Name); err != nil {
		return &ParseError{d.Name, err}
	}
	seen := mapset.New[string]()
	for _, m := range d.Methods {
		if err := validMemberName(m.Name); err != nil {
			return &ParseError{d.Name, fmt.Errorf("method: %w", err)}
		}
		if seen.Has(m.Name) {
			return &ParseError{d.Name, fmt.Errorf("duplicate method %s", m.Name)}
		}
		seen.Add(m.Name)
		for i, a := range m.Args {
			if a.Type.IsZero() {
				return &ParseError{d.Name, fmt.Errorf("method %s arg %d has no type", m.Name, i)}
			}
			if a.Direction != DirectionIn && a.Direction != DirectionOut {
				return &ParseError{d.Name, fmt.Errorf("method %s arg %d has invalid direction", m.Name, i)}
			}
		}
	}
	for _, s := range d.Signals {
		if err := validMemberName(s.Name); err != nil {
			return &ParseError{d.Name, fmt.Errorf("signal: %w", err)}
		}
	}
	for _, p := range d.Properties {
		if err := validMemberName(p.Name); err != nil {
			return &ParseError{d.Name, fmt.Errorf("property: %w", err)}
		}
	}
	return nil
}

// WriteXML writes the interface as an <interface> introspection
// element.
func (d *InterfaceDescription) WriteXML(w io.Writer) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d.toXML()); err != nil {
		return err
	}
	return enc.Close()
}

// Direction is the direction of a method argument.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// MethodDescription describes a method.
type MethodDescription struct {
	Name string
	// Args are the method's arguments, in declaration order.
	Args []ArgumentDescription
	// Deprecated, if true, indicates that the method should be
	// avoided in new code.
	Deprecated bool
	// NoReply, if true, indicates that callers should not expect a
	// reply.
	NoReply bool
}

// In returns the method's input arguments, in declaration order.
func (m *MethodDescription) In() []ArgumentDescription { return m.args(DirectionIn) }

// Out returns the method's output arguments, in declaration order.
func (m *MethodDescription) Out() []ArgumentDescription { return m.args(DirectionOut) }

func (m *MethodDescription) args(dir Direction) []ArgumentDescription {
	var ret []ArgumentDescription
	for _, a := range m.Args {
		if a.Direction == dir {
			ret = append(ret, a)
		}
	}
	return ret
}

// InSignature returns the signature of the method's inputs.
func (m *MethodDescription) InSignature() Signature { return argsSignature(m.In()) }

// OutSignature returns the signature of the method's outputs.
func (m *MethodDescription) OutSignature() Signature { return argsSignature(m.Out()) }

func argsSignature(args []ArgumentDescription) Signature {
	types := make([]Type, len(args))
	for i, a := range args {
		types[i] = a.Type
	}
	return SignatureOf(types...)
}

func (m MethodDescription) String() string {
	var ret strings.Builder
	ret.WriteString("func ")
	ret.WriteString(m.Name)
	ret.WriteByte('(')
	writeArgs(&ret, m.In())
	ret.WriteByte(')')

	if out := m.Out(); len(out) > 0 {
		ret.WriteString(" (")
		writeArgs(&ret, out)
		ret.WriteByte(')')
	}
	switch {
	case m.Deprecated && m.NoReply:
		ret.WriteString(" [deprecated,noreply]")
	case m.Deprecated:
		ret.WriteString(" [deprecated]")
	case m.NoReply:
		ret.WriteString(" [noreply]")
	}
	return ret.String()
}

func writeArgs(w *strings.Builder, args []ArgumentDescription) {
	for i, arg := range args {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(arg.String())
	}
}

// SignalDescription describes a signal. Signals are parsed so that
// they can be re-introspected, but are not emitted by this package.
type SignalDescription struct {
	Name       string
	Args       []ArgumentDescription
	Deprecated bool
}

func (s SignalDescription) String() string {
	var ret strings.Builder
	ret.WriteString("signal ")
	ret.WriteString(s.Name)
	ret.WriteByte('(')
	writeArgs(&ret, s.Args)
	ret.WriteByte(')')
	if s.Deprecated {
		ret.WriteString(" [deprecated]")
	}
	return ret.String()
}

// PropertyDescription describes a property. Like signals,
// properties are preserved for introspection only.
type PropertyDescription struct {
	Name string
	Type Type

	Readable bool
	Writable bool

	// Annotations are the property's annotations, such as
	// org.freedesktop.DBus.Property.EmitsChangedSignal.
	Annotations map[string]string
}

func (p PropertyDescription) String() string {
	access := "readonly"
	switch {
	case p.Readable && p.Writable:
		access = "readwrite"
	case p.Writable:
		access = "writeonly"
	}
	return fmt.Sprintf("property %s %s [%s]", p.Name, p.Type, access)
}

func (p PropertyDescription) access() string {
	switch {
	case p.Readable && p.Writable:
		return "readwrite"
	case p.Writable:
		return "write"
	default:
		return "read"
	}
}

// ArgumentDescription describes a method or signal argument.
type ArgumentDescription struct {
	Name      string // optional
	Type      Type
	Direction Direction
}

func (a ArgumentDescription) String() string {
	if a.Name != "" {
		// Older interfaces used arg-name style naming, which looks
		// odd next to Go identifiers.
		n := strings.ReplaceAll(a.Name, "-", "_")
		return fmt.Sprintf("%s %s", n, a.Type)
	}
	return a.Type.String()
}

// ParseInterface parses an introspection document describing exactly
// one interface. The document may be a bare <interface> element, or a
// <node> containing a single interface.
func ParseInterface(doc []byte) (*InterfaceDescription, error) {
	root, err := rootElement(doc)
	if err != nil {
		return nil, err
	}
	switch root {
	case "interface":
		var raw xmlInterface
		if err := xml.Unmarshal(doc, &raw); err != nil {
			return nil, &ParseError{Reason: err}
		}
		return raw.toDescription()
	case "node":
		node, err := ParseNode(doc)
		if err != nil {
			return nil, err
		}
		if len(node.Interfaces) != 1 {
			return nil, &ParseError{Reason: fmt.Errorf("document describes %d interfaces, want exactly 1", len(node.Interfaces))}
		}
		return node.Interfaces[0], nil
	default:
		return nil, &ParseError{Reason: fmt.Errorf("unexpected root element <%s>", root)}
	}
}

// ParseNode parses an introspection document rooted at a <node>
// element.
func ParseNode(doc []byte) (*NodeDescription, error) {
	var raw xmlNode
	if err := xml.Unmarshal(doc, &raw); err != nil {
		return nil, &ParseError{Reason: err}
	}
	ret := &NodeDescription{Name: raw.Name}
	names := mapset.New[string]()
	for _, ri := range raw.Interfaces {
		iface, err := ri.toDescription()
		if err != nil {
			return nil, err
		}
		if names.Has(iface.Name) {
			return nil, &ParseError{iface.Name, errors.New("interface described twice")}
		}
		names.Add(iface.Name)
		ret.Interfaces = append(ret.Interfaces, iface)
	}
	for _, c := range raw.Children {
		ret.Children = append(ret.Children, c.Name)
	}
	return ret, nil
}

// WriteXML writes the node as a complete introspection document.
func (n *NodeDescription) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, introspectDocType); err != nil {
		return err
	}
	raw := xmlNode{Name: n.Name}
	for _, iface := range n.Interfaces {
		raw.Interfaces = append(raw.Interfaces, iface.toXML())
	}
	for _, c := range n.Children {
		raw.Children = append(raw.Children, xmlNode{Name: c})
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return err
	}
	return enc.Close()
}

// String returns the node's introspection document.
func (n *NodeDescription) String() string {
	var buf bytes.Buffer
	if err := n.WriteXML(&buf); err != nil {
		return fmt.Sprintf("<!-- %v -->", err)
	}
	return buf.String()
}

func rootElement(doc []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", &ParseError{Reason: fmt.Errorf("finding root element: %w", err)}
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

const (
	annotationDeprecated = "org.freedesktop.DBus.Deprecated"
	annotationNoReply    = "org.freedesktop.DBus.Method.NoReply"
)

type xmlNode struct {
	XMLName    xml.Name       `xml:"node"`
	Name       string         `xml:"name,attr,omitempty"`
	Interfaces []xmlInterface `xml:"interface"`
	Children   []xmlNode      `xml:"node"`
}

type xmlInterface struct {
	XMLName    xml.Name      `xml:"interface"`
	Name       string        `xml:"name,attr"`
	Methods    []xmlMember   `xml:"method"`
	Signals    []xmlMember   `xml:"signal"`
	Properties []xmlProperty `xml:"property"`
}

type xmlMember struct {
	Name        string          `xml:"name,attr"`
	Args        []xmlArg        `xml:"arg"`
	Annotations []xmlAnnotation `xml:"annotation"`
}

type xmlArg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

type xmlProperty struct {
	Name        string          `xml:"name,attr"`
	Type        string          `xml:"type,attr"`
	Access      string          `xml:"access,attr"`
	Annotations []xmlAnnotation `xml:"annotation"`
}

type xmlAnnotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func annotated(anns []xmlAnnotation, name string) bool {
	for _, a := range anns {
		if a.Name == name {
			return a.Value == "true"
		}
	}
	return false
}

func (x xmlInterface) toDescription() (*InterfaceDescription, error) {
	ret := &InterfaceDescription{Name: x.Name}
	for _, rm := range x.Methods {
		m := &MethodDescription{
			Name:       rm.Name,
			Deprecated: annotated(rm.Annotations, annotationDeprecated),
			NoReply:    annotated(rm.Annotations, annotationNoReply),
		}
		for _, ra := range rm.Args {
			t, err := ParseType(ra.Type)
			if err != nil {
				return nil, &ParseError{x.Name, fmt.Errorf("method %s arg %q: %w", rm.Name, ra.Name, err)}
			}
			a := ArgumentDescription{Name: ra.Name, Type: t}
			switch ra.Direction {
			case "", "in":
				a.Direction = DirectionIn
			case "out":
				a.Direction = DirectionOut
			default:
				return nil, &ParseError{x.Name, fmt.Errorf("method %s arg %q has invalid direction %q", rm.Name, ra.Name, ra.Direction)}
			}
			m.Args = append(m.Args, a)
		}
		ret.Methods = append(ret.Methods, m)
	}
	for _, rs := range x.Signals {
		s := &SignalDescription{
			Name:       rs.Name,
			Deprecated: annotated(rs.Annotations, annotationDeprecated),
		}
		for _, ra := range rs.Args {
			t, err := ParseType(ra.Type)
			if err != nil {
				return nil, &ParseError{x.Name, fmt.Errorf("signal %s arg %q: %w", rs.Name, ra.Name, err)}
			}
			if ra.Direction != "" && ra.Direction != "out" {
				return nil, &ParseError{x.Name, fmt.Errorf("signal %s arg %q has invalid direction %q", rs.Name, ra.Name, ra.Direction)}
			}
			s.Args = append(s.Args, ArgumentDescription{Name: ra.Name, Type: t, Direction: DirectionOut})
		}
		ret.Signals = append(ret.Signals, s)
	}
	for _, rp := range x.Properties {
		t, err := ParseType(rp.Type)
		if err != nil {
			return nil, &ParseError{x.Name, fmt.Errorf("property %s: %w", rp.Name, err)}
		}
		p := &PropertyDescription{Name: rp.Name, Type: t}
		switch rp.Access {
		case "read":
			p.Readable = true
		case "write":
			p.Writable = true
		case "readwrite":
			p.Readable, p.Writable = true, true
		default:
			return nil, &ParseError{x.Name, fmt.Errorf("property %s has unknown access %q", rp.Name, rp.Access)}
		}
		if len(rp.Annotations) > 0 {
			p.Annotations = map[string]string{}
			for _, a := range rp.Annotations {
				p.Annotations[a.Name] = a.Value
			}
		}
		ret.Properties = append(ret.Properties, p)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (d *InterfaceDescription) toXML() xmlInterface {
	ret := xmlInterface{Name: d.Name}
	for _, m := range d.Methods {
		rm := xmlMember{Name: m.Name}
		for _, a := range m.Args {
			rm.Args = append(rm.Args, xmlArg{a.Name, a.Type.String(), a.Direction.String()})
		}
		if m.Deprecated {
			rm.Annotations = append(rm.Annotations, xmlAnnotation{annotationDeprecated, "true"})
		}
		if m.NoReply {
			rm.Annotations = append(rm.Annotations, xmlAnnotation{annotationNoReply, "true"})
		}
		ret.Methods = append(ret.Methods, rm)
	}
	for _, s := range d.Signals {
		rs := xmlMember{Name: s.Name}
		for _, a := range s.Args {
			rs.Args = append(rs.Args, xmlArg{Name: a.Name, Type: a.Type.String()})
		}
		if s.Deprecated {
			rs.Annotations = append(rs.Annotations, xmlAnnotation{annotationDeprecated, "true"})
		}
		ret.Signals = append(ret.Signals, rs)
	}
	for _, p := range d.Properties {
		rp := xmlProperty{Name: p.Name, Type: p.Type.String(), Access: p.access()}
		for _, k := range slices.Sorted(maps.Keys(p.Annotations)) {
			rp.Annotations = append(rp.Annotations, xmlAnnotation{k, p.Annotations[k]})
		}
		ret.Properties = append(ret.Properties, rp)
	}
	return ret
}
