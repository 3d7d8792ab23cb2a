// Package stubgen generates Go server and client stubs for interface
// descriptions.
package stubgen

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"go/format"
	"slices"
	"strings"
	"unicode"

	"github.com/freesocial/lia"
)

type generator struct {
	out   bytes.Buffer
	iface *lia.InterfaceDescription
	// name is the Go identifier for the interface.
	name string
}

// File returns the source of a Go file in package pkg, with stubs for
// each of ifaces.
func File(pkg string, ifaces ...*lia.InterfaceDescription) (string, error) {
	if len(ifaces) == 0 {
		return "", errors.New("no interface provided")
	}
	var g generator
	g.f(`// Code generated by lia generate. DO NOT EDIT.

package %s

import (
  "context"

  "github.com/freesocial/lia"
)

// must discards the ok result of a Value accessor.
func must[T any](v T, _ bool) T { return v }
`, pkg)
	for _, iface := range ifaces {
		if iface == nil {
			return "", errors.New("nil interface description")
		}
		if err := iface.Validate(); err != nil {
			return "", err
		}
		g.iface = iface
		g.name = publicIdentifier(iface.Name)
		methods := slices.SortedFunc(slices.Values(iface.Methods), func(a, b *lia.MethodDescription) int {
			return cmp.Compare(a.Name, b.Name)
		})
		if err := g.server(methods); err != nil {
			return "", err
		}
		g.handler(methods)
		g.client(methods)
	}

	ret, err := format.Source(g.out.Bytes())
	if err != nil {
		return g.out.String(), err
	}
	return string(ret), nil
}

func (g *generator) s(s string) {
	g.out.WriteString(s)
}

func (g *generator) f(msg string, args ...any) {
	fmt.Fprintf(&g.out, msg, args...)
}

func (g *generator) server(methods []*lia.MethodDescription) error {
	var doc strings.Builder
	if err := g.iface.WriteXML(&doc); err != nil {
		return err
	}
	if strings.Contains(doc.String(), "`") {
		return fmt.Errorf("introspection of %s cannot be quoted", g.iface.Name)
	}
	g.f(`
// %[1]sXML is the introspection document of %[2]s.
const %[1]sXML = %[3]s

// %[1]s is implemented by objects that serve %[2]s.
type %[1]s interface {
`, g.name, g.iface.Name, "`"+doc.String()+"`")
	for _, m := range methods {
		in, out := argNames(m)
		if m.Deprecated {
			g.s("// Deprecated: the interface marks this method as deprecated.\n")
		}
		g.f("%s(ctx context.Context", publicIdentifier(m.Name))
		for i, a := range m.In() {
			g.f(", %s %s", in[i], goType(a.Type))
		}
		g.s(") (")
		for i, a := range m.Out() {
			g.f("%s %s, ", out[i], goType(a.Type))
		}
		g.s("err error)\n")
	}
	g.s("}\n")
	return nil
}

func (g *generator) handler(methods []*lia.MethodDescription) {
	g.f(`
// Register%[1]s serves impl at path on conn.
func Register%[1]s(conn *lia.Conn, path lia.ObjectPath, impl %[1]s) (lia.RegistrationID, error) {
  return conn.RegisterObjectXML(path, %[1]sXML, %[1]sHandler(impl), nil)
}

// %[1]sHandler adapts impl to a lia.Handler.
func %[1]sHandler(impl %[1]s) lia.Handler {
  return lia.HandlerFunc(func(ctx context.Context, _ any, args []lia.Value, inv *lia.Invocation) {
    switch inv.Method() {
`, g.name)
	for _, m := range methods {
		in, out := argNames(m)
		g.f("case %q:\n", m.Name)
		for i, a := range m.In() {
			g.f("%s := %s\n", in[i], fromValue(fmt.Sprintf("args[%d]", i), a.Type))
		}
		for _, n := range out {
			g.f("%s, ", n)
		}
		g.f("err := impl.%s(ctx", publicIdentifier(m.Name))
		for _, n := range in {
			g.f(", %s", n)
		}
		g.s(")\n")
		g.s("if err != nil {\ninv.Fail(err)\nreturn\n}\n")
		g.s("inv.ReturnValue(")
		for i, a := range m.Out() {
			if i > 0 {
				g.s(", ")
			}
			g.s(toValue(out[i], a.Type))
		}
		g.s(")\n")
	}
	g.s(`default:
      inv.ReturnError(lia.ErrNameUnknownMethod, "unknown method "+inv.Method())
    }
  })
}
`)
}

func (g *generator) client(methods []*lia.MethodDescription) {
	g.f(`
// %[1]sClient calls %[2]s on a remote object.
type %[1]sClient struct {
  Caller      lia.Caller
  Destination string
  Path        lia.ObjectPath
}
`, g.name, g.iface.Name)
	for _, m := range methods {
		in, out := argNames(m)
		g.f("\n// %s calls %s.%s.\n", publicIdentifier(m.Name), g.iface.Name, m.Name)
		g.f("func (c %sClient) %s(ctx context.Context", g.name, publicIdentifier(m.Name))
		for i, a := range m.In() {
			g.f(", %s %s", in[i], goType(a.Type))
		}
		g.s(") (")
		for i, a := range m.Out() {
			g.f("%s %s, ", out[i], goType(a.Type))
		}
		g.s("err error) {\n")

		// err is a named result, so the assignment only declares
		// resp.
		assign := "_, err ="
		if len(out) > 0 {
			assign = "resp, err :="
		}
		g.f("%s c.Caller.Call(ctx, c.Destination, c.Path, %q, %q", assign, g.iface.Name, m.Name)
		for i, a := range m.In() {
			g.f(", %s", toValue(in[i], a.Type))
		}
		g.s(")\nif err != nil {\nreturn\n}\n")
		if len(out) > 0 {
			g.f(`if len(resp) != %d {
  err = lia.CallError{Name: lia.ErrNameInvalidArgs, Detail: %q}
  return
}
`, len(out), fmt.Sprintf("%s returned the wrong number of values", m.Name))
		}
		for i, a := range m.Out() {
			g.f("%s = %s\n", out[i], fromValue(fmt.Sprintf("resp[%d]", i), a.Type))
		}
		g.s("return\n}\n")
	}
}

// basicGo maps the kinds that have a plain Go representation to the
// Go type, the Value accessor and the Value constructor.
var basicGo = map[lia.Kind][3]string{
	lia.KindBool:      {"bool", "AsBool", "lia.Bool"},
	lia.KindByte:      {"uint8", "AsByte", "lia.Byte"},
	lia.KindInt16:     {"int16", "AsInt16", "lia.Int16"},
	lia.KindUint16:    {"uint16", "AsUint16", "lia.Uint16"},
	lia.KindInt32:     {"int32", "AsInt32", "lia.Int32"},
	lia.KindUint32:    {"uint32", "AsUint32", "lia.Uint32"},
	lia.KindInt64:     {"int64", "AsInt64", "lia.Int64"},
	lia.KindUint64:    {"uint64", "AsUint64", "lia.Uint64"},
	lia.KindDouble:    {"float64", "AsDouble", "lia.Double"},
	lia.KindString:    {"string", "AsString", "lia.String"},
	lia.KindSignature: {"lia.Signature", "AsSignature", "lia.SignatureValue"},
}

// goType returns the Go type used for values of type t. Types without
// a plain Go representation are passed as lia.Value.
func goType(t lia.Type) string {
	if b, ok := basicGo[t.Kind()]; ok {
		return b[0]
	}
	return "lia.Value"
}

func fromValue(expr string, t lia.Type) string {
	if b, ok := basicGo[t.Kind()]; ok {
		return fmt.Sprintf("must(%s.%s())", expr, b[1])
	}
	return expr
}

func toValue(expr string, t lia.Type) string {
	if b, ok := basicGo[t.Kind()]; ok {
		return fmt.Sprintf("%s(%s)", b[2], expr)
	}
	return expr
}

// argNames returns the Go names of m's input and output arguments,
// all distinct from each other and from the names the stubs use.
func argNames(m *lia.MethodDescription) (in, out []string) {
	used := map[string]bool{}
	for _, n := range []string{"ctx", "err", "args", "inv", "impl", "resp", "c", "conn", "path", "must", "lia", "context"} {
		used[n] = true
	}
	name := func(n int, a lia.ArgumentDescription) string {
		ret := argName(n, a)
		for used[ret] {
			ret += "_"
		}
		used[ret] = true
		return ret
	}
	for i, a := range m.In() {
		in = append(in, name(i, a))
	}
	for i, a := range m.Out() {
		out = append(out, name(i, a))
	}
	return in, out
}

func argName(n int, arg lia.ArgumentDescription) string {
	name := arg.Name
	if name == "" {
		name = fmt.Sprintf("arg%d", n)
	}
	name = identifier(name)
	switch name {
	case "type":
		name = "typ"
	case "", "func", "var", "range", "map", "chan", "default", "interface", "select", "case", "go", "defer", "return", "package", "import", "struct", "switch", "for", "if", "else", "break", "continue", "const", "goto", "fallthrough":
		name = fmt.Sprintf("arg%d", n)
	}
	return name
}

func identifier(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	fs := strings.Split(s, "_")
	for i := range fs {
		if i == 0 {
			fst := true
			fs[i] = strings.Map(func(r rune) rune {
				if fst {
					fst = false
					return unicode.ToLower(r)
				}
				return r
			}, fs[i])
		} else {
			switch fs[i] {
			case "id":
				fs[i] = "ID"
			case "fd":
				fs[i] = "FD"
			default:
				fs[i] = title(fs[i])
			}
		}
	}
	return strings.Join(fs, "")
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func publicIdentifier(s string) string {
	return title(identifier(s))
}
