package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/freesocial/lia"
)

const (
	examplePath      lia.ObjectPath = "/org/example/myapp1/MyObj1"
	exampleInterface                = "org.example.myapp.MyObj1Iface"
	exampleXML                      = `<interface name="org.example.myapp.MyObj1Iface">
  <method name="Ask">
    <arg name="question" type="s" direction="in"/>
    <arg name="answer" type="b" direction="out"/>
  </method>
</interface>`
)

var exampleHandler = lia.HandlerFunc(func(ctx context.Context, userCtx any, args []lia.Value, inv *lia.Invocation) {
	question, _ := args[0].AsString()
	ev := logger.Info().Str("sender", inv.Sender()).Str("question", question)
	if bus, ok := userCtx.(fmt.Stringer); ok {
		ev = ev.Stringer("bus", bus)
	}
	ev.Msg("asked")
	if err := inv.ReturnValue(lia.Bool(true)); err != nil {
		logger.Warn().Err(err).Msg("answering")
	}
})

// readIntrospection parses the introspection document in file, which
// may be rooted at a <node> or a single <interface>.
func readIntrospection(file string) ([]*lia.InterfaceDescription, []string, error) {
	bs, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, err
	}
	node, err := lia.ParseNode(bs)
	if err == nil {
		return node.Interfaces, node.Children, nil
	}
	iface, ierr := lia.ParseInterface(bs)
	if ierr != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", file, ierr)
	}
	return []*lia.InterfaceDescription{iface}, nil, nil
}

// parseArgs converts command line arguments to values of the given
// signature. An empty signature makes every argument a string.
func parseArgs(sig string, args []string) ([]lia.Value, error) {
	if sig == "" {
		ret := make([]lia.Value, 0, len(args))
		for _, a := range args {
			ret = append(ret, lia.String(a))
		}
		return ret, nil
	}
	s, err := lia.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if s.Len() != len(args) {
		return nil, fmt.Errorf("signature %q wants %d arguments, got %d", sig, s.Len(), len(args))
	}
	ret := make([]lia.Value, 0, len(args))
	for i, a := range args {
		v, err := parseArg(s.At(i), a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		ret = append(ret, v)
	}
	return ret, nil
}

func parseArg(t lia.Type, s string) (lia.Value, error) {
	var (
		ret lia.Value
		err error
	)
	switch t.Kind() {
	case lia.KindBool:
		var b bool
		b, err = strconv.ParseBool(s)
		ret = lia.Bool(b)
	case lia.KindByte:
		var u uint64
		u, err = strconv.ParseUint(s, 0, 8)
		ret = lia.Byte(uint8(u))
	case lia.KindInt16:
		var n int64
		n, err = strconv.ParseInt(s, 0, 16)
		ret = lia.Int16(int16(n))
	case lia.KindUint16:
		var u uint64
		u, err = strconv.ParseUint(s, 0, 16)
		ret = lia.Uint16(uint16(u))
	case lia.KindInt32:
		var n int64
		n, err = strconv.ParseInt(s, 0, 32)
		ret = lia.Int32(int32(n))
	case lia.KindUint32:
		var u uint64
		u, err = strconv.ParseUint(s, 0, 32)
		ret = lia.Uint32(uint32(u))
	case lia.KindInt64:
		var n int64
		n, err = strconv.ParseInt(s, 0, 64)
		ret = lia.Int64(n)
	case lia.KindUint64:
		var u uint64
		u, err = strconv.ParseUint(s, 0, 64)
		ret = lia.Uint64(u)
	case lia.KindDouble:
		var f float64
		f, err = strconv.ParseFloat(s, 64)
		ret = lia.Double(f)
	case lia.KindString:
		ret = lia.String(s)
	case lia.KindObjectPath:
		ret, err = lia.ObjectPathValue(lia.ObjectPath(s))
	case lia.KindSignature:
		var sig lia.Signature
		sig, err = lia.ParseSignature(s)
		ret = lia.SignatureValue(sig)
	default:
		return lia.Value{}, fmt.Errorf("cannot parse %s from the command line", t)
	}
	return ret, err
}

type indenter struct {
	out        io.Writer
	prefix     string
	indentNext bool
}

func (i *indenter) v(v any) {
	fmt.Fprintf(i, "%v\n", v)
}

func (i *indenter) s(msg string) {
	io.WriteString(i, msg+"\n")
}

func (i *indenter) Write(bs []byte) (int, error) {
	out := i.out
	if out == nil {
		out = os.Stdout
	}
	ret := 0
	for len(bs) > 0 {
		if i.indentNext {
			i.indentNext = false
			if _, err := io.WriteString(out, i.prefix); err != nil {
				return ret, err
			}
		}

		wr := bs
		if idx := bytes.IndexByte(bs, '\n'); idx >= 0 {
			i.indentNext = true
			wr, bs = bs[:idx+1], bs[idx+1:]
		} else {
			bs = nil
		}

		n, err := out.Write(wr)
		ret += n
		if err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func (i *indenter) indent(n int) {
	i.prefix = strings.Repeat("  ", n)
}
