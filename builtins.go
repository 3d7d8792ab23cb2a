package lia

import (
	"fmt"
)

// Interfaces that the Conn implements itself on registered objects.
const (
	ifacePeer           = "org.freedesktop.DBus.Peer"
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
)

const builtinXML = `<node>
  <interface name="org.freedesktop.DBus.Peer">
    <method name="Ping"/>
    <method name="GetMachineId">
      <arg type="s" name="machine_uuid" direction="out"/>
    </method>
  </interface>
  <interface name="org.freedesktop.DBus.Introspectable">
    <method name="Introspect">
      <arg type="s" name="xml_data" direction="out"/>
    </method>
  </interface>
</node>`

type builtinMethod struct {
	iface string
	bound *boundMethod
}

var (
	builtinNode = mustParseNode(builtinXML)

	// builtins maps interface and member names to built-in methods.
	builtins = map[string]map[string]*builtinMethod{}
)

func init() {
	impls := map[string]func(*Conn, *Call) ([]Value, error){
		"Ping":         (*Conn).ping,
		"GetMachineId": (*Conn).getMachineID,
		"Introspect":   (*Conn).introspect,
	}
	for _, iface := range builtinNode.Interfaces {
		methods := map[string]*builtinMethod{}
		for _, m := range iface.Methods {
			methods[m.Name] = &builtinMethod{
				iface: iface.Name,
				bound: &boundMethod{
					desc:    m,
					in:      m.InSignature(),
					out:     m.OutSignature(),
					builtin: impls[m.Name],
				},
			}
		}
		builtins[iface.Name] = methods
	}
}

func mustParseNode(doc string) *NodeDescription {
	ret, err := ParseNode([]byte(doc))
	if err != nil {
		panic(err)
	}
	return ret
}

// builtinByMember finds a built-in method by name alone, for calls
// that do not name an interface.
func builtinByMember(member string) *builtinMethod {
	for _, methods := range builtins {
		if m, ok := methods[member]; ok {
			return m
		}
	}
	return nil
}

// servesBuiltins reports whether the built-in interface iface is
// available at path. Peer is answered on every path, Introspectable
// on the root and on paths at or above a registered object.
func (c *Conn) servesBuiltins(path ObjectPath, iface string) bool {
	switch iface {
	case ifacePeer:
		return true
	case ifaceIntrospectable:
		return path == "/" || c.reg.hasPath(path) || len(c.reg.childrenOf(path)) > 0
	default:
		return false
	}
}

// dispatchBuiltin answers a call to a built-in method synchronously.
func (c *Conn) dispatchBuiltin(call *Call, m *boundMethod) error {
	if err := checkArgs(m.in, call.Args); err != nil {
		return c.replyError(call, &dispatchError{ErrNameInvalidArgs, err.Error()})
	}
	body, err := m.builtin(c, call)
	if err != nil {
		return c.replyError(call, &dispatchError{ErrNameFailed, err.Error()})
	}
	if call.NoReply {
		return nil
	}
	return c.writeReply(&Reply{
		Token:       call.Token,
		Destination: call.Sender,
		Body:        body,
	})
}

func (c *Conn) ping(*Call) ([]Value, error) {
	return nil, nil
}

func (c *Conn) getMachineID(*Call) ([]Value, error) {
	id, err := c.machineID()
	if err != nil {
		return nil, fmt.Errorf("reading machine ID: %w", err)
	}
	return []Value{String(id)}, nil
}

// introspect describes the interfaces registered at the call's path,
// the built-in interfaces, and the path's children. It is only
// called on paths that serve Introspectable, so the built-ins are
// always listed.
func (c *Conn) introspect(call *Call) ([]Value, error) {
	node := &NodeDescription{
		Interfaces: c.reg.interfacesAt(call.Path),
		Children:   c.reg.childrenOf(call.Path),
	}
	node.Interfaces = append(node.Interfaces, builtinNode.Interfaces...)
	return []Value{String(node.String())}, nil
}
