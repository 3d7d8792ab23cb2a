package lia

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
)

// RegistrationID identifies an object registration. The zero value
// is never a valid ID.
type RegistrationID uint64

type objectKey struct {
	Path      ObjectPath
	Interface string
}

// boundMethod is a method of a registered interface, with its
// signatures computed once at registration time.
type boundMethod struct {
	desc *MethodDescription
	in   Signature
	out  Signature
	// builtin is set for methods answered by the Conn itself.
	builtin func(*Conn, *Call) ([]Value, error)
}

// registration is an object registered at a path, serving one
// interface. It is immutable once inserted, except for its work
// queue.
type registration struct {
	id      RegistrationID
	key     objectKey
	iface   *InterfaceDescription
	methods map[string]*boundMethod
	handler Handler
	userCtx any

	// mu guards the FIFO of invocations waiting for the handler.
	mu      sync.Mutex
	work    *queue.Queue[*Invocation]
	running bool
}

func newRegistration(path ObjectPath, iface *InterfaceDescription, handler Handler, userCtx any) *registration {
	ret := &registration{
		key:     objectKey{path, iface.Name},
		iface:   iface,
		methods: make(map[string]*boundMethod, len(iface.Methods)),
		handler: handler,
		userCtx: userCtx,
		work:    queue.New[*Invocation](),
	}
	for _, m := range iface.Methods {
		ret.methods[m.Name] = &boundMethod{desc: m, in: m.InSignature(), out: m.OutSignature()}
	}
	return ret
}

// registry maps (path, interface) to registered objects.
type registry struct {
	mu     sync.RWMutex
	lastID RegistrationID
	byKey  map[objectKey]*registration
	byID   map[RegistrationID]*registration
	// ifaces is the set of interface names registered at each path.
	ifaces map[ObjectPath]mapset.Set[string]
}

func newRegistry() *registry {
	return &registry{
		byKey:  map[objectKey]*registration{},
		byID:   map[RegistrationID]*registration{},
		ifaces: map[ObjectPath]mapset.Set[string]{},
	}
}

// add inserts reg, or fails without mutation if its (path, interface)
// is already taken.
func (r *registry) add(reg *registration) (RegistrationID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[reg.key]; ok {
		return 0, fmt.Errorf("%w: %s at %s", ErrPathInterfaceAlreadyRegistered, reg.key.Interface, reg.key.Path)
	}
	r.lastID++
	reg.id = r.lastID
	r.byKey[reg.key] = reg
	r.byID[reg.id] = reg
	set := r.ifaces[reg.key.Path]
	if set == nil {
		set = mapset.New[string]()
		r.ifaces[reg.key.Path] = set
	}
	set.Add(reg.key.Interface)
	return reg.id, nil
}

// remove deletes the registration with the given ID. It reports
// whether anything was removed.
func (r *registry) remove(id RegistrationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byKey, reg.key)
	if set := r.ifaces[reg.key.Path]; set != nil {
		set.Remove(reg.key.Interface)
		if len(set) == 0 {
			delete(r.ifaces, reg.key.Path)
		}
	}
	return true
}

func (r *registry) lookup(path ObjectPath, iface string) *registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[objectKey{path, iface}]
}

// lookupMethod finds the registrations at path that have a method
// named member, for calls that do not name an interface.
func (r *registry) lookupMethod(path ObjectPath, member string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ret []*registration
	for iface := range r.ifaces[path] {
		reg := r.byKey[objectKey{path, iface}]
		if _, ok := reg.methods[member]; ok {
			ret = append(ret, reg)
		}
	}
	return ret
}

// hasPath reports whether any interface is registered at path.
func (r *registry) hasPath(path ObjectPath) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ifaces[path]) > 0
}

// interfacesAt returns the descriptions of the interfaces registered
// at path, sorted by name.
func (r *registry) interfacesAt(path ObjectPath) []*InterfaceDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Sorted(maps.Keys(r.ifaces[path]))
	ret := make([]*InterfaceDescription, 0, len(names))
	for _, n := range names {
		ret = append(ret, r.byKey[objectKey{path, n}].iface)
	}
	return ret
}

// childrenOf returns the names of the direct children of path that
// lead to registered objects, sorted.
func (r *registry) childrenOf(path ObjectPath) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	children := mapset.New[string]()
	for p := range r.ifaces {
		if name := p.childName(path); name != "" {
			children.Add(name)
		}
	}
	return slices.Sorted(maps.Keys(children))
}

// all returns every registration.
func (r *registry) all() []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*registration, 0, len(r.byID))
	for _, reg := range r.byID {
		ret = append(ret, reg)
	}
	return ret
}
