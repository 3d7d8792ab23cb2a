package lia

import (
	"errors"
	"fmt"
	"strings"
)

// ObjectPath is the hierarchical name of an object on the bus, such
// as "/org/example/myapp1/MyObj1".
type ObjectPath string

// Valid checks that p is a syntactically valid object path: a "/"
// followed by "/"-separated non-empty elements of [A-Za-z0-9_], with
// no trailing slash except for the root path "/".
func (p ObjectPath) Valid() error {
	s := string(p)
	if s == "" {
		return errors.New("empty object path")
	}
	if s[0] != '/' {
		return fmt.Errorf("object path %q does not start with /", s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("object path %q has a trailing /", s)
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return fmt.Errorf("object path %q has an empty element", s)
		}
		for _, c := range elem {
			if !isNameChar(c) {
				return fmt.Errorf("object path %q contains invalid character %q", s, c)
			}
		}
	}
	return nil
}

// IsChildOf reports whether p is strictly below parent in the path
// hierarchy.
func (p ObjectPath) IsChildOf(parent ObjectPath) bool {
	if parent == "/" {
		return p != "/" && strings.HasPrefix(string(p), "/")
	}
	return strings.HasPrefix(string(p), string(parent)+"/")
}

// childName returns the name of the direct child of parent that
// leads to p, or "" if p is not below parent.
func (p ObjectPath) childName(parent ObjectPath) string {
	if !p.IsChildOf(parent) {
		return ""
	}
	rest := strings.TrimPrefix(string(p), string(parent))
	rest = strings.TrimPrefix(rest, "/")
	name, _, _ := strings.Cut(rest, "/")
	return name
}

func isNameChar(c rune) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// validInterfaceName checks an interface or error name: at least two
// "."-separated elements of [A-Za-z0-9_], not starting with a digit,
// at most 255 bytes.
func validInterfaceName(name string) error {
	if name == "" {
		return errors.New("empty interface name")
	}
	if len(name) > 255 {
		return fmt.Errorf("interface name %q longer than 255 bytes", name)
	}
	elems := strings.Split(name, ".")
	if len(elems) < 2 {
		return fmt.Errorf("interface name %q must have at least two elements", name)
	}
	for _, elem := range elems {
		if err := validMemberName(elem); err != nil {
			return fmt.Errorf("interface name %q: %w", name, err)
		}
	}
	return nil
}

// validMemberName checks a method, signal or property name.
func validMemberName(name string) error {
	if name == "" {
		return errors.New("empty name element")
	}
	if len(name) > 255 {
		return fmt.Errorf("name %q longer than 255 bytes", name)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("name %q starts with a digit", name)
	}
	for _, c := range name {
		if !isNameChar(c) {
			return fmt.Errorf("name %q contains invalid character %q", name, c)
		}
	}
	return nil
}

// ValidBusName checks a bus name, either a unique name such as
// ":1.42" or a well-known name such as "org.example.myapp".
func ValidBusName(name string) error {
	if name == "" {
		return errors.New("empty bus name")
	}
	if len(name) > 255 {
		return fmt.Errorf("bus name %q longer than 255 bytes", name)
	}
	unique := strings.HasPrefix(name, ":")
	elems := strings.Split(strings.TrimPrefix(name, ":"), ".")
	if len(elems) < 2 {
		return fmt.Errorf("bus name %q must have at least two elements", name)
	}
	for _, elem := range elems {
		if elem == "" {
			return fmt.Errorf("bus name %q has an empty element", name)
		}
		if !unique && elem[0] >= '0' && elem[0] <= '9' {
			return fmt.Errorf("bus name %q has an element starting with a digit", name)
		}
		for _, c := range elem {
			if !isNameChar(c) && c != '-' {
				return fmt.Errorf("bus name %q contains invalid character %q", name, c)
			}
		}
	}
	return nil
}
