package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// Address is one entry of a bus address, such as
// "unix:path=/run/dbus/system_bus_socket".
type Address struct {
	// Transport is the transport name, such as "unix".
	Transport string
	// Params are the transport's key/value parameters, unescaped.
	Params map[string]string
}

func (a Address) String() string {
	var ret strings.Builder
	ret.WriteString(a.Transport)
	ret.WriteByte(':')
	for i, k := range slices.Sorted(maps.Keys(a.Params)) {
		if i > 0 {
			ret.WriteByte(',')
		}
		fmt.Fprintf(&ret, "%s=%s", k, escape(a.Params[k]))
	}
	return ret.String()
}

// ParseAddress parses a bus address, which is a ";"-separated list of
// transport entries to try in order.
func ParseAddress(s string) ([]Address, error) {
	if s == "" {
		return nil, errors.New("empty bus address")
	}
	var ret []Address
	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		transport, params, ok := strings.Cut(entry, ":")
		if !ok || transport == "" {
			return nil, fmt.Errorf("invalid bus address entry %q: missing transport", entry)
		}
		addr := Address{
			Transport: transport,
			Params:    map[string]string{},
		}
		if params != "" {
			for _, kv := range strings.Split(params, ",") {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return nil, fmt.Errorf("invalid bus address entry %q: malformed parameter %q", entry, kv)
				}
				if _, dup := addr.Params[k]; dup {
					return nil, fmt.Errorf("invalid bus address entry %q: duplicate parameter %q", entry, k)
				}
				uv, err := url.PathUnescape(v)
				if err != nil {
					return nil, fmt.Errorf("invalid bus address entry %q: %w", entry, err)
				}
				addr.Params[k] = uv
			}
		}
		ret = append(ret, addr)
	}
	if len(ret) == 0 {
		return nil, errors.New("empty bus address")
	}
	return ret, nil
}

// Dial connects to the first reachable entry of a bus address, and
// authenticates to the bus.
func Dial(ctx context.Context, address string) (Transport, error) {
	addrs, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, addr := range addrs {
		t, err := dialOne(ctx, addr)
		if err == nil {
			return t, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("connecting to bus: %w", errors.Join(errs...))
}

func dialOne(ctx context.Context, addr Address) (Transport, error) {
	if addr.Transport != "unix" {
		return nil, fmt.Errorf("unsupported transport %q", addr.Transport)
	}
	if p, ok := addr.Params["path"]; ok {
		return DialUnix(ctx, p)
	}
	if p, ok := addr.Params["abstract"]; ok {
		return DialUnix(ctx, "@"+p)
	}
	return nil, errors.New("unix address has neither path nor abstract parameter")
}

// escape applies the bus address value escaping rules: bytes outside
// [-0-9A-Za-z_/.\*] are written as %XX.
func escape(s string) string {
	var ret strings.Builder
	for i := range len(s) {
		c := s[i]
		if isOptionallyEscaped(c) {
			ret.WriteByte(c)
		} else {
			fmt.Fprintf(&ret, "%%%02x", c)
		}
	}
	return ret.String()
}

func isOptionallyEscaped(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	}
	return strings.IndexByte("-_/.\\*", c) >= 0
}
