// Package app runs a lia service: a process connected to up to three
// buses of different trust levels, owning a service name on each, and
// serving objects over them.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freesocial/lia"
)

// BusType identifies one of an application's buses.
type BusType int

const (
	// Private is the bus shared by the services of one deployment.
	Private BusType = iota
	// Protected is the bus for trusted peers.
	Protected
	// Public is the bus open to any peer.
	Public
)

// AllBuses lists every BusType.
var AllBuses = []BusType{Private, Protected, Public}

func (b BusType) String() string {
	switch b {
	case Private:
		return "private"
	case Protected:
		return "protected"
	case Public:
		return "public"
	default:
		return fmt.Sprintf("BusType(%d)", int(b))
	}
}

// DialFunc connects to the bus at address.
type DialFunc func(ctx context.Context, address string, opts *lia.Options) (*lia.Conn, error)

// Options are the callbacks and dependencies of an Application. A
// nil *Options is valid and provides defaults.
type Options struct {
	// Logger receives the application's log output. If nil, the
	// global zerolog logger is used.
	Logger *zerolog.Logger
	// Dial connects to a bus. If nil, [lia.Dial] is used.
	Dial DialFunc
	// MachineID is passed to every bus connection. See
	// [lia.Options].
	MachineID string

	// RegisterObjects is called once for each bus after it is
	// connected, and before the service name is requested on it.
	// Calls for different buses may run concurrently.
	RegisterObjects func(ctx context.Context, app *Application, bus BusType) error
	// Ready is called once every configured bus is connected and
	// owns the service name.
	Ready func(ctx context.Context, app *Application)
}

// Application is a lia service.
type Application struct {
	cfg  Config
	opts Options
	log  zerolog.Logger

	mu    sync.Mutex
	buses map[BusType]*lia.Conn
}

// New returns an Application with the given configuration.
func New(cfg *Config, opts *Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ret := &Application{
		cfg:   *cfg,
		buses: map[BusType]*lia.Conn{},
	}
	if opts != nil {
		ret.opts = *opts
	}
	if ret.opts.Logger != nil {
		ret.log = *ret.opts.Logger
	} else {
		ret.log = log.Logger
	}
	if ret.opts.Dial == nil {
		ret.opts.Dial = lia.Dial
	}
	return ret, nil
}

// Run connects the configured buses, registers objects, acquires the
// service name and then serves until ctx is canceled or a bus
// connection is lost. It closes every bus connection before
// returning.
//
// Run returns nil if ctx was canceled after the application became
// ready.
func (a *Application) Run(ctx context.Context) error {
	defer a.closeAll()

	g := taskgroup.New(nil)
	for _, bus := range AllBuses {
		addr := a.cfg.Address(bus)
		if addr == "" {
			continue
		}
		g.Go(func() error {
			return a.startBus(ctx, bus, addr)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.log.Info().Str("service", a.cfg.ServiceName).Msg("application ready")
	if a.opts.Ready != nil {
		a.opts.Ready(ctx, a)
	}

	type lostBus struct {
		bus BusType
		err error
	}
	buses := a.connected()
	lost := make(chan lostBus, len(buses))
	for bus, conn := range buses {
		go func() {
			<-conn.Done()
			lost <- lostBus{bus, conn.Err()}
		}()
	}

	select {
	case <-ctx.Done():
		a.log.Info().Msg("application shutting down")
		return nil
	case l := <-lost:
		err := l.err
		if err == nil {
			err = lia.ErrConnectionClosed
		}
		a.log.Error().Err(err).Stringer("bus", l.bus).Msg("bus connection lost")
		return fmt.Errorf("%s bus connection lost: %w", l.bus, err)
	}
}

func (a *Application) startBus(ctx context.Context, bus BusType, addr string) error {
	busLog := a.log.With().Stringer("bus", bus).Logger()
	conn, err := a.opts.Dial(ctx, addr, &lia.Options{
		Logger:    &busLog,
		MachineID: a.opts.MachineID,
	})
	if err != nil {
		return fmt.Errorf("connecting to %s bus: %w", bus, err)
	}
	a.mu.Lock()
	a.buses[bus] = conn
	a.mu.Unlock()
	busLog.Debug().Str("address", addr).Msg("connected")

	if a.opts.RegisterObjects != nil {
		if err := a.opts.RegisterObjects(ctx, a, bus); err != nil {
			return fmt.Errorf("registering objects on %s bus: %w", bus, err)
		}
	}

	if a.cfg.ServiceName == "" {
		return nil
	}
	primary, err := conn.RequestName(ctx, a.cfg.ServiceName, 0)
	if err != nil {
		return fmt.Errorf("requesting service name on %s bus: %w", bus, err)
	}
	if !primary {
		return fmt.Errorf("failed to own service name %q on %s bus", a.cfg.ServiceName, bus)
	}
	busLog.Debug().Str("name", a.cfg.ServiceName).Msg("acquired service name")
	return nil
}

func (a *Application) connected() map[BusType]*lia.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	ret := make(map[BusType]*lia.Conn, len(a.buses))
	for bus, conn := range a.buses {
		ret[bus] = conn
	}
	return ret
}

func (a *Application) closeAll() {
	a.mu.Lock()
	buses := a.buses
	a.buses = map[BusType]*lia.Conn{}
	a.mu.Unlock()
	for bus, conn := range buses {
		if err := conn.Close(); err != nil {
			a.log.Warn().Err(err).Stringer("bus", bus).Msg("closing bus connection")
		}
	}
}

// ServiceName returns the name the application owns on its buses.
func (a *Application) ServiceName() string { return a.cfg.ServiceName }

// BaseServiceName returns the deployment's base service name.
func (a *Application) BaseServiceName() string { return a.cfg.BaseServiceName }

// CoreServiceName returns the name of the deployment's core service.
func (a *Application) CoreServiceName() string { return a.cfg.CoreServiceName }

// BusAddress returns the configured address of bus.
func (a *Application) BusAddress(bus BusType) string { return a.cfg.Address(bus) }

// Bus returns the connection to bus, or nil if that bus is not
// connected.
func (a *Application) Bus(bus BusType) *lia.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buses[bus]
}

var errBusNotConnected = errors.New("bus not connected")

// RegisterObject registers the interface described by interfaceXML
// at path on bus. See [lia.Conn.RegisterObjectXML].
func (a *Application) RegisterObject(bus BusType, path lia.ObjectPath, interfaceXML string, handler lia.Handler, userCtx any) (lia.RegistrationID, error) {
	conn := a.Bus(bus)
	if conn == nil {
		return 0, fmt.Errorf("%s: %w", bus, errBusNotConnected)
	}
	return conn.RegisterObjectXML(path, interfaceXML, handler, userCtx)
}

// UnregisterObject removes a registration made with RegisterObject.
// It reports whether the registration existed.
func (a *Application) UnregisterObject(bus BusType, id lia.RegistrationID) bool {
	conn := a.Bus(bus)
	if conn == nil {
		return false
	}
	return conn.UnregisterObject(id)
}
