package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/freesocial/lia"
	"github.com/freesocial/lia/app"
	"github.com/freesocial/lia/internal/stubgen"
	"github.com/freesocial/lia/natsbus"
)

var globalArgs struct {
	Verbose bool `flag:"v,Log debug output"`
}

var logger zerolog.Logger

func main() {
	root := &command.C{
		Name:     "lia",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Init: func(env *command.Env) error {
			level := zerolog.InfoLevel
			if globalArgs.Verbose {
				level = zerolog.DebugLevel
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "serve",
				Help: `Serve the example object on a bus.

The object lives at ` + string(examplePath) + ` and implements
` + exampleInterface + `, whose Ask method answers true to every
question.

With --config, the service runs as a lia application: the TOML file
and LIA_* environment variables select the buses and service name.
Otherwise it connects to the system bus, or the session bus with
--session, and claims the names listed in --names.`,
				SetFlags: command.Flags(flax.MustBind, &serveArgs),
				Run:      command.Adapt(runServe),
			},
			{
				Name:     "serve-nats",
				Usage:    "serve-nats",
				Help:     "Serve the example object over NATS request/reply.",
				SetFlags: command.Flags(flax.MustBind, &natsArgs),
				Run:      command.Adapt(runServeNATS),
			},
			{
				Name:  "call-nats",
				Usage: "call-nats path interface method [args...]",
				Help: `Call a method on an object served over NATS.

Arguments are parsed according to --signature, which may only contain
basic types. Without --signature, every argument is a string.`,
				SetFlags: command.Flags(flax.MustBind, &natsArgs, &callArgs),
				Run:      runCallNATS,
			},
			{
				Name:     "introspect",
				Usage:    "introspect file",
				Help:     "Parse an introspection document and print the interfaces it describes.",
				SetFlags: command.Flags(flax.MustBind, &introspectArgs),
				Run:      command.Adapt(runIntrospect),
			},
			{
				Name:     "generate",
				Usage:    "generate file",
				Help:     "Generate Go server and client stubs from an introspection document.",
				SetFlags: command.Flags(flax.MustBind, &generateArgs),
				Run:      command.Adapt(runGenerate),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

var serveArgs struct {
	Config        string `flag:"config,Application config file"`
	UseSessionBus bool   `flag:"session,Connect to session bus instead of system bus"`
	Names         string `flag:"names,Comma-separated list of bus names to claim"`
}

func runServe(env *command.Env) error {
	if serveArgs.Config != "" {
		return serveApp(env.Context())
	}

	opts := &lia.Options{Logger: &logger}
	var (
		conn *lia.Conn
		err  error
	)
	if serveArgs.UseSessionBus {
		conn, err = lia.SessionBus(env.Context(), opts)
	} else {
		conn, err = lia.SystemBus(env.Context(), opts)
	}
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	if _, err := conn.RegisterObjectXML(examplePath, exampleXML, exampleHandler, nil); err != nil {
		return fmt.Errorf("registering example object: %w", err)
	}
	if serveArgs.Names != "" {
		for _, n := range strings.Split(serveArgs.Names, ",") {
			primary, err := conn.RequestName(env.Context(), n, lia.NameRequestNoQueue)
			if err != nil {
				return fmt.Errorf("claiming name %q: %w", n, err)
			}
			if !primary {
				return fmt.Errorf("name %q is owned by another peer", n)
			}
			logger.Info().Str("name", n).Msg("acquired name")
		}
	}
	logger.Info().Str("unique_name", conn.LocalName()).Str("path", string(examplePath)).Msg("serving")

	select {
	case <-env.Context().Done():
		logger.Info().Msg("shutdown")
		return nil
	case <-conn.Done():
		return fmt.Errorf("bus connection lost: %w", conn.Err())
	}
}

func serveApp(ctx context.Context) error {
	cfg, err := app.LoadConfig(serveArgs.Config)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, &app.Options{
		Logger: &logger,
		RegisterObjects: func(ctx context.Context, a *app.Application, bus app.BusType) error {
			_, err := a.RegisterObject(bus, examplePath, exampleXML, exampleHandler, bus)
			return err
		},
		Ready: func(ctx context.Context, a *app.Application) {
			for _, bus := range app.AllBuses {
				if conn := a.Bus(bus); conn != nil {
					logger.Info().Stringer("bus", bus).Str("unique_name", conn.LocalName()).Msg("serving")
				}
			}
		},
	})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

var natsArgs struct {
	URL     string `flag:"nats,default=nats://127.0.0.1:4222,NATS server URL"`
	Prefix  string `flag:"prefix,default=lia,Subject prefix"`
	Service string `flag:"service,default=org.example.myapp,Service name"`
}

func natsConn() (*nats.Conn, error) {
	nc, err := nats.Connect(natsArgs.URL, nats.Name("lia-"+natsArgs.Service))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}

func runServeNATS(env *command.Env) error {
	nc, err := natsConn()
	if err != nil {
		return err
	}
	defer nc.Close()

	subject := natsbus.Subject(natsArgs.Prefix, natsArgs.Service)
	link, err := natsbus.Listen(nc, subject)
	if err != nil {
		return err
	}
	conn := lia.NewConn(link, &lia.Options{Logger: &logger})
	defer conn.Close()

	if _, err := conn.RegisterObjectXML(examplePath, exampleXML, exampleHandler, nil); err != nil {
		return fmt.Errorf("registering example object: %w", err)
	}
	logger.Info().Str("subject", subject).Str("path", string(examplePath)).Msg("serving")

	select {
	case <-env.Context().Done():
		logger.Info().Msg("shutdown")
		return nil
	case <-conn.Done():
		return fmt.Errorf("NATS link lost: %w", conn.Err())
	}
}

var callArgs struct {
	Signature string        `flag:"signature,Signature of the call arguments"`
	Timeout   time.Duration `flag:"timeout,default=10s,Call timeout"`
}

func runCallNATS(env *command.Env) error {
	if len(env.Args) < 3 {
		return env.Usagef("call-nats requires path, interface and method.")
	}
	path, iface, method := lia.ObjectPath(env.Args[0]), env.Args[1], env.Args[2]
	if err := path.Valid(); err != nil {
		return err
	}
	args, err := parseArgs(callArgs.Signature, env.Args[3:])
	if err != nil {
		return err
	}

	nc, err := natsConn()
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(env.Context(), callArgs.Timeout)
	defer cancel()
	resp, err := natsbus.Call(ctx, nc, natsbus.Subject(natsArgs.Prefix, natsArgs.Service), path, iface, method, args...)
	if err != nil {
		return err
	}
	for _, v := range resp {
		fmt.Println(v)
	}
	return nil
}

var introspectArgs struct {
	Raw bool `flag:"raw,Dump the parsed descriptions as Go values"`
}

func runIntrospect(env *command.Env, file string) error {
	ifaces, children, err := readIntrospection(file)
	if err != nil {
		return err
	}
	if introspectArgs.Raw {
		fmt.Printf("%# v\n", pretty.Formatter(ifaces))
		return nil
	}
	var out indenter
	for _, iface := range ifaces {
		out.v(iface)
	}
	if len(children) > 0 {
		out.s("children:")
		out.indent(1)
		for _, c := range children {
			out.s(c)
		}
		out.indent(0)
	}
	return nil
}

var generateArgs struct {
	PackageName string `flag:"package,default=client,Package name to output"`
	OutFile     string `flag:"out,default=gen.go,Output file path"`
}

func runGenerate(env *command.Env, file string) error {
	ifaces, _, err := readIntrospection(file)
	if err != nil {
		return err
	}
	code, err := stubgen.File(generateArgs.PackageName, ifaces...)
	if err != nil {
		return fmt.Errorf("generating stubs: %w", err)
	}
	if err := os.WriteFile(generateArgs.OutFile, []byte(code), 0644); err != nil {
		return fmt.Errorf("writing generated code: %w", err)
	}
	fmt.Printf("Wrote generated package to %s\n", generateArgs.OutFile)
	return nil
}
