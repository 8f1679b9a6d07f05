// Program volley is a command-line utility for running and calling volley
// session peers.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/volley"
	"github.com/creachadair/volley/peers"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var flags struct {
	Config string `flag:"config,Configuration file (YAML)"`
	Role   string `flag:"role,default=gate,Role of this peer"`
}

var serveFlags struct {
	Listen string `flag:"listen,default=localhost:7070,Service address"`
	Debug  string `flag:"debug,Address to serve expvar metrics (optional)"`
}

var callFlags struct {
	Timeout time.Duration `flag:"timeout,default=10s,Timeout for the call"`
	Raw     bool          `flag:"raw,Send arguments as raw bytes"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Utilities for running and calling volley peers.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:     "serve",
				Help:     "Run a peer that echoes calls and logs messages.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:     "call",
				Usage:    "<addr> <method> [<arg>...]",
				Help:     "Call a method on the peer at addr and print the result.",
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name:  "send",
				Usage: "<addr> <message>...",
				Help:  "Send one-way messages to the peer at addr.",
				Run:   runSend,
			},
			{
				Name: "config",
				Help: "Print the effective session configuration as YAML.",
				Run:  runConfig,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func loadConfig() (volley.Config, error) {
	if flags.Config == "" {
		return volley.DefaultConfig(), nil
	}
	return volley.LoadConfig(flags.Config)
}

func runConfig(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func runServe(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	role, err := volley.ParseRole(flags.Role)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lst, err := net.Listen("tcp", serveFlags.Listen)
	if err != nil {
		return err
	}
	slog.Info("listening", "addr", lst.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer lst.Close()
		return peers.Loop(ctx, peers.NetAccepter(lst), func() *volley.Session {
			return volley.NewSession(cfg).
				Identify(volley.Info{Role: role}).
				Handle(0, func(_ context.Context, req *volley.Request) (any, error) {
					slog.Info("call", "session", req.Session.ID(), "method", req.Method())
					if c := req.Call(); c != nil {
						return fmt.Sprint(c.Args...), nil
					}
					return req.Body, nil
				}).
				HandleMessage(func(ctx context.Context, body any) {
					slog.Info("message", "session", volley.ContextSession(ctx).ID(), "body", body)
				}).
				OnExit(func(err error) {
					slog.Info("session exited", "error", err)
				})
		})
	})
	if serveFlags.Debug != "" {
		expvar.Publish("volley", volley.Metrics())
		srv := &http.Server{Addr: serveFlags.Debug, Handler: expvar.Handler()}
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dial connects to the peer at addr and starts a session on the connection.
func dial(ctx context.Context, addr string) (*volley.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	role, err := volley.ParseRole(flags.Role)
	if err != nil {
		return nil, err
	}
	ch, err := peers.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return volley.NewSession(cfg).Identify(volley.Info{Local: host, Remote: addr, Role: role}).Start(ch), nil
}

func runCall(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing address and method")
	}
	method, err := strconv.ParseUint(env.Args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid method %q: %w", env.Args[1], err)
	}
	args := make([]any, len(env.Args)-2)
	for i, arg := range env.Args[2:] {
		if callFlags.Raw {
			args[i] = []byte(arg)
		} else {
			args[i] = arg
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), callFlags.Timeout)
	defer cancel()
	s, err := dial(ctx, env.Args[0])
	if err != nil {
		return err
	}
	defer s.Stop()

	v, err := s.Call(ctx, volley.NewCall(uint32(method), args...))
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", v)
	return nil
}

func runSend(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing address and message")
	}
	s, err := dial(context.Background(), env.Args[0])
	if err != nil {
		return err
	}
	for _, msg := range env.Args[1:] {
		if err := s.Send(msg); err != nil {
			s.Stop()
			return err
		}
	}
	if err := s.Flush(); err != nil {
		s.Stop()
		return err
	}
	return s.Stop()
}
