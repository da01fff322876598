package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/hunyxv/zcomm"
	"github.com/hunyxv/zcomm/client"
	_ "github.com/hunyxv/zcomm/zmqcomm"
)

type Arguments struct {
	Config    kong.ConfigFlag `help:"Path to config file" type:"existingfile"`
	LogLevel  string          `help:"Log level: debug, info, warn or error" default:"info"`
	LogFormat string          `help:"Log format: console or json" default:"console"`
	Kind      string          `help:"Comm kind used for requests and replies" default:"zmq"`
	Address   string          `help:"Request address; servers bind it, clients send to it" default:"tcp://127.0.0.1:5555"`
	Etcd      []string        `help:"etcd endpoints of the address book"`
	Consul    string          `help:"consul agent address of the address book"`
	Service   string          `help:"Service name published to / resolved from the address book" default:"echo"`

	Serve ServeCmd `cmd:"" help:"Run an echo responder"`
	Call  CallCmd  `cmd:"" help:"Send each payload as a request and print the reply"`
}

// env carries what every command needs once flags are parsed.
type env struct {
	logger zcomm.Logger
	book   zcomm.AddressBook
}

func (e *env) close() {
	if e.book != nil {
		e.book.Close()
	}
}

type ServeCmd struct {
	Workers int `help:"Size of the handler pool (0 picks a default)"`
}

func (s *ServeCmd) Run(args *Arguments, e *env) error {
	cfg := zcomm.ServerConfigFor(args.clientConfig())
	opts := []zcomm.Option{zcomm.WithLogger(e.logger)}
	if s.Workers > 0 {
		opts = append(opts, zcomm.WithWorkPoolSize(s.Workers))
	}
	if e.book != nil {
		opts = append(opts, zcomm.WithAddressBook(e.book, args.Service))
	}

	r, err := zcomm.NewResponder(cfg, func(ctx context.Context, req *zcomm.Message) (*zcomm.Message, error) {
		rh, _ := zcomm.ParseRequestHeader(req)
		e.logger.Infof("request %s from %s: %q", rh.RequestID, rh.CallerTag, req.Payload)
		return zcomm.NewMessage(req.Payload), nil
	}, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	e.logger.Infof("serving %s on %s", args.Service, r.Address())
	return r.Serve(ctx)
}

type CallCmd struct {
	Timeout  time.Duration `help:"How long to wait for each reply" default:"5s"`
	Tag      string        `help:"Caller tag sent with every request"`
	EOF      bool          `help:"Send an end-of-stream message after the payloads"`
	Payloads []string      `arg:"" help:"Request payloads"`
}

func (c *CallCmd) Run(args *Arguments, e *env) error {
	cfg := args.clientConfig()
	cfg.CallerTag = c.Tag
	cfg.Response.Timeout = c.Timeout

	opts := []client.Option{client.WithLogger(e.logger)}
	if e.book != nil {
		opts = append(opts, client.WithAddressBook(e.book, args.Service))
	}
	corr, err := client.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer corr.Close()
	if err := corr.Open(); err != nil {
		return err
	}

	for _, p := range c.Payloads {
		rep, err := corr.Call(zcomm.NewMessage([]byte(p)), zcomm.WithTimeout(c.Timeout))
		if err != nil {
			return err
		}
		if rep == nil {
			fmt.Printf("%s: not delivered\n", p)
			continue
		}
		if err := rep.Err(); err != nil {
			fmt.Printf("%s: error: %v\n", p, err)
			continue
		}
		fmt.Printf("%s: %s\n", p, rep.Payload)
	}
	if c.EOF {
		if _, err := corr.Call(zcomm.EOFMessage()); err != nil {
			return err
		}
	}
	return nil
}

func (args *Arguments) clientConfig() zcomm.ClientConfig {
	return zcomm.ClientConfig{
		Request:  zcomm.CommConfig{Kind: args.Kind, Address: args.Address},
		Response: zcomm.CommConfig{Kind: args.Kind},
	}
}

func (args *Arguments) addressBook(logger zcomm.Logger) (zcomm.AddressBook, error) {
	switch {
	case len(args.Etcd) > 0:
		return zcomm.NewEtcdAddressBook(&zcomm.RegistryConfig{Registries: args.Etcd, Logger: logger})
	case args.Consul != "":
		return zcomm.NewConsulAddressBook(&zcomm.RegistryConfig{Registries: []string{args.Consul}, Logger: logger})
	}
	return nil, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	args, ctx, err := parseArgs(argv)
	if err != nil {
		return err
	}
	logger, err := zcomm.ParseLogger(args.LogLevel, args.LogFormat)
	if err != nil {
		return err
	}
	zcomm.SetDefaultLogger(logger)

	book, err := args.addressBook(logger)
	if err != nil {
		return err
	}
	e := &env{logger: logger, book: book}
	defer e.close()
	return ctx.Run(args, e)
}

func parseArgs(argv []string) (*Arguments, *kong.Context, error) {
	args := &Arguments{}
	parser, err := kong.New(args, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, nil, err
	}
	// 去掉空参数，否则解析报错信息不明确
	var cleaned []string
	for _, arg := range argv {
		if arg = strings.TrimSpace(arg); arg != "" {
			cleaned = append(cleaned, arg)
		}
	}
	ctx, err := parser.Parse(cleaned)
	if err != nil {
		return nil, nil, err
	}
	return args, ctx, nil
}
