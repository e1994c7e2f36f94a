// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sys/unix"

	"github.com/swatteksystems/proxycore/internal/config"
	"github.com/swatteksystems/proxycore/internal/connection"
	"github.com/swatteksystems/proxycore/internal/data"
	"github.com/swatteksystems/proxycore/internal/logging"
	"github.com/swatteksystems/proxycore/internal/poller"
	"github.com/swatteksystems/proxycore/internal/xprt"
)

type rootCommand struct {
	ffcli.Command
	flags struct {
		config string
	}
}

func newRootCommand() *ffcli.Command {
	c := new(rootCommand)

	c.Name = "proxycored"
	c.ShortUsage = "proxycored [flags]"
	c.ShortHelp = "run the connection core proxy daemon"

	c.FlagSet = flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ContinueOnError)
	c.FlagSet.StringVar(&c.flags.config, "config", "proxycore.yaml", "configuration file path")
	c.FlagSet.BoolVar(&logging.Verbose, "v", false, "enable verbose debug logging")
	c.FlagSet.StringVar(&logging.Logfile, "logfile", "", "file for debug logs (stdout if unspecified)")

	c.Options = []ff.Option{ff.WithEnvVarPrefix("PROXYCORE")}
	c.Exec = c.entrypoint
	return &c.Command
}

func (c *rootCommand) entrypoint(ctx context.Context, args []string) error {
	if err := logging.Init(); err != nil {
		return err
	}

	cfg, err := config.Load(c.flags.config)
	if err != nil {
		return err
	}

	d := &daemon{cfg: cfg, table: connection.NewFDTable()}
	d.pool = connection.NewPool(d.table)

	ep, err := poller.New(d.dispatch)
	if err != nil {
		return fmt.Errorf("proxycored: %w", err)
	}
	d.poller = ep

	stop := make(chan struct{})
	for i := range cfg.Listeners {
		if err := d.serve(&cfg.Listeners[i]); err != nil {
			return fmt.Errorf("proxycored: listener %s: %w", cfg.Listeners[i].Name, err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("shutting down")
		close(stop)
	}()

	return ep.Run(stop)
}

type daemon struct {
	cfg    *config.Config
	table  *connection.FDTable
	pool   *connection.Pool
	poller *poller.Epoll
}

func (d *daemon) dispatch(fd int) {
	connection.Dispatch(d.table, fd)
}

// serve opens one listener and spawns an accept loop that pairs every
// inbound connection with a dialed connection to its configured
// upstream, wiring both into the fd table under the shared poller.
func (d *daemon) serve(l *config.Listener) error {
	ln, err := net.Listen("tcp", l.Addr)
	if err != nil {
		return err
	}
	slog.Info("listening", "name", l.Name, "addr", l.Addr, "upstream", l.Upstream)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				slog.Error("accept failed", "listener", l.Name, "err", err)
				return
			}
			if err := d.acceptOne(l, conn); err != nil {
				slog.Error("failed to wire accepted connection", "listener", l.Name, "err", err)
				conn.Close()
			}
		}
	}()
	return nil
}

func (d *daemon) acceptOne(l *config.Listener, conn net.Conn) error {
	clientFD, err := fdFromConn(conn)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(clientFD, true); err != nil {
		return fmt.Errorf("setnonblock client: %w", err)
	}

	upstream, err := net.Dial("tcp", l.Upstream)
	if err != nil {
		return err
	}
	serverFD, err := fdFromConn(upstream)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(serverFD, true); err != nil {
		return fmt.Errorf("setnonblock upstream: %w", err)
	}

	clientData := data.NewStream()
	serverData := data.NewStream()

	clientConn := d.pool.Get(clientFD, d.poller, xprt.NewRaw(clientFD), clientData, connection.InitFlags{
		AcceptProxy: l.AcceptProxy,
		InitData:    true,
		SockRDEna:   true,
		WakeData:    true,
	})
	serverConn := d.pool.Get(serverFD, d.poller, xprt.NewRaw(serverFD), serverData, connection.InitFlags{
		SendProxy:  l.SendProxy,
		InitData:   true,
		WaitL4Conn: true,
		SockWREna:  true,
		WakeData:   true,
	})

	data.Pair(clientData, serverData, clientConn, serverConn)

	clientConn.EnableDataWrite()
	serverConn.EnableDataWrite()

	d.poller.WantRecv(clientFD)
	d.poller.WantSend(serverFD)
	return nil
}

// fdFromConn duplicates the kernel descriptor out of a *net.TCPConn so
// it can be driven directly by the epoll-based poller instead of
// Go's own netpoller. File() dups the fd and puts the original back
// into blocking mode, so the caller must re-apply O_NONBLOCK.
func fdFromConn(conn net.Conn) (int, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return -1, fmt.Errorf("proxycored: %T does not support File()", conn)
	}
	f, err := fc.File()
	if err != nil {
		return -1, err
	}
	return int(f.Fd()), nil
}

func main() {
	root := newRootCommand()
	if err := root.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
