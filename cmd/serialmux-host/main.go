// Command serialmux-host is the caller-side binary: it owns one or more
// physical serial links, exposes local SOCKS5 and HTTP-CONNECT listeners,
// and drives the Control Channel's Establish/Connect RPCs on behalf of
// each accepted client connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-dev/serialmux/internal/config"
	"github.com/kestrel-dev/serialmux/internal/control"
	"github.com/kestrel-dev/serialmux/internal/frontend"
	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/mux"
	"github.com/kestrel-dev/serialmux/internal/port"
	"github.com/kestrel-dev/serialmux/internal/serialio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseHostConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := mux.New(logger.Fork("mux"))
	ctrl := control.New(logger.Fork("control"), m, nil)
	m.SetControl(ctrl)

	for _, path := range cfg.SerialDevices {
		dev, err := serialio.OpenWithRetry(ctx, logger.Fork("serialio"), path, cfg.MaxBackoff)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		eng := port.New(logger.Fork("port %s", path), dev, m.Handler)
		m.AddEngine(eng)
	}

	m.Start()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SocksListen != "" {
		socks, err := frontend.NewSocksFrontend(logger.Fork("socks5"), ctrl)
		if err != nil {
			return err
		}
		g.Go(func() error { return socks.ListenAndServe(gctx, cfg.SocksListen) })
		logger.Infof("socks5 listening on %s", cfg.SocksListen)
	}

	if cfg.HTTPListen != "" {
		httpc := frontend.NewHTTPConnectFrontend(logger.Fork("http-connect"), ctrl)
		g.Go(func() error { return httpc.ListenAndServe(gctx, cfg.HTTPListen) })
		logger.Infof("http-connect listening on %s", cfg.HTTPListen)
	}

	g.Go(func() error {
		<-gctx.Done()
		m.Dispose()
		return nil
	})

	return g.Wait()
}
