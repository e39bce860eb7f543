// Command serialmux-proxy is the egress-side binary: it owns one or more
// physical serial links, services Establish/Connect/Dispose commands
// arriving over the Control Channel, and dials outbound TCP on Connect.
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
	cfg, err := config.ParseProxyConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := mux.New(logger.Fork("mux"))
	egress := frontend.NewEgress(logger.Fork("egress"), cfg.EgressTimeout)
	ctrl := control.New(logger.Fork("control"), m, egress)
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
	logger.Infof("serialmux-proxy running with %d serial link(s)", len(cfg.SerialDevices))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		m.Dispose()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
