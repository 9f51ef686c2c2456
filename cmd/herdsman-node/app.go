package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/bridge"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
	linkmem "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/mem"
	linkquic "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/quic"
	linktcp "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/tcp"
	linkwinpipe "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/winpipe"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/config"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/controller"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/gateway"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/observability"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/store"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.LogLevel != "" {
		if err := cfg.SetLogLevel(opts.LogLevel); err != nil {
			_, _ = os.Stderr.WriteString(err.Error() + "\n")
			return 1
		}
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("herdsman-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		zap.L().Error("failed to open device store", zap.Error(err))
		return 1
	}
	defer func() { _ = st.Close() }()

	lk, err := newLink(cfg.Adapter.Link)
	if err != nil {
		zap.L().Error("failed to create coordinator link", zap.Error(err))
		return 1
	}
	format, err := bridge.ParseFormat(cfg.Adapter.ControlFormat)
	if err != nil {
		zap.L().Error("invalid control format", zap.Error(err))
		return 1
	}

	br := bridge.New(bridge.Config{
		Link:           lk,
		Addr:           cfg.Adapter.Addr,
		Name:           cfg.Adapter.Name,
		ControlFormat:  format,
		RequestTimeout: time.Duration(cfg.Adapter.RequestTimeoutMS) * time.Millisecond,
		DialBackoffMin: time.Duration(cfg.Net.DialBackoffInitialMS) * time.Millisecond,
		DialBackoffMax: time.Duration(cfg.Net.DialBackoffMaxMS) * time.Millisecond,
	})

	ctrl := controller.New(controller.Config{Adapter: br, Store: st})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		zap.L().Error("failed to start controller", zap.Error(err))
		return 1
	}

	go watchEvents(ctx, ctrl)

	if cfg.Gateway.Listen != "" {
		gw := gateway.New(gateway.Config{Listen: cfg.Gateway.Listen}, ctrl)
		go func() {
			if err := gw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Error("gateway stopped", zap.Error(err))
			}
		}()
	}

	zap.L().Info("node is running; press Ctrl+C to exit")
	<-ctx.Done()

	zap.L().Info("shutting down")
	if err := ctrl.Stop(); err != nil {
		zap.L().Warn("controller stop", zap.Error(err))
	}
	return 0
}

// watchEvents drains controller events into the log. An application layer
// consuming reports would hang off this loop.
func watchEvents(ctx context.Context, ctrl *controller.Controller) {
	for {
		select {
		case ev := <-ctrl.Events():
			switch {
			case ev.Disconnected:
				zap.L().Warn("coordinator link lost")
			case ev.Joined:
				zap.L().Info("device joined",
					zap.Uint64("ieee", ev.Device.IEEE),
					zap.Uint16("nwk", ev.Device.NWK()))
			case ev.Left:
				zap.L().Info("device left", zap.Uint64("ieee", ev.Device.IEEE))
			case ev.Frame != nil:
				zap.L().Debug("frame received",
					zap.Uint64("ieee", ev.Frame.IEEE),
					zap.Uint16("cluster", ev.Frame.Cluster),
					zap.Uint8("endpoint", ev.Frame.Endpoint))
			}
		case <-ctx.Done():
			return
		}
	}
}

// newLink builds the stream transport named in the adapter config.
func newLink(kind string) (link.Link, error) {
	k, err := link.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	switch k {
	case link.KindTCP:
		return linktcp.New(), nil
	case link.KindQUIC:
		return linkquic.New()
	case link.KindMem:
		return linkmem.New(), nil
	case link.KindWinPipe:
		return linkwinpipe.New(), nil
	default:
		return nil, fmt.Errorf("link kind %v not wired", k)
	}
}
