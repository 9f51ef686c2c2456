// herdsman-sim runs a simulated coordinator from a device catalog so a
// node can be exercised without radio hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
	linkmem "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/mem"
	linkquic "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/quic"
	linktcp "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/tcp"
	linkwinpipe "github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/winpipe"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/sim"
)

func main() {
	catalog := flag.String("catalog", "", "path to device catalog YAML (required)")
	kind := flag.String("link", "tcp", "link kind: tcp|quic|mem|winpipe")
	addr := flag.String("addr", "127.0.0.1:7554", "address to listen on")
	name := flag.String("name", "simcoord", "coordinator name advertised in hello")
	checkin := flag.Duration("checkin", 0, "emit check-ins for sleepy devices at this interval (0 disables)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if *catalog == "" {
		fatalf("-catalog is required")
	}
	cat, err := sim.LoadCatalog(*catalog)
	if err != nil {
		fatalf("load catalog: %v", err)
	}

	coord, err := sim.New(sim.Config{Name: *name}, cat)
	if err != nil {
		fatalf("build coordinator: %v", err)
	}

	lk, err := newLink(*kind)
	if err != nil {
		fatalf("new link: %v", err)
	}
	ln, err := lk.Listen(*addr)
	if err != nil {
		fatalf("listen: %v", err)
	}
	coord.Serve(ln)
	zap.L().Info("simulated coordinator listening",
		zap.String("link", *kind),
		zap.String("addr", *addr),
		zap.Int("devices", len(cat.Devices)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *checkin > 0 {
		go checkinLoop(ctx, coord, cat, *checkin)
	}

	<-ctx.Done()
	coord.Close()
}

// checkinLoop wakes every sleepy device on a timer, the way a real one
// surfaces on its poll-control schedule.
func checkinLoop(ctx context.Context, coord *sim.Coordinator, cat *sim.Catalog, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for _, d := range cat.Devices {
				if !d.Sleepy {
					continue
				}
				if err := coord.EmitCheckin(d.IEEE, d.Endpoints[0].ID); err != nil {
					zap.L().Warn("check-in failed", zap.Uint64("ieee", d.IEEE), zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

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

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
