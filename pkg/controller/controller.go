// Package controller is the outbound dispatch layer: per-endpoint pending
// queues with collision deduplication, timed eviction and
// reachability-driven flushing, plus the receive loop that turns
// coordinator traffic into device state, waiter resolution and check-in
// answers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/cache"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/store"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

const (
	pollControlCluster uint16 = 0x0020
	checkinCommand     uint8  = 0x00

	defaultDedupWindow = 5 * time.Second
)

// Config wires a controller.
type Config struct {
	Adapter adapter.Adapter

	// Store persists the device registry across restarts. Optional: nil
	// keeps devices in memory only.
	Store store.Store

	// DedupWindow bounds repeated-delivery detection on incoming frames.
	DedupWindow time.Duration
}

// Event is one controller-level occurrence. Frame events carry the device
// they came from; Disconnected stands alone.
type Event struct {
	Device       *Device
	Frame        *adapter.FrameEvent
	Joined       bool
	Left         bool
	Disconnected bool
}

// Controller owns the device registry and the dispatch machinery on top of
// one adapter.
type Controller struct {
	cfg   Config
	seq   zcl.SequenceSource
	wait  *Waitress
	dedup *cache.Store

	mu      sync.Mutex
	byIEEE  map[uint64]*Device
	byNWK   map[uint16]*Device
	started bool

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config) *Controller {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	return &Controller{
		cfg:    cfg,
		wait:   NewWaitress(),
		dedup:  cache.New(),
		byIEEE: make(map[uint64]*Device),
		byNWK:  make(map[uint16]*Device),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// sendFrame and nextSequence satisfy transport for every device the
// controller owns.
func (c *Controller) sendFrame(ctx context.Context, req adapter.TxRequest) (*zcl.Frame, error) {
	return c.cfg.Adapter.SendFrame(ctx, req)
}

func (c *Controller) nextSequence() uint8 { return c.seq.Next() }

// Events delivers controller events. The channel is never closed; slow
// consumers lose events rather than stalling the receive loop.
func (c *Controller) Events() <-chan Event { return c.events }

// WaitFor registers a waiter for a matching incoming frame.
func (c *Controller) WaitFor(m Matcher, timeout time.Duration) *Waiter {
	return c.wait.WaitFor(m, timeout)
}

// Start loads the stored registry, starts the adapter and runs the receive
// loop until Stop or context cancellation.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.loadStore(); err != nil {
		return err
	}
	if err := c.cfg.Adapter.Start(ctx); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}
	c.wg.Add(1)
	go c.recvLoop(ctx)
	return nil
}

// Stop shuts the adapter down, persists the registry and releases the
// dedup cache.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() { close(c.done) })
	err := c.cfg.Adapter.Stop()
	c.wg.Wait()
	c.persistAll()
	c.dedup.Close()
	return err
}

// Device returns the device with the given extended address.
func (c *Controller) Device(ieee uint64) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byIEEE[ieee]
	return d, ok
}

// DeviceByNWK resolves a short address to its device.
func (c *Controller) DeviceByNWK(nwk uint16) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byNWK[nwk]
	return d, ok
}

// Devices lists known devices in extended-address order.
func (c *Controller) Devices() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Device, 0, len(c.byIEEE))
	for _, d := range c.byIEEE {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IEEE < out[j].IEEE })
	return out
}

// AddDevice registers a device, or refreshes the short address of a known
// one, and returns it.
func (c *Controller) AddDevice(ieee uint64, nwk uint16) *Device {
	c.mu.Lock()
	d, known := c.byIEEE[ieee]
	switch {
	case !known:
		d = newDevice(c, ieee, nwk)
		c.byIEEE[ieee] = d
		c.byNWK[nwk] = d
	case d.NWK() != nwk:
		delete(c.byNWK, d.NWK())
		d.setNWK(nwk)
		c.byNWK[nwk] = d
	}
	c.mu.Unlock()
	if !known {
		zap.L().Info("device registered",
			zap.Uint64("ieee", ieee), zap.Uint16("nwk", nwk))
		c.persist(d)
	}
	return d
}

// RemoveDevice forgets a device and its stored record.
func (c *Controller) RemoveDevice(ieee uint64) {
	c.mu.Lock()
	d, ok := c.byIEEE[ieee]
	if ok {
		delete(c.byIEEE, ieee)
		delete(c.byNWK, d.NWK())
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.Delete(ieee); err != nil {
			zap.L().Warn("delete stored device",
				zap.Uint64("ieee", ieee), zap.Error(err))
		}
	}
	zap.L().Info("device removed", zap.Uint64("ieee", ieee))
}

func (c *Controller) loadStore() error {
	if c.cfg.Store == nil {
		return nil
	}
	recs, err := c.cfg.Store.List()
	if err != nil {
		return fmt.Errorf("load device registry: %w", err)
	}
	c.mu.Lock()
	for _, rec := range recs {
		d := deviceFromRecord(c, rec)
		c.byIEEE[d.IEEE] = d
		c.byNWK[d.NWK()] = d
	}
	c.mu.Unlock()
	zap.L().Info("device registry loaded", zap.Int("devices", len(recs)))
	return nil
}

func (c *Controller) persist(d *Device) {
	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.Upsert(d.Record()); err != nil {
		zap.L().Warn("persist device",
			zap.Uint64("ieee", d.IEEE), zap.Error(err))
	}
}

func (c *Controller) persistAll() {
	for _, d := range c.Devices() {
		c.persist(d)
	}
}

func (c *Controller) recvLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-c.cfg.Adapter.Events():
			if !ok {
				return
			}
			c.handleAdapterEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleAdapterEvent(ctx context.Context, ev adapter.Event) {
	switch {
	case ev.Frame != nil:
		c.handleFrame(ctx, ev.Frame)
	case ev.DeviceJoined != nil:
		d := c.AddDevice(ev.DeviceJoined.IEEE, ev.DeviceJoined.NWK)
		c.emit(Event{Device: d, Joined: true})
	case ev.DeviceLeft != nil:
		d, ok := c.Device(ev.DeviceLeft.IEEE)
		if !ok {
			return
		}
		c.RemoveDevice(d.IEEE)
		c.emit(Event{Device: d, Left: true})
	case ev.Disconnected:
		c.emit(Event{Disconnected: true})
	}
}

func (c *Controller) handleFrame(ctx context.Context, fe *adapter.FrameEvent) {
	key := fmt.Sprintf("rx:%016x:%02x", fe.IEEE, fe.Frame.Header.TransactionSequence)
	if c.dedup.Seen(key, c.cfg.DedupWindow) {
		zap.L().Debug("dropped repeated delivery",
			zap.Uint64("ieee", fe.IEEE),
			zap.Uint8("tsn", fe.Frame.Header.TransactionSequence))
		return
	}

	d := c.AddDevice(fe.IEEE, fe.NWK)
	d.touch(time.Now())

	c.wait.Resolve(fe)

	if isCheckin(fe) {
		c.answerCheckin(ctx, d, fe)
	} else if d.ImplicitCheckinEnabled() {
		d.ImplicitCheckin(ctx)
	}
	c.emit(Event{Device: d, Frame: fe})
}

// isCheckin spots a poll-control check-in: the device is awake and asking
// whether the host holds traffic for it.
func isCheckin(fe *adapter.FrameEvent) bool {
	h := fe.Frame.Header
	return fe.Cluster == pollControlCluster &&
		h.Type == zcl.FrameCluster &&
		h.Direction == zcl.DirectionServerToClient &&
		h.CommandID == checkinCommand
}

// answerCheckin tells a checking-in device whether to open a fast-poll
// window. With pending work the answer starts fast polling, every endpoint
// flushes with the fast-poll gate open, and a final stop releases the
// device back to its slow poll cycle.
func (c *Controller) answerCheckin(ctx context.Context, d *Device, fe *adapter.FrameEvent) {
	ep := d.Endpoint(fe.Endpoint)
	pending := d.HasPending()
	opts := &Options{DisableDefaultResponse: true, SendPolicy: PolicyImmediate}
	args := map[string]any{
		"startFastPolling": pending,
		"fastPollTimeout":  uint16(0),
	}
	if _, err := ep.Command(ctx, zcl.ID(pollControlCluster), zcl.Name("checkinRsp"), args, opts); err != nil {
		zap.L().Warn("check-in response failed",
			zap.Uint64("ieee", d.IEEE), zap.Error(err))
		return
	}
	if !pending {
		return
	}
	for _, e := range d.Endpoints() {
		e.Flush(ctx, true)
	}
	if _, err := ep.Command(ctx, zcl.ID(pollControlCluster), zcl.Name("fastPollStop"), nil, opts); err != nil {
		zap.L().Warn("fast-poll stop failed",
			zap.Uint64("ieee", d.IEEE), zap.Error(err))
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		zap.L().Warn("event channel full, dropping controller event")
	}
}
