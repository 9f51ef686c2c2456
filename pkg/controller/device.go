package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/store"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// transport is what devices transmit through. The controller satisfies it
// over the adapter; tests satisfy it directly.
type transport interface {
	sendFrame(ctx context.Context, req adapter.TxRequest) (*zcl.Frame, error)
	nextSequence() uint8
}

// Device is the registry entry for one remote node and the owner of its
// endpoints. The dispatch configuration lives here: a zero
// PendingRequestTimeout means the device is always reachable and its
// requests never queue.
type Device struct {
	t transport

	IEEE uint64

	mu              sync.Mutex
	nwk             uint16
	name            string
	manufacturer    string
	model           string
	endpoints       map[uint8]*Endpoint
	pendingTimeout  time.Duration
	defaultSendWhen SendWhen
	implicitCheckin bool
	joined          time.Time
	lastSeen        time.Time
}

func newDevice(t transport, ieee uint64, nwk uint16) *Device {
	return &Device{
		t:         t,
		IEEE:      ieee,
		nwk:       nwk,
		endpoints: make(map[uint8]*Endpoint),
		joined:    time.Now(),
	}
}

// deviceFromRecord rebuilds a device from its persisted shape. A stored
// default_send_when that no longer parses is dropped with a warning rather
// than failing the whole registry load.
func deviceFromRecord(t transport, rec store.DeviceRecord) *Device {
	d := newDevice(t, rec.IEEE, rec.NWK)
	d.name = rec.Name
	d.manufacturer = rec.Manufacturer
	d.model = rec.Model
	d.pendingTimeout = rec.PendingRequestTimeout
	d.implicitCheckin = rec.ImplicitCheckin
	if rec.Joined > 0 {
		d.joined = time.UnixMilli(rec.Joined)
	}
	if rec.LastSeen > 0 {
		d.lastSeen = time.UnixMilli(rec.LastSeen)
	}
	w, err := ParseSendWhen(rec.DefaultSendWhen)
	if err != nil {
		zap.L().Warn("ignoring stored default_send_when",
			zap.Uint64("ieee", rec.IEEE),
			zap.String("value", rec.DefaultSendWhen))
	}
	d.defaultSendWhen = w
	for _, er := range rec.Endpoints {
		d.Endpoint(er.ID).SetClusters(er.InputClusters, er.OutputClusters)
	}
	return d
}

// Record snapshots the device into its persisted shape.
func (d *Device) Record() store.DeviceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := store.DeviceRecord{
		IEEE:                  d.IEEE,
		NWK:                   d.nwk,
		Name:                  d.name,
		Manufacturer:          d.manufacturer,
		Model:                 d.model,
		PendingRequestTimeout: d.pendingTimeout,
		ImplicitCheckin:       d.implicitCheckin,
	}
	if d.defaultSendWhen != SendWhenUnset {
		rec.DefaultSendWhen = d.defaultSendWhen.String()
	}
	if !d.joined.IsZero() {
		rec.Joined = d.joined.UnixMilli()
	}
	if !d.lastSeen.IsZero() {
		rec.LastSeen = d.lastSeen.UnixMilli()
	}
	ids := make([]uint8, 0, len(d.endpoints))
	for id := range d.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ep := d.endpoints[id]
		rec.Endpoints = append(rec.Endpoints, store.EndpointRecord{
			ID:             id,
			InputClusters:  ep.InputClusters(),
			OutputClusters: ep.OutputClusters(),
		})
	}
	return rec
}

// NWK returns the device's current short address.
func (d *Device) NWK() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nwk
}

func (d *Device) setNWK(nwk uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nwk = nwk
}

// Name returns the device's friendly name, if any.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// SetName assigns a friendly name.
func (d *Device) SetName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// Manufacturer returns the reported manufacturer name, if known.
func (d *Device) Manufacturer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manufacturer
}

// Model returns the reported model identifier, if known.
func (d *Device) Model() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model
}

// SetIdentity records what the device reported about itself.
func (d *Device) SetIdentity(manufacturer, model string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manufacturer = manufacturer
	d.model = model
}

// PendingRequestTimeout is how long queued requests to this device stay
// valid. Zero means the device is treated as always reachable.
func (d *Device) PendingRequestTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingTimeout
}

// SetPendingRequestTimeout marks the device intermittently reachable:
// failed and deferred requests queue for up to timeout.
func (d *Device) SetPendingRequestTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingTimeout = timeout
}

// DefaultSendWhen is the send timing applied to requests that set none.
func (d *Device) DefaultSendWhen() SendWhen {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.defaultSendWhen == SendWhenUnset {
		return SendWhenNormal
	}
	return d.defaultSendWhen
}

// SetDefaultSendWhen overrides the device-wide send timing.
func (d *Device) SetDefaultSendWhen(w SendWhen) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultSendWhen = w
}

// ImplicitCheckinEnabled reports whether any incoming frame counts as
// proof of reachability.
func (d *Device) ImplicitCheckinEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.implicitCheckin
}

// SetImplicitCheckin toggles flushing on any incoming frame, for devices
// that wake on their own schedule instead of running the poll-control
// check-in protocol.
func (d *Device) SetImplicitCheckin(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.implicitCheckin = enabled
}

// LastSeen returns when the device last sent anything, zero if never.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *Device) touch(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = at
}

// Endpoint returns the endpoint with the given id, creating it on first
// use.
func (d *Device) Endpoint(id uint8) *Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[id]
	if !ok {
		ep = &Endpoint{dev: d, ID: id}
		d.endpoints[id] = ep
	}
	return ep
}

// Endpoints lists the device's endpoints in id order.
func (d *Device) Endpoints() []*Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	eps := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	return eps
}

// HasPending reports whether any endpoint holds queued requests.
func (d *Device) HasPending() bool {
	for _, ep := range d.Endpoints() {
		if ep.HasPending() {
			return true
		}
	}
	return false
}

// ImplicitCheckin treats an incoming frame as proof of reachability and
// flushes every endpoint's queue, fast-poll gate closed.
func (d *Device) ImplicitCheckin(ctx context.Context) {
	for _, ep := range d.Endpoints() {
		ep.Flush(ctx, false)
	}
}
