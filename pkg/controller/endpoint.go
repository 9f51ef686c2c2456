package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// DefaultRequestTimeout bounds one transmission attempt when Options carry
// no timeout.
const DefaultRequestTimeout = 10 * time.Second

// Endpoint is one addressable functional unit on a device and the owner of
// its pending-request queue. All outbound operations go through an
// endpoint.
type Endpoint struct {
	dev *Device
	ID  uint8

	mu             sync.Mutex
	inputClusters  []uint16
	outputClusters []uint16
	pending        []*request
	flushing       bool
}

// Device returns the owning device.
func (e *Endpoint) Device() *Device { return e.dev }

// InputClusters lists the server clusters the endpoint implements.
func (e *Endpoint) InputClusters() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint16(nil), e.inputClusters...)
}

// OutputClusters lists the client clusters the endpoint implements.
func (e *Endpoint) OutputClusters() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint16(nil), e.outputClusters...)
}

// SetClusters replaces both cluster lists, typically from an interview
// or a stored record.
func (e *Endpoint) SetClusters(in, out []uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputClusters = append([]uint16(nil), in...)
	e.outputClusters = append([]uint16(nil), out...)
}

// Options adjust one outbound operation. The zero value is valid: timing
// defaults come from the device, the send policy from the command, the
// transaction sequence number from the controller's source.
type Options struct {
	ManufacturerCode       uint16
	DisableDefaultResponse bool

	// DisableResponse suppresses waiting for the device's reply; Write
	// additionally switches to the no-response command variant.
	DisableResponse bool

	// Timeout bounds one transmission attempt.
	Timeout time.Duration

	Direction    zcl.Direction
	SrcEndpoint  uint8
	ReservedBits uint8

	// TransactionSequenceNumber overrides the drawn sequence number.
	// Explicit values run 1..255; zero means unset and draws from the
	// source, which issues the same range. Operations that take the
	// sequence number as an argument reject it. Answering a remote frame
	// that used sequence number 0 goes through those positional
	// parameters, which carry the full range.
	TransactionSequenceNumber uint8

	// DisableRecovery turns off the transport's single retransmission.
	DisableRecovery bool

	// WriteUndivided makes Write use the all-or-nothing variant.
	WriteUndivided bool

	SendWhen   SendWhen
	SendPolicy SendPolicy
}

// options resolves defaults against the device and the command's default
// policy. The sequence number is left as given; request operations draw one
// afterwards when unset.
func (e *Endpoint) options(opts *Options, defPolicy SendPolicy) Options {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultRequestTimeout
	}
	if o.SendWhen == SendWhenUnset {
		o.SendWhen = e.dev.DefaultSendWhen()
	}
	if o.SendPolicy == PolicyUnset {
		o.SendPolicy = defPolicy
	}
	return o
}

func (e *Endpoint) drawSequence(o *Options) {
	if o.TransactionSequenceNumber == 0 {
		o.TransactionSequenceNumber = e.dev.t.nextSequence()
	}
}

// newRequest binds a built frame to its transmission closure. The frame is
// read at transmit time, so a reduction applied while the request waits in
// the queue shows up on the wire.
func (e *Endpoint) newRequest(clusterID uint16, f *zcl.Frame, o Options) *request {
	r := &request{
		clusterID:  clusterID,
		commandID:  f.Header.CommandID,
		frame:      f,
		records:    f.Header.Type == zcl.FrameGlobal && zcl.IsRecordCommand(f.Header.CommandID),
		sendWhen:   o.SendWhen,
		sendPolicy: o.SendPolicy,
	}
	r.transmit = func(ctx context.Context) (*zcl.Frame, error) {
		rsp, err := e.dev.t.sendFrame(ctx, adapter.TxRequest{
			IEEE:            e.dev.IEEE,
			NWK:             e.dev.NWK(),
			Endpoint:        e.ID,
			SrcEndpoint:     o.SrcEndpoint,
			Cluster:         clusterID,
			Frame:           r.frame,
			Timeout:         o.Timeout,
			DisableResponse: o.DisableResponse,
			DisableRecovery: o.DisableRecovery,
		})
		if err != nil {
			return nil, err
		}
		if err := zcl.ResponseError(rsp); err != nil {
			return nil, err
		}
		return rsp, nil
	}
	return r
}

// submit decides how a built request reaches the device: immediate requests
// and requests to always-reachable devices transmit inline and never
// queue, bulk requests queue without an attempt, everything else tries
// inline and falls back to the queue when delivery fails.
func (e *Endpoint) submit(ctx context.Context, r *request) (*zcl.Frame, error) {
	timeout := e.dev.PendingRequestTimeout()
	if timeout > 0 {
		r.expiresAt = time.Now().Add(timeout)
	}
	immediate := r.sendWhen == SendWhenImmediate || r.sendPolicy == PolicyImmediate
	if !immediate && r.sendPolicy != PolicyBulk {
		e.filterPending(r)
	}

	if immediate || timeout == 0 {
		f, err := r.transmit(ctx)
		r.settle(outcome{frame: f, err: err})
		return f, err
	}
	if r.sendPolicy == PolicyBulk {
		return await(ctx, e.enqueue(r))
	}

	f, err := r.transmit(ctx)
	if err == nil {
		r.settle(outcome{frame: f})
		return f, nil
	}
	var de *adapter.DeliveryError
	if !errors.As(err, &de) {
		// the device answered, or the caller gave up: not a
		// reachability problem, so the queue cannot help
		r.settle(outcome{err: err})
		return nil, err
	}
	return await(ctx, e.enqueue(r))
}
