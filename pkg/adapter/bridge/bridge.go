package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/codec"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// Config parameterizes a bridge.
type Config struct {
	Link link.Link
	Addr string

	// Name is advertised to the coordinator in the hello exchange.
	Name string
	// ControlFormat selects the codec for control bodies. Default CBOR.
	ControlFormat Format
	// RequestTimeout bounds a transmission when the TxRequest carries none.
	RequestTimeout time.Duration
	// Dial backoff window for reconnects.
	DialBackoffMin time.Duration
	DialBackoffMax time.Duration
}

type txResult struct {
	status  uint8
	payload []byte
	err     error
}

var errAckTimeout = errors.New("ack timeout")

// Bridge drives the coordinator link: it dials (and redials with backoff),
// performs the hello exchange, correlates acks to in-flight transmissions
// and surfaces unsolicited traffic as adapter events.
type Bridge struct {
	cfg Config
	reg *codec.Registry

	mu       sync.Mutex
	conn     *Conn
	waiters  map[uint32]chan txResult
	nextCorr uint32
	info     HelloInfo
	started  bool

	events   chan adapter.Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ adapter.Adapter = (*Bridge)(nil)

func New(cfg Config) *Bridge {
	if cfg.Name == "" {
		cfg.Name = "herdsman"
	}
	if cfg.ControlFormat == FormatRaw {
		cfg.ControlFormat = FormatCBOR
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DialBackoffMin <= 0 {
		cfg.DialBackoffMin = 500 * time.Millisecond
	}
	if cfg.DialBackoffMax < cfg.DialBackoffMin {
		cfg.DialBackoffMax = 15 * time.Second
	}
	return &Bridge{
		cfg:     cfg,
		reg:     codec.NewRegistry(),
		waiters: make(map[uint32]chan txResult),
		events:  make(chan adapter.Event, 64),
		done:    make(chan struct{}),
	}
}

// CoordinatorInfo returns what the coordinator reported in its hello.
func (b *Bridge) CoordinatorInfo() HelloInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

func (b *Bridge) Events() <-chan adapter.Event { return b.events }

// Start dials the coordinator. The first connect is synchronous so a bad
// address fails fast; afterwards the bridge redials on its own until Stop
// or ctx cancellation.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	conn, info, err := b.connect(ctx)
	if err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}
	b.adopt(conn, info)
	b.wg.Add(2)
	go b.run(ctx, conn)
	go b.watchCtx(ctx)
	return nil
}

// watchCtx makes cancelling the Start context equivalent to Stop: the link
// is closed so in-flight transmissions fail instead of lingering until the
// receive loop happens to notice.
func (b *Bridge) watchCtx(ctx context.Context) {
	defer b.wg.Done()
	select {
	case <-b.done:
	case <-ctx.Done():
		b.stopOnce.Do(func() { close(b.done) })
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}
}

// Stop tears the link down and fails all in-flight transmissions.
func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	b.wg.Wait()
	return nil
}

func (b *Bridge) connect(ctx context.Context) (*Conn, HelloInfo, error) {
	raw, err := b.cfg.Link.Dial(ctx, b.cfg.Addr)
	if err != nil {
		return nil, HelloInfo{}, err
	}
	c := NewConn(raw)
	body, err := EncodeBody(b.reg, b.cfg.ControlFormat, HelloInfo{Name: b.cfg.Name, Version: "1"})
	if err != nil {
		c.Close()
		return nil, HelloInfo{}, err
	}
	hello := &Envelope{
		Header:  Header{Type: MsgHello, Format: b.cfg.ControlFormat},
		Payload: body,
	}
	if err := c.Send(hello); err != nil {
		c.Close()
		return nil, HelloInfo{}, err
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	rsp, err := c.Recv()
	c.SetReadDeadline(time.Time{})
	if err != nil {
		c.Close()
		return nil, HelloInfo{}, fmt.Errorf("hello: %w", err)
	}
	if rsp.Header.Type != MsgHello {
		c.Close()
		return nil, HelloInfo{}, fmt.Errorf("hello: unexpected %s envelope", rsp.Header.Type)
	}
	var info HelloInfo
	if len(rsp.Payload) > 0 {
		if err := DecodeBody(b.reg, rsp.Header.Format, rsp.Payload, &info); err != nil {
			c.Close()
			return nil, HelloInfo{}, fmt.Errorf("hello body: %w", err)
		}
	}
	zap.L().Info("bridge connected",
		zap.String("link", b.cfg.Link.Kind().String()),
		zap.String("addr", b.cfg.Addr),
		zap.String("coordinator", info.Name),
		zap.Uint8("channel", info.Channel))
	return c, info, nil
}

func (b *Bridge) adopt(conn *Conn, info HelloInfo) {
	b.mu.Lock()
	b.conn = conn
	b.info = info
	b.mu.Unlock()
}

func (b *Bridge) run(ctx context.Context, conn *Conn) {
	defer b.wg.Done()
	for {
		err := b.recvLoop(conn)
		b.dropConn(err)
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		conn = b.redial(ctx)
		if conn == nil {
			return
		}
	}
}

func (b *Bridge) recvLoop(conn *Conn) error {
	for {
		env, err := conn.Recv()
		if err != nil {
			return err
		}
		b.dispatch(env)
	}
}

func (b *Bridge) dispatch(env *Envelope) {
	switch env.Header.Type {
	case MsgAck:
		b.mu.Lock()
		ch := b.waiters[env.Header.Correlation]
		delete(b.waiters, env.Header.Correlation)
		b.mu.Unlock()
		if ch != nil {
			ch <- txResult{status: env.Header.Status, payload: env.Payload}
		}
	case MsgEvent:
		f, err := zcl.DecodeFrame(env.Payload)
		if err != nil {
			zap.L().Warn("undecodable frame from device",
				zap.Uint64("ieee", env.Header.IEEE),
				zap.Error(err))
			return
		}
		b.emit(adapter.Event{Frame: &adapter.FrameEvent{
			IEEE:        env.Header.IEEE,
			NWK:         env.Header.NWK,
			Endpoint:    env.Header.SrcEndpoint,
			Cluster:     env.Header.Cluster,
			LinkQuality: env.Header.LQI,
			Frame:       f,
		}})
	case MsgJoin:
		b.emit(adapter.Event{DeviceJoined: &adapter.DeviceEvent{IEEE: env.Header.IEEE, NWK: env.Header.NWK}})
	case MsgLeave:
		b.emit(adapter.Event{DeviceLeft: &adapter.DeviceEvent{IEEE: env.Header.IEEE, NWK: env.Header.NWK}})
	case MsgHello:
		var info HelloInfo
		if DecodeBody(b.reg, env.Header.Format, env.Payload, &info) == nil {
			b.mu.Lock()
			b.info = info
			b.mu.Unlock()
		}
	default:
		zap.L().Debug("ignoring envelope", zap.String("type", env.Header.Type.String()))
	}
}

func (b *Bridge) emit(ev adapter.Event) {
	select {
	case b.events <- ev:
	default:
		zap.L().Warn("event channel full, dropping event")
	}
}

// dropConn fails every in-flight transmission and reports the outage.
func (b *Bridge) dropConn(cause error) {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	waiters := b.waiters
	b.waiters = make(map[uint32]chan txResult)
	b.mu.Unlock()
	for _, ch := range waiters {
		ch <- txResult{err: &adapter.DeliveryError{Code: adapter.DeliveryNoNetwork}}
	}
	select {
	case <-b.done:
	default:
		zap.L().Warn("bridge link lost", zap.Error(cause))
		b.emit(adapter.Event{Disconnected: true})
	}
}

func (b *Bridge) redial(ctx context.Context) *Conn {
	backoff := b.cfg.DialBackoffMin
	for {
		select {
		case <-b.done:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))):
		}
		conn, info, err := b.connect(ctx)
		if err == nil {
			b.adopt(conn, info)
			return conn
		}
		zap.L().Warn("bridge redial failed", zap.Duration("backoff", backoff), zap.Error(err))
		backoff *= 2
		if backoff > b.cfg.DialBackoffMax {
			backoff = b.cfg.DialBackoffMax
		}
	}
}

// SendFrame transmits one frame and waits for the coordinator's ack. On an
// ack timeout the transmission is retried once unless the request disabled
// recovery.
func (b *Bridge) SendFrame(ctx context.Context, req adapter.TxRequest) (*zcl.Frame, error) {
	payload, err := req.Frame.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	attempts := 2
	if req.DisableRecovery {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		f, err := b.sendOnce(ctx, req, payload)
		if errors.Is(err, errAckTimeout) {
			continue
		}
		return f, err
	}
	return nil, &adapter.DeliveryError{Code: adapter.DeliveryNoAck}
}

func (b *Bridge) sendOnce(ctx context.Context, req adapter.TxRequest, payload []byte) (*zcl.Frame, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, &adapter.DeliveryError{Code: adapter.DeliveryNoNetwork}
	}
	b.nextCorr++
	if b.nextCorr == 0 {
		b.nextCorr = 1
	}
	corr := b.nextCorr
	ch := make(chan txResult, 1)
	b.waiters[corr] = ch
	b.mu.Unlock()

	var flags uint16
	if req.DisableResponse {
		flags |= FlagNoResponse
	}
	env := &Envelope{
		Header: Header{
			Type:        MsgData,
			Flags:       flags,
			NWK:         req.NWK,
			Correlation: corr,
			IEEE:        req.IEEE,
			Cluster:     req.Cluster,
			DstEndpoint: req.Endpoint,
			SrcEndpoint: req.SrcEndpoint,
			Format:      FormatRaw,
		},
		Payload: payload,
	}
	if err := conn.Send(env); err != nil {
		b.forget(corr)
		return nil, &adapter.DeliveryError{Code: adapter.DeliveryNoNetwork}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.status != adapter.DeliveryOK {
			return nil, &adapter.DeliveryError{Code: res.status}
		}
		if len(res.payload) == 0 || req.DisableResponse {
			return nil, nil
		}
		return zcl.DecodeFrame(res.payload)
	case <-timer.C:
		b.forget(corr)
		return nil, errAckTimeout
	case <-ctx.Done():
		b.forget(corr)
		return nil, ctx.Err()
	case <-b.done:
		b.forget(corr)
		return nil, &adapter.DeliveryError{Code: adapter.DeliveryNoNetwork}
	}
}

func (b *Bridge) forget(corr uint32) {
	b.mu.Lock()
	delete(b.waiters, corr)
	b.mu.Unlock()
}
