// Package sim is an in-process coordinator speaking the bridge protocol.
// It serves a catalog of simulated devices so the dispatch layer, the
// gateway and the tests can run against a full network without a radio.
package sim

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/bridge"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/codec"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

const pollControlCluster = 0x0020

// Config identifies the simulated coordinator.
type Config struct {
	Name    string
	PanID   uint16
	Channel uint8
}

type clusterState struct {
	def   *zcl.Cluster
	attrs map[uint16]zcl.AttributeRecord
}

type endpointState struct {
	clusters map[uint16]*clusterState
}

type device struct {
	name   string
	ieee   uint64
	nwk    uint16
	sleepy bool
	// awake gates delivery for sleepy devices: false means the parent
	// holds nothing for it and transmissions die with a MAC no-ack.
	awake       bool
	fastPolling bool
	seq         zcl.SequenceSource
	endpoints   map[uint8]*endpointState
}

// Coordinator owns the simulated network and serves bridge connections.
type Coordinator struct {
	cfg Config
	reg *codec.Registry

	mu      sync.Mutex
	devices map[uint64]*device
	byNWK   map[uint16]*device
	conns   map[*bridge.Conn]struct{}

	ln       net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a coordinator from a catalog.
func New(cfg Config, cat *Catalog) (*Coordinator, error) {
	if cfg.Name == "" {
		cfg.Name = "simcoord"
	}
	if cat != nil {
		if cfg.PanID == 0 {
			cfg.PanID = cat.PanID
		}
		if cfg.Channel == 0 {
			cfg.Channel = cat.Channel
		}
	}
	c := &Coordinator{
		cfg:     cfg,
		reg:     codec.NewRegistry(),
		devices: make(map[uint64]*device),
		byNWK:   make(map[uint16]*device),
		conns:   make(map[*bridge.Conn]struct{}),
		done:    make(chan struct{}),
	}
	if cat != nil {
		for i := range cat.Devices {
			if err := c.addDevice(&cat.Devices[i]); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Coordinator) addDevice(spec *DeviceSpec) error {
	d := &device{
		name:      spec.Name,
		ieee:      spec.IEEE,
		nwk:       spec.NWK,
		sleepy:    spec.Sleepy,
		awake:     !spec.Sleepy,
		endpoints: make(map[uint8]*endpointState, len(spec.Endpoints)),
	}
	for _, eps := range spec.Endpoints {
		ep := &endpointState{clusters: make(map[uint16]*clusterState, len(eps.Clusters))}
		for _, cs := range eps.Clusters {
			def, err := zcl.GetCluster(zcl.Name(cs.Name))
			if err != nil {
				return fmt.Errorf("device %s endpoint %d: %w", spec.Name, eps.ID, err)
			}
			st := &clusterState{def: def, attrs: make(map[uint16]zcl.AttributeRecord)}
			for name, val := range cs.Attributes {
				attr, err := def.Attribute(zcl.Name(name))
				if err != nil {
					return fmt.Errorf("device %s endpoint %d: %w", spec.Name, eps.ID, err)
				}
				rec, err := zcl.NewRecord(attr.ID, attr.Type, val)
				if err != nil {
					return fmt.Errorf("device %s endpoint %d attribute %s: %w", spec.Name, eps.ID, name, err)
				}
				st.attrs[attr.ID] = rec
			}
			ep.clusters[def.ID] = st
		}
		d.endpoints[eps.ID] = ep
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[d.ieee]; ok {
		return fmt.Errorf("device 0x%016x already present", d.ieee)
	}
	c.devices[d.ieee] = d
	c.byNWK[d.nwk] = d
	return nil
}

// Serve accepts bridge connections on ln until Close.
func (c *Coordinator) Serve(ln net.Listener) {
	c.mu.Lock()
	c.ln = ln
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			raw, err := ln.Accept()
			if err != nil {
				return
			}
			c.wg.Add(1)
			go c.serveConn(bridge.NewConn(raw))
		}
	}()
}

// Close stops accepting, drops all connections and waits for the serve
// goroutines.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	ln := c.ln
	conns := make([]*bridge.Conn, 0, len(c.conns))
	for cn := range c.conns {
		conns = append(conns, cn)
	}
	c.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	for _, cn := range conns {
		cn.Close()
	}
	c.wg.Wait()
}

func (c *Coordinator) serveConn(conn *bridge.Conn) {
	defer c.wg.Done()
	defer conn.Close()

	env, err := conn.Recv()
	if err != nil || env.Header.Type != bridge.MsgHello {
		return
	}
	format := env.Header.Format
	if format == bridge.FormatRaw {
		format = bridge.FormatCBOR
	}
	body, err := bridge.EncodeBody(c.reg, format, bridge.HelloInfo{
		Name:    c.cfg.Name,
		Version: "1",
		PanID:   c.cfg.PanID,
		Channel: c.cfg.Channel,
	})
	if err != nil {
		return
	}
	if err := conn.Send(&bridge.Envelope{Header: bridge.Header{Type: bridge.MsgHello, Format: format}, Payload: body}); err != nil {
		return
	}

	c.mu.Lock()
	c.conns[conn] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
	}()

	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if env.Header.Type != bridge.MsgData {
			continue
		}
		c.handleData(conn, env)
	}
}

func (c *Coordinator) handleData(conn *bridge.Conn, env *bridge.Envelope) {
	status, rsp := c.deliver(env)
	ack := &bridge.Envelope{Header: bridge.Header{
		Type:        bridge.MsgAck,
		Correlation: env.Header.Correlation,
		NWK:         env.Header.NWK,
		IEEE:        env.Header.IEEE,
		Cluster:     env.Header.Cluster,
		Status:      status,
	}}
	if rsp != nil && env.Header.Flags&bridge.FlagNoResponse == 0 {
		payload, err := rsp.MarshalBinary()
		if err != nil {
			zap.L().Warn("sim response frame unencodable", zap.Error(err))
		} else {
			ack.Payload = payload
		}
	}
	if err := conn.Send(ack); err != nil {
		zap.L().Warn("sim ack send failed", zap.Error(err))
	}
}

// deliver routes one transmission to its device and executes it.
func (c *Coordinator) deliver(env *bridge.Envelope) (uint8, *zcl.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.byNWK[env.Header.NWK]
	if d == nil && env.Header.IEEE != 0 {
		d = c.devices[env.Header.IEEE]
	}
	if d == nil {
		return adapter.DeliveryUnreach, nil
	}
	if d.sleepy && !d.awake {
		return adapter.DeliveryNoAck, nil
	}
	ep := d.endpoints[env.Header.DstEndpoint]
	if ep == nil {
		return adapter.DeliveryUnreach, nil
	}
	frame, err := zcl.DecodeFrame(env.Payload)
	if err != nil {
		zap.L().Warn("sim got undecodable frame",
			zap.String("device", d.name), zap.Error(err))
		return adapter.DeliveryOK, nil
	}
	return adapter.DeliveryOK, c.execute(d, ep, env.Header.Cluster, frame)
}

// execute runs one frame against a device endpoint and returns the frame
// the device answers with, if any. Callers hold c.mu.
func (c *Coordinator) execute(d *device, ep *endpointState, clusterID uint16, f *zcl.Frame) *zcl.Frame {
	// frames addressed server→client are responses to things the device
	// sent; the device absorbs them
	if f.Header.Direction == zcl.DirectionServerToClient {
		return nil
	}

	cs := ep.clusters[clusterID]
	if cs == nil {
		return defaultResponse(f, zcl.StatusUnsupportedCluster)
	}
	if f.Header.Type == zcl.FrameCluster {
		return c.executeClusterCommand(d, cs, f)
	}
	switch f.Header.CommandID {
	case zcl.CmdRead:
		return readResponse(cs, f)
	case zcl.CmdWrite, zcl.CmdWriteNoRsp:
		rsp := writeAttributes(cs, f, false)
		if f.Header.CommandID == zcl.CmdWriteNoRsp {
			return nil
		}
		return rsp
	case zcl.CmdWriteUndiv:
		return writeAttributes(cs, f, true)
	case zcl.CmdConfigReport:
		return response(f, zcl.CmdConfigReportRsp, []zcl.AttributeRecord{{Status: zcl.StatusSuccess}})
	case zcl.CmdDefaultRsp, zcl.CmdReport:
		return nil
	default:
		return defaultResponse(f, zcl.StatusUnsupGeneralCommand)
	}
}

func (c *Coordinator) executeClusterCommand(d *device, cs *clusterState, f *zcl.Frame) *zcl.Frame {
	cmd, err := cs.def.Command(zcl.ID(uint16(f.Header.CommandID)))
	if err != nil {
		return defaultResponse(f, zcl.StatusUnsupClusterCommand)
	}
	switch {
	case cs.def.ID == 0x0006: // genOnOff state machine
		if rec, ok := cs.attrs[0x0000]; ok {
			on, _ := rec.Value.(bool)
			switch cmd.ID {
			case 0x00:
				on = false
			case 0x01, 0x41, 0x42:
				on = true
			case 0x02:
				on = !on
			}
			rec.Value = on
			cs.attrs[0x0000] = rec
		}
	case cs.def.ID == pollControlCluster:
		switch cmd.ID {
		case 0x00: // checkinRsp, answers the device's own checkin
			c.applyCheckinRsp(d, cmd, f)
			return nil
		case 0x01: // fastPollStop
			d.fastPolling = false
			if d.sleepy {
				d.awake = false
			}
		}
	}
	return defaultResponse(f, zcl.StatusSuccess)
}

// applyCheckinRsp applies the host's poll-control answer: start fast polling
// keeps the device reachable, otherwise a sleepy device goes back to sleep.
func (c *Coordinator) applyCheckinRsp(d *device, cmd *zcl.Command, f *zcl.Frame) {
	args, err := cmd.DecodeArgs(f.Data)
	if err != nil {
		zap.L().Warn("sim: bad checkin response payload", zap.Error(err))
		return
	}
	if start, _ := args["startFastPolling"].(bool); start {
		d.fastPolling = true
		d.awake = true
		return
	}
	d.fastPolling = false
	if d.sleepy {
		d.awake = false
	}
}

func readResponse(cs *clusterState, f *zcl.Frame) *zcl.Frame {
	records := make([]zcl.AttributeRecord, 0, len(f.Records))
	for _, req := range f.Records {
		if rec, ok := cs.attrs[req.ID]; ok {
			rec.Status = zcl.StatusSuccess
			records = append(records, rec)
			continue
		}
		records = append(records, zcl.AttributeRecord{ID: req.ID, Status: zcl.StatusUnsupportedAttribute})
	}
	return response(f, zcl.CmdReadRsp, records)
}

// writeAttributes applies a write frame. Undivided writes apply nothing
// unless every record is acceptable.
func writeAttributes(cs *clusterState, f *zcl.Frame, undivided bool) *zcl.Frame {
	var failures []zcl.AttributeRecord
	for _, rec := range f.Records {
		attr, ok := cs.attrs[rec.ID]
		switch {
		case !ok:
			failures = append(failures, zcl.AttributeRecord{ID: rec.ID, Status: zcl.StatusUnsupportedAttribute})
		case attr.DataType != rec.DataType:
			failures = append(failures, zcl.AttributeRecord{ID: rec.ID, Status: zcl.StatusInvalidDataType})
		}
	}
	if undivided && len(failures) > 0 {
		return response(f, zcl.CmdWriteRsp, failures)
	}
	for _, rec := range f.Records {
		if attr, ok := cs.attrs[rec.ID]; ok && attr.DataType == rec.DataType {
			attr.Value = rec.Value
			cs.attrs[rec.ID] = attr
		}
	}
	if len(failures) > 0 {
		return response(f, zcl.CmdWriteRsp, failures)
	}
	return response(f, zcl.CmdWriteRsp, []zcl.AttributeRecord{{Status: zcl.StatusSuccess}})
}

// response builds a global response frame mirroring the request's sequence
// number and manufacturer code.
func response(req *zcl.Frame, cmdID uint8, records []zcl.AttributeRecord) *zcl.Frame {
	return &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameGlobal,
			Direction:              zcl.DirectionServerToClient,
			DisableDefaultResponse: true,
			ManufacturerCode:       req.Header.ManufacturerCode,
			TransactionSequence:    req.Header.TransactionSequence,
			CommandID:              cmdID,
		},
		Records: records,
	}
}

// defaultResponse builds the ZCL default response, honoring the request's
// suppression bit for successes. Failures are always reported.
func defaultResponse(req *zcl.Frame, st zcl.Status) *zcl.Frame {
	if req.Header.DisableDefaultResponse && st == zcl.StatusSuccess {
		return nil
	}
	return &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameGlobal,
			Direction:              zcl.DirectionServerToClient,
			DisableDefaultResponse: true,
			ManufacturerCode:       req.Header.ManufacturerCode,
			TransactionSequence:    req.Header.TransactionSequence,
			CommandID:              zcl.CmdDefaultRsp,
		},
		Data: zcl.DefaultResponseData(req.Header.CommandID, st),
	}
}
