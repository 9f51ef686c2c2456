package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/bridge"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// Wake marks a sleepy device reachable, as if it started polling its parent.
func (c *Coordinator) Wake(ieee uint64) error {
	return c.setAwake(ieee, true)
}

// Sleep puts a sleepy device back out of reach.
func (c *Coordinator) Sleep(ieee uint64) error {
	return c.setAwake(ieee, false)
}

func (c *Coordinator) setAwake(ieee uint64, awake bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.devices[ieee]
	if d == nil {
		return fmt.Errorf("no device 0x%016x", ieee)
	}
	d.awake = awake
	if !awake {
		d.fastPolling = false
	}
	return nil
}

// FastPolling reports whether the device is currently in a fast-poll window.
func (c *Coordinator) FastPolling(ieee uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.devices[ieee]
	return d != nil && d.fastPolling
}

// EmitCheckin sends a poll-control check-in from the device. The device
// stays reachable afterwards, polling for the host's answer.
func (c *Coordinator) EmitCheckin(ieee uint64, endpoint uint8) error {
	c.mu.Lock()
	d := c.devices[ieee]
	if d == nil {
		c.mu.Unlock()
		return fmt.Errorf("no device 0x%016x", ieee)
	}
	d.awake = true
	tsn := d.seq.Next()
	nwk := d.nwk
	c.mu.Unlock()

	f := &zcl.Frame{Header: zcl.Header{
		Type:                   zcl.FrameCluster,
		Direction:              zcl.DirectionServerToClient,
		DisableDefaultResponse: true,
		TransactionSequence:    tsn,
		CommandID:              0x00, // checkin
	}}
	return c.emitFrame(ieee, nwk, endpoint, pollControlCluster, f)
}

// EmitReport sends an attribute report from the device, values keyed by
// attribute name in the cluster schema.
func (c *Coordinator) EmitReport(ieee uint64, endpoint uint8, cluster zcl.Key, values map[string]any) error {
	def, err := zcl.GetCluster(cluster)
	if err != nil {
		return err
	}
	records := make([]zcl.AttributeRecord, 0, len(values))
	for name, val := range values {
		attr, err := def.Attribute(zcl.Name(name))
		if err != nil {
			return err
		}
		rec, err := zcl.NewRecord(attr.ID, attr.Type, val)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	c.mu.Lock()
	d := c.devices[ieee]
	if d == nil {
		c.mu.Unlock()
		return fmt.Errorf("no device 0x%016x", ieee)
	}
	tsn := d.seq.Next()
	nwk := d.nwk
	c.mu.Unlock()

	f := &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameGlobal,
			Direction:              zcl.DirectionServerToClient,
			DisableDefaultResponse: true,
			TransactionSequence:    tsn,
			CommandID:              zcl.CmdReport,
		},
		Records: records,
	}
	return c.emitFrame(ieee, nwk, endpoint, def.ID, f)
}

func (c *Coordinator) emitFrame(ieee uint64, nwk uint16, endpoint uint8, clusterID uint16, f *zcl.Frame) error {
	payload, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	c.broadcast(&bridge.Envelope{
		Header: bridge.Header{
			Type:        bridge.MsgEvent,
			NWK:         nwk,
			IEEE:        ieee,
			Cluster:     clusterID,
			SrcEndpoint: endpoint,
			LQI:         255,
		},
		Payload: payload,
	})
	return nil
}

// Join adds a device at runtime and announces it.
func (c *Coordinator) Join(spec DeviceSpec) error {
	if err := c.addDevice(&spec); err != nil {
		return err
	}
	c.broadcast(&bridge.Envelope{Header: bridge.Header{Type: bridge.MsgJoin, IEEE: spec.IEEE, NWK: spec.NWK}})
	return nil
}

// Leave removes a device and announces its departure.
func (c *Coordinator) Leave(ieee uint64) error {
	c.mu.Lock()
	d := c.devices[ieee]
	if d == nil {
		c.mu.Unlock()
		return fmt.Errorf("no device 0x%016x", ieee)
	}
	delete(c.devices, ieee)
	delete(c.byNWK, d.nwk)
	nwk := d.nwk
	c.mu.Unlock()
	c.broadcast(&bridge.Envelope{Header: bridge.Header{Type: bridge.MsgLeave, IEEE: ieee, NWK: nwk}})
	return nil
}

// AttributeValue reads a simulated attribute, for assertions and the sim CLI.
func (c *Coordinator) AttributeValue(ieee uint64, endpoint uint8, cluster, attr zcl.Key) (any, error) {
	def, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	a, err := def.Attribute(attr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.devices[ieee]
	if d == nil {
		return nil, fmt.Errorf("no device 0x%016x", ieee)
	}
	ep := d.endpoints[endpoint]
	if ep == nil {
		return nil, fmt.Errorf("device 0x%016x has no endpoint %d", ieee, endpoint)
	}
	cs := ep.clusters[def.ID]
	if cs == nil {
		return nil, fmt.Errorf("endpoint %d does not host %s", endpoint, def.Name)
	}
	rec, ok := cs.attrs[a.ID]
	if !ok {
		return nil, fmt.Errorf("%s.%s not set", def.Name, a.Name)
	}
	return rec.Value, nil
}

func (c *Coordinator) broadcast(env *bridge.Envelope) {
	c.mu.Lock()
	conns := make([]*bridge.Conn, 0, len(c.conns))
	for cn := range c.conns {
		conns = append(conns, cn)
	}
	c.mu.Unlock()
	for _, cn := range conns {
		if err := cn.Send(env); err != nil {
			zap.L().Warn("sim event send failed", zap.Error(err))
		}
	}
}
