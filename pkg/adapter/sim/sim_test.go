package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/bridge"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link/mem"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

const (
	bulbIEEE   = uint64(0x00124b0001020304)
	bulbNWK    = uint16(0x4f21)
	sensorIEEE = uint64(0x00124b000a0b0c0d)
	sensorNWK  = uint16(0x51fe)
)

const testCatalog = `
pan_id: 0x1a62
channel: 20
devices:
  - name: bulb
    ieee: 0x00124b0001020304
    nwk: 0x4f21
    endpoints:
      - id: 1
        clusters:
          - name: genOnOff
            attributes:
              onOff: false
          - name: genBasic
            attributes:
              zclVersion: 3
              modelId: LCT001
  - name: sensor
    ieee: 0x00124b000a0b0c0d
    nwk: 0x51fe
    sleepy: true
    endpoints:
      - id: 1
        clusters:
          - name: genPollCtrl
            attributes:
              checkinInterval: 3600
          - name: msTemperatureMeasurement
            attributes:
              measuredValue: 2100
`

// startNetwork brings up a sim coordinator and a bridge connected to it
// over an in-memory link.
func startNetwork(t *testing.T) (*Coordinator, *bridge.Bridge) {
	t.Helper()
	cat, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	coord, err := New(Config{Name: "simcoord"}, cat)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	ln, err := mem.New().Listen(t.Name())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	coord.Serve(ln)
	t.Cleanup(coord.Close)

	b := bridge.New(bridge.Config{Link: mem.New(), Addr: t.Name()})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	return coord, b
}

func send(t *testing.T, b *bridge.Bridge, nwk uint16, cluster uint16, f *zcl.Frame) (*zcl.Frame, error) {
	t.Helper()
	return b.SendFrame(context.Background(), adapter.TxRequest{
		NWK: nwk, Endpoint: 1, SrcEndpoint: 1, Cluster: cluster,
		Frame: f, Timeout: time.Second,
	})
}

func TestSimReadWriteCycle(t *testing.T) {
	_, b := startNetwork(t)

	read := &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 1, CommandID: zcl.CmdRead},
		Records: []zcl.AttributeRecord{{ID: 0x0000}, {ID: 0x4001}},
	}
	rsp, err := send(t, b, bulbNWK, 0x0006, read)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rsp.Header.CommandID != zcl.CmdReadRsp || len(rsp.Records) != 2 {
		t.Fatalf("read response = %+v", rsp)
	}
	if rsp.Records[0].Status != zcl.StatusSuccess || rsp.Records[0].Value != false {
		t.Fatalf("onOff record = %+v", rsp.Records[0])
	}
	if rsp.Records[1].Status != zcl.StatusUnsupportedAttribute {
		t.Fatalf("unseeded attribute status = %v", rsp.Records[1].Status)
	}

	rec, err := zcl.NewRecord(0x0000, zcl.TypeBool, true)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	write := &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 2, CommandID: zcl.CmdWrite},
		Records: []zcl.AttributeRecord{rec},
	}
	rsp, err = send(t, b, bulbNWK, 0x0006, write)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := zcl.ResponseError(rsp); err != nil {
		t.Fatalf("write rejected: %v", err)
	}

	rsp, err = send(t, b, bulbNWK, 0x0006, &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 3, CommandID: zcl.CmdRead},
		Records: []zcl.AttributeRecord{{ID: 0x0000}},
	})
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if rsp.Records[0].Value != true {
		t.Fatalf("onOff after write = %v", rsp.Records[0].Value)
	}
}

func TestSimUndividedWriteIsAtomic(t *testing.T) {
	coord, b := startNetwork(t)

	good, _ := zcl.NewRecord(0x0000, zcl.TypeBool, true)
	bad := zcl.AttributeRecord{ID: 0x9999, DataType: zcl.TypeBool, Value: true}
	rsp, err := send(t, b, bulbNWK, 0x0006, &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 4, CommandID: zcl.CmdWriteUndiv},
		Records: []zcl.AttributeRecord{good, bad},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var se *zcl.StatusError
	if err := zcl.ResponseError(rsp); !errors.As(err, &se) || se.Status != zcl.StatusUnsupportedAttribute {
		t.Fatalf("undivided write error = %v", err)
	}
	v, err := coord.AttributeValue(bulbIEEE, 1, zcl.Name("genOnOff"), zcl.Name("onOff"))
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if v != false {
		t.Fatal("undivided write applied a record despite the failure")
	}
}

func TestSimClusterCommand(t *testing.T) {
	coord, b := startNetwork(t)

	onOff, err := zcl.GetCluster(zcl.Name("genOnOff"))
	if err != nil {
		t.Fatalf("cluster: %v", err)
	}
	cmd, err := onOff.Command(zcl.Name("on"))
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	rsp, err := send(t, b, bulbNWK, onOff.ID, &zcl.Frame{
		Header: zcl.Header{Type: zcl.FrameCluster, TransactionSequence: 9, CommandID: cmd.ID},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rsp == nil || rsp.Header.CommandID != zcl.CmdDefaultRsp {
		t.Fatalf("response = %+v, want default response", rsp)
	}
	if _, st, _ := zcl.ParseDefaultResponse(rsp); st != zcl.StatusSuccess {
		t.Fatalf("status = %v", st)
	}
	v, _ := coord.AttributeValue(bulbIEEE, 1, zcl.Name("genOnOff"), zcl.Name("onOff"))
	if v != true {
		t.Fatalf("onOff after command = %v", v)
	}

	// successful commands with suppression get no response frame
	rsp, err = send(t, b, bulbNWK, onOff.ID, &zcl.Frame{
		Header: zcl.Header{
			Type: zcl.FrameCluster, DisableDefaultResponse: true,
			TransactionSequence: 10, CommandID: 0x02, // toggle
		},
	})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if rsp != nil {
		t.Fatalf("suppressed command still answered: %+v", rsp)
	}

	// unknown commands are rejected even when suppressed
	rsp, err = send(t, b, bulbNWK, onOff.ID, &zcl.Frame{
		Header: zcl.Header{
			Type: zcl.FrameCluster, DisableDefaultResponse: true,
			TransactionSequence: 11, CommandID: 0x77,
		},
	})
	if err != nil {
		t.Fatalf("unknown command: %v", err)
	}
	var se *zcl.StatusError
	if err := zcl.ResponseError(rsp); !errors.As(err, &se) || se.Status != zcl.StatusUnsupClusterCommand {
		t.Fatalf("unknown command error = %v", err)
	}
}

func TestSimSleepyDeviceRejectsUntilAwake(t *testing.T) {
	coord, b := startNetwork(t)

	read := func(tsn uint8) (*zcl.Frame, error) {
		return send(t, b, sensorNWK, 0x0402, &zcl.Frame{
			Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: tsn, CommandID: zcl.CmdRead},
			Records: []zcl.AttributeRecord{{ID: 0x0000}},
		})
	}

	_, err := read(1)
	var de *adapter.DeliveryError
	if !errors.As(err, &de) || de.Code != adapter.DeliveryNoAck {
		t.Fatalf("asleep err = %v, want no-ack", err)
	}

	if err := coord.Wake(sensorIEEE); err != nil {
		t.Fatalf("wake: %v", err)
	}
	rsp, err := read(2)
	if err != nil {
		t.Fatalf("awake read: %v", err)
	}
	if rsp.Records[0].Value != int64(2100) {
		t.Fatalf("measuredValue = %v", rsp.Records[0].Value)
	}

	if err := coord.Sleep(sensorIEEE); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if _, err := read(3); !errors.As(err, &de) || de.Code != adapter.DeliveryNoAck {
		t.Fatalf("back asleep err = %v, want no-ack", err)
	}
}

func TestSimCheckinFlow(t *testing.T) {
	coord, b := startNetwork(t)

	if err := coord.EmitCheckin(sensorIEEE, 1); err != nil {
		t.Fatalf("emit checkin: %v", err)
	}
	var checkin *adapter.FrameEvent
	select {
	case ev := <-b.Events():
		checkin = ev.Frame
	case <-time.After(2 * time.Second):
		t.Fatal("no checkin event")
	}
	if checkin == nil || checkin.Cluster != 0x0020 || checkin.Frame.Header.CommandID != 0x00 {
		t.Fatalf("checkin event = %+v", checkin)
	}

	pollCtrl, _ := zcl.GetCluster(zcl.ID(0x0020))
	rspCmd, err := pollCtrl.Command(zcl.Name("checkinRsp"))
	if err != nil {
		t.Fatalf("checkinRsp: %v", err)
	}
	args, err := rspCmd.EncodeArgs(map[string]any{"startFastPolling": true, "fastPollTimeout": 40})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	_, err = send(t, b, sensorNWK, 0x0020, &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameCluster,
			DisableDefaultResponse: true,
			TransactionSequence:    checkin.Frame.Header.TransactionSequence,
			CommandID:              rspCmd.ID,
		},
		Data: args,
	})
	if err != nil {
		t.Fatalf("checkin response: %v", err)
	}
	if !coord.FastPolling(sensorIEEE) {
		t.Fatal("device not fast polling after checkin response")
	}

	// fast polling keeps the device reachable for ordinary traffic
	rsp, err := send(t, b, sensorNWK, 0x0402, &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 20, CommandID: zcl.CmdRead},
		Records: []zcl.AttributeRecord{{ID: 0x0000}},
	})
	if err != nil || rsp.Records[0].Status != zcl.StatusSuccess {
		t.Fatalf("read during fast poll: %v %+v", err, rsp)
	}

	stop, _ := pollCtrl.Command(zcl.Name("fastPollStop"))
	if _, err := send(t, b, sensorNWK, 0x0020, &zcl.Frame{
		Header: zcl.Header{
			Type: zcl.FrameCluster, DisableDefaultResponse: true,
			TransactionSequence: 21, CommandID: stop.ID,
		},
	}); err != nil {
		t.Fatalf("fastPollStop: %v", err)
	}
	var de *adapter.DeliveryError
	_, err = send(t, b, sensorNWK, 0x0402, &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 22, CommandID: zcl.CmdRead},
		Records: []zcl.AttributeRecord{{ID: 0x0000}},
	})
	if !errors.As(err, &de) || de.Code != adapter.DeliveryNoAck {
		t.Fatalf("post-stop err = %v, want no-ack", err)
	}
}

func TestSimReportAndMembership(t *testing.T) {
	coord, b := startNetwork(t)

	err := coord.EmitReport(sensorIEEE, 1, zcl.Name("msTemperatureMeasurement"), map[string]any{"measuredValue": 2250})
	if err != nil {
		t.Fatalf("emit report: %v", err)
	}
	select {
	case ev := <-b.Events():
		if ev.Frame == nil || ev.Frame.Cluster != 0x0402 {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Frame.Frame.Records[0].Value != int64(2250) {
			t.Fatalf("reported value = %v", ev.Frame.Frame.Records[0].Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report event")
	}

	err = coord.Join(DeviceSpec{Name: "plug", IEEE: 0xaa01, NWK: 0x77aa,
		Endpoints: []EndpointSpec{{ID: 1, Clusters: []ClusterSpec{{Name: "genOnOff"}}}}})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	select {
	case ev := <-b.Events():
		if ev.DeviceJoined == nil || ev.DeviceJoined.IEEE != 0xaa01 {
			t.Fatalf("event = %+v, want join", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no join event")
	}

	if err := coord.Leave(0xaa01); err != nil {
		t.Fatalf("leave: %v", err)
	}
	select {
	case ev := <-b.Events():
		if ev.DeviceLeft == nil || ev.DeviceLeft.IEEE != 0xaa01 {
			t.Fatalf("event = %+v, want leave", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no leave event")
	}
}

func TestSimUnknownDestinations(t *testing.T) {
	_, b := startNetwork(t)

	read := &zcl.Frame{
		Header:  zcl.Header{Type: zcl.FrameGlobal, TransactionSequence: 1, CommandID: zcl.CmdRead},
		Records: []zcl.AttributeRecord{{ID: 0x0000}},
	}
	var de *adapter.DeliveryError
	if _, err := send(t, b, 0x9999, 0x0006, read); !errors.As(err, &de) || de.Code != adapter.DeliveryUnreach {
		t.Fatalf("unknown nwk err = %v", err)
	}

	// known device, cluster the endpoint does not host
	rsp, err := send(t, b, bulbNWK, 0x0402, read)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var se *zcl.StatusError
	if err := zcl.ResponseError(rsp); !errors.As(err, &se) || se.Status != zcl.StatusUnsupportedCluster {
		t.Fatalf("missing cluster error = %v", err)
	}
}
