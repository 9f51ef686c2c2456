package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

func frameEvent(ieee uint64, endpoint uint8, cluster uint16, cmdID, tsn uint8) *adapter.FrameEvent {
	return &adapter.FrameEvent{
		IEEE:     ieee,
		Endpoint: endpoint,
		Cluster:  cluster,
		Frame: &zcl.Frame{
			Header: zcl.Header{
				Type:                zcl.FrameCluster,
				Direction:           zcl.DirectionServerToClient,
				TransactionSequence: tsn,
				CommandID:           cmdID,
			},
		},
	}
}

func TestWaitressResolvesMatch(t *testing.T) {
	ws := NewWaitress()
	w := ws.WaitFor(Matcher{
		IEEE:      0xaabb,
		Endpoint:  1,
		Type:      zcl.FrameCluster,
		Cluster:   0x0006,
		CommandID: 0x02,
	}, time.Second)

	fe := frameEvent(0xaabb, 1, 0x0006, 0x02, 9)
	if !ws.Resolve(fe) {
		t.Fatal("matching frame not resolved")
	}
	res := <-w.Result()
	if res.Err != nil {
		t.Fatalf("result err = %v", res.Err)
	}
	if res.Frame != fe {
		t.Fatal("result carries a different frame")
	}
}

func TestWaitressIgnoresNonMatch(t *testing.T) {
	ws := NewWaitress()
	w := ws.WaitFor(Matcher{
		IEEE:      0xaabb,
		Endpoint:  1,
		Type:      zcl.FrameCluster,
		Cluster:   0x0006,
		CommandID: 0x02,
	}, 0)

	for _, fe := range []*adapter.FrameEvent{
		frameEvent(0xccdd, 1, 0x0006, 0x02, 1),
		frameEvent(0xaabb, 2, 0x0006, 0x02, 1),
		frameEvent(0xaabb, 1, 0x0008, 0x02, 1),
		frameEvent(0xaabb, 1, 0x0006, 0x01, 1),
	} {
		if ws.Resolve(fe) {
			t.Fatalf("resolved against %+v", fe)
		}
	}
	select {
	case res := <-w.Result():
		t.Fatalf("waiter settled early with %+v", res)
	default:
	}
	w.Cancel()
}

func TestWaitressSequenceMatching(t *testing.T) {
	ws := NewWaitress()
	exact := ws.WaitFor(Matcher{
		IEEE: 0xaabb, Endpoint: 1, Type: zcl.FrameCluster,
		Cluster: 0x0006, CommandID: 0x02, TransactionSequence: 7,
	}, 0)

	if ws.Resolve(frameEvent(0xaabb, 1, 0x0006, 0x02, 8)) {
		t.Fatal("sequence 8 matched a waiter pinned to 7")
	}
	if !ws.Resolve(frameEvent(0xaabb, 1, 0x0006, 0x02, 7)) {
		t.Fatal("pinned sequence not matched")
	}
	<-exact.Result()

	// zero means any sequence
	wild := ws.WaitFor(Matcher{
		IEEE: 0xaabb, Endpoint: 1, Type: zcl.FrameCluster,
		Cluster: 0x0006, CommandID: 0x02,
	}, 0)
	if !ws.Resolve(frameEvent(0xaabb, 1, 0x0006, 0x02, 200)) {
		t.Fatal("wildcard waiter not matched")
	}
	<-wild.Result()
}

func TestWaitressTimeout(t *testing.T) {
	ws := NewWaitress()
	w := ws.WaitFor(Matcher{
		IEEE: 0xaabb, Endpoint: 1, Type: zcl.FrameCluster, Cluster: 0x0006,
	}, 10*time.Millisecond)

	select {
	case res := <-w.Result():
		if !errors.Is(res.Err, ErrWaitTimeout) {
			t.Fatalf("err = %v, want ErrWaitTimeout", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	// a late frame finds nobody
	if ws.Resolve(frameEvent(0xaabb, 1, 0x0006, 0x00, 1)) {
		t.Fatal("timed-out waiter still registered")
	}
}

func TestWaitressCancel(t *testing.T) {
	ws := NewWaitress()
	w := ws.WaitFor(Matcher{
		IEEE: 0xaabb, Endpoint: 1, Type: zcl.FrameCluster,
		Cluster: 0x0006, CommandID: 0x02,
	}, time.Minute)

	w.Cancel()
	res := <-w.Result()
	if !errors.Is(res.Err, ErrWaitCancelled) {
		t.Fatalf("err = %v, want ErrWaitCancelled", res.Err)
	}

	// cancelling again or resolving afterwards delivers nothing more
	w.Cancel()
	if ws.Resolve(frameEvent(0xaabb, 1, 0x0006, 0x02, 1)) {
		t.Fatal("cancelled waiter still registered")
	}
	select {
	case res := <-w.Result():
		t.Fatalf("second delivery: %+v", res)
	default:
	}
}

func TestWaitressResolvesAllMatchingWaiters(t *testing.T) {
	ws := NewWaitress()
	m := Matcher{
		IEEE: 0xaabb, Endpoint: 1, Type: zcl.FrameCluster,
		Cluster: 0x0006, CommandID: 0x02,
	}
	w1 := ws.WaitFor(m, time.Minute)
	w2 := ws.WaitFor(m, time.Minute)

	fe := frameEvent(0xaabb, 1, 0x0006, 0x02, 3)
	if !ws.Resolve(fe) {
		t.Fatal("frame not resolved")
	}
	for i, w := range []*Waiter{w1, w2} {
		res := <-w.Result()
		if res.Err != nil || res.Frame != fe {
			t.Fatalf("waiter %d got %+v", i, res)
		}
	}
}
