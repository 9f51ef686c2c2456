package controller

import (
	"errors"
	"testing"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// park builds a request outside the dispatch path and places it directly
// in the pending set with one waiting caller.
func park(t *testing.T, ep *Endpoint, clusterID uint16, cmdID uint8, policy SendPolicy, records ...zcl.AttributeRecord) (*request, chan outcome) {
	t.Helper()
	r := makeRequest(ep, clusterID, cmdID, policy, records...)
	return r, ep.enqueue(r)
}

func makeRequest(ep *Endpoint, clusterID uint16, cmdID uint8, policy SendPolicy, records ...zcl.AttributeRecord) *request {
	f := &zcl.Frame{
		Header: zcl.Header{
			Type:                zcl.FrameGlobal,
			CommandID:           cmdID,
			TransactionSequence: ep.dev.t.nextSequence(),
		},
		Records: records,
	}
	o := ep.options(&Options{SendPolicy: policy}, PolicyQueue)
	return ep.newRequest(clusterID, f, o)
}

func rec(t *testing.T, id uint16, dt zcl.DataType, v any) zcl.AttributeRecord {
	t.Helper()
	r, err := zcl.NewRecord(id, dt, v)
	if err != nil {
		t.Fatalf("record 0x%04x: %v", id, err)
	}
	return r
}

func TestFilterMergesIdenticalPayload(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	q, slot := park(t, ep, 0x0006, zcl.CmdRead, PolicyKeepPayload,
		rec(t, 0x0000, zcl.TypeBool, false), rec(t, 0x4001, zcl.TypeUint16, 0))

	// same records in a different order still count as the same payload
	n := makeRequest(ep, 0x0006, zcl.CmdRead, PolicyKeepPayload,
		rec(t, 0x4001, zcl.TypeUint16, 0), rec(t, 0x0000, zcl.TypeBool, false))
	ep.filterPending(n)

	if ep.PendingCount() != 0 {
		t.Fatalf("pending = %d, want the old entry absorbed", ep.PendingCount())
	}
	if !q.settled {
		t.Fatal("absorbed request not marked terminal")
	}
	if len(n.slots) != 1 {
		t.Fatalf("adopter carries %d callers, want 1", len(n.slots))
	}
	n.settle(outcome{})
	select {
	case <-slot:
	default:
		t.Fatal("old caller not riding on the adopter")
	}
}

func TestFilterKeepsDifferentPayload(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	park(t, ep, 0x0006, zcl.CmdRead, PolicyKeepPayload, rec(t, 0x0000, zcl.TypeBool, false))

	n := makeRequest(ep, 0x0006, zcl.CmdRead, PolicyKeepPayload, rec(t, 0x4001, zcl.TypeUint16, 0))
	ep.filterPending(n)

	if ep.PendingCount() != 1 {
		t.Fatalf("pending = %d, want the different read kept", ep.PendingCount())
	}
	if len(n.slots) != 0 {
		t.Fatal("nothing should have been adopted")
	}
}

func TestFilterReducesOlderWrite(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	q, _ := park(t, ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 30), rec(t, 0x4002, zcl.TypeUint16, 5))

	n := makeRequest(ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 60))
	ep.filterPending(n)

	if ep.PendingCount() != 1 {
		t.Fatalf("pending = %d, want the reduced write kept", ep.PendingCount())
	}
	if q.settled {
		t.Fatal("partially overlapped write must stay live")
	}
	if len(q.frame.Records) != 1 || q.frame.Records[0].ID != 0x4002 || q.frame.Records[0].Value != uint64(5) {
		t.Fatalf("older write reduced to %+v, want offWaitTime=5 only", q.frame.Records)
	}
}

func TestFilterOverridesSubsumedWrite(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	_, slot := park(t, ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 30))

	n := makeRequest(ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 60), rec(t, 0x4002, zcl.TypeUint16, 5))
	ep.filterPending(n)

	if ep.PendingCount() != 0 {
		t.Fatalf("pending = %d, want the stale write gone", ep.PendingCount())
	}
	out := <-slot
	if !errors.Is(out.err, ErrRequestOverridden) {
		t.Fatalf("stale caller got %v, want ErrRequestOverridden", out.err)
	}
	if len(n.slots) != 0 {
		t.Fatal("an overridden request's callers must not ride the new one")
	}
}

func TestFilterMergesIdenticalWrite(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	q, slot := park(t, ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 30))

	n := makeRequest(ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 30))
	ep.filterPending(n)

	if ep.PendingCount() != 0 || !q.settled || len(n.slots) != 1 {
		t.Fatalf("identical write must merge, not override: pending=%d settled=%v slots=%d",
			ep.PendingCount(), q.settled, len(n.slots))
	}
	n.settle(outcome{})
	out := <-slot
	if out.err != nil {
		t.Fatalf("merged caller got %v", out.err)
	}
}

func TestFilterLeavesUndividedWritePartiallyOverlapped(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	q, _ := park(t, ep, 0x0006, zcl.CmdWriteUndiv, PolicyKeepCmdUndiv,
		rec(t, 0x4001, zcl.TypeUint16, 30), rec(t, 0x4002, zcl.TypeUint16, 5))

	n := makeRequest(ep, 0x0006, zcl.CmdWriteUndiv, PolicyKeepCmdUndiv,
		rec(t, 0x4001, zcl.TypeUint16, 60))
	ep.filterPending(n)

	// an all-or-nothing write cannot be reduced: it survives whole
	if ep.PendingCount() != 1 {
		t.Fatalf("pending = %d, want the undivided write kept", ep.PendingCount())
	}
	if len(q.frame.Records) != 2 {
		t.Fatalf("undivided write reduced to %d records", len(q.frame.Records))
	}
}

func TestFilterOverridesFullySubsumedUndividedWrite(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	_, slot := park(t, ep, 0x0006, zcl.CmdWriteUndiv, PolicyKeepCmdUndiv,
		rec(t, 0x4001, zcl.TypeUint16, 30))

	n := makeRequest(ep, 0x0006, zcl.CmdWriteUndiv, PolicyKeepCmdUndiv,
		rec(t, 0x4001, zcl.TypeUint16, 60))
	// same attribute set, different values: the newer state wins whole
	ep.filterPending(n)

	if ep.PendingCount() != 0 {
		t.Fatalf("pending = %d, want the stale write gone", ep.PendingCount())
	}
	if out := <-slot; !errors.Is(out.err, ErrRequestOverridden) {
		t.Fatalf("stale caller got %v", out.err)
	}
}

func TestFilterSkipsProtectedPolicies(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	for _, policy := range []SendPolicy{PolicyQueue, PolicyBulk} {
		q, _ := park(t, ep, 0x0006, zcl.CmdWrite, policy,
			rec(t, 0x4001, zcl.TypeUint16, 30))

		n := makeRequest(ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
			rec(t, 0x4001, zcl.TypeUint16, 60))
		ep.filterPending(n)

		if q.settled || len(q.frame.Records) != 1 {
			t.Fatalf("%s entry disturbed by a newer keep-command write", policy)
		}
		ep.mu.Lock()
		ep.pending = nil
		ep.mu.Unlock()
	}
}

func TestFilterIgnoresOtherCommandsAndClusters(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	readQ, _ := park(t, ep, 0x0006, zcl.CmdRead, PolicyKeepPayload,
		rec(t, 0x4001, zcl.TypeUint16, 0))
	otherQ, _ := park(t, ep, 0x0008, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 30))

	n := makeRequest(ep, 0x0006, zcl.CmdWrite, PolicyKeepCommand,
		rec(t, 0x4001, zcl.TypeUint16, 60))
	ep.filterPending(n)

	if ep.PendingCount() != 2 || readQ.settled || otherQ.settled {
		t.Fatal("requests outside the collision key must not be touched")
	}
}

func TestFilterMergesIdenticalClusterCommand(t *testing.T) {
	ep := sleepyDevice(&fakeTransport{}).Endpoint(1)
	f := func(tsn uint8) *zcl.Frame {
		return &zcl.Frame{
			Header: zcl.Header{
				Type:                zcl.FrameCluster,
				CommandID:           0x04,
				TransactionSequence: tsn,
			},
			Data: []byte{0x01, 0x2c},
		}
	}
	o := ep.options(&Options{SendPolicy: PolicyKeepPayload}, PolicyQueue)
	q := ep.newRequest(0x0006, f(1), o)
	slot := ep.enqueue(q)

	n := ep.newRequest(0x0006, f(2), o)
	ep.filterPending(n)

	if ep.PendingCount() != 0 || !q.settled || len(n.slots) != 1 {
		t.Fatal("identical opaque payloads must merge byte for byte")
	}
	n.settle(outcome{})
	<-slot
}
