package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

func TestRequestSettlesExactlyOnce(t *testing.T) {
	r := &request{clusterID: 0x0006, commandID: zcl.CmdRead}
	slot := make(chan outcome, 1)
	r.slots = append(r.slots, slot)

	r.settle(outcome{err: ErrRequestExpired})
	if out := <-slot; !errors.Is(out.err, ErrRequestExpired) {
		t.Fatalf("slot outcome = %v, want ErrRequestExpired", out.err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("second settle must panic")
		}
	}()
	r.settle(outcome{})
}

func TestRequestAdoptTransfersCallers(t *testing.T) {
	q := &request{clusterID: 0x0006, commandID: zcl.CmdRead}
	slot := make(chan outcome, 1)
	q.slots = append(q.slots, slot)

	r := &request{clusterID: 0x0006, commandID: zcl.CmdRead}
	r.adopt(q)

	if !q.settled {
		t.Fatal("adopted request must be terminal")
	}
	if len(q.slots) != 0 {
		t.Fatalf("adopted request kept %d slots", len(q.slots))
	}

	want := &zcl.Frame{}
	r.settle(outcome{frame: want})
	select {
	case out := <-slot:
		if out.frame != want {
			t.Fatalf("adopted caller got %v, want the adopter's outcome", out.frame)
		}
	default:
		t.Fatal("adopted caller not settled by the adopter")
	}
}

func TestRequestEligibility(t *testing.T) {
	tests := []struct {
		name        string
		sendWhen    SendWhen
		sendPolicy  SendPolicy
		fastPolling bool
		want        bool
	}{
		{"normal on slow pass", SendWhenNormal, PolicyQueue, false, true},
		{"normal on fast pass", SendWhenNormal, PolicyQueue, true, true},
		{"fastpoll waits", SendWhenFastPoll, PolicyQueue, false, false},
		{"fastpoll released", SendWhenFastPoll, PolicyQueue, true, true},
		{"bulk waits", SendWhenNormal, PolicyBulk, false, false},
		{"bulk released", SendWhenNormal, PolicyBulk, true, true},
	}
	for _, tc := range tests {
		r := &request{sendWhen: tc.sendWhen, sendPolicy: tc.sendPolicy}
		if got := r.eligible(tc.fastPolling); got != tc.want {
			t.Errorf("%s: eligible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRequestExpiry(t *testing.T) {
	now := time.Now()
	r := &request{}
	if r.expired(now) {
		t.Fatal("zero expiry must never expire")
	}
	r.expiresAt = now.Add(-time.Second)
	if !r.expired(now) {
		t.Fatal("past expiry not detected")
	}
	r.expiresAt = now.Add(time.Second)
	if r.expired(now) {
		t.Fatal("future expiry reported as expired")
	}
}

func TestParseSendWhen(t *testing.T) {
	for _, w := range []SendWhen{SendWhenNormal, SendWhenFastPoll, SendWhenImmediate} {
		got, err := ParseSendWhen(w.String())
		if err != nil || got != w {
			t.Fatalf("ParseSendWhen(%q) = %v, %v", w.String(), got, err)
		}
	}
	if got, err := ParseSendWhen(""); err != nil || got != SendWhenUnset {
		t.Fatalf("empty send_when = %v, %v, want unset", got, err)
	}
	if _, err := ParseSendWhen("soon"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad send_when err = %v, want ErrInvalidRequest", err)
	}
}

func TestParseSendPolicy(t *testing.T) {
	all := []SendPolicy{
		PolicyImmediate, PolicyBulk, PolicyQueue,
		PolicyKeepPayload, PolicyKeepCommand, PolicyKeepCmdUndiv,
	}
	for _, p := range all {
		got, err := ParseSendPolicy(p.String())
		if err != nil || got != p {
			t.Fatalf("ParseSendPolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if got, err := ParseSendPolicy(""); err != nil || got != PolicyUnset {
		t.Fatalf("empty send_policy = %v, %v, want unset", got, err)
	}
	if _, err := ParseSendPolicy("drop"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad send_policy err = %v, want ErrInvalidRequest", err)
	}
}

func TestDefaultPoliciesPerCommand(t *testing.T) {
	tests := []struct {
		cmd  uint8
		want SendPolicy
	}{
		{zcl.CmdRead, PolicyKeepPayload},
		{zcl.CmdConfigReport, PolicyKeepPayload},
		{zcl.CmdReport, PolicyKeepPayload},
		{zcl.CmdWrite, PolicyKeepCommand},
		{zcl.CmdWriteNoRsp, PolicyKeepCommand},
		{zcl.CmdWriteStructured, PolicyKeepCommand},
		{zcl.CmdWriteUndiv, PolicyKeepCmdUndiv},
		{zcl.CmdReadRsp, PolicyImmediate},
		{zcl.CmdDefaultRsp, PolicyImmediate},
	}
	for _, tc := range tests {
		if got := defaultSendPolicy[tc.cmd]; got != tc.want {
			t.Errorf("%s: default policy %v, want %v",
				zcl.FoundationCommandName(tc.cmd), got, tc.want)
		}
	}
}
