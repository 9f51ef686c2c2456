package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// SendWhen hints when a request may leave the pending queue.
type SendWhen uint8

const (
	SendWhenUnset SendWhen = iota
	SendWhenNormal
	SendWhenFastPoll
	SendWhenImmediate
)

func (w SendWhen) String() string {
	switch w {
	case SendWhenNormal:
		return "normal"
	case SendWhenFastPoll:
		return "fastpoll"
	case SendWhenImmediate:
		return "immediate"
	default:
		return "unset"
	}
}

// ParseSendWhen maps a config/store string. Empty means unset.
func ParseSendWhen(s string) (SendWhen, error) {
	switch s {
	case "":
		return SendWhenUnset, nil
	case "normal":
		return SendWhenNormal, nil
	case "fastpoll":
		return SendWhenFastPoll, nil
	case "immediate":
		return SendWhenImmediate, nil
	default:
		return SendWhenUnset, fmt.Errorf("%w: send_when %q", ErrInvalidRequest, s)
	}
}

// SendPolicy is the conflict/queueing policy of a request.
type SendPolicy uint8

const (
	PolicyUnset SendPolicy = iota
	PolicyImmediate
	PolicyBulk
	PolicyQueue
	PolicyKeepPayload
	PolicyKeepCommand
	PolicyKeepCmdUndiv
)

func (p SendPolicy) String() string {
	switch p {
	case PolicyImmediate:
		return "immediate"
	case PolicyBulk:
		return "bulk"
	case PolicyQueue:
		return "queue"
	case PolicyKeepPayload:
		return "keep-payload"
	case PolicyKeepCommand:
		return "keep-command"
	case PolicyKeepCmdUndiv:
		return "keep-cmd-undiv"
	default:
		return "unset"
	}
}

// ParseSendPolicy maps a config/store string. Empty means unset.
func ParseSendPolicy(s string) (SendPolicy, error) {
	switch s {
	case "":
		return PolicyUnset, nil
	case "immediate":
		return PolicyImmediate, nil
	case "bulk":
		return PolicyBulk, nil
	case "queue":
		return PolicyQueue, nil
	case "keep-payload":
		return PolicyKeepPayload, nil
	case "keep-command":
		return PolicyKeepCommand, nil
	case "keep-cmd-undiv":
		return PolicyKeepCmdUndiv, nil
	default:
		return PolicyUnset, fmt.Errorf("%w: send_policy %q", ErrInvalidRequest, s)
	}
}

// defaultSendPolicy resolves the policy for a foundation command when the
// caller sets none. Cluster-specific commands default to PolicyQueue and
// response emissions to PolicyImmediate at the call sites.
var defaultSendPolicy = map[uint8]SendPolicy{
	zcl.CmdRead:             PolicyKeepPayload,
	zcl.CmdReadRsp:          PolicyImmediate,
	zcl.CmdWrite:            PolicyKeepCommand,
	zcl.CmdWriteUndiv:       PolicyKeepCmdUndiv,
	zcl.CmdWriteRsp:         PolicyImmediate,
	zcl.CmdWriteNoRsp:       PolicyKeepCommand,
	zcl.CmdConfigReport:     PolicyKeepPayload,
	zcl.CmdConfigReportRsp:  PolicyImmediate,
	zcl.CmdReadReportConfig: PolicyKeepPayload,
	zcl.CmdReport:           PolicyKeepPayload,
	zcl.CmdDefaultRsp:       PolicyImmediate,
	zcl.CmdWriteStructured:  PolicyKeepCommand,
}

// outcome is what a settled request delivers to its callers.
type outcome struct {
	frame *zcl.Frame
	err   error
}

// request tracks one outbound command from construction to settlement.
// The collision key is (clusterID, commandID); records marks bodies that
// are attribute lists and therefore eligible for the merge strategies.
type request struct {
	clusterID  uint16
	commandID  uint8
	frame      *zcl.Frame
	records    bool
	expiresAt  time.Time
	sendWhen   SendWhen
	sendPolicy SendPolicy

	// transmit performs the actual send. It reads r.frame at call time so
	// a body reduced by the filter goes out reduced.
	transmit func(ctx context.Context) (*zcl.Frame, error)

	settled bool
	slots   []chan outcome
}

// settle delivers the outcome to every caller riding on this request.
// Each request settles exactly once, by exactly one of inline send, flush,
// expiry eviction or subsumption; a second attempt is a programming error.
func (r *request) settle(out outcome) {
	if r.settled {
		panic(fmt.Sprintf("request cluster 0x%04x command %s settled twice",
			r.clusterID, zcl.FoundationCommandName(r.commandID)))
	}
	r.settled = true
	for _, slot := range r.slots {
		slot <- out
	}
}

// adopt moves q's callers onto r. q becomes terminal: it has left the
// queue and r's eventual settlement is what its callers observe.
func (r *request) adopt(q *request) {
	r.slots = append(r.slots, q.slots...)
	q.slots = nil
	q.settled = true
}

func (r *request) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// eligible reports whether a flush pass may transmit this request.
// Fast-poll-only requests wait for a fast-polling pass; bulk requests wait
// for their batching window.
func (r *request) eligible(fastPolling bool) bool {
	return fastPolling || (r.sendWhen != SendWhenFastPoll && r.sendPolicy != PolicyBulk)
}
