package controller

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// filterPending dedupes a new request against the endpoint's pending set
// before any transmission attempt. Only the keep policies mutate anything;
// matching is by (cluster, command). Queued entries carrying bulk, queue or
// immediate policies are never touched by a newer arrival.
func (e *Endpoint) filterPending(n *request) {
	switch n.sendPolicy {
	case PolicyKeepPayload, PolicyKeepCommand, PolicyKeepCmdUndiv:
	default:
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return
	}
	kept := e.pending[:0]
	for _, q := range e.pending {
		if q.clusterID != n.clusterID || q.commandID != n.commandID {
			kept = append(kept, q)
			continue
		}
		switch q.sendPolicy {
		case PolicyBulk, PolicyQueue, PolicyImmediate:
			kept = append(kept, q)
			continue
		}
		switch n.sendPolicy {
		case PolicyKeepPayload:
			if !sameBody(q, n) {
				kept = append(kept, q)
				continue
			}
			n.adopt(q)
			zap.L().Debug("merged identical pending request",
				zap.Uint64("ieee", e.dev.IEEE),
				zap.Uint8("endpoint", e.ID),
				zap.Uint16("cluster", n.clusterID),
				zap.String("command", zcl.FoundationCommandName(n.commandID)))
		case PolicyKeepCommand, PolicyKeepCmdUndiv:
			if !q.records {
				kept = append(kept, q)
				continue
			}
			identical := sameBody(q, n)
			reduced := subtractRecords(q.frame.Records, n.frame.Records)
			if len(reduced) > 0 {
				if n.sendPolicy == PolicyKeepCommand {
					// the older write keeps covering only the
					// attributes the newer one does not rewrite
					q.frame.Records = reduced
				}
				kept = append(kept, q)
				continue
			}
			if identical {
				n.adopt(q)
			} else {
				q.settle(outcome{err: fmt.Errorf("%w: cluster 0x%04x command %s",
					ErrRequestOverridden, n.clusterID,
					zcl.FoundationCommandName(n.commandID))})
			}
			zap.L().Debug("subsumed pending request",
				zap.Uint64("ieee", e.dev.IEEE),
				zap.Uint8("endpoint", e.ID),
				zap.Uint16("cluster", n.clusterID),
				zap.Bool("merged", identical))
		}
	}
	e.pending = kept
}

// sameBody reports structural equality of two request bodies: record lists
// compare as multisets of (id, value), opaque command payloads byte for
// byte.
func sameBody(a, b *request) bool {
	if a.records != b.records {
		return false
	}
	if a.records {
		return zcl.RecordsEqual(a.frame.Records, b.frame.Records)
	}
	return bytes.Equal(a.frame.Data, b.frame.Data)
}

// subtractRecords returns from without the records whose attribute id
// appears in by.
func subtractRecords(from, by []zcl.AttributeRecord) []zcl.AttributeRecord {
	ids := make(map[uint16]bool, len(by))
	for _, r := range by {
		ids[r.ID] = true
	}
	kept := make([]zcl.AttributeRecord, 0, len(from))
	for _, r := range from {
		if !ids[r.ID] {
			kept = append(kept, r)
		}
	}
	return kept
}
