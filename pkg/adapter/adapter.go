// Package adapter defines the boundary to the radio coordinator: the
// transmit operation the dispatch layer calls, and the event stream of
// unsolicited frames and device announcements flowing back.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// TxRequest describes one frame to transmit to a device endpoint.
type TxRequest struct {
	IEEE            uint64
	NWK             uint16
	Endpoint        uint8
	SrcEndpoint     uint8
	Cluster         uint16
	Frame           *zcl.Frame
	Timeout         time.Duration
	DisableResponse bool
	DisableRecovery bool
}

// Event is one occurrence reported by the coordinator. Exactly one of the
// pointer fields is set.
type Event struct {
	Frame        *FrameEvent
	DeviceJoined *DeviceEvent
	DeviceLeft   *DeviceEvent
	Disconnected bool
}

// FrameEvent is an unsolicited frame received from a device.
type FrameEvent struct {
	IEEE        uint64
	NWK         uint16
	Endpoint    uint8
	Cluster     uint16
	LinkQuality uint8
	Frame       *zcl.Frame
}

// DeviceEvent announces a device joining or leaving the network.
type DeviceEvent struct {
	IEEE uint64
	NWK  uint16
}

// Adapter is the transport boundary the dispatch layer sends through.
// SendFrame blocks until the coordinator acknowledges delivery (returning
// the device's response frame unless the request suppressed it) or fails
// with a delivery error. Failures of this call are what the dispatch layer
// treats as "device unreachable right now".
type Adapter interface {
	Start(ctx context.Context) error
	Stop() error
	SendFrame(ctx context.Context, req TxRequest) (*zcl.Frame, error)
	Events() <-chan Event
}

// Delivery status codes reported by the coordinator.
const (
	DeliveryOK        uint8 = 0
	DeliveryNoAck     uint8 = 1
	DeliveryUnreach   uint8 = 2
	DeliveryNoNetwork uint8 = 3
)

// DeliveryError is a transport-level send failure: the coordinator could
// not deliver the frame to the device.
type DeliveryError struct {
	Code uint8
}

func (e *DeliveryError) Error() string {
	switch e.Code {
	case DeliveryNoAck:
		return "delivery failed: no ack from device"
	case DeliveryUnreach:
		return "delivery failed: device unreachable"
	case DeliveryNoNetwork:
		return "delivery failed: network down"
	default:
		return fmt.Sprintf("delivery failed: code %d", e.Code)
	}
}
