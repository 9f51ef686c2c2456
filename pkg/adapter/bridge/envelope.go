// Package bridge implements the host↔coordinator protocol: fixed-layout
// envelopes over a length-prefixed byte stream, with request/response
// correlation and a hello exchange on connect.
package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/codec"
)

// envelope header wire layout, little-endian
//
//	off  0: magic      u16 (0x5a48, "HZ")
//	off  2: version    u8
//	off  3: type       u8
//	off  4: flags      u16
//	off  6: nwk        u16
//	off  8: correlation u32 (0 = unsolicited)
//	off 12: ieee       u64
//	off 20: cluster    u16
//	off 22: dstEndpoint u8
//	off 23: srcEndpoint u8
//	off 24: status     u8
//	off 25: format     u8
//	off 26: lqi        u8
//	off 27: reserved   u8
//	off 28: payloadLen u32
const (
	HeaderSize = 32

	magicWord       = uint16(0x5a48)
	ProtocolVersion = uint8(1)
)

// MsgType discriminates envelopes.
type MsgType uint8

const (
	MsgHello MsgType = 1 // either end introduces itself, body is a HelloInfo
	MsgData  MsgType = 2 // host→coordinator frame transmission request
	MsgAck   MsgType = 3 // coordinator→host delivery result, optional response frame
	MsgEvent MsgType = 4 // coordinator→host unsolicited frame from a device
	MsgJoin  MsgType = 5 // coordinator→host device joined
	MsgLeave MsgType = 6 // coordinator→host device left
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgData:
		return "data"
	case MsgAck:
		return "ack"
	case MsgEvent:
		return "event"
	case MsgJoin:
		return "join"
	case MsgLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Envelope flags.
const (
	// FlagNoResponse asks the coordinator to acknowledge delivery without
	// waiting for the device's response frame.
	FlagNoResponse uint16 = 1 << 0
)

// Format tags the payload encoding. ZCL payloads travel raw; control
// bodies use a codec from the registry.
type Format uint8

const (
	FormatRaw  Format = 0
	FormatJSON Format = 1
	FormatCBOR Format = 2
)

// ParseFormat maps a configuration string to a control-body Format.
// Empty selects CBOR.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "cbor":
		return FormatCBOR, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown control format %q", s)
	}
}

// CodecFor maps a format to a codec from the registry.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	switch f {
	case FormatJSON:
		return r.Get(codec.ContentJSON), nil
	case FormatCBOR:
		return r.Get(codec.ContentCBOR), nil
	default:
		return nil, fmt.Errorf("format %d has no codec", f)
	}
}

// Header is the fixed-size part of every envelope.
type Header struct {
	Version     uint8
	Type        MsgType
	Flags       uint16
	NWK         uint16
	Correlation uint32
	IEEE        uint64
	Cluster     uint16
	DstEndpoint uint8
	SrcEndpoint uint8
	Status      uint8
	Format      Format
	LQI         uint8
	PayloadLen  uint32
}

// Envelope is one protocol message.
type Envelope struct {
	Header  Header
	Payload []byte
}

// EncodeFrame renders the envelope into a single buffer.
func (e *Envelope) EncodeFrame() ([]byte, error) {
	if len(e.Payload) > maxPayload {
		return nil, fmt.Errorf("payload %d exceeds limit %d", len(e.Payload), maxPayload)
	}
	e.Header.PayloadLen = uint32(len(e.Payload))
	b := make([]byte, HeaderSize+len(e.Payload))
	binary.LittleEndian.PutUint16(b[0:2], magicWord)
	b[2] = ProtocolVersion
	b[3] = uint8(e.Header.Type)
	binary.LittleEndian.PutUint16(b[4:6], e.Header.Flags)
	binary.LittleEndian.PutUint16(b[6:8], e.Header.NWK)
	binary.LittleEndian.PutUint32(b[8:12], e.Header.Correlation)
	binary.LittleEndian.PutUint64(b[12:20], e.Header.IEEE)
	binary.LittleEndian.PutUint16(b[20:22], e.Header.Cluster)
	b[22] = e.Header.DstEndpoint
	b[23] = e.Header.SrcEndpoint
	b[24] = e.Header.Status
	b[25] = uint8(e.Header.Format)
	b[26] = e.Header.LQI
	binary.LittleEndian.PutUint32(b[28:32], e.Header.PayloadLen)
	copy(b[HeaderSize:], e.Payload)
	return b, nil
}

// DecodeFrame parses one envelope from a buffer produced by EncodeFrame.
func DecodeFrame(b []byte) (*Envelope, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != magicWord {
		return nil, fmt.Errorf("bad magic 0x%04x", binary.LittleEndian.Uint16(b[0:2]))
	}
	if b[2] != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", b[2])
	}
	e := &Envelope{}
	e.Header.Version = b[2]
	e.Header.Type = MsgType(b[3])
	e.Header.Flags = binary.LittleEndian.Uint16(b[4:6])
	e.Header.NWK = binary.LittleEndian.Uint16(b[6:8])
	e.Header.Correlation = binary.LittleEndian.Uint32(b[8:12])
	e.Header.IEEE = binary.LittleEndian.Uint64(b[12:20])
	e.Header.Cluster = binary.LittleEndian.Uint16(b[20:22])
	e.Header.DstEndpoint = b[22]
	e.Header.SrcEndpoint = b[23]
	e.Header.Status = b[24]
	e.Header.Format = Format(b[25])
	e.Header.LQI = b[26]
	e.Header.PayloadLen = binary.LittleEndian.Uint32(b[28:32])
	if int(e.Header.PayloadLen) != len(b)-HeaderSize {
		return nil, fmt.Errorf("payload length mismatch: header %d, got %d", e.Header.PayloadLen, len(b)-HeaderSize)
	}
	if e.Header.PayloadLen > 0 {
		e.Payload = append([]byte(nil), b[HeaderSize:]...)
	}
	return e, nil
}

// HelloInfo is the body both ends exchange on connect.
type HelloInfo struct {
	Name    string `json:"name" cbor:"1,keyasint"`
	Version string `json:"version" cbor:"2,keyasint"`
	IEEE    uint64 `json:"ieee,omitempty" cbor:"3,keyasint,omitempty"`
	PanID   uint16 `json:"pan_id,omitempty" cbor:"4,keyasint,omitempty"`
	Channel uint8  `json:"channel,omitempty" cbor:"5,keyasint,omitempty"`
}

// EncodeBody serializes a control body with the codec for f.
func EncodeBody(r *codec.Registry, f Format, v any) ([]byte, error) {
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("format %v not registered", f)
	}
	return c.Marshal(v)
}

// DecodeBody deserializes a control body tagged with format f.
func DecodeBody(r *codec.Registry, f Format, data []byte, v any) error {
	c, err := CodecFor(r, f)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("format %v not registered", f)
	}
	return c.Unmarshal(data, v)
}
