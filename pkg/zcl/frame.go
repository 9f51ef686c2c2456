package zcl

import (
	"fmt"
	"io"
)

// frame control field layout
const (
	ctlFrameTypeMask     = 0x03
	ctlManufacturerBit   = 0x04
	ctlDirectionBit      = 0x08
	ctlDisableDefaultBit = 0x10
	ctlReservedShift     = 5
)

// Header is the frame header: control field, optional manufacturer code,
// transaction sequence number and command id.
type Header struct {
	Type                   FrameType
	Direction              Direction
	DisableDefaultResponse bool
	ReservedBits           uint8
	ManufacturerCode       uint16 // 0 when the frame is not manufacturer-specific
	TransactionSequence    uint8
	CommandID              uint8
}

// AttributeRecord is one entry of a foundation attribute command payload.
// Which fields go on the wire depends on the command: a read carries only
// ID, a write carries ID, DataType and Value, a read response adds Status,
// a reporting configuration uses the reporting fields.
type AttributeRecord struct {
	ID       uint16
	Status   Status
	DataType DataType
	Value    any

	// reporting configuration fields (configReport, readReportConfigRsp)
	Direction        uint8
	MinInterval      uint16
	MaxInterval      uint16
	ReportableChange any
	Timeout          uint16

	// structured write selector: index path into a composite attribute,
	// empty for whole-attribute writes
	Selector []uint16
}

// NewRecord builds an attribute record with the value normalized to its
// canonical in-memory form.
func NewRecord(id uint16, t DataType, v any) (AttributeRecord, error) {
	nv, err := normalizeValue(t, v)
	if err != nil {
		return AttributeRecord{}, fmt.Errorf("attribute 0x%04x: %w", id, err)
	}
	return AttributeRecord{ID: id, DataType: t, Value: nv}, nil
}

// NewReportingRecord builds a reporting-configuration record. The
// reportable change is normalized like an attribute value; discrete types
// carry none and the argument is ignored. A nil change on an analog type
// means zero.
func NewReportingRecord(id uint16, t DataType, minInterval, maxInterval uint16, change any) (AttributeRecord, error) {
	rec := AttributeRecord{
		ID:          id,
		Direction:   ReportDirectionReported,
		DataType:    t,
		MinInterval: minInterval,
		MaxInterval: maxInterval,
	}
	if t.Analog() {
		if change == nil {
			change = 0
		}
		nv, err := normalizeValue(t, change)
		if err != nil {
			return AttributeRecord{}, fmt.Errorf("attribute 0x%04x reportable change: %w", id, err)
		}
		rec.ReportableChange = nv
	}
	return rec, nil
}

// RecordsEqual reports whether two record lists carry the same attribute ids
// and values, regardless of order. Lists are compared as multisets, so a
// repeated (id, value) pair on one side needs a matching pair on the other.
func RecordsEqual(a, b []AttributeRecord) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[uint16][]any, len(a))
	for _, r := range a {
		byID[r.ID] = append(byID[r.ID], r.Value)
	}
	for _, r := range b {
		vals := byID[r.ID]
		found := -1
		for i, v := range vals {
			if valueEqual(v, r.Value) {
				found = i
				break
			}
		}
		if found < 0 {
			return false
		}
		vals[found] = vals[len(vals)-1]
		byID[r.ID] = vals[:len(vals)-1]
	}
	return true
}

// Frame is a decoded frame. Foundation attribute commands carry Records;
// all other commands carry their arguments in Data, encoded against the
// command's parameter schema.
type Frame struct {
	Header  Header
	Records []AttributeRecord
	Data    []byte
}

// MarshalBinary encodes the frame for transmission, little-endian
// throughout.
func (f *Frame) MarshalBinary() ([]byte, error) {
	ctl := uint8(f.Header.Type) & ctlFrameTypeMask
	if f.Header.ManufacturerCode != 0 {
		ctl |= ctlManufacturerBit
	}
	if f.Header.Direction == DirectionServerToClient {
		ctl |= ctlDirectionBit
	}
	if f.Header.DisableDefaultResponse {
		ctl |= ctlDisableDefaultBit
	}
	ctl |= f.Header.ReservedBits << ctlReservedShift

	b := make([]byte, 0, 8+len(f.Data))
	b = append(b, ctl)
	if f.Header.ManufacturerCode != 0 {
		b = appendU16(b, f.Header.ManufacturerCode)
	}
	b = append(b, f.Header.TransactionSequence, f.Header.CommandID)

	if f.Header.Type == FrameGlobal && IsRecordCommand(f.Header.CommandID) {
		return f.appendRecords(b)
	}
	return append(b, f.Data...), nil
}

func (f *Frame) appendRecords(b []byte) ([]byte, error) {
	var err error
	for i := range f.Records {
		r := &f.Records[i]
		switch f.Header.CommandID {
		case CmdRead:
			b = appendU16(b, r.ID)
		case CmdReadRsp:
			b = appendU16(b, r.ID)
			b = append(b, uint8(r.Status))
			if r.Status == StatusSuccess {
				b = append(b, uint8(r.DataType))
				if b, err = appendValue(b, r.DataType, r.Value); err != nil {
					return nil, err
				}
			}
		case CmdWrite, CmdWriteUndiv, CmdWriteNoRsp:
			b = appendU16(b, r.ID)
			b = append(b, uint8(r.DataType))
			if b, err = appendValue(b, r.DataType, r.Value); err != nil {
				return nil, err
			}
		case CmdWriteRsp:
			b = append(b, uint8(r.Status))
			if r.Status != StatusSuccess {
				b = appendU16(b, r.ID)
			}
		case CmdConfigReport:
			b = append(b, r.Direction)
			b = appendU16(b, r.ID)
			if r.Direction == ReportDirectionReported {
				b = append(b, uint8(r.DataType))
				b = appendU16(b, r.MinInterval)
				b = appendU16(b, r.MaxInterval)
				if r.DataType.Analog() {
					if b, err = appendValue(b, r.DataType, r.ReportableChange); err != nil {
						return nil, err
					}
				}
			} else {
				b = appendU16(b, r.Timeout)
			}
		case CmdConfigReportRsp:
			b = append(b, uint8(r.Status), r.Direction)
			b = appendU16(b, r.ID)
		case CmdReadReportConfig:
			b = append(b, r.Direction)
			b = appendU16(b, r.ID)
		case CmdReport:
			b = appendU16(b, r.ID)
			b = append(b, uint8(r.DataType))
			if b, err = appendValue(b, r.DataType, r.Value); err != nil {
				return nil, err
			}
		case CmdWriteStructured:
			b = appendU16(b, r.ID)
			b = append(b, uint8(len(r.Selector)))
			for _, idx := range r.Selector {
				b = appendU16(b, idx)
			}
			b = append(b, uint8(r.DataType))
			if b, err = appendValue(b, r.DataType, r.Value); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("command 0x%02x has no record layout", f.Header.CommandID)
		}
	}
	return b, nil
}

// DecodeFrame parses a received frame. Payloads of foundation attribute
// commands are decoded into Records; everything else stays in Data for the
// registry's argument decoder.
func DecodeFrame(b []byte) (*Frame, error) {
	r := &reader{b: b}
	ctl := r.u8()
	f := &Frame{}
	f.Header.Type = FrameType(ctl & ctlFrameTypeMask)
	if ctl&ctlDirectionBit != 0 {
		f.Header.Direction = DirectionServerToClient
	}
	f.Header.DisableDefaultResponse = ctl&ctlDisableDefaultBit != 0
	f.Header.ReservedBits = ctl >> ctlReservedShift
	if ctl&ctlManufacturerBit != 0 {
		f.Header.ManufacturerCode = r.u16()
	}
	f.Header.TransactionSequence = r.u8()
	f.Header.CommandID = r.u8()
	if r.err != nil {
		return nil, fmt.Errorf("frame header: %w", r.err)
	}

	if f.Header.Type == FrameGlobal && IsRecordCommand(f.Header.CommandID) {
		if err := f.readRecords(r); err != nil {
			return nil, err
		}
		return f, nil
	}
	f.Data = append([]byte(nil), r.rest()...)
	return f, nil
}

func (f *Frame) readRecords(r *reader) error {
	// write responses collapse to a single status byte when every record
	// succeeded
	if f.Header.CommandID == CmdWriteRsp && r.remaining() == 1 {
		f.Records = []AttributeRecord{{Status: Status(r.u8())}}
		return r.err
	}
	for r.remaining() > 0 && r.err == nil {
		var rec AttributeRecord
		switch f.Header.CommandID {
		case CmdRead:
			rec.ID = r.u16()
		case CmdReadRsp:
			rec.ID = r.u16()
			rec.Status = Status(r.u8())
			if rec.Status == StatusSuccess {
				rec.DataType = DataType(r.u8())
				rec.Value = r.value(rec.DataType)
			}
		case CmdWrite, CmdWriteUndiv, CmdWriteNoRsp:
			rec.ID = r.u16()
			rec.DataType = DataType(r.u8())
			rec.Value = r.value(rec.DataType)
		case CmdWriteRsp:
			rec.Status = Status(r.u8())
			rec.ID = r.u16()
		case CmdConfigReport:
			rec.Direction = r.u8()
			rec.ID = r.u16()
			if rec.Direction == ReportDirectionReported {
				rec.DataType = DataType(r.u8())
				rec.MinInterval = r.u16()
				rec.MaxInterval = r.u16()
				if rec.DataType.Analog() {
					rec.ReportableChange = r.value(rec.DataType)
				}
			} else {
				rec.Timeout = r.u16()
			}
		case CmdConfigReportRsp:
			rec.Status = Status(r.u8())
			rec.Direction = r.u8()
			rec.ID = r.u16()
		case CmdReadReportConfig:
			rec.Direction = r.u8()
			rec.ID = r.u16()
		case CmdReport:
			rec.ID = r.u16()
			rec.DataType = DataType(r.u8())
			rec.Value = r.value(rec.DataType)
		case CmdWriteStructured:
			rec.ID = r.u16()
			depth := int(r.u8())
			for i := 0; i < depth; i++ {
				rec.Selector = append(rec.Selector, r.u16())
			}
			rec.DataType = DataType(r.u8())
			rec.Value = r.value(rec.DataType)
		default:
			return fmt.Errorf("command 0x%02x has no record layout", f.Header.CommandID)
		}
		if r.err == nil {
			f.Records = append(f.Records, rec)
		}
	}
	if r.err != nil {
		return fmt.Errorf("command 0x%02x payload: %w", f.Header.CommandID, r.err)
	}
	return nil
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, uint8(v), uint8(v>>8))
}

// reader walks a byte slice with a sticky error, so record parsing can run
// straight-line and check once.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.fail(io.ErrUnexpectedEOF)
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	lo := r.u8()
	hi := r.u8()
	return uint16(hi)<<8 | uint16(lo)
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.b[r.off:]
}

func (r *reader) remaining() int { return len(r.b) - r.off }
