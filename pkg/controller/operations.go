package controller

import (
	"context"
	"fmt"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// AttributeValue names one attribute and the value to write or report.
type AttributeValue struct {
	Attr  zcl.Key
	Value any
}

// StructuredWrite targets an element inside a composite attribute. An
// empty selector writes the whole attribute.
type StructuredWrite struct {
	Attr     zcl.Key
	Selector []uint16
	Value    any
}

// ReportingConfig is one attribute's reporting schedule. ReportableChange
// applies to analog types only; nil means zero.
type ReportingConfig struct {
	Attr             zcl.Key
	MinInterval      uint16
	MaxInterval      uint16
	ReportableChange any
}

// Read requests the current value of the given attributes. Attributes may
// be referenced by name or numeric id; numeric ids outside the schema pass
// through unresolved.
func (e *Endpoint) Read(ctx context.Context, cluster zcl.Key, attrs []zcl.Key, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	records := make([]zcl.AttributeRecord, 0, len(attrs))
	for _, key := range attrs {
		id, err := c.AttributeID(key)
		if err != nil {
			return nil, err
		}
		records = append(records, zcl.AttributeRecord{ID: id})
	}
	o := e.options(opts, defaultSendPolicy[zcl.CmdRead])
	e.drawSequence(&o)
	return e.sendGlobal(ctx, c.ID, zcl.CmdRead, records, o)
}

// ReadResponse answers a read request. The transaction sequence number is
// the request's own, passed positionally; records carry status, type and
// value as the caller resolved them.
func (e *Endpoint) ReadResponse(ctx context.Context, cluster zcl.Key, tsn uint8, records []zcl.AttributeRecord, opts *Options) error {
	if err := rejectOptionTSN("ReadResponse", opts); err != nil {
		return err
	}
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return err
	}
	o := e.options(opts, PolicyImmediate)
	o.TransactionSequenceNumber = tsn
	_, err = e.sendResponse(ctx, c.ID, zcl.FrameGlobal, zcl.CmdReadRsp, records, nil, o)
	return err
}

// Write sets attribute values. Options select the variant:
// WriteUndivided the all-or-nothing command, DisableResponse the
// fire-and-forget one.
func (e *Endpoint) Write(ctx context.Context, cluster zcl.Key, values []AttributeValue, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	records, err := attributeRecords(c, values)
	if err != nil {
		return nil, err
	}
	cmdID := zcl.CmdWrite
	switch {
	case opts != nil && opts.WriteUndivided:
		cmdID = zcl.CmdWriteUndiv
	case opts != nil && opts.DisableResponse:
		cmdID = zcl.CmdWriteNoRsp
	}
	o := e.options(opts, defaultSendPolicy[cmdID])
	e.drawSequence(&o)
	return e.sendGlobal(ctx, c.ID, cmdID, records, o)
}

// WriteResponse answers a write request, sequence number positional.
func (e *Endpoint) WriteResponse(ctx context.Context, cluster zcl.Key, tsn uint8, records []zcl.AttributeRecord, opts *Options) error {
	if err := rejectOptionTSN("WriteResponse", opts); err != nil {
		return err
	}
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return err
	}
	o := e.options(opts, PolicyImmediate)
	o.TransactionSequenceNumber = tsn
	_, err = e.sendResponse(ctx, c.ID, zcl.FrameGlobal, zcl.CmdWriteRsp, records, nil, o)
	return err
}

// WriteStructured writes into elements of composite attributes.
func (e *Endpoint) WriteStructured(ctx context.Context, cluster zcl.Key, writes []StructuredWrite, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	records := make([]zcl.AttributeRecord, 0, len(writes))
	for _, w := range writes {
		a, err := c.Attribute(w.Attr)
		if err != nil {
			return nil, err
		}
		rec, err := zcl.NewRecord(a.ID, a.Type, w.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		rec.Selector = append([]uint16(nil), w.Selector...)
		records = append(records, rec)
	}
	o := e.options(opts, defaultSendPolicy[zcl.CmdWriteStructured])
	e.drawSequence(&o)
	return e.sendGlobal(ctx, c.ID, zcl.CmdWriteStructured, records, o)
}

// Report emits an unsolicited attribute report.
func (e *Endpoint) Report(ctx context.Context, cluster zcl.Key, values []AttributeValue, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	records, err := attributeRecords(c, values)
	if err != nil {
		return nil, err
	}
	o := e.options(opts, defaultSendPolicy[zcl.CmdReport])
	e.drawSequence(&o)
	return e.sendGlobal(ctx, c.ID, zcl.CmdReport, records, o)
}

// ConfigureReporting installs reporting schedules for the given
// attributes.
func (e *Endpoint) ConfigureReporting(ctx context.Context, cluster zcl.Key, items []ReportingConfig, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	records := make([]zcl.AttributeRecord, 0, len(items))
	for _, it := range items {
		a, err := c.Attribute(it.Attr)
		if err != nil {
			return nil, err
		}
		rec, err := zcl.NewReportingRecord(a.ID, a.Type, it.MinInterval, it.MaxInterval, it.ReportableChange)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		records = append(records, rec)
	}
	o := e.options(opts, defaultSendPolicy[zcl.CmdConfigReport])
	e.drawSequence(&o)
	return e.sendGlobal(ctx, c.ID, zcl.CmdConfigReport, records, o)
}

// Command invokes a cluster-specific command with named arguments.
func (e *Endpoint) Command(ctx context.Context, cluster, command zcl.Key, args map[string]any, opts *Options) (*zcl.Frame, error) {
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return nil, err
	}
	cmd, err := c.Command(command)
	if err != nil {
		return nil, err
	}
	data, err := cmd.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	o := e.options(opts, PolicyQueue)
	e.drawSequence(&o)
	f := &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameCluster,
			Direction:              o.Direction,
			DisableDefaultResponse: o.DisableDefaultResponse,
			ReservedBits:           o.ReservedBits,
			ManufacturerCode:       o.ManufacturerCode,
			TransactionSequence:    o.TransactionSequenceNumber,
			CommandID:              cmd.ID,
		},
		Data: data,
	}
	return e.submit(ctx, e.newRequest(c.ID, f, o))
}

// CommandResponse emits a cluster-specific command in the server-to-client
// set, answering the request with the given sequence number.
func (e *Endpoint) CommandResponse(ctx context.Context, cluster, command zcl.Key, tsn uint8, args map[string]any, opts *Options) error {
	if err := rejectOptionTSN("CommandResponse", opts); err != nil {
		return err
	}
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return err
	}
	cmd, err := c.CommandReceived(command)
	if err != nil {
		return err
	}
	data, err := cmd.EncodeArgs(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	o := e.options(opts, PolicyImmediate)
	o.TransactionSequenceNumber = tsn
	_, err = e.sendResponse(ctx, c.ID, zcl.FrameCluster, cmd.ID, nil, data, o)
	return err
}

// DefaultResponse acknowledges a received command with a status, sequence
// number positional.
func (e *Endpoint) DefaultResponse(ctx context.Context, cluster zcl.Key, tsn uint8, commandID uint8, st zcl.Status, opts *Options) error {
	if err := rejectOptionTSN("DefaultResponse", opts); err != nil {
		return err
	}
	c, err := zcl.GetCluster(cluster)
	if err != nil {
		return err
	}
	o := e.options(opts, PolicyImmediate)
	o.TransactionSequenceNumber = tsn
	_, err = e.sendResponse(ctx, c.ID, zcl.FrameGlobal, zcl.CmdDefaultRsp, nil, zcl.DefaultResponseData(commandID, st), o)
	return err
}

// sendGlobal submits a profile-wide command built from records.
func (e *Endpoint) sendGlobal(ctx context.Context, clusterID uint16, cmdID uint8, records []zcl.AttributeRecord, o Options) (*zcl.Frame, error) {
	f := &zcl.Frame{
		Header: zcl.Header{
			Type:                   zcl.FrameGlobal,
			Direction:              o.Direction,
			DisableDefaultResponse: o.DisableDefaultResponse,
			ReservedBits:           o.ReservedBits,
			ManufacturerCode:       o.ManufacturerCode,
			TransactionSequence:    o.TransactionSequenceNumber,
			CommandID:              cmdID,
		},
		Records: records,
	}
	return e.submit(ctx, e.newRequest(clusterID, f, o))
}

// sendResponse submits a response emission: server to client, default
// response suppressed, no reply expected.
func (e *Endpoint) sendResponse(ctx context.Context, clusterID uint16, typ zcl.FrameType, cmdID uint8, records []zcl.AttributeRecord, data []byte, o Options) (*zcl.Frame, error) {
	o.DisableResponse = true
	f := &zcl.Frame{
		Header: zcl.Header{
			Type:                   typ,
			Direction:              zcl.DirectionServerToClient,
			DisableDefaultResponse: true,
			ReservedBits:           o.ReservedBits,
			ManufacturerCode:       o.ManufacturerCode,
			TransactionSequence:    o.TransactionSequenceNumber,
			CommandID:              cmdID,
		},
		Records: records,
		Data:    data,
	}
	return e.submit(ctx, e.newRequest(clusterID, f, o))
}

// attributeRecords resolves attribute references and normalizes values for
// a write or report body.
func attributeRecords(c *zcl.Cluster, values []AttributeValue) ([]zcl.AttributeRecord, error) {
	records := make([]zcl.AttributeRecord, 0, len(values))
	for _, v := range values {
		a, err := c.Attribute(v.Attr)
		if err != nil {
			return nil, err
		}
		rec, err := zcl.NewRecord(a.ID, a.Type, v.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func rejectOptionTSN(op string, opts *Options) error {
	if opts != nil && opts.TransactionSequenceNumber != 0 {
		return fmt.Errorf("%w: %s takes the transaction sequence number as an argument", ErrInvalidRequest, op)
	}
	return nil
}
