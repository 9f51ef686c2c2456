package zcl

import "fmt"

// Foundation command ids, valid on any cluster in global frames.
const (
	CmdRead                uint8 = 0x00
	CmdReadRsp             uint8 = 0x01
	CmdWrite               uint8 = 0x02
	CmdWriteUndiv          uint8 = 0x03
	CmdWriteRsp            uint8 = 0x04
	CmdWriteNoRsp          uint8 = 0x05
	CmdConfigReport        uint8 = 0x06
	CmdConfigReportRsp     uint8 = 0x07
	CmdReadReportConfig    uint8 = 0x08
	CmdReadReportConfigRsp uint8 = 0x09
	CmdReport              uint8 = 0x0a
	CmdDefaultRsp          uint8 = 0x0b
	CmdWriteStructured     uint8 = 0x0f
	CmdWriteStructuredRsp  uint8 = 0x10
)

// Reporting configuration direction values.
const (
	ReportDirectionReported uint8 = 0x00
	ReportDirectionReceived uint8 = 0x01
)

var foundationNames = map[uint8]string{
	CmdRead:                "read",
	CmdReadRsp:             "readRsp",
	CmdWrite:               "write",
	CmdWriteUndiv:          "writeUndiv",
	CmdWriteRsp:            "writeRsp",
	CmdWriteNoRsp:          "writeNoRsp",
	CmdConfigReport:        "configReport",
	CmdConfigReportRsp:     "configReportRsp",
	CmdReadReportConfig:    "readReportConfig",
	CmdReadReportConfigRsp: "readReportConfigRsp",
	CmdReport:              "report",
	CmdDefaultRsp:          "defaultRsp",
	CmdWriteStructured:     "writeStructured",
	CmdWriteStructuredRsp:  "writeStructuredRsp",
}

// FoundationCommandName returns the symbolic name of a foundation command.
func FoundationCommandName(id uint8) string {
	if n, ok := foundationNames[id]; ok {
		return n
	}
	return fmt.Sprintf("foundation0x%02x", id)
}

var recordCommands = map[uint8]bool{
	CmdRead:             true,
	CmdReadRsp:          true,
	CmdWrite:            true,
	CmdWriteUndiv:       true,
	CmdWriteRsp:         true,
	CmdWriteNoRsp:       true,
	CmdConfigReport:     true,
	CmdConfigReportRsp:  true,
	CmdReadReportConfig: true,
	CmdReport:           true,
	CmdWriteStructured:  true,
}

// IsRecordCommand reports whether a foundation command's payload is a list
// of attribute records.
func IsRecordCommand(id uint8) bool { return recordCommands[id] }

// statused foundation responses, whose records carry a per-record status
var statusedCommands = map[uint8]bool{
	CmdReadRsp:         true,
	CmdWriteRsp:        true,
	CmdConfigReportRsp: true,
}

// DefaultResponseData encodes the two-byte default-response payload.
func DefaultResponseData(commandID uint8, st Status) []byte {
	return []byte{commandID, uint8(st)}
}

// ParseDefaultResponse extracts the acknowledged command id and status from
// a default-response frame.
func ParseDefaultResponse(f *Frame) (commandID uint8, st Status, err error) {
	if f.Header.Type != FrameGlobal || f.Header.CommandID != CmdDefaultRsp {
		return 0, 0, fmt.Errorf("not a default response: %s command 0x%02x", f.Header.Type, f.Header.CommandID)
	}
	if len(f.Data) < 2 {
		return 0, 0, fmt.Errorf("default response payload too short: %d bytes", len(f.Data))
	}
	return f.Data[0], Status(f.Data[1]), nil
}

// ResponseError inspects a response frame and returns a StatusError when the
// device reported a failure, either through a default response or through a
// per-record status.
func ResponseError(f *Frame) error {
	if f == nil || f.Header.Type != FrameGlobal {
		return nil
	}
	if f.Header.CommandID == CmdDefaultRsp {
		_, st, err := ParseDefaultResponse(f)
		if err != nil {
			return err
		}
		return CheckStatus(st)
	}
	if !statusedCommands[f.Header.CommandID] {
		return nil
	}
	for i := range f.Records {
		if err := CheckStatus(f.Records[i].Status); err != nil {
			return err
		}
	}
	return nil
}
