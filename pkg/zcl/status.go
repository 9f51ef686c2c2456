package zcl

import "fmt"

// Status is the result code a device attaches to command responses.
type Status uint8

const (
	StatusSuccess               Status = 0x00
	StatusFailure               Status = 0x01
	StatusNotAuthorized         Status = 0x7e
	StatusMalformedCommand      Status = 0x80
	StatusUnsupClusterCommand   Status = 0x81
	StatusUnsupGeneralCommand   Status = 0x82
	StatusUnsupManufCommand     Status = 0x84
	StatusInvalidField          Status = 0x85
	StatusUnsupportedAttribute  Status = 0x86
	StatusInvalidValue          Status = 0x87
	StatusReadOnly              Status = 0x88
	StatusInsufficientSpace     Status = 0x89
	StatusNotFound              Status = 0x8b
	StatusUnreportableAttribute Status = 0x8c
	StatusInvalidDataType       Status = 0x8d
	StatusTimeout               Status = 0x94
	StatusAbort                 Status = 0x95
	StatusCalibrationError      Status = 0xc2
	StatusUnsupportedCluster    Status = 0xc3
)

var statusNames = map[Status]string{
	StatusSuccess:               "SUCCESS",
	StatusFailure:               "FAILURE",
	StatusNotAuthorized:         "NOT_AUTHORIZED",
	StatusMalformedCommand:      "MALFORMED_COMMAND",
	StatusUnsupClusterCommand:   "UNSUP_CLUSTER_COMMAND",
	StatusUnsupGeneralCommand:   "UNSUP_GENERAL_COMMAND",
	StatusUnsupManufCommand:     "UNSUP_MANUF_COMMAND",
	StatusInvalidField:          "INVALID_FIELD",
	StatusUnsupportedAttribute:  "UNSUPPORTED_ATTRIBUTE",
	StatusInvalidValue:          "INVALID_VALUE",
	StatusReadOnly:              "READ_ONLY",
	StatusInsufficientSpace:     "INSUFFICIENT_SPACE",
	StatusNotFound:              "NOT_FOUND",
	StatusUnreportableAttribute: "UNREPORTABLE_ATTRIBUTE",
	StatusInvalidDataType:       "INVALID_DATA_TYPE",
	StatusTimeout:               "TIMEOUT",
	StatusAbort:                 "ABORT",
	StatusCalibrationError:      "CALIBRATION_ERROR",
	StatusUnsupportedCluster:    "UNSUPPORTED_CLUSTER",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS_0x%02x", uint8(s))
}

// StatusError reports a non-success status returned by the remote device
// inside an otherwise successful exchange. It surfaces to the caller as a
// rejection and never causes a request to be queued.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device status %s (0x%02x)", e.Status, uint8(e.Status))
}

// CheckStatus returns a StatusError when st is not SUCCESS.
func CheckStatus(st Status) error {
	if st == StatusSuccess {
		return nil
	}
	return &StatusError{Status: st}
}
