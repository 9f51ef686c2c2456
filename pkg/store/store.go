// Package store persists the device registry across restarts. Two backends
// exist: a CBOR snapshot file and sqlite.
package store

import (
	"errors"
	"fmt"
	"time"
)

// EndpointRecord describes one endpoint a device exposes.
type EndpointRecord struct {
	ID             uint8    `json:"id" cbor:"1,keyasint"`
	InputClusters  []uint16 `json:"input_clusters,omitempty" cbor:"2,keyasint,omitempty"`
	OutputClusters []uint16 `json:"output_clusters,omitempty" cbor:"3,keyasint,omitempty"`
}

// DeviceRecord is the persisted shape of one device.
type DeviceRecord struct {
	IEEE         uint64           `json:"ieee" cbor:"1,keyasint"`
	NWK          uint16           `json:"nwk" cbor:"2,keyasint"`
	Name         string           `json:"name,omitempty" cbor:"3,keyasint,omitempty"`
	Manufacturer string           `json:"manufacturer,omitempty" cbor:"4,keyasint,omitempty"`
	Model        string           `json:"model,omitempty" cbor:"5,keyasint,omitempty"`
	Endpoints    []EndpointRecord `json:"endpoints,omitempty" cbor:"6,keyasint,omitempty"`

	// Dispatch behavior. PendingRequestTimeout zero means requests to the
	// device always transmit inline; DefaultSendWhen is "normal",
	// "fastpoll" or "immediate".
	PendingRequestTimeout time.Duration `json:"pending_request_timeout,omitempty" cbor:"7,keyasint,omitempty"`
	DefaultSendWhen       string        `json:"default_send_when,omitempty" cbor:"8,keyasint,omitempty"`
	ImplicitCheckin       bool          `json:"implicit_checkin,omitempty" cbor:"9,keyasint,omitempty"`

	Joined   int64 `json:"joined_unix_ms,omitempty" cbor:"10,keyasint,omitempty"`
	LastSeen int64 `json:"last_seen_unix_ms,omitempty" cbor:"11,keyasint,omitempty"`
}

// Store is the persistence boundary for device records.
type Store interface {
	Upsert(rec DeviceRecord) error
	Get(ieee uint64) (DeviceRecord, bool, error)
	Delete(ieee uint64) error
	List() ([]DeviceRecord, error)
	Close() error
}

// ErrUnknownBackend reports an unrecognized backend name in config.
var ErrUnknownBackend = errors.New("unknown store backend")

// Open builds a store from a backend name and path. Supported backends:
// "file" and "sqlite".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "file":
		return OpenFile(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
