// Package zcl implements the cluster library layer: a schema registry that
// resolves symbolic cluster/command/attribute references to their numeric
// identifiers and encoding metadata, and the binary codec for the frames
// exchanged with remote devices.
package zcl

import "fmt"

// FrameType selects the command table a frame addresses.
type FrameType uint8

const (
	// FrameGlobal frames carry foundation commands (read, write, report...)
	// valid on any cluster.
	FrameGlobal FrameType = 0
	// FrameCluster frames carry commands specific to one cluster.
	FrameCluster FrameType = 1
)

func (t FrameType) String() string {
	switch t {
	case FrameGlobal:
		return "global"
	case FrameCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// Direction tells whether a frame travels client→server or server→client.
type Direction uint8

const (
	DirectionClientToServer Direction = 0
	DirectionServerToClient Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionClientToServer:
		return "client-to-server"
	case DirectionServerToClient:
		return "server-to-client"
	default:
		return "unknown"
	}
}

// Key identifies a cluster, command or attribute either by symbolic name or
// by numeric id. Callers construct one with Name or ID; the registry resolves
// it exactly once at the API boundary, downstream code only sees numeric ids.
type Key struct {
	name string
	id   uint16
	byID bool
}

// Name references a schema entry by its symbolic name.
func Name(name string) Key { return Key{name: name} }

// ID references a schema entry by its numeric id.
func ID(id uint16) Key { return Key{id: id, byID: true} }

// ByID reports whether the key carries a numeric id.
func (k Key) ByID() bool { return k.byID }

// Ref returns the reference as given by the caller, for error messages.
func (k Key) Ref() string {
	if k.byID {
		return fmt.Sprintf("0x%04x", k.id)
	}
	return k.name
}
