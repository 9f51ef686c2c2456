package zcl

import (
	"errors"
	"fmt"
)

// ErrUnknown is wrapped by every failed schema lookup, so callers can tell
// resolution failures from other errors with errors.Is.
var ErrUnknown = errors.New("not in schema")

// Attribute describes one named data field of a cluster.
type Attribute struct {
	ID   uint16
	Name string
	Type DataType
}

// Param describes one argument of a command.
type Param struct {
	Name string
	Type DataType
}

// Command describes a cluster-specific command and its argument schema.
type Command struct {
	ID     uint8
	Name   string
	Params []Param
}

// EncodeArgs encodes named arguments against the command's parameter
// schema, in schema order. Arguments not named by the schema are ignored;
// missing ones are an error.
func (cmd *Command) EncodeArgs(args map[string]any) ([]byte, error) {
	b := make([]byte, 0, 8)
	for _, p := range cmd.Params {
		v, ok := args[p.Name]
		if !ok {
			return nil, fmt.Errorf("command %q: missing argument %q", cmd.Name, p.Name)
		}
		nv, err := normalizeValue(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("command %q argument %q: %w", cmd.Name, p.Name, err)
		}
		if b, err = appendValue(b, p.Type, nv); err != nil {
			return nil, fmt.Errorf("command %q argument %q: %w", cmd.Name, p.Name, err)
		}
	}
	return b, nil
}

// DecodeArgs decodes a command payload into named arguments.
func (cmd *Command) DecodeArgs(data []byte) (map[string]any, error) {
	r := &reader{b: data}
	out := make(map[string]any, len(cmd.Params))
	for _, p := range cmd.Params {
		out[p.Name] = r.value(p.Type)
	}
	if r.err != nil {
		return nil, fmt.Errorf("command %q args: %w", cmd.Name, r.err)
	}
	return out, nil
}

// Cluster groups the attributes and commands of one functional domain.
// Received commands are the ones a server-side cluster sends back to us.
type Cluster struct {
	ID   uint16
	Name string

	attrsByName map[string]*Attribute
	attrsByID   map[uint16]*Attribute
	cmdsByName  map[string]*Command
	cmdsByID    map[uint8]*Command
	rcvdByName  map[string]*Command
	rcvdByID    map[uint8]*Command
}

// Attribute resolves an attribute reference within the cluster.
func (c *Cluster) Attribute(key Key) (*Attribute, error) {
	if key.byID {
		if a, ok := c.attrsByID[key.id]; ok {
			return a, nil
		}
	} else if a, ok := c.attrsByName[key.name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("cluster %q attribute %q: %w", c.Name, key.Ref(), ErrUnknown)
}

// AttributeID resolves a reference to its numeric id. Numeric references
// pass through even when the schema does not list them, so
// manufacturer-specific attributes stay readable; unknown names fail.
func (c *Cluster) AttributeID(key Key) (uint16, error) {
	a, err := c.Attribute(key)
	if err == nil {
		return a.ID, nil
	}
	if key.byID {
		return key.id, nil
	}
	return 0, err
}

// Command resolves a cluster command sent client→server.
func (c *Cluster) Command(key Key) (*Command, error) {
	if key.byID {
		if cmd, ok := c.cmdsByID[uint8(key.id)]; ok {
			return cmd, nil
		}
	} else if cmd, ok := c.cmdsByName[key.name]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("cluster %q command %q: %w", c.Name, key.Ref(), ErrUnknown)
}

// CommandReceived resolves a command the cluster sends server→client.
func (c *Cluster) CommandReceived(key Key) (*Command, error) {
	if key.byID {
		if cmd, ok := c.rcvdByID[uint8(key.id)]; ok {
			return cmd, nil
		}
	} else if cmd, ok := c.rcvdByName[key.name]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("cluster %q received command %q: %w", c.Name, key.Ref(), ErrUnknown)
}

var (
	clustersByName = map[string]*Cluster{}
	clustersByID   = map[uint16]*Cluster{}
)

// GetCluster resolves a cluster reference. Unknown numeric ids resolve to an
// empty manufacturer-specific cluster so raw commands can still target them;
// unknown names fail.
func GetCluster(key Key) (*Cluster, error) {
	if key.byID {
		if c, ok := clustersByID[key.id]; ok {
			return c, nil
		}
		return newCluster(clusterDef{id: key.id, name: fmt.Sprintf("manuSpecific0x%04x", key.id)}), nil
	}
	if c, ok := clustersByName[key.name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("cluster %q: %w", key.name, ErrUnknown)
}

type clusterDef struct {
	id    uint16
	name  string
	attrs []Attribute
	cmds  []Command
	rcvd  []Command
}

func newCluster(d clusterDef) *Cluster {
	c := &Cluster{
		ID:          d.id,
		Name:        d.name,
		attrsByName: make(map[string]*Attribute, len(d.attrs)),
		attrsByID:   make(map[uint16]*Attribute, len(d.attrs)),
		cmdsByName:  make(map[string]*Command, len(d.cmds)),
		cmdsByID:    make(map[uint8]*Command, len(d.cmds)),
		rcvdByName:  make(map[string]*Command, len(d.rcvd)),
		rcvdByID:    make(map[uint8]*Command, len(d.rcvd)),
	}
	for i := range d.attrs {
		a := &d.attrs[i]
		c.attrsByName[a.Name] = a
		c.attrsByID[a.ID] = a
	}
	for i := range d.cmds {
		cmd := &d.cmds[i]
		c.cmdsByName[cmd.Name] = cmd
		c.cmdsByID[cmd.ID] = cmd
	}
	for i := range d.rcvd {
		cmd := &d.rcvd[i]
		c.rcvdByName[cmd.Name] = cmd
		c.rcvdByID[cmd.ID] = cmd
	}
	return c
}

func register(d clusterDef) {
	c := newCluster(d)
	clustersByName[c.Name] = c
	clustersByID[c.ID] = c
}
