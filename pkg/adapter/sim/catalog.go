package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog describes a simulated network: the coordinator's identity and the
// devices already joined to it.
type Catalog struct {
	PanID   uint16       `yaml:"pan_id"`
	Channel uint8        `yaml:"channel"`
	Devices []DeviceSpec `yaml:"devices"`
}

// DeviceSpec is one simulated device. Sleepy devices reject transmissions
// until woken (or until they check in).
type DeviceSpec struct {
	Name      string         `yaml:"name"`
	IEEE      uint64         `yaml:"ieee"`
	NWK       uint16         `yaml:"nwk"`
	Sleepy    bool           `yaml:"sleepy"`
	Endpoints []EndpointSpec `yaml:"endpoints"`
}

type EndpointSpec struct {
	ID       uint8         `yaml:"id"`
	Clusters []ClusterSpec `yaml:"clusters"`
}

// ClusterSpec names a cluster from the schema registry and seeds its
// attribute values.
type ClusterSpec struct {
	Name       string         `yaml:"name"`
	Attributes map[string]any `yaml:"attributes"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog parses and validates catalog YAML.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.Channel == 0 {
		c.Channel = 15
	}
	seenIEEE := make(map[uint64]bool, len(c.Devices))
	seenNWK := make(map[uint16]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.IEEE == 0 {
			return nil, fmt.Errorf("device %d (%s): ieee required", i, d.Name)
		}
		if seenIEEE[d.IEEE] {
			return nil, fmt.Errorf("device %d (%s): duplicate ieee 0x%016x", i, d.Name, d.IEEE)
		}
		seenIEEE[d.IEEE] = true
		if d.NWK == 0 {
			return nil, fmt.Errorf("device %d (%s): nwk required", i, d.Name)
		}
		if seenNWK[d.NWK] {
			return nil, fmt.Errorf("device %d (%s): duplicate nwk 0x%04x", i, d.Name, d.NWK)
		}
		seenNWK[d.NWK] = true
		if len(d.Endpoints) == 0 {
			d.Endpoints = []EndpointSpec{{ID: 1}}
		}
		for _, ep := range d.Endpoints {
			if ep.ID == 0 {
				return nil, fmt.Errorf("device %d (%s): endpoint id 0 is reserved", i, d.Name)
			}
		}
	}
	return &c, nil
}
