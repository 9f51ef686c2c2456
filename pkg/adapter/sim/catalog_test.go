package sim

import (
	"strings"
	"testing"
)

func TestParseCatalogDefaults(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
devices:
  - name: plug
    ieee: 0xaabb
    nwk: 0x0102
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cat.Channel != 15 {
		t.Fatalf("default channel = %d", cat.Channel)
	}
	if len(cat.Devices[0].Endpoints) != 1 || cat.Devices[0].Endpoints[0].ID != 1 {
		t.Fatalf("default endpoints = %+v", cat.Devices[0].Endpoints)
	}
	if cat.Devices[0].IEEE != 0xaabb {
		t.Fatalf("hex ieee = %#x", cat.Devices[0].IEEE)
	}
}

func TestParseCatalogRejections(t *testing.T) {
	cases := []struct {
		name, yaml, want string
	}{
		{"missing ieee", `
devices:
  - name: a
    nwk: 1
`, "ieee required"},
		{"duplicate ieee", `
devices:
  - {name: a, ieee: 0x01, nwk: 1}
  - {name: b, ieee: 0x01, nwk: 2}
`, "duplicate ieee"},
		{"duplicate nwk", `
devices:
  - {name: a, ieee: 0x01, nwk: 1}
  - {name: b, ieee: 0x02, nwk: 1}
`, "duplicate nwk"},
		{"reserved endpoint", `
devices:
  - name: a
    ieee: 0x01
    nwk: 1
    endpoints:
      - id: 0
`, "endpoint id 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestNewRejectsUnknownClusterName(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
devices:
  - name: a
    ieee: 0x01
    nwk: 1
    endpoints:
      - id: 1
        clusters:
          - name: genNoSuchCluster
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := New(Config{}, cat); err == nil {
		t.Fatal("unknown cluster name accepted")
	}
}
