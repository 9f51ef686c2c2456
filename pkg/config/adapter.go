package config

// AdapterConfig describes the coordinator link.
// Example YAML:
//
//	adapter:
//	  link: tcp
//	  addr: "10.0.0.2:7554"
//	  name: "herdsman"
//	  control_format: cbor
//	  request_timeout_ms: 10000
type AdapterConfig struct {
	// Kind of link: tcp, quic, mem or winpipe
	Link string `mapstructure:"link"`
	// Addr form depends on the link kind: host:port for tcp and quic,
	// a registry name for mem, a pipe path for winpipe
	Addr string `mapstructure:"addr"`
	// Name advertised to the coordinator in the hello exchange
	Name string `mapstructure:"name"`
	// ControlFormat for control bodies: cbor or json
	ControlFormat string `mapstructure:"control_format"`
	// RequestTimeoutMS bounds a transmission when the request carries no
	// timeout of its own
	RequestTimeoutMS int `mapstructure:"request_timeout_ms"`
}
