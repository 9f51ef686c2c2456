package config

// GatewayConfig describes the HTTP API server.
type GatewayConfig struct {
	// Listen address; empty disables the gateway
	Listen string `mapstructure:"listen"`
}
