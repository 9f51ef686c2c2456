package config

// NetConfig contains networking tuning options.
type NetConfig struct {
	// Redial backoff window when the coordinator link drops
	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
}
