package config

// StoreConfig describes device registry persistence.
type StoreConfig struct {
	// Backend: file (CBOR snapshot) or sqlite
	Backend string `mapstructure:"backend"`
	// Path to the store file; empty resolves under data_dir
	Path string `mapstructure:"path"`
}
