package config

// Default values for configuration options ("layer 0").
const (
	defaultTimeout   = "30s"
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultListen    = "127.0.0.1:8787"

	tokenFileName = "session.json"
	cacheDBName   = "events.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{Timeout: defaultTimeout},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Bridge: BridgeConfig{Listen: defaultListen},
	}
}
