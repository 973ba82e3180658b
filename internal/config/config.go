// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tenantcal. Values resolve through a
// four-layer chain: defaults, config file, environment, CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	OAuth   OAuthConfig   `toml:"oauth"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
	Bridge  BridgeConfig  `toml:"bridge"`
}

// BackendConfig locates the tenant calendar backend.
type BackendConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// OAuthConfig describes the identity provider redirect. Only the auth-url
// command reads it; the code exchange itself goes through the backend.
type OAuthConfig struct {
	ClientID    string   `toml:"client_id"`
	AuthURL     string   `toml:"auth_url"`
	RedirectURL string   `toml:"redirect_url"`
	Scopes      []string `toml:"scopes"`
}

// SessionConfig controls where session state lives on disk. An empty path
// means the default under DefaultDataDir; CacheDB set to CacheDBOff keeps
// the event cache in memory only.
type SessionConfig struct {
	TokenFile string `toml:"token_file"`
	CacheDB   string `toml:"cache_db"`
}

// CacheDBOff disables the persistent event cache.
const CacheDBOff = "off"

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// BridgeConfig controls the local HTTP bridge started by `tenantcal serve`.
type BridgeConfig struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit empty value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BackendURL *string // --backend-url flag
	Listen     *string // serve --listen flag
}
