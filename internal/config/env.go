package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "TENANTCAL_CONFIG"
	EnvBackendURL = "TENANTCAL_BACKEND_URL"
	EnvClientID   = "TENANTCAL_CLIENT_ID"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TENANTCAL_CONFIG: override config file path
	BackendURL string // TENANTCAL_BACKEND_URL: backend base URL
	ClientID   string // TENANTCAL_CLIENT_ID: OAuth client id
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BackendURL: os.Getenv(EnvBackendURL),
		ClientID:   os.Getenv(EnvClientID),
	}
}
