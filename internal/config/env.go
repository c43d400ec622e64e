package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig  = "ONEDRIVE_GO_CONFIG"
	EnvProfile = "ONEDRIVE_GO_PROFILE"
	EnvSyncDir = "ONEDRIVE_GO_SYNC_DIR"
	EnvDrive   = "ONEDRIVE_GO_DRIVE"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // ONEDRIVE_GO_CONFIG: override config file path
	Profile    string // ONEDRIVE_GO_PROFILE: active profile name (legacy)
	SyncDir    string // ONEDRIVE_GO_SYNC_DIR: sync directory override
	Drive      string // ONEDRIVE_GO_DRIVE: drive selector override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	overrides := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Profile:    os.Getenv(EnvProfile),
		SyncDir:    os.Getenv(EnvSyncDir),
		Drive:      os.Getenv(EnvDrive),
	}

	if logger != nil {
		logger.Debug("read env overrides",
			"config_path", overrides.ConfigPath,
			"drive", overrides.Drive,
		)
	}

	return overrides
}

// CLIOverrides holds values derived from command-line flags. These take
// priority over environment variables and config file values.
type CLIOverrides struct {
	ConfigPath string
	Drive      string
	DryRun     *bool
}
