package app

import (
	"fmt"
	"os"
	"path/filepath"

	"dfs-go/internal/config"
)

// Environment variables read by the app.
const (
	EnvConfigPath      = "DFS_CONFIG_PATH"
	EnvHome            = "DFS_HOME"
	EnvPinataAPIKey    = "DFS_PINATA_API_KEY"
	EnvPinataSecretKey = "DFS_PINATA_SECRET_KEY"
	EnvRPCURL          = "DFS_RPC_URL"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DFS_CONFIG_PATH: config file location (default: ~/.config/dfs.toml)
//   - DFS_HOME: base directory for dfs data (default: ~/.local/share/dfs)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome(EnvConfigPath, ".config", "dfs.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome(EnvHome, ".local", "share", "dfs")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env, or the path under the user's home
// directory when env is unset.
func envOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}

// ApplyEnv overrides secrets and endpoints from the environment, so they
// need not be written to the config file.
func ApplyEnv(cfg *config.Config) {
	if v := os.Getenv(EnvPinataAPIKey); v != "" {
		cfg.Store.PinataAPIKey = v
	}
	if v := os.Getenv(EnvPinataSecretKey); v != "" {
		cfg.Store.PinataSecretKey = v
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.Ledger.RPCURL = v
	}
}
