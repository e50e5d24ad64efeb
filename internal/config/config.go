package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dfs.
type Config struct {
	BaseDir string       `toml:"base_dir"`
	LogDir  string       `toml:"log_dir"`
	Store   StoreConfig  `toml:"store"`
	Cache   CacheConfig  `toml:"cache"`
	Ledger  LedgerConfig `toml:"ledger"`
	Wallet  WalletConfig `toml:"wallet"`
	Server  ServerConfig `toml:"server"`
}

// StoreConfig represents configuration for the content store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type       string   `toml:"type"` // "pinata", "kubo", "s3", "filesystem" or "memory"
	GatewayURL string   `toml:"gateway_url"`
	Timeout    Duration `toml:"timeout"`

	// Pinata-specific fields (only used when Type == "pinata")
	PinataAPIURL    string `toml:"pinata_api_url,omitempty"`
	PinataAPIKey    string `toml:"pinata_api_key,omitempty"`
	PinataSecretKey string `toml:"pinata_secret_key,omitempty"`

	// Kubo-specific fields (only used when Type == "kubo")
	KuboAPIURL string `toml:"kubo_api_url,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// CacheConfig controls the fetch cache in front of the content store.
// A zero Size disables the cache.
type CacheConfig struct {
	Size int      `toml:"size"`
	TTL  Duration `toml:"ttl"`
}

// LedgerConfig represents configuration for the file registry ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type           string   `toml:"type"` // "ethereum", "sqlite" or "memory"
	ConfirmTimeout Duration `toml:"confirm_timeout"`
	ChainID        int64    `toml:"chain_id"`

	// Ethereum-specific fields (only used when Type == "ethereum")
	RPCURL          string `toml:"rpc_url,omitempty"`
	ContractAddress string `toml:"contract_address,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string `toml:"data_dir,omitempty"`
}

// WalletConfig represents configuration for the signing wallet.
type WalletConfig struct {
	Type        string `toml:"type"` // "keystore" or "none"
	KeystoreDir string `toml:"keystore_dir,omitempty"`

	// AutoApprove signs transactions without asking for confirmation.
	AutoApprove bool `toml:"auto_approve"`
}

// ServerConfig configures `dfs serve`.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Duration is a time.Duration that reads and writes as text ("30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a new Config rooted at baseDir. The defaults run fully
// offline: a filesystem content store, a sqlite dev chain and a local
// keystore.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:         "filesystem",
			GatewayURL:   "https://gateway.pinata.cloud/ipfs",
			Timeout:      Duration{30 * time.Second},
			PinataAPIURL: "https://api.pinata.cloud",
			KuboAPIURL:   "localhost:5001",
			FSRoot:       filepath.Join(baseDir, "store"),
		},
		Cache: CacheConfig{
			Size: 64,
			TTL:  Duration{10 * time.Minute},
		},
		Ledger: LedgerConfig{
			Type:           "sqlite",
			ConfirmTimeout: Duration{5 * time.Minute},
			ChainID:        1337,
			RPCURL:         "http://127.0.0.1:8545",
			DataDir:        filepath.Join(baseDir, "chain"),
		},
		Wallet: WalletConfig{
			Type:        "keystore",
			KeystoreDir: filepath.Join(baseDir, "keystore"),
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold pinning credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
