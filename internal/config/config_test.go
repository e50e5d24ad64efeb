package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/dfs",
		LogDir:  "/home/user/.local/share/dfs/log",
		Store: StoreConfig{
			Type:            "pinata",
			GatewayURL:      "https://gateway.pinata.cloud/ipfs",
			Timeout:         Duration{45 * time.Second},
			PinataAPIURL:    "https://api.pinata.cloud",
			PinataAPIKey:    "key",
			PinataSecretKey: "secret",
		},
		Cache: CacheConfig{Size: 16, TTL: Duration{time.Minute}},
		Ledger: LedgerConfig{
			Type:            "ethereum",
			ConfirmTimeout:  Duration{2 * time.Minute},
			ChainID:         1337,
			RPCURL:          "http://127.0.0.1:8545",
			ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		},
		Wallet: WalletConfig{Type: "keystore", KeystoreDir: "/keys", AutoApprove: true},
		Server: ServerConfig{Addr: ":9000", AllowedOrigins: []string{"http://a", "http://b"}},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Store.Type != "pinata" {
		t.Errorf("Store.Type = %q, want %q", got.Store.Type, "pinata")
	}
	if got.Store.PinataSecretKey != "secret" {
		t.Errorf("Store.PinataSecretKey = %q, want %q", got.Store.PinataSecretKey, "secret")
	}
	if got.Store.Timeout.Duration != 45*time.Second {
		t.Errorf("Store.Timeout = %v, want %v", got.Store.Timeout.Duration, 45*time.Second)
	}
	if got.Cache.TTL.Duration != time.Minute {
		t.Errorf("Cache.TTL = %v, want %v", got.Cache.TTL.Duration, time.Minute)
	}
	if got.Ledger.ConfirmTimeout.Duration != 2*time.Minute {
		t.Errorf("Ledger.ConfirmTimeout = %v, want %v", got.Ledger.ConfirmTimeout.Duration, 2*time.Minute)
	}
	if got.Ledger.ContractAddress != original.Ledger.ContractAddress {
		t.Errorf("Ledger.ContractAddress = %q, want %q", got.Ledger.ContractAddress, original.Ledger.ContractAddress)
	}
	if !got.Wallet.AutoApprove {
		t.Error("Wallet.AutoApprove = false, want true")
	}
	if len(got.Server.AllowedOrigins) != 2 {
		t.Fatalf("len(Server.AllowedOrigins) = %d, want 2", len(got.Server.AllowedOrigins))
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "30s", want: 30 * time.Second},
		{input: "5m", want: 5 * time.Minute},
		{input: "1h30m", want: 90 * time.Minute},
		{input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", d.Duration, tt.want)
			}
		})
	}
}

func TestManager_Read_DurationAsText(t *testing.T) {
	input := `
[ledger]
type = "memory"
confirm_timeout = "90s"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Ledger.ConfirmTimeout.Duration != 90*time.Second {
		t.Errorf("ConfirmTimeout = %v, want 90s", cfg.Ledger.ConfirmTimeout.Duration)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/dfs")

	if cfg.BaseDir != "/data/dfs" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/dfs")
	}
	if cfg.LogDir != "/data/dfs/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dfs/log")
	}
	if cfg.Store.FSRoot != "/data/dfs/store" {
		t.Errorf("Store.FSRoot = %q, want %q", cfg.Store.FSRoot, "/data/dfs/store")
	}
	if cfg.Ledger.DataDir != "/data/dfs/chain" {
		t.Errorf("Ledger.DataDir = %q, want %q", cfg.Ledger.DataDir, "/data/dfs/chain")
	}
	if cfg.Ledger.ChainID != 1337 {
		t.Errorf("Ledger.ChainID = %d, want 1337", cfg.Ledger.ChainID)
	}
	if cfg.Wallet.KeystoreDir != "/data/dfs/keystore" {
		t.Errorf("Wallet.KeystoreDir = %q, want %q", cfg.Wallet.KeystoreDir, "/data/dfs/keystore")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dfs.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dfs.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dfs.toml")
		cfg := NewConfig(dir)
		cfg.Ledger.Type = "memory"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Ledger.Type != "memory" {
			t.Errorf("Ledger.Type = %q, want %q", got.Ledger.Type, "memory")
		}
		if got.Store.Timeout.Duration != 30*time.Second {
			t.Errorf("Store.Timeout = %v, want 30s", got.Store.Timeout.Duration)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/dfs.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
