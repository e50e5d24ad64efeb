package store

import (
	"context"
	"testing"
	"time"

	"dfs-go/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.StoreConfig
		cache      config.CacheConfig
		wantErr    bool
		wantCached bool
	}{
		{
			name: "memory store",
			cfg:  config.StoreConfig{Type: "memory", GatewayURL: "https://gw.test/ipfs"},
		},
		{
			name:       "memory store with cache",
			cfg:        config.StoreConfig{Type: "memory"},
			cache:      config.CacheConfig{Size: 4, TTL: config.Duration{Duration: time.Minute}},
			wantCached: true,
		},
		{
			name: "filesystem store",
			cfg:  config.StoreConfig{Type: "filesystem", FSRoot: t.TempDir()},
		},
		{
			name:    "filesystem store without root",
			cfg:     config.StoreConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name: "pinata store",
			cfg: config.StoreConfig{
				Type:            "pinata",
				GatewayURL:      "https://gateway.pinata.cloud/ipfs",
				PinataAPIURL:    "https://api.pinata.cloud",
				PinataAPIKey:    "k",
				PinataSecretKey: "s",
			},
		},
		{
			name:    "pinata store without keys",
			cfg:     config.StoreConfig{Type: "pinata", GatewayURL: "https://gw.test"},
			wantErr: true,
		},
		{
			name: "kubo store",
			cfg:  config.StoreConfig{Type: "kubo", KuboAPIURL: "localhost:5001", GatewayURL: "http://localhost:8080/ipfs"},
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.StoreConfig{Type: "s3", GatewayURL: "https://ipfs.filebase.io/ipfs"},
			wantErr: true,
		},
		{
			name:    "unknown store type",
			cfg:     config.StoreConfig{Type: "unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(context.Background(), tt.cfg, tt.cache)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Error("NewStoreFromConfig() returned a store alongside an error")
				}
				return
			}
			_, cached := got.(*CachedStore)
			if cached != tt.wantCached {
				t.Errorf("cached = %v, want %v", cached, tt.wantCached)
			}
		})
	}
}
