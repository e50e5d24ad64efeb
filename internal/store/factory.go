package store

import (
	"context"
	"fmt"
	"net/http"

	"dfs-go/internal/config"
	"dfs-go/internal/dfs"
)

// NewStoreFromConfig creates a ContentStore implementation based on the store
// config type, wrapped in a fetch cache when cacheCfg.Size is positive.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig, cacheCfg config.CacheConfig) (dfs.ContentStore, error) {
	s, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cacheCfg.Size > 0 {
		return NewCachedStore(s, cacheCfg.Size, cacheCfg.TTL.Duration), nil
	}
	return s, nil
}

func newBackend(ctx context.Context, cfg config.StoreConfig) (dfs.ContentStore, error) {
	client := &http.Client{Timeout: cfg.Timeout.Duration}

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.GatewayURL), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		fs, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "pinata":
		if cfg.PinataAPIKey == "" || cfg.PinataSecretKey == "" {
			return nil, fmt.Errorf("pinata store requires pinata_api_key and pinata_secret_key")
		}
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("pinata store requires gateway_url to be set")
		}
		return NewPinataStore(cfg.PinataAPIURL, cfg.PinataAPIKey, cfg.PinataSecretKey, NewGateway(cfg.GatewayURL, client), client), nil
	case "kubo":
		if cfg.KuboAPIURL == "" {
			return nil, fmt.Errorf("kubo store requires kubo_api_url to be set")
		}
		return NewKuboStore(cfg.KuboAPIURL, cfg.Timeout.Duration, NewGateway(cfg.GatewayURL, client)), nil
	case "s3":
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("s3 store requires gateway_url to be set")
		}
		s3s, err := NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, NewGateway(cfg.GatewayURL, client))
		if err != nil {
			return nil, err
		}
		return s3s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
