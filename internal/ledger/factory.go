package ledger

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/config"
	"dfs-go/internal/dfs"
)

// DevChainFile is the database file of the sqlite dev chain inside data_dir.
const DevChainFile = "devchain.db"

// NewLedgerFromConfig creates a Ledger implementation based on the ledger config type.
func NewLedgerFromConfig(ctx context.Context, cfg config.LedgerConfig, signer Signer, logger dfs.Logger) (dfs.Ledger, error) {
	chainID := big.NewInt(cfg.ChainID)

	switch cfg.Type {
	case "ethereum":
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("ethereum ledger requires rpc_url to be set")
		}
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("ethereum ledger requires a valid contract_address, got %q", cfg.ContractAddress)
		}
		l, err := NewEthLedger(ctx, cfg.RPCURL, common.HexToAddress(cfg.ContractAddress), chainID, signer, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite ledger")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		l, err := NewSQLiteLedger(filepath.Join(cfg.DataDir, DevChainFile), chainID, signer, dfs.RealClock{}, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "memory":
		l, err := NewSQLiteLedger(":memory:", chainID, signer, dfs.RealClock{}, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
