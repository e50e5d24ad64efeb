package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dfs-go/internal/config"
	"dfs-go/internal/dfs"
)

// Wallet authorizes accounts for the session and signs their transactions.
type Wallet interface {
	dfs.Wallet
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// NewWalletFromConfig creates a Wallet based on the wallet config type.
func NewWalletFromConfig(cfg config.WalletConfig, prompter Prompter, logger dfs.Logger) (Wallet, error) {
	switch cfg.Type {
	case "keystore", "":
		if cfg.KeystoreDir == "" {
			return nil, fmt.Errorf("keystore wallet requires keystore_dir to be set")
		}
		return NewKeystore(cfg.KeystoreDir, prompter, cfg.AutoApprove, logger), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown wallet type: %q", cfg.Type)
	}
}

// Disabled is the wallet of a read-only setup: it never authorizes an
// account and never signs.
type Disabled struct{}

var _ Wallet = Disabled{}

func (Disabled) Accounts(context.Context) ([]common.Address, error) { return nil, nil }

func (Disabled) RequestAccounts(context.Context) ([]common.Address, error) {
	return nil, dfs.Errorf(dfs.KindWalletUnavailable, dfs.OpConnect, "no wallet configured")
}

func (Disabled) AccountChanges() <-chan []common.Address { return nil }

func (Disabled) SignTx(context.Context, common.Address, *types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, dfs.Errorf(dfs.KindWalletUnavailable, "", "no wallet configured")
}
