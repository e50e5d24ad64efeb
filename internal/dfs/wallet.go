package dfs

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the user's key holder. It authorizes accounts and announces
// account switches; signing is the ledger implementation's concern.
type Wallet interface {
	// Accounts returns the accounts already authorized, active one first,
	// without prompting the user.
	Accounts(ctx context.Context) ([]common.Address, error)

	// RequestAccounts asks the user to authorize access. Returns
	// KindWalletUnavailable when there is nothing to authorize and
	// KindUserRejected when the user declines.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// AccountChanges delivers the authorized account list, active one first,
	// every time it changes. An empty list means the wallet was locked.
	AccountChanges() <-chan []common.Address
}
