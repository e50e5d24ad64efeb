package testutil

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

// Test accounts.
var (
	Alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	Bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	Carol = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// FakeWallet is a scriptable dfs.Wallet.
type FakeWallet struct {
	mu         sync.Mutex
	accounts   []common.Address
	authorized bool
	changes    chan []common.Address

	// RequestErr fails RequestAccounts.
	RequestErr error
}

var _ dfs.Wallet = (*FakeWallet)(nil)

// NewFakeWallet creates a wallet holding accounts, none authorized yet.
func NewFakeWallet(accounts ...common.Address) *FakeWallet {
	return &FakeWallet{
		accounts: accounts,
		changes:  make(chan []common.Address, 8),
	}
}

func (w *FakeWallet) Accounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized {
		return nil, nil
	}
	return append([]common.Address{}, w.accounts...), nil
}

func (w *FakeWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RequestErr != nil {
		return nil, w.RequestErr
	}
	if len(w.accounts) == 0 {
		return nil, dfs.Errorf(dfs.KindWalletUnavailable, "", "wallet holds no accounts")
	}
	w.authorized = true
	return append([]common.Address{}, w.accounts...), nil
}

func (w *FakeWallet) AccountChanges() <-chan []common.Address {
	return w.changes
}

// Switch makes account the active one and announces the change.
func (w *FakeWallet) Switch(account common.Address) {
	w.mu.Lock()
	rest := []common.Address{account}
	for _, a := range w.accounts {
		if a != account {
			rest = append(rest, a)
		}
	}
	w.accounts = rest
	w.authorized = true
	w.mu.Unlock()
	w.changes <- append([]common.Address{}, rest...)
}

// Lock announces that no account is available any more.
func (w *FakeWallet) Lock() {
	w.mu.Lock()
	w.authorized = false
	w.mu.Unlock()
	w.changes <- nil
}
