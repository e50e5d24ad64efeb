package dfs

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AccountChange describes a transition of the active account.
type AccountChange struct {
	Previous  common.Address
	Current   common.Address
	Connected bool
}

// Session tracks which wallet account is active. It has a single writer
// (connect, disconnect, wallet notifications) and any number of readers.
type Session struct {
	wallet Wallet
	logger Logger

	mu        sync.RWMutex
	account   common.Address
	connected bool

	subMu       sync.Mutex
	subscribers []func(AccountChange)
}

// NewSession creates a Session over w. A nil wallet makes every Connect fail
// with KindWalletUnavailable.
func NewSession(w Wallet, logger Logger) *Session {
	return &Session{wallet: w, logger: logger}
}

// Connect asks the wallet for authorization and adopts its first account.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.wallet == nil {
		return common.Address{}, Errorf(KindWalletUnavailable, OpConnect, "no wallet configured")
	}

	accounts, err := s.wallet.RequestAccounts(ctx)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return common.Address{}, withOp(err, OpConnect, e.Kind)
		}
		if kind := Classify(err); kind == KindUserRejected {
			return common.Address{}, NewError(KindUserRejected, OpConnect, err)
		}
		return common.Address{}, NewError(KindWalletUnavailable, OpConnect, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, Errorf(KindUserRejected, OpConnect, "wallet authorized no accounts")
	}

	s.setAccount(accounts[0], true)
	s.logger.Info("wallet connected", "account", accounts[0].Hex())
	return accounts[0], nil
}

// Restore adopts an account the wallet already authorized, without
// prompting. It reports false when there is none.
func (s *Session) Restore(ctx context.Context) (common.Address, bool, error) {
	if s.wallet == nil {
		return common.Address{}, false, nil
	}
	accounts, err := s.wallet.Accounts(ctx)
	if err != nil {
		return common.Address{}, false, NewError(KindWalletUnavailable, OpConnect, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, false, nil
	}
	s.setAccount(accounts[0], true)
	return accounts[0], true, nil
}

// CurrentAccount returns the active account, if any.
func (s *Session) CurrentAccount() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.connected
}

// Disconnect forgets the active account locally. The wallet keeps its
// authorization.
func (s *Session) Disconnect() {
	s.setAccount(common.Address{}, false)
	s.logger.Info("wallet disconnected")
}

// OnAccountChange registers fn to run after every account transition.
// Callbacks run on the goroutine that caused the change and must not call
// back into the Session's writers.
func (s *Session) OnAccountChange(fn func(AccountChange)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Watch applies wallet account notifications until ctx ends or the wallet
// closes its stream.
func (s *Session) Watch(ctx context.Context) {
	if s.wallet == nil {
		return
	}
	changes := s.wallet.AccountChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case accounts, ok := <-changes:
			if !ok {
				return
			}
			if len(accounts) == 0 {
				s.logger.Info("wallet locked")
				s.setAccount(common.Address{}, false)
				continue
			}
			s.logger.Info("wallet account changed", "account", accounts[0].Hex())
			s.setAccount(accounts[0], true)
		}
	}
}

func (s *Session) setAccount(account common.Address, connected bool) {
	s.mu.Lock()
	change := AccountChange{Previous: s.account, Current: account, Connected: connected}
	unchanged := s.connected == connected && s.account == account
	s.account = account
	s.connected = connected
	s.mu.Unlock()

	if unchanged {
		return
	}

	s.subMu.Lock()
	subs := append([]func(AccountChange){}, s.subscribers...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}
