package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs transactions with in-memory keys. Safe for concurrent use.
type KeySigner struct {
	mu    sync.Mutex
	keys  map[common.Address]*ecdsa.PrivateKey
	calls int

	// Hook runs before every signature; it can block to simulate a pending
	// confirmation prompt. A non-nil return fails the signature.
	Hook func(ctx context.Context) error
}

// NewKeySigner creates a signer holding n fresh keys and returns their
// addresses in creation order.
func NewKeySigner(n int) (*KeySigner, []common.Address) {
	s := &KeySigner{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	addrs := make([]common.Address, n)
	for i := range addrs {
		key, err := crypto.GenerateKey()
		if err != nil {
			panic(fmt.Sprintf("generating key: %v", err))
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		s.keys[addr] = key
		addrs[i] = addr
	}
	return s, addrs
}

// Calls returns the number of SignTx calls.
func (s *KeySigner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *KeySigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	s.calls++
	key, ok := s.keys[from]
	hook := s.Hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("unknown account %s", from.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
