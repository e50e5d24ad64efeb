// Package wallet holds the user's signing keys. Keys are stored on disk
// encrypted with age's passphrase (scrypt) encryption and only live in
// memory once the user unlocked them.
package wallet

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dfs-go/internal/dfs"
)

const (
	keyFileExt     = ".age"
	activeFileName = "active"
	changeBuffer   = 8
)

// Prompter asks the user for input. Implementations return an error when
// no answer can be obtained; an empty passphrase means the user declined.
type Prompter interface {
	Passphrase(ctx context.Context, prompt string) (string, error)
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Keystore is a dfs.Wallet over age-encrypted private keys in a directory,
// one `<address>.age` file per account.
type Keystore struct {
	dir         string
	prompter    Prompter
	autoApprove bool
	logger      dfs.Logger

	// workFactor is the scrypt log2 work factor for new key files; zero
	// keeps age's default.
	workFactor int

	mu       sync.Mutex
	unlocked map[common.Address]*ecdsa.PrivateKey
	changes  chan []common.Address
}

var _ Wallet = (*Keystore)(nil)

// NewKeystore creates a keystore rooted at dir.
func NewKeystore(dir string, prompter Prompter, autoApprove bool, logger dfs.Logger) *Keystore {
	if logger == nil {
		logger = dfs.NewNopLogger()
	}
	return &Keystore{
		dir:         dir,
		prompter:    prompter,
		autoApprove: autoApprove,
		logger:      logger,
		unlocked:    make(map[common.Address]*ecdsa.PrivateKey),
		changes:     make(chan []common.Address, changeBuffer),
	}
}

// List returns the accounts with a key file, sorted by address.
func (k *Keystore) List() ([]common.Address, error) {
	entries, err := os.ReadDir(k.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}
	var out []common.Address
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, keyFileExt) {
			continue
		}
		addr := strings.TrimSuffix(name, keyFileExt)
		if !common.IsHexAddress(addr) {
			continue
		}
		out = append(out, common.HexToAddress(addr))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

// Active returns the selected account: the one chosen with Use, or the
// first key on disk.
func (k *Keystore) Active() (common.Address, error) {
	accounts, err := k.List()
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, dfs.Errorf(dfs.KindWalletUnavailable, dfs.OpConnect, "keystore %s holds no keys", k.dir)
	}
	data, err := os.ReadFile(filepath.Join(k.dir, activeFileName))
	if err == nil {
		selected := strings.TrimSpace(string(data))
		if common.IsHexAddress(selected) {
			addr := common.HexToAddress(selected)
			for _, a := range accounts {
				if a == addr {
					return addr, nil
				}
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return common.Address{}, fmt.Errorf("reading active account: %w", err)
	}
	return accounts[0], nil
}

// Create generates a new key, stores it encrypted with passphrase and
// returns its address.
func (k *Keystore) Create(passphrase string) (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generating key: %w", err)
	}
	return k.store(key, passphrase)
}

// Import stores an existing hex-encoded private key.
func (k *Keystore) Import(hexKey, passphrase string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("parsing private key: %w", err)
	}
	return k.store(key, passphrase)
}

func (k *Keystore) store(key *ecdsa.PrivateKey, passphrase string) (common.Address, error) {
	if passphrase == "" {
		return common.Address{}, fmt.Errorf("passphrase must not be empty")
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	path := k.keyPath(addr)
	if _, err := os.Stat(path); err == nil {
		return common.Address{}, fmt.Errorf("key for %s already exists", addr.Hex())
	}

	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return common.Address{}, fmt.Errorf("creating keystore directory: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if k.workFactor > 0 {
		recipient.SetWorkFactor(k.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return common.Address{}, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, common.Bytes2Hex(crypto.FromECDSA(key))+"\n"); err != nil {
		return common.Address{}, fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return common.Address{}, fmt.Errorf("finalizing encrypted key: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return common.Address{}, fmt.Errorf("writing key file: %w", err)
	}
	k.logger.Info("key stored", "account", addr.Hex())
	return addr, nil
}

// unlock decrypts the key of addr.
func (k *Keystore) unlock(addr common.Address, passphrase string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(k.keyPath(addr))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimSpace(string(plain)))
	if err != nil {
		return nil, fmt.Errorf("parsing decrypted key: %w", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != addr {
		return nil, fmt.Errorf("key file %s holds a different account", filepath.Base(k.keyPath(addr)))
	}
	return key, nil
}

// Accounts returns the unlocked accounts, active one first, without prompting.
func (k *Keystore) Accounts(context.Context) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.authorizedLocked(), nil
}

// RequestAccounts asks for the passphrase of the active account and
// unlocks it.
func (k *Keystore) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	active, err := k.Active()
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	_, unlocked := k.unlocked[active]
	k.mu.Unlock()
	if !unlocked {
		if k.prompter == nil {
			return nil, dfs.Errorf(dfs.KindWalletUnavailable, dfs.OpConnect, "no way to ask for the passphrase of %s", active.Hex())
		}
		passphrase, err := k.prompter.Passphrase(ctx, fmt.Sprintf("Passphrase for %s: ", active.Hex()))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, dfs.NewError(dfs.KindUserRejected, dfs.OpConnect, fmt.Errorf("reading passphrase: %w", err))
		}
		if passphrase == "" {
			return nil, dfs.Errorf(dfs.KindUserRejected, dfs.OpConnect, "passphrase entry declined")
		}
		key, err := k.unlock(active, passphrase)
		if err != nil {
			return nil, dfs.NewError(dfs.KindUserRejected, dfs.OpConnect, err)
		}
		k.mu.Lock()
		k.unlocked[active] = key
		k.mu.Unlock()
		k.logger.Info("account unlocked", "account", active.Hex())
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.authorizedLocked(), nil
}

// authorizedLocked orders the unlocked accounts with the active one first.
func (k *Keystore) authorizedLocked() []common.Address {
	if len(k.unlocked) == 0 {
		return nil
	}
	active, err := k.Active()
	var out []common.Address
	if err == nil {
		if _, ok := k.unlocked[active]; ok {
			out = append(out, active)
		}
	}
	var rest []common.Address
	for addr := range k.unlocked {
		if addr != active {
			rest = append(rest, addr)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return bytes.Compare(rest[i][:], rest[j][:]) < 0 })
	return append(out, rest...)
}

func (k *Keystore) AccountChanges() <-chan []common.Address {
	return k.changes
}

// Use selects addr as the active account. Switching to a locked account
// locks the keystore, so the next RequestAccounts asks for its passphrase.
func (k *Keystore) Use(addr common.Address) error {
	if _, err := os.Stat(k.keyPath(addr)); err != nil {
		return fmt.Errorf("no key for %s: %w", addr.Hex(), err)
	}
	if err := os.WriteFile(filepath.Join(k.dir, activeFileName), []byte(addr.Hex()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing active account: %w", err)
	}

	k.mu.Lock()
	if _, ok := k.unlocked[addr]; !ok {
		k.unlocked = make(map[common.Address]*ecdsa.PrivateKey)
	}
	accounts := k.authorizedLocked()
	k.mu.Unlock()

	k.logger.Info("active account changed", "account", addr.Hex())
	k.notify(accounts)
	return nil
}

// Lock forgets every unlocked key.
func (k *Keystore) Lock() {
	k.mu.Lock()
	k.unlocked = make(map[common.Address]*ecdsa.PrivateKey)
	k.mu.Unlock()
	k.notify(nil)
}

// notify publishes accounts, dropping the oldest undelivered change when
// nobody is listening.
func (k *Keystore) notify(accounts []common.Address) {
	for {
		select {
		case k.changes <- accounts:
			return
		default:
		}
		select {
		case <-k.changes:
		default:
		}
	}
}

// SignTx signs tx with the unlocked key of from, asking the user to
// approve unless auto approval is configured.
func (k *Keystore) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	k.mu.Lock()
	key, ok := k.unlocked[from]
	k.mu.Unlock()
	if !ok {
		return nil, dfs.Errorf(dfs.KindWalletUnavailable, "", "account %s is locked", from.Hex())
	}

	if !k.autoApprove {
		if k.prompter == nil {
			return nil, dfs.Errorf(dfs.KindWalletUnavailable, "", "no way to ask for transaction approval")
		}
		to := "contract creation"
		if tx.To() != nil {
			to = tx.To().Hex()
		}
		prompt := fmt.Sprintf("Sign transaction from %s to %s (nonce %d, gas limit %d)?", from.Hex(), to, tx.Nonce(), tx.Gas())
		ok, err := k.prompter.Confirm(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, dfs.NewError(dfs.KindUserRejected, "", fmt.Errorf("reading approval: %w", err))
		}
		if !ok {
			return nil, dfs.Errorf(dfs.KindUserRejected, "", "transaction declined")
		}
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	return signed, nil
}

func (k *Keystore) keyPath(addr common.Address) string {
	return filepath.Join(k.dir, addr.Hex()+keyFileExt)
}
