package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dfs-go/internal/dfs"
)

// FakeLedger is an in-memory dfs.Ledger with the registry contract's rules.
// Pending transactions are applied when awaited. Every method counts its
// calls, and failures can be injected per step.
type FakeLedger struct {
	mu       sync.Mutex
	records  []*dfs.FileRecord
	pending  map[common.Hash]func() (string, bool)
	receipts map[common.Hash]*dfs.Receipt
	nonces   map[common.Address]uint64
	calls    map[string]int

	// GasEstimate is returned by every estimate call.
	GasEstimate uint64
	// LastGasLimit is the gas limit of the most recent submission.
	LastGasLimit uint64

	EstimateErr error
	SubmitErr   error
	AwaitErr    error
	ListErr     error

	// SubmitHook runs before every submission; it can block to simulate an
	// open wallet prompt. A non-nil return fails the submission.
	SubmitHook func(ctx context.Context) error

	// BroadcastHook runs once a submission is past the point where its
	// caller can abandon it.
	BroadcastHook func()

	// AwaitHook runs before every receipt wait.
	AwaitHook func(ctx context.Context) error

	// ForceRevert makes every mined transaction fail.
	ForceRevert bool
}

var _ dfs.Ledger = (*FakeLedger)(nil)

// NewFakeLedger creates an empty FakeLedger.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		pending:     make(map[common.Hash]func() (string, bool)),
		receipts:    make(map[common.Hash]*dfs.Receipt),
		nonces:      make(map[common.Address]uint64),
		calls:       make(map[string]int),
		GasEstimate: 100_000,
	}
}

// Calls returns how often method was called.
func (l *FakeLedger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (l *FakeLedger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

// Seed adds a confirmed record directly.
func (l *FakeLedger) Seed(rec *dfs.FileRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec.Clone())
}

func (l *FakeLedger) count(method string) {
	l.mu.Lock()
	l.calls[method]++
	l.mu.Unlock()
}

func (l *FakeLedger) estimate(method string, check func() string) (uint64, error) {
	l.count(method)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.EstimateErr != nil {
		return 0, l.EstimateErr
	}
	if reason := check(); reason != "" {
		return 0, fmt.Errorf("execution reverted: %s", reason)
	}
	return l.GasEstimate, nil
}

func (l *FakeLedger) submit(ctx context.Context, method string, from common.Address, gasLimit uint64, apply func() string) (*dfs.TxHandle, error) {
	l.count(method)
	if l.SubmitHook != nil {
		if err := l.SubmitHook(ctx); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	submitErr := l.SubmitErr
	l.mu.Unlock()
	if submitErr != nil {
		return nil, submitErr
	}
	if !dfs.BeginBroadcast(ctx) {
		return nil, ctx.Err()
	}
	if l.BroadcastHook != nil {
		l.BroadcastHook()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	nonce := l.nonces[from]
	l.nonces[from] = nonce + 1
	l.LastGasLimit = gasLimit
	hash := crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), []byte(method))
	l.pending[hash] = func() (string, bool) {
		if l.ForceRevert {
			return "forced revert", false
		}
		if reason := apply(); reason != "" {
			return reason, false
		}
		return "", true
	}
	return &dfs.TxHandle{Hash: hash, From: from, Nonce: nonce, GasLimit: gasLimit}, nil
}

func (l *FakeLedger) EstimateRegister(_ context.Context, from common.Address, contentID, fileName, description string) (uint64, error) {
	return l.estimate("EstimateRegister", func() string { return l.checkRegister(contentID, fileName) })
}

func (l *FakeLedger) Register(ctx context.Context, from common.Address, gasLimit uint64, contentID, fileName, description string) (*dfs.TxHandle, error) {
	return l.submit(ctx, "Register", from, gasLimit, func() string {
		if reason := l.checkRegister(contentID, fileName); reason != "" {
			return reason
		}
		l.records = append(l.records, &dfs.FileRecord{
			FileName:    fileName,
			ContentID:   contentID,
			Description: description,
			Version:     l.maxVersion(from, fileName) + 1,
			Owner:       from,
		})
		return ""
	})
}

func (l *FakeLedger) EstimateShare(_ context.Context, from common.Address, contentID string, recipient common.Address) (uint64, error) {
	return l.estimate("EstimateShare", func() string { return l.checkShare(from, contentID, recipient) })
}

func (l *FakeLedger) Share(ctx context.Context, from common.Address, gasLimit uint64, contentID string, recipient common.Address) (*dfs.TxHandle, error) {
	return l.submit(ctx, "Share", from, gasLimit, func() string {
		if reason := l.checkShare(from, contentID, recipient); reason != "" {
			return reason
		}
		for _, r := range l.records {
			if r.Owner == from && r.ContentID == contentID && !r.IsDeleted && !r.IsSharedWith(recipient) {
				r.SharedWith = append(r.SharedWith, recipient)
			}
		}
		return ""
	})
}

func (l *FakeLedger) EstimateDelete(_ context.Context, from common.Address, fileName string, version uint64) (uint64, error) {
	return l.estimate("EstimateDelete", func() string { return l.checkDelete(from, fileName, version) })
}

func (l *FakeLedger) Delete(ctx context.Context, from common.Address, gasLimit uint64, fileName string, version uint64) (*dfs.TxHandle, error) {
	return l.submit(ctx, "Delete", from, gasLimit, func() string {
		if reason := l.checkDelete(from, fileName, version); reason != "" {
			return reason
		}
		l.find(from, fileName, version).IsDeleted = true
		return ""
	})
}

func (l *FakeLedger) AwaitReceipt(ctx context.Context, tx *dfs.TxHandle) (*dfs.Receipt, error) {
	l.count("AwaitReceipt")
	if l.AwaitHook != nil {
		if err := l.AwaitHook(ctx); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AwaitErr != nil {
		return nil, l.AwaitErr
	}
	if r, ok := l.receipts[tx.Hash]; ok {
		return r, nil
	}
	apply, ok := l.pending[tx.Hash]
	if !ok {
		return nil, errors.New("not found")
	}
	delete(l.pending, tx.Hash)
	reason, success := apply()
	r := &dfs.Receipt{TxHash: tx.Hash, Success: success, GasUsed: l.GasEstimate, Reason: reason, BlockNumber: big.NewInt(int64(len(l.receipts) + 1))}
	l.receipts[tx.Hash] = r
	return r, nil
}

func (l *FakeLedger) ListOwned(_ context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	l.count("ListOwned")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ListErr != nil {
		return nil, l.ListErr
	}
	var out []*dfs.FileRecord
	for _, r := range l.records {
		if r.Owner == account {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (l *FakeLedger) ListSharedWith(_ context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	l.count("ListSharedWith")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ListErr != nil {
		return nil, l.ListErr
	}
	var out []*dfs.FileRecord
	for _, r := range l.records {
		if r.IsSharedWith(account) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (l *FakeLedger) Close() error { return nil }

func (l *FakeLedger) checkRegister(contentID, fileName string) string {
	if fileName == "" {
		return "File name required"
	}
	if contentID == "" {
		return "File hash required"
	}
	return ""
}

func (l *FakeLedger) checkShare(from common.Address, contentID string, recipient common.Address) string {
	if recipient == (common.Address{}) {
		return "Invalid recipient"
	}
	for _, r := range l.records {
		if r.Owner == from && r.ContentID == contentID && !r.IsDeleted {
			return ""
		}
	}
	return "Not the file owner"
}

func (l *FakeLedger) checkDelete(from common.Address, fileName string, version uint64) string {
	r := l.find(from, fileName, version)
	if r == nil {
		return "File not found"
	}
	if r.IsDeleted {
		return "File already deleted"
	}
	return ""
}

func (l *FakeLedger) find(owner common.Address, fileName string, version uint64) *dfs.FileRecord {
	for _, r := range l.records {
		if r.Owner == owner && r.FileName == fileName && r.Version == version {
			return r
		}
	}
	return nil
}

func (l *FakeLedger) maxVersion(owner common.Address, fileName string) uint64 {
	var max uint64
	for _, r := range l.records {
		if r.Owner == owner && r.FileName == fileName && r.Version > max {
			max = r.Version
		}
	}
	return max
}
