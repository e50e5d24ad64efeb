package dfs

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxHandle identifies a transaction that was handed to the network.
type TxHandle struct {
	Hash     common.Hash
	From     common.Address
	Nonce    uint64
	GasLimit uint64
}

// Receipt is the ledger's verdict on a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Success     bool
	GasUsed     uint64
	BlockNumber *big.Int

	// Reason is the revert reason when the ledger exposes one.
	Reason string
}

// Ledger is the typed surface of the file registry contract. Estimate calls
// never mutate state. Submit calls return once the signed transaction was
// accepted by the network; confirmation is a separate AwaitReceipt. List
// calls reflect confirmed state only.
type Ledger interface {
	EstimateRegister(ctx context.Context, from common.Address, contentID, fileName, description string) (uint64, error)
	Register(ctx context.Context, from common.Address, gasLimit uint64, contentID, fileName, description string) (*TxHandle, error)

	EstimateShare(ctx context.Context, from common.Address, contentID string, recipient common.Address) (uint64, error)
	Share(ctx context.Context, from common.Address, gasLimit uint64, contentID string, recipient common.Address) (*TxHandle, error)

	EstimateDelete(ctx context.Context, from common.Address, fileName string, version uint64) (uint64, error)
	Delete(ctx context.Context, from common.Address, gasLimit uint64, fileName string, version uint64) (*TxHandle, error)

	// AwaitReceipt blocks until tx is mined or ctx ends. Calling it twice for
	// the same transaction returns the same receipt.
	AwaitReceipt(ctx context.Context, tx *TxHandle) (*Receipt, error)

	// ListOwned returns every record owned by account, deleted ones included.
	ListOwned(ctx context.Context, account common.Address) ([]*FileRecord, error)

	// ListSharedWith returns every record shared with account.
	ListSharedWith(ctx context.Context, account common.Address) ([]*FileRecord, error)

	Close() error
}

type broadcastGateKey struct{}

func withBroadcastGate(ctx context.Context, gate func() bool) context.Context {
	return context.WithValue(ctx, broadcastGateKey{}, gate)
}

// BeginBroadcast reports whether a signed transaction may still be handed to
// the network. Ledgers call it right before broadcasting; after it returns
// true the submitter waits for the outcome, so the broadcast itself must not
// be bound to ctx cancellation (see context.WithoutCancel).
func BeginBroadcast(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if gate, ok := ctx.Value(broadcastGateKey{}).(func() bool); ok {
		return gate()
	}
	return true
}
