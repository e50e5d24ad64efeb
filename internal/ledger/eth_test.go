package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dfs-go/internal/dfs"
	"dfs-go/internal/testutil"
)

var testContract = common.HexToAddress("0xC0FFEE0000000000000000000000000000000001")

// fakeBackend is a scripted JSON-RPC node.
type fakeBackend struct {
	mu sync.Mutex

	chainID *big.Int
	baseFee *big.Int
	tip     *big.Int
	price   *big.Int
	nonce   uint64

	estimate    uint64
	estimateErr error

	sent     []*types.Transaction
	sendErr  error
	// sendHook runs at the start of every broadcast with its context.
	sendHook func(ctx context.Context)
	receipts map[common.Hash]*types.Receipt
	// notFound is the number of receipt polls answered with NotFound.
	notFound     int
	receiptPolls int

	callResult    []byte
	callErr       error
	lastCall      ethereum.CallMsg
	lastCallBlock *big.Int

	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(11155111),
		baseFee:  big.NewInt(10_000_000_000),
		tip:      big.NewInt(1_000_000_000),
		price:    big.NewInt(20_000_000_000),
		estimate: 90_000,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCall = msg
	return b.estimate, b.estimateErr
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return b.price, nil }

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return b.tip, nil }

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.sendHook != nil {
		b.sendHook(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastCall = msg
	b.lastCallBlock = block
	return b.callResult, b.callErr
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptPolls++
	if b.notFound > 0 {
		b.notFound--
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) Close() { b.closed = true }

func (b *fakeBackend) mine(hash common.Hash, status uint64, gasUsed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts[hash] = &types.Receipt{TxHash: hash, Status: status, GasUsed: gasUsed, BlockNumber: big.NewInt(101)}
}

func newTestEthLedger(t *testing.T, backend *fakeBackend, signer Signer) *EthLedger {
	t.Helper()
	l, err := newEthLedger(context.Background(), backend, testContract, nil, signer, dfs.NewNopLogger())
	if err != nil {
		t.Fatalf("newEthLedger() error = %v", err)
	}
	l.pollInterval = time.Millisecond
	return l
}

func TestNewEthLedger_Validation(t *testing.T) {
	signer, _ := testutil.NewKeySigner(1)

	if _, err := newEthLedger(context.Background(), newFakeBackend(), common.Address{}, nil, signer, nil); err == nil {
		t.Error("newEthLedger() accepted a zero contract address")
	}
	if _, err := newEthLedger(context.Background(), newFakeBackend(), testContract, nil, nil, nil); err == nil {
		t.Error("newEthLedger() accepted a nil signer")
	}

	l, err := newEthLedger(context.Background(), newFakeBackend(), testContract, big.NewInt(5), signer, nil)
	if err != nil {
		t.Fatalf("newEthLedger() error = %v", err)
	}
	if l.ChainID().Int64() != 5 {
		t.Errorf("ChainID() = %s, want configured 5", l.ChainID())
	}
}

func TestEthLedger_FetchesChainID(t *testing.T) {
	signer, _ := testutil.NewKeySigner(1)
	l := newTestEthLedger(t, newFakeBackend(), signer)
	if l.ChainID().Int64() != 11155111 {
		t.Errorf("ChainID() = %s, want 11155111", l.ChainID())
	}
}

func TestEthLedger_Estimate(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend, signer)

	gas, err := l.EstimateRegister(context.Background(), accts[0], "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("EstimateRegister() error = %v", err)
	}
	if gas != 90_000 {
		t.Errorf("EstimateRegister() = %d, want 90000", gas)
	}
	if backend.lastCall.From != accts[0] || *backend.lastCall.To != testContract {
		t.Errorf("estimate call = %+v", backend.lastCall)
	}

	backend.estimateErr = errors.New("insufficient funds for gas * price + value")
	_, err = l.EstimateDelete(context.Background(), accts[0], "a.txt", 1)
	if got := dfs.Classify(err); got != dfs.KindInsufficientFunds {
		t.Errorf("Classify(estimate error) = %s, want %s", got, dfs.KindInsufficientFunds)
	}
}

func TestEthLedger_SendDynamicFee(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	backend.nonce = 7
	l := newTestEthLedger(t, backend, signer)

	h, err := l.Register(context.Background(), accts[0], 108_000, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.sent))
	}
	tx := backend.sent[0]

	if tx.Type() != types.DynamicFeeTxType {
		t.Errorf("tx type = %d, want dynamic fee", tx.Type())
	}
	wantCap := big.NewInt(21_000_000_000) // tip 1 gwei + 2 * base 10 gwei
	if tx.GasFeeCap().Cmp(wantCap) != 0 {
		t.Errorf("GasFeeCap = %s, want %s", tx.GasFeeCap(), wantCap)
	}
	if tx.Gas() != 108_000 || tx.Nonce() != 7 || *tx.To() != testContract {
		t.Errorf("tx gas=%d nonce=%d to=%s", tx.Gas(), tx.Nonce(), tx.To().Hex())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(l.ChainID()), tx)
	if err != nil || sender != accts[0] {
		t.Errorf("sender = %s, %v, want %s", sender.Hex(), err, accts[0].Hex())
	}
	if h.Hash != tx.Hash() || h.Nonce != 7 || h.GasLimit != 108_000 {
		t.Errorf("handle = %+v", h)
	}
}

func TestEthLedger_SendLegacyBeforeLondon(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	backend.baseFee = nil
	l := newTestEthLedger(t, backend, signer)

	if _, err := l.Delete(context.Background(), accts[0], 50_000, "a.txt", 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	tx := backend.sent[0]
	if tx.Type() != types.LegacyTxType || tx.GasPrice().Cmp(backend.price) != 0 {
		t.Errorf("tx type=%d price=%s, want legacy at %s", tx.Type(), tx.GasPrice(), backend.price)
	}
}

func TestEthLedger_CancelledWhileSigningIsNotBroadcast(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend, signer)

	ctx, cancel := context.WithCancel(context.Background())
	signer.Hook = func(context.Context) error {
		cancel()
		return nil
	}
	_, err := l.Share(ctx, accts[0], 60_000, "bafk1", common.HexToAddress("0x2222222222222222222222222222222222222222"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Share() error = %v, want context.Canceled", err)
	}
	if len(backend.sent) != 0 {
		t.Errorf("abandoned transaction was broadcast")
	}
}

func TestEthLedger_BroadcastIgnoresCallerCancel(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend, signer)

	ctx, cancel := context.WithCancel(context.Background())
	var sendErr error
	backend.sendHook = func(sendCtx context.Context) {
		cancel()
		sendErr = sendCtx.Err()
	}

	h, err := l.Register(ctx, accts[0], 100_000, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v; a started broadcast must complete", err)
	}
	if sendErr != nil {
		t.Errorf("broadcast context error = %v, want none after the caller cancelled", sendErr)
	}
	if len(backend.sent) != 1 || backend.sent[0].Hash() != h.Hash {
		t.Errorf("sent = %d transactions, want the returned one", len(backend.sent))
	}
}

func TestEthLedger_AwaitReceipt(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)

	t.Run("polls until mined", func(t *testing.T) {
		backend := newFakeBackend()
		l := newTestEthLedger(t, backend, signer)
		h, err := l.Register(context.Background(), accts[0], 100_000, "bafk1", "a.txt", "d")
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		backend.notFound = 2
		backend.mine(h.Hash, types.ReceiptStatusSuccessful, 80_000)

		r, err := l.AwaitReceipt(context.Background(), h)
		if err != nil {
			t.Fatalf("AwaitReceipt() error = %v", err)
		}
		if !r.Success || r.GasUsed != 80_000 || r.BlockNumber.Int64() != 101 {
			t.Errorf("receipt = %+v", r)
		}
		if backend.receiptPolls != 3 {
			t.Errorf("receipt polls = %d, want 3", backend.receiptPolls)
		}

		again, err := l.AwaitReceipt(context.Background(), h)
		if err != nil || again != r {
			t.Errorf("second AwaitReceipt() = %+v, %v, want cached receipt", again, err)
		}
		if backend.receiptPolls != 3 {
			t.Errorf("cached receipt polled the node again")
		}
	})

	t.Run("revert reason from replay", func(t *testing.T) {
		backend := newFakeBackend()
		l := newTestEthLedger(t, backend, signer)
		h, err := l.Register(context.Background(), accts[0], 100_000, "bafk1", "a.txt", "d")
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		backend.mine(h.Hash, types.ReceiptStatusFailed, 40_000)
		backend.callErr = errors.New("execution reverted: Not the file owner")

		r, err := l.AwaitReceipt(context.Background(), h)
		if err != nil {
			t.Fatalf("AwaitReceipt() error = %v", err)
		}
		if r.Success || r.Reason != "Not the file owner" {
			t.Errorf("receipt = %+v", r)
		}
		if backend.lastCallBlock == nil || backend.lastCallBlock.Int64() != 100 {
			t.Errorf("replayed at block %v, want parent 100", backend.lastCallBlock)
		}
	})

	t.Run("out of gas", func(t *testing.T) {
		backend := newFakeBackend()
		l := newTestEthLedger(t, backend, signer)
		h, err := l.Register(context.Background(), accts[0], 30_000, "bafk1", "a.txt", "d")
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		backend.mine(h.Hash, types.ReceiptStatusFailed, 30_000)

		r, err := l.AwaitReceipt(context.Background(), h)
		if err != nil {
			t.Fatalf("AwaitReceipt() error = %v", err)
		}
		if r.Reason != "out of gas" {
			t.Errorf("Reason = %q, want out of gas", r.Reason)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		backend := newFakeBackend()
		l := newTestEthLedger(t, backend, signer)
		h := &dfs.TxHandle{Hash: common.HexToHash("0xabc"), From: accts[0]}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := l.AwaitReceipt(ctx, h)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("AwaitReceipt() error = %v, want deadline exceeded", err)
		}
	})
}

func TestEthLedger_List(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend, signer)

	data, err := packFiles(methodGetUserFiles, []*dfs.FileRecord{
		{FileName: "a.txt", ContentID: "bafk1", Description: "d", Version: 1, Owner: accts[0]},
	})
	if err != nil {
		t.Fatalf("packFiles() error = %v", err)
	}
	backend.callResult = data

	owned, err := l.ListOwned(context.Background(), accts[0])
	if err != nil {
		t.Fatalf("ListOwned() error = %v", err)
	}
	if len(owned) != 1 || owned[0].ContentID != "bafk1" {
		t.Errorf("ListOwned() = %+v", owned)
	}
	if backend.lastCallBlock != nil {
		t.Errorf("list read at block %s, want latest", backend.lastCallBlock)
	}

	backend.callErr = errors.New("connection refused")
	if _, err := l.ListSharedWith(context.Background(), accts[0]); err == nil {
		t.Error("ListSharedWith() swallowed a node error")
	}
}

func TestEthLedger_Close(t *testing.T) {
	signer, _ := testutil.NewKeySigner(1)
	backend := newFakeBackend()
	l := newTestEthLedger(t, backend, signer)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !backend.closed {
		t.Error("Close() did not close the client")
	}
}

// dataError is a node error carrying ABI-encoded revert data.
type dataError struct {
	data string
}

func (e *dataError) Error() string          { return "execution reverted" }
func (e *dataError) ErrorCode() int         { return dfs.CodeExecutionReverted }
func (e *dataError) ErrorData() interface{} { return e.data }

func TestReasonFromError(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("abi.NewType() error = %v", err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack("File already deleted")
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	revertData := append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "abi revert data", err: &dataError{data: common.Bytes2Hex(revertData)}, want: "File already deleted"},
		{name: "message suffix", err: errors.New("execution reverted: Invalid recipient"), want: "Invalid recipient"},
		{name: "opaque", err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reasonFromError(tt.err); got != tt.want {
				t.Errorf("reasonFromError() = %q, want %q", got, tt.want)
			}
		})
	}
}
