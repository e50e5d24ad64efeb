package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"dfs-go/internal/dfs"
)

// DefaultPollInterval is how often AwaitReceipt asks the node for a receipt.
const DefaultPollInterval = 2 * time.Second

// chainBackend is the subset of *ethclient.Client the ledger uses.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ chainBackend = (*ethclient.Client)(nil)

// EthLedger talks to the deployed registry contract over JSON-RPC.
type EthLedger struct {
	backend      chainBackend
	contract     common.Address
	chainID      *big.Int
	signer       Signer
	logger       dfs.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	sent     map[common.Hash]ethereum.CallMsg
	receipts map[common.Hash]*dfs.Receipt
}

var _ dfs.Ledger = (*EthLedger)(nil)

// NewEthLedger dials rpcURL. A zero chainID is fetched from the node.
func NewEthLedger(ctx context.Context, rpcURL string, contract common.Address, chainID *big.Int, signer Signer, logger dfs.Logger) (*EthLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	l, err := newEthLedger(ctx, client, contract, chainID, signer, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

func newEthLedger(ctx context.Context, backend chainBackend, contract common.Address, chainID *big.Int, signer Signer, logger dfs.Logger) (*EthLedger, error) {
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("ethereum ledger requires a contract address")
	}
	if signer == nil {
		return nil, fmt.Errorf("ethereum ledger requires a signer")
	}
	if chainID == nil || chainID.Sign() == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		chainID = id
	}
	if logger == nil {
		logger = dfs.NewNopLogger()
	}
	return &EthLedger{
		backend:      backend,
		contract:     contract,
		chainID:      new(big.Int).Set(chainID),
		signer:       signer,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		sent:         make(map[common.Hash]ethereum.CallMsg),
		receipts:     make(map[common.Hash]*dfs.Receipt),
	}, nil
}

// ChainID returns the chain id transactions are signed for.
func (l *EthLedger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

func (l *EthLedger) Close() error {
	l.backend.Close()
	return nil
}

func (l *EthLedger) EstimateRegister(ctx context.Context, from common.Address, contentID, fileName, description string) (uint64, error) {
	data, err := packUpload(contentID, fileName, description)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *EthLedger) Register(ctx context.Context, from common.Address, gasLimit uint64, contentID, fileName, description string) (*dfs.TxHandle, error) {
	data, err := packUpload(contentID, fileName, description)
	if err != nil {
		return nil, err
	}
	return l.send(ctx, from, gasLimit, data)
}

func (l *EthLedger) EstimateShare(ctx context.Context, from common.Address, contentID string, recipient common.Address) (uint64, error) {
	data, err := packShare(contentID, recipient)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *EthLedger) Share(ctx context.Context, from common.Address, gasLimit uint64, contentID string, recipient common.Address) (*dfs.TxHandle, error) {
	data, err := packShare(contentID, recipient)
	if err != nil {
		return nil, err
	}
	return l.send(ctx, from, gasLimit, data)
}

func (l *EthLedger) EstimateDelete(ctx context.Context, from common.Address, fileName string, version uint64) (uint64, error) {
	data, err := packDelete(fileName, version)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *EthLedger) Delete(ctx context.Context, from common.Address, gasLimit uint64, fileName string, version uint64) (*dfs.TxHandle, error) {
	data, err := packDelete(fileName, version)
	if err != nil {
		return nil, err
	}
	return l.send(ctx, from, gasLimit, data)
}

func (l *EthLedger) estimate(ctx context.Context, from common.Address, data []byte) (uint64, error) {
	to := l.contract
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return 0, fmt.Errorf("estimating gas: %w", err)
	}
	return gas, nil
}

// send prices, signs and broadcasts a transaction. London chains get a
// dynamic fee transaction capped at tip + 2*baseFee; older chains a legacy one.
func (l *EthLedger) send(ctx context.Context, from common.Address, gasLimit uint64, data []byte) (*dfs.TxHandle, error) {
	to := l.contract

	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching head: %w", err)
	}

	var txData types.TxData
	if head.BaseFee != nil {
		tip, err := l.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggesting tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		txData = &types.DynamicFeeTx{
			ChainID:   l.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		}
	} else {
		price, err := l.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggesting gas price: %w", err)
		}
		txData = &types.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gasLimit, To: &to, Data: data}
	}

	signed, err := l.signer.SignTx(ctx, from, types.NewTx(txData), l.chainID)
	if err != nil {
		return nil, err
	}
	sender, err := types.Sender(types.LatestSignerForChainID(l.chainID), signed)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}
	if sender != from {
		return nil, fmt.Errorf("transaction signed by %s, want %s", sender.Hex(), from.Hex())
	}
	if !dfs.BeginBroadcast(ctx) {
		return nil, ctx.Err()
	}
	// Past this point the node may accept the transaction and consume the
	// nonce, so the caller's cancellation no longer applies.
	if err := l.backend.SendTransaction(context.WithoutCancel(ctx), signed); err != nil {
		return nil, fmt.Errorf("sending transaction: %w", err)
	}

	l.mu.Lock()
	l.sent[signed.Hash()] = ethereum.CallMsg{From: from, To: &to, Gas: gasLimit, Data: data}
	l.mu.Unlock()

	l.logger.Debug("transaction sent", "hash", signed.Hash().Hex(), "from", from.Hex(), "nonce", nonce, "gas", gasLimit)
	return &dfs.TxHandle{Hash: signed.Hash(), From: from, Nonce: nonce, GasLimit: gasLimit}, nil
}

// AwaitReceipt polls the node until the transaction is mined or ctx ends.
// Lookup errors other than "not found" are logged and retried, since the
// transaction may still be mined.
func (l *EthLedger) AwaitReceipt(ctx context.Context, h *dfs.TxHandle) (*dfs.Receipt, error) {
	l.mu.Lock()
	cached, ok := l.receipts[h.Hash]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		r, err := l.backend.TransactionReceipt(ctx, h.Hash)
		if err == nil {
			receipt := l.toReceipt(ctx, r)
			l.mu.Lock()
			l.receipts[h.Hash] = receipt
			delete(l.sent, h.Hash)
			l.mu.Unlock()
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			l.logger.Warn("receipt lookup failed", "hash", h.Hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", h.Hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *EthLedger) toReceipt(ctx context.Context, r *types.Receipt) *dfs.Receipt {
	receipt := &dfs.Receipt{
		TxHash:      r.TxHash,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		GasUsed:     r.GasUsed,
		BlockNumber: r.BlockNumber,
	}
	if !receipt.Success {
		receipt.Reason = l.revertReason(ctx, r)
	}
	return receipt
}

// revertReason replays a failed transaction against its parent block to
// recover the revert string. Returns "" when the node does not tell.
func (l *EthLedger) revertReason(ctx context.Context, r *types.Receipt) string {
	l.mu.Lock()
	msg, ok := l.sent[r.TxHash]
	l.mu.Unlock()
	if !ok || r.BlockNumber == nil || r.BlockNumber.Sign() == 0 {
		return ""
	}
	if msg.Gas > 0 && r.GasUsed >= msg.Gas {
		return "out of gas"
	}

	parent := new(big.Int).Sub(r.BlockNumber, big.NewInt(1))
	_, err := l.backend.CallContract(ctx, msg, parent)
	if err == nil {
		return ""
	}
	return reasonFromError(err)
}

// reasonFromError extracts a revert string from a node error, preferring
// the ABI-encoded revert data over the message text.
func reasonFromError(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(hexData)); uerr == nil {
				return reason
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted: "); i >= 0 {
		return msg[i+len("execution reverted: "):]
	}
	return msg
}

func (l *EthLedger) ListOwned(ctx context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	return l.list(ctx, methodGetUserFiles, account)
}

func (l *EthLedger) ListSharedWith(ctx context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	return l.list(ctx, methodGetSharedFiles, account)
}

func (l *EthLedger) list(ctx context.Context, method string, account common.Address) ([]*dfs.FileRecord, error) {
	data, err := packList(method, account)
	if err != nil {
		return nil, err
	}
	to := l.contract
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{From: account, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return unpackFiles(method, out)
}
