package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"dfs-go/internal/dfs"
	"dfs-go/internal/ledger/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DevChainContract is the address the dev chain serves the registry at: the
// first contract a fresh hardhat node deploys.
var DevChainContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// DevChainGasPrice is the fixed gas price of dev chain transactions.
var DevChainGasPrice = big.NewInt(1_000_000_000)

// Gas model of the dev chain.
const (
	intrinsicGas       = 21_000
	calldataZeroGas    = 4
	calldataNonZeroGas = 16
	uploadGas          = 120_000
	shareGas           = 45_000
	deleteGas          = 30_000
)

// Signer signs ledger transactions on behalf of an account. Implementations
// may prompt the user and block until they answer.
type Signer interface {
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SQLiteLedger is a single-node ledger that executes the registry contract's
// rules against SQLite. Transactions are signed by a Signer, queued as
// pending and mined in nonce order when their receipt is awaited.
type SQLiteLedger struct {
	db      *sql.DB
	chainID *big.Int
	signer  Signer
	clock   dfs.Clock
	logger  dfs.Logger

	mu sync.Mutex
}

var _ dfs.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens the dev chain at path (":memory:" for a throwaway
// chain) and migrates it to the latest schema.
func NewSQLiteLedger(path string, chainID *big.Int, signer Signer, clock dfs.Clock, logger dfs.Logger) (*SQLiteLedger, error) {
	if signer == nil {
		return nil, fmt.Errorf("dev chain requires a signer")
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate dev chain: %w", err)
	}
	if clock == nil {
		clock = dfs.RealClock{}
	}
	if logger == nil {
		logger = dfs.NewNopLogger()
	}
	return &SQLiteLedger{
		db:      db,
		chainID: new(big.Int).Set(chainID),
		signer:  signer,
		clock:   clock,
		logger:  logger,
	}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the dev chain relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and mining
	// must be serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// ChainID returns the chain id transactions are signed for.
func (l *SQLiteLedger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// revertError is returned by estimates that would revert. It carries the
// node-style error code so callers can classify it without parsing text.
type revertError struct {
	reason string
}

var _ rpc.Error = (*revertError)(nil)

func (e *revertError) Error() string  { return "execution reverted: " + e.reason }
func (e *revertError) ErrorCode() int { return dfs.CodeExecutionReverted }

func (l *SQLiteLedger) EstimateRegister(ctx context.Context, from common.Address, contentID, fileName, description string) (uint64, error) {
	data, err := packUpload(contentID, fileName, description)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *SQLiteLedger) Register(ctx context.Context, from common.Address, gasLimit uint64, contentID, fileName, description string) (*dfs.TxHandle, error) {
	data, err := packUpload(contentID, fileName, description)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, from, gasLimit, data)
}

func (l *SQLiteLedger) EstimateShare(ctx context.Context, from common.Address, contentID string, recipient common.Address) (uint64, error) {
	data, err := packShare(contentID, recipient)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *SQLiteLedger) Share(ctx context.Context, from common.Address, gasLimit uint64, contentID string, recipient common.Address) (*dfs.TxHandle, error) {
	data, err := packShare(contentID, recipient)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, from, gasLimit, data)
}

func (l *SQLiteLedger) EstimateDelete(ctx context.Context, from common.Address, fileName string, version uint64) (uint64, error) {
	data, err := packDelete(fileName, version)
	if err != nil {
		return 0, err
	}
	return l.estimate(ctx, from, data)
}

func (l *SQLiteLedger) Delete(ctx context.Context, from common.Address, gasLimit uint64, fileName string, version uint64) (*dfs.TxHandle, error) {
	data, err := packDelete(fileName, version)
	if err != nil {
		return nil, err
	}
	return l.submit(ctx, from, gasLimit, data)
}

// estimate dry-runs data inside a transaction that is always rolled back.
func (l *SQLiteLedger) estimate(ctx context.Context, from common.Address, data []byte) (uint64, error) {
	c, err := decodeCall(data)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin estimate: %w", err)
	}
	defer tx.Rollback()

	reason, err := l.execute(ctx, tx, from, c)
	if err != nil {
		return 0, err
	}
	if reason != "" {
		return 0, &revertError{reason: reason}
	}
	return gasCost(c.method, data), nil
}

// submit signs and queues a transaction. The signer is called without the
// ledger lock held, since it may wait on the user.
func (l *SQLiteLedger) submit(ctx context.Context, from common.Address, gasLimit uint64, data []byte) (*dfs.TxHandle, error) {
	nonce, err := l.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	to := DevChainContract
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: DevChainGasPrice,
		Gas:      gasLimit,
		To:       &to,
		Data:     data,
	})
	signed, err := l.signer.SignTx(ctx, from, unsigned, l.chainID)
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
	// A caller that gave up while the signer was waiting never broadcasts.
	if !dfs.BeginBroadcast(ctx) {
		return nil, ctx.Err()
	}
	ctx = context.WithoutCancel(ctx)

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO transactions (hash, sender, nonce, gas_limit, raw, submitted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		signed.Hash().Hex(), from.Hex(), nonce, gasLimit, raw, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("nonce too low: %w", err)
	}
	l.logger.Debug("transaction queued", "hash", signed.Hash().Hex(), "from", from.Hex(), "nonce", nonce)

	return &dfs.TxHandle{Hash: signed.Hash(), From: from, Nonce: nonce, GasLimit: gasLimit}, nil
}

// nextNonce is the account nonce plus the number of queued transactions.
func (l *SQLiteLedger) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var mined, pending uint64
	err := l.db.QueryRowContext(ctx, `SELECT nonce FROM accounts WHERE address = ?`, from.Hex()).Scan(&mined)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read nonce: %w", err)
	}
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE sender = ? AND status = 'pending'`, from.Hex()).Scan(&pending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return mined + pending, nil
}

// AwaitReceipt mines every queued transaction of the sender up to and
// including h, then returns h's receipt.
func (l *SQLiteLedger) AwaitReceipt(ctx context.Context, h *dfs.TxHandle) (*dfs.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sender, status string
	var nonce uint64
	err := l.db.QueryRowContext(ctx,
		`SELECT sender, nonce, status FROM transactions WHERE hash = ?`, h.Hash.Hex()).Scan(&sender, &nonce, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s not found", h.Hash.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}

	if status == "pending" {
		if err := l.mine(ctx, common.HexToAddress(sender), nonce); err != nil {
			return nil, err
		}
	}
	return l.receipt(ctx, h.Hash)
}

func (l *SQLiteLedger) mine(ctx context.Context, sender common.Address, upTo uint64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin block: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT hash, raw FROM transactions WHERE sender = ? AND status = 'pending' AND nonce <= ? ORDER BY nonce`,
		sender.Hex(), upTo)
	if err != nil {
		return fmt.Errorf("failed to load pending transactions: %w", err)
	}
	type queued struct {
		hash string
		raw  []byte
	}
	var batch []queued
	for rows.Next() {
		var q queued
		if err := rows.Scan(&q.hash, &q.raw); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pending transaction: %w", err)
		}
		batch = append(batch, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate pending transactions: %w", err)
	}

	var block uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(block_number), 0) + 1 FROM transactions`).Scan(&block); err != nil {
		return fmt.Errorf("failed to read block height: %w", err)
	}

	for _, q := range batch {
		var signed types.Transaction
		if err := signed.UnmarshalBinary(q.raw); err != nil {
			return fmt.Errorf("failed to decode transaction %s: %w", q.hash, err)
		}

		status, gasUsed, reason, err := l.apply(ctx, tx, sender, &signed)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = ?, gas_used = ?, block_number = ?, reason = ?, mined_at = ? WHERE hash = ?`,
			status, gasUsed, block, reason, l.clock.Now(), q.hash)
		if err != nil {
			return fmt.Errorf("failed to record receipt: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (address, nonce) VALUES (?, 1)
			 ON CONFLICT (address) DO UPDATE SET nonce = nonce + 1`, sender.Hex())
		if err != nil {
			return fmt.Errorf("failed to bump nonce: %w", err)
		}
		l.logger.Debug("transaction mined", "hash", q.hash, "block", block, "status", status, "reason", reason)
		block++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	return nil
}

// apply executes one transaction. Reverts are receipts, not errors.
func (l *SQLiteLedger) apply(ctx context.Context, tx *sql.Tx, sender common.Address, signed *types.Transaction) (status string, gasUsed uint64, reason string, err error) {
	c, err := decodeCall(signed.Data())
	if err != nil {
		return "failed", intrinsicGas, err.Error(), nil
	}
	cost := gasCost(c.method, signed.Data())
	if signed.Gas() < cost {
		return "failed", signed.Gas(), "out of gas", nil
	}
	reason, err = l.execute(ctx, tx, sender, c)
	if err != nil {
		return "", 0, "", err
	}
	if reason != "" {
		return "failed", cost, reason, nil
	}
	return "success", cost, "", nil
}

func (l *SQLiteLedger) receipt(ctx context.Context, hash common.Hash) (*dfs.Receipt, error) {
	var status, reason string
	var gasUsed uint64
	var block sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT status, gas_used, block_number, reason FROM transactions WHERE hash = ?`, hash.Hex()).
		Scan(&status, &gasUsed, &block, &reason)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	if status == "pending" {
		return nil, fmt.Errorf("transaction %s is still pending", hash.Hex())
	}
	return &dfs.Receipt{
		TxHash:      hash,
		Success:     status == "success",
		GasUsed:     gasUsed,
		BlockNumber: big.NewInt(block.Int64),
		Reason:      reason,
	}, nil
}

// execute runs the contract rules for c. A non-empty reason means the call
// reverts; checks happen before any write, so a revert leaves no trace.
func (l *SQLiteLedger) execute(ctx context.Context, tx *sql.Tx, from common.Address, c *call) (string, error) {
	switch c.method {
	case methodUpload:
		return l.execUpload(ctx, tx, from, c)
	case methodShare:
		return l.execShare(ctx, tx, from, c)
	case methodDelete:
		return l.execDelete(ctx, tx, from, c)
	default:
		return "", fmt.Errorf("method %s is not a transaction", c.method)
	}
}

func (l *SQLiteLedger) execUpload(ctx context.Context, tx *sql.Tx, from common.Address, c *call) (string, error) {
	if c.fileName == "" {
		return "File name required", nil
	}
	if c.contentID == "" {
		return "File hash required", nil
	}
	var version uint64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM files WHERE owner = ? AND file_name = ?`,
		from.Hex(), c.fileName).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read latest version: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (owner, file_name, file_hash, description, version) VALUES (?, ?, ?, ?, ?)`,
		from.Hex(), c.fileName, c.contentID, c.description, version)
	if err != nil {
		return "", fmt.Errorf("failed to insert file: %w", err)
	}
	return "", nil
}

func (l *SQLiteLedger) execShare(ctx context.Context, tx *sql.Tx, from common.Address, c *call) (string, error) {
	if c.recipient == (common.Address{}) {
		return "Invalid recipient", nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM files WHERE owner = ? AND file_hash = ? AND is_deleted = 0`, from.Hex(), c.contentID)
	if err != nil {
		return "", fmt.Errorf("failed to look up file: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", fmt.Errorf("failed to scan file: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate files: %w", err)
	}
	if len(ids) == 0 {
		return "Not the file owner", nil
	}
	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO shares (file_id, recipient) VALUES (?, ?)`, id, c.recipient.Hex())
		if err != nil {
			return "", fmt.Errorf("failed to insert share: %w", err)
		}
	}
	return "", nil
}

func (l *SQLiteLedger) execDelete(ctx context.Context, tx *sql.Tx, from common.Address, c *call) (string, error) {
	var id int64
	var deleted bool
	err := tx.QueryRowContext(ctx,
		`SELECT id, is_deleted FROM files WHERE owner = ? AND file_name = ? AND version = ?`,
		from.Hex(), c.fileName, c.version).Scan(&id, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "File not found", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up file: %w", err)
	}
	if deleted {
		return "File already deleted", nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE files SET is_deleted = 1 WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("failed to delete file: %w", err)
	}
	return "", nil
}

func (l *SQLiteLedger) ListOwned(ctx context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	return l.listFiles(ctx,
		`SELECT f.id, f.owner, f.file_name, f.file_hash, f.description, f.version, f.is_deleted
		 FROM files f WHERE f.owner = ? ORDER BY f.id`, account)
}

func (l *SQLiteLedger) ListSharedWith(ctx context.Context, account common.Address) ([]*dfs.FileRecord, error) {
	return l.listFiles(ctx,
		`SELECT f.id, f.owner, f.file_name, f.file_hash, f.description, f.version, f.is_deleted
		 FROM shares s JOIN files f ON f.id = s.file_id WHERE s.recipient = ? ORDER BY s.rowid`, account)
}

func (l *SQLiteLedger) listFiles(ctx context.Context, query string, account common.Address) ([]*dfs.FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, query, account.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	var ids []int64
	var records []*dfs.FileRecord
	for rows.Next() {
		var id int64
		var owner string
		r := &dfs.FileRecord{}
		if err := rows.Scan(&id, &owner, &r.FileName, &r.ContentID, &r.Description, &r.Version, &r.IsDeleted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		r.Owner = common.HexToAddress(owner)
		ids = append(ids, id)
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}

	for i, id := range ids {
		shared, err := l.grantees(ctx, id)
		if err != nil {
			return nil, err
		}
		records[i].SharedWith = shared
	}
	return records, nil
}

func (l *SQLiteLedger) grantees(ctx context.Context, fileID int64) ([]common.Address, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT recipient FROM shares WHERE file_id = ? ORDER BY rowid`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grantees: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, fmt.Errorf("failed to scan grantee: %w", err)
		}
		out = append(out, common.HexToAddress(recipient))
	}
	return out, rows.Err()
}

// gasCost is the gas a successful call consumes: the intrinsic cost, the
// calldata cost and the method's execution cost.
func gasCost(method string, data []byte) uint64 {
	gas := uint64(intrinsicGas)
	for _, b := range data {
		if b == 0 {
			gas += calldataZeroGas
		} else {
			gas += calldataNonZeroGas
		}
	}
	switch method {
	case methodUpload:
		gas += uploadGas
	case methodShare:
		gas += shareGas
	case methodDelete:
		gas += deleteGas
	}
	return gas
}
