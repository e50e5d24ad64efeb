package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/config"
	"dfs-go/internal/dfs"
	"dfs-go/internal/ledger"
	"dfs-go/internal/store"
	"dfs-go/internal/wallet"
)

// DFSApp is the application layer between the CLI (or HTTP server) and the
// registry. It constructs all dependencies from config, exposes high-level
// operations that accept raw strings and paths, and releases the ledger and
// log file on Close.
type DFSApp struct {
	cfg      *config.Config
	ledger   dfs.Ledger
	session  *dfs.Session
	executor *dfs.Executor
	registry *dfs.Registry
	logger   dfs.Logger
	op       *Operation
	logFile  *os.File

	stopWatch context.CancelFunc
	watchDone sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewDFSApp creates a fully wired DFSApp from the given config. op
// identifies the command being run; prompter answers wallet prompts.
// The caller must call Close when done.
func NewDFSApp(ctx context.Context, cfg *config.Config, op *Operation, prompter wallet.Prompter, level slog.Level) (*DFSApp, error) {
	l, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	w, err := wallet.NewWalletFromConfig(cfg.Wallet, prompter, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating wallet: %w", err)
	}

	st, err := store.NewStoreFromConfig(ctx, cfg.Store, cfg.Cache)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	lg, err := ledger.NewLedgerFromConfig(ctx, cfg.Ledger, w, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	session := dfs.NewSession(w, logger)
	if account, ok, err := session.Restore(ctx); err != nil {
		logger.Warn("restoring wallet session failed", "error", err)
	} else if ok {
		logger.Debug("restored wallet session", "account", account.Hex())
	}

	executor := dfs.NewExecutor(lg, logger, dfs.RealClock{}, dfs.RandomTokens{}, cfg.Ledger.ConfirmTimeout.Duration)
	registry := dfs.NewRegistry(session, st, lg, executor, logger)

	a := &DFSApp{
		cfg:      cfg,
		ledger:   lg,
		session:  session,
		executor: executor,
		registry: registry,
		logger:   logger,
		op:       op,
		logFile:  logFile,
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWatch = cancel
	a.watchDone.Add(1)
	go func() {
		defer a.watchDone.Done()
		session.Watch(watchCtx)
	}()

	logger.Debug("app started", "operation", op.Name, "store", cfg.Store.Type, "ledger", cfg.Ledger.Type)
	return a, nil
}

// Config returns the config the app was built from.
func (a *DFSApp) Config() *config.Config { return a.cfg }

// Registry returns the coordinator the app drives.
func (a *DFSApp) Registry() *dfs.Registry { return a.registry }

// Session returns the wallet session.
func (a *DFSApp) Session() *dfs.Session { return a.session }

// Logger returns the app logger.
func (a *DFSApp) Logger() dfs.Logger { return a.logger }

// Operation returns the command being tracked.
func (a *DFSApp) Operation() *Operation { return a.op }

// Status describes the app's connection state.
type Status struct {
	Account    string `json:"account,omitempty"`
	Connected  bool   `json:"connected"`
	PendingTxs int    `json:"pending_transactions"`
	Store      string `json:"store"`
	Ledger     string `json:"ledger"`
}

// Status reports the active account and the number of unresolved transactions.
func (a *DFSApp) Status() Status {
	st := Status{
		PendingTxs: a.executor.Pending(),
		Store:      a.cfg.Store.Type,
		Ledger:     a.cfg.Ledger.Type,
	}
	if account, ok := a.session.CurrentAccount(); ok {
		st.Account = account.Hex()
		st.Connected = true
	}
	return st
}

// Connect asks the wallet to authorize an account.
func (a *DFSApp) Connect(ctx context.Context) (common.Address, error) {
	account, err := a.session.Connect(ctx)
	return account, a.track(err)
}

// ensureConnected keeps a restored account and only prompts when there is none.
func (a *DFSApp) ensureConnected(ctx context.Context) (common.Address, error) {
	if account, ok := a.session.CurrentAccount(); ok {
		return account, nil
	}
	return a.session.Connect(ctx)
}

// UploadFile pins the file at path and registers it. name defaults to the
// file's base name.
func (a *DFSApp) UploadFile(ctx context.Context, path, name, description string) (*dfs.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, a.track(dfs.NewError(dfs.KindInvalidInput, dfs.OpUpload, fmt.Errorf("reading %s: %w", path, err)))
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if _, err := a.ensureConnected(ctx); err != nil {
		return nil, a.track(err)
	}
	rec, err := a.registry.Upload(ctx, data, name, description)
	return rec, a.track(err)
}

// Register records already pinned content under name.
func (a *DFSApp) Register(ctx context.Context, contentID, name, description string) (*dfs.FileRecord, error) {
	if _, err := a.ensureConnected(ctx); err != nil {
		return nil, a.track(err)
	}
	rec, err := a.registry.RegisterPinned(ctx, contentID, name, description)
	return rec, a.track(err)
}

// List refreshes from the ledger and returns the owned files, or the files
// shared with the account when shared is set.
func (a *DFSApp) List(ctx context.Context, shared bool) ([]*dfs.FileRecord, error) {
	if _, err := a.ensureConnected(ctx); err != nil {
		return nil, a.track(err)
	}
	listing, err := a.registry.Refresh(ctx)
	if err != nil {
		return nil, a.track(err)
	}
	if shared {
		return listing.SharedWithMe, nil
	}
	return listing.Owned, nil
}

// History returns every version of name, deleted ones included, newest first.
func (a *DFSApp) History(ctx context.Context, name string) ([]*dfs.FileRecord, error) {
	if _, err := a.List(ctx, false); err != nil {
		return nil, err
	}
	return a.registry.History(name), nil
}

// Share grants recipient access to the file with contentID.
func (a *DFSApp) Share(ctx context.Context, contentID, recipient string) error {
	if _, err := a.ensureConnected(ctx); err != nil {
		return a.track(err)
	}
	return a.track(a.registry.Share(ctx, contentID, recipient))
}

// Delete soft-deletes one version of name.
func (a *DFSApp) Delete(ctx context.Context, name string, version uint64) error {
	if _, err := a.ensureConnected(ctx); err != nil {
		return a.track(err)
	}
	return a.track(a.registry.DeleteFile(ctx, name, version))
}

// Download fetches contentID and writes it to dest. An empty dest or an
// existing directory receives the file under name. It returns the path written.
func (a *DFSApp) Download(ctx context.Context, contentID, name, dest string) (string, error) {
	data, err := a.registry.Download(ctx, contentID, name)
	if err != nil {
		return "", a.track(err)
	}

	path := dest
	if path == "" {
		path = name
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, name)
	}
	if path == "" {
		path = contentID
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", a.track(fmt.Errorf("writing %s: %w", path, err))
	}
	a.logger.Info("file downloaded", "cid", contentID, "path", path, "size", len(data))
	return path, nil
}

// Preview returns how name can be rendered.
func (a *DFSApp) Preview(ctx context.Context, contentID, name string) (*dfs.Preview, error) {
	p, err := a.registry.Preview(ctx, contentID, name)
	return p, a.track(err)
}

// track records a failure on the operation and passes err through.
func (a *DFSApp) track(err error) error {
	a.op.Fail(err)
	return err
}

// Close stops the wallet watcher and releases the ledger and the log file.
// Calls after the first return the first result.
func (a *DFSApp) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *DFSApp) close() error {
	a.stopWatch()
	a.watchDone.Wait()

	var firstErr error
	if err := a.ledger.Close(); err != nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}

	if a.op.Failed() {
		a.logger.Warn("operation finished", "operation", a.op.Name, "params", a.op.Parameters, "status", a.op.Status, "kind", a.op.Kind)
	} else {
		a.logger.Info("operation finished", "operation", a.op.Name, "params", a.op.Parameters, "status", a.op.Status)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// OpenKeystore opens the configured keystore for account management.
func OpenKeystore(cfg *config.Config, prompter wallet.Prompter) (*wallet.Keystore, error) {
	if cfg.Wallet.Type != "keystore" && cfg.Wallet.Type != "" {
		return nil, fmt.Errorf("wallet type %q has no keystore", cfg.Wallet.Type)
	}
	if cfg.Wallet.KeystoreDir == "" {
		return nil, fmt.Errorf("keystore wallet requires keystore_dir to be set")
	}
	return wallet.NewKeystore(cfg.Wallet.KeystoreDir, prompter, cfg.Wallet.AutoApprove, nil), nil
}
