package dfs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is the result of a refresh.
type Listing struct {
	Account      common.Address
	Owned        []*FileRecord
	SharedWithMe []*FileRecord

	// Stale is set when the active account changed while the lists were
	// being read. Stale listings are not applied.
	Stale bool
}

// Registry coordinates the content store and the ledger for the active
// session account. It keeps the account's owned and shared lists, applies
// optimistic updates after confirmed mutations, and allows one mutation per
// account at a time.
type Registry struct {
	session  *Session
	store    ContentStore
	ledger   Ledger
	executor *Executor
	logger   Logger

	mu         sync.Mutex
	account    common.Address
	generation uint64
	loaded     bool
	owned      *Arena
	shared     []*FileRecord

	inflightMu sync.Mutex
	inflight   map[common.Address]Op
}

// NewRegistry creates a Registry bound to session. Account changes clear
// the lists and trigger a refetch.
func NewRegistry(session *Session, store ContentStore, ledger Ledger, executor *Executor, logger Logger) *Registry {
	r := &Registry{
		session:  session,
		store:    store,
		ledger:   ledger,
		executor: executor,
		logger:   logger,
		owned:    NewArena(nil),
		inflight: make(map[common.Address]Op),
	}
	if account, ok := session.CurrentAccount(); ok {
		r.account = account
	}
	session.OnAccountChange(r.accountChanged)
	return r
}

func (r *Registry) accountChanged(change AccountChange) {
	r.mu.Lock()
	r.resetLocked(change.Current)
	r.mu.Unlock()

	if !change.Connected {
		r.logger.Debug("cleared file lists", "previous", change.Previous.Hex())
		return
	}
	if _, err := r.Refresh(context.Background()); err != nil {
		r.logger.Warn("refetch after account change failed", "account", change.Current.Hex(), "error", err)
	}
}

func (r *Registry) resetLocked(account common.Address) {
	r.generation++
	r.account = account
	r.loaded = false
	r.owned = NewArena(nil)
	r.shared = nil
}

// activeAccount returns the session account and the list generation that
// belongs to it.
func (r *Registry) activeAccount(op Op) (common.Address, uint64, error) {
	account, ok := r.session.CurrentAccount()
	if !ok {
		return common.Address{}, 0, Errorf(KindNotConnected, op, "no wallet account connected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account != account {
		r.resetLocked(account)
	}
	return account, r.generation, nil
}

// begin claims the per-account mutation slot. The returned release must be
// called once the mutation resolved, whatever its outcome.
func (r *Registry) begin(account common.Address, op Op) (func(), error) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if running, ok := r.inflight[account]; ok {
		return nil, Errorf(KindOperationInProgress, op, "%s already in progress for %s", running, account.Hex())
	}
	r.inflight[account] = op
	return func() {
		r.inflightMu.Lock()
		delete(r.inflight, account)
		r.inflightMu.Unlock()
	}, nil
}

// Refresh replaces the lists of the active account with what the ledger
// reports. Nothing is merged.
func (r *Registry) Refresh(ctx context.Context) (*Listing, error) {
	account, gen, err := r.activeAccount(OpRefresh)
	if err != nil {
		return nil, err
	}

	owned, err := r.ledger.ListOwned(ctx, account)
	if err != nil {
		return nil, NewError(readKind(err), OpRefresh, fmt.Errorf("listing owned files: %w", err))
	}
	shared, err := r.ledger.ListSharedWith(ctx, account)
	if err != nil {
		return nil, NewError(readKind(err), OpRefresh, fmt.Errorf("listing shared files: %w", err))
	}

	arena := NewArena(owned)
	listing := &Listing{
		Account:      account,
		Owned:        cloneRecords(arena.Active()),
		SharedWithMe: cloneRecords(shared),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		r.logger.Debug("discarding refresh for inactive account", "account", account.Hex())
		listing.Stale = true
		return listing, nil
	}
	r.owned = arena
	r.shared = shared
	r.loaded = true
	r.logger.Debug("file lists refreshed", "account", account.Hex(), "owned", len(listing.Owned), "shared", len(shared))
	return listing, nil
}

func readKind(err error) Kind {
	if kind := Classify(err); kind == KindNetworkFailed {
		return kind
	}
	return KindUnknownFailure
}

// ensureLoaded reads the lists once per account so version projections
// start from ledger state.
func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := r.Refresh(ctx)
	return err
}

// Owned returns the active account's non-deleted records in ledger order.
func (r *Registry) Owned() []*FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRecords(r.owned.Active())
}

// SharedWithMe returns the records other accounts shared with the active account.
func (r *Registry) SharedWithMe() []*FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRecords(r.shared)
}

// History returns every known version of fileName, deleted ones included,
// newest first.
func (r *Registry) History(fileName string) []*FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRecords(r.owned.Versions(r.account, fileName))
}

// Current returns the highest non-deleted version of fileName, or nil.
func (r *Registry) Current(fileName string) *FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.owned.Current(r.account, fileName); rec != nil {
		return rec.Clone()
	}
	return nil
}

// Upload pins data and registers it under fileName. On success the returned
// record is a provisional projection carrying the version the ledger is
// expected to have assigned. If the upload fails after pinning, the error
// carries the pinned content id (see PinnedContentID) and RegisterPinned
// can finish the job.
func (r *Registry) Upload(ctx context.Context, data []byte, fileName, description string) (*FileRecord, error) {
	if err := validateFileFields(OpUpload, fileName, description); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, Errorf(KindInvalidInput, OpUpload, "file is empty")
	}

	account, gen, err := r.activeAccount(OpUpload)
	if err != nil {
		return nil, err
	}
	release, err := r.begin(account, OpUpload)
	if err != nil {
		return nil, err
	}
	defer release()

	contentID, err := r.store.Pin(ctx, fileName, data)
	if err != nil {
		return nil, withOp(err, OpPin, KindStoreUnavailable)
	}
	if _, err := ParseContentID(contentID); err != nil {
		return nil, NewError(KindStoreRejected, OpPin, fmt.Errorf("store returned a malformed content id: %w", err))
	}
	r.logger.Info("content pinned", "file", fileName, "cid", contentID, "size", len(data))

	rec, err := r.register(ctx, account, gen, contentID, fileName, description)
	if err != nil {
		e := withOp(err, OpUpload, KindUnknownFailure)
		e.ContentID = contentID
		return nil, e
	}
	return rec, nil
}

// RegisterPinned registers content that is already pinned, e.g. after an
// upload failed between pin and register.
func (r *Registry) RegisterPinned(ctx context.Context, contentID, fileName, description string) (*FileRecord, error) {
	if err := validateFileFields(OpRegister, fileName, description); err != nil {
		return nil, err
	}
	if _, err := ParseContentID(contentID); err != nil {
		return nil, NewError(KindInvalidInput, OpRegister, err)
	}

	account, gen, err := r.activeAccount(OpRegister)
	if err != nil {
		return nil, err
	}
	release, err := r.begin(account, OpRegister)
	if err != nil {
		return nil, err
	}
	defer release()

	return r.register(ctx, account, gen, contentID, fileName, description)
}

func (r *Registry) register(ctx context.Context, account common.Address, gen uint64, contentID, fileName, description string) (*FileRecord, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	_, err := r.executor.Execute(ctx, Mutation{
		Op:      OpRegister,
		Account: account,
		Estimate: func(ctx context.Context) (uint64, error) {
			return r.ledger.EstimateRegister(ctx, account, contentID, fileName, description)
		},
		Submit: func(ctx context.Context, gasLimit uint64) (*TxHandle, error) {
			return r.ledger.Register(ctx, account, gasLimit, contentID, fileName, description)
		},
	})
	if err != nil {
		return nil, err
	}

	rec := &FileRecord{
		FileName:    fileName,
		ContentID:   contentID,
		Description: description,
		Owner:       account,
		Provisional: true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		// Version stays 0: the lists of the new account say nothing about it.
		r.logger.Debug("account changed during register, skipping local update", "file", fileName)
		return rec, nil
	}
	rec.Version = r.owned.NextVersion(account, fileName)
	r.owned.Put(rec)
	return rec.Clone(), nil
}

// Share grants recipient access to the caller's file with contentID.
// A malformed recipient is rejected before any network call.
func (r *Registry) Share(ctx context.Context, contentID, recipient string) error {
	to, err := ParseAccount(recipient)
	if err != nil {
		return err
	}
	if contentID == "" {
		return Errorf(KindInvalidInput, OpShare, "content id is required")
	}

	account, gen, err := r.activeAccount(OpShare)
	if err != nil {
		return err
	}
	release, err := r.begin(account, OpShare)
	if err != nil {
		return err
	}
	defer release()

	if err := r.ensureLoaded(ctx); err != nil {
		return withOp(err, OpShare, KindUnknownFailure)
	}
	r.mu.Lock()
	rec := r.owned.FindByContentID(account, contentID)
	r.mu.Unlock()
	if rec == nil {
		return Errorf(KindInvalidInput, OpShare, "no active file with content id %s owned by %s", contentID, account.Hex())
	}

	_, err = r.executor.Execute(ctx, Mutation{
		Op:      OpShare,
		Account: account,
		Estimate: func(ctx context.Context) (uint64, error) {
			return r.ledger.EstimateShare(ctx, account, contentID, to)
		},
		Submit: func(ctx context.Context, gasLimit uint64) (*TxHandle, error) {
			return r.ledger.Share(ctx, account, gasLimit, contentID, to)
		},
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return nil
	}
	if cur := r.owned.Get(rec.Key()); cur != nil {
		r.owned.Put(cur.withGrantee(to))
	}
	return nil
}

// DeleteFile soft-deletes one version of the caller's file. After
// confirmation the lists are refetched; a failed refetch leaves the local
// deletion in place.
func (r *Registry) DeleteFile(ctx context.Context, fileName string, version uint64) error {
	if strings.TrimSpace(fileName) == "" {
		return Errorf(KindInvalidInput, OpDelete, "file name is required")
	}
	if version == 0 {
		return Errorf(KindInvalidInput, OpDelete, "versions start at 1")
	}

	account, gen, err := r.activeAccount(OpDelete)
	if err != nil {
		return err
	}
	release, err := r.begin(account, OpDelete)
	if err != nil {
		return err
	}
	defer release()

	_, err = r.executor.Execute(ctx, Mutation{
		Op:      OpDelete,
		Account: account,
		Estimate: func(ctx context.Context) (uint64, error) {
			return r.ledger.EstimateDelete(ctx, account, fileName, version)
		},
		Submit: func(ctx context.Context, gasLimit uint64) (*TxHandle, error) {
			return r.ledger.Delete(ctx, account, gasLimit, fileName, version)
		},
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.generation == gen {
		key := RecordKey{Owner: account, FileName: fileName, Version: version}
		if cur := r.owned.Get(key); cur != nil {
			r.owned.Put(cur.deleted())
		}
	}
	r.mu.Unlock()

	if _, err := r.Refresh(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("refresh after delete failed", "file", fileName, "version", version, "error", err)
	}
	return nil
}

// Download returns the bytes behind contentID.
func (r *Registry) Download(ctx context.Context, contentID, fileName string) ([]byte, error) {
	if contentID == "" {
		return nil, Errorf(KindInvalidInput, OpDownload, "content id is required")
	}
	data, err := r.store.Fetch(ctx, contentID)
	if err != nil {
		return nil, withOp(err, OpDownload, KindStoreUnavailable)
	}
	r.logger.Debug("downloaded", "file", fileName, "cid", contentID, "size", len(data))
	return data, nil
}

// Preview returns what is needed to render fileName. Unsupported types make
// no network call.
func (r *Registry) Preview(ctx context.Context, contentID, fileName string) (*Preview, error) {
	if contentID == "" {
		return nil, Errorf(KindInvalidInput, OpPreview, "content id is required")
	}
	return buildPreview(ctx, r.store, contentID, fileName)
}

// Resolve returns the gateway URL of contentID.
func (r *Registry) Resolve(contentID string) string {
	return r.store.Resolve(contentID)
}

func validateFileFields(op Op, fileName, description string) error {
	if strings.TrimSpace(fileName) == "" {
		return Errorf(KindInvalidInput, op, "file name is required")
	}
	if strings.TrimSpace(description) == "" {
		return Errorf(KindInvalidInput, op, "description is required")
	}
	return nil
}
