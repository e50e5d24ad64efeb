package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"dfs-go/internal/dfs"
	"dfs-go/internal/testutil"
)

var devChainID = big.NewInt(1337)

func newTestDevChain(t *testing.T, path string, signer Signer) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(path, devChainID, signer, testutil.FixedClock(), dfs.NewNopLogger())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// register estimates, pads, submits and awaits an upload.
func register(t *testing.T, l *SQLiteLedger, from common.Address, contentID, fileName string) *dfs.Receipt {
	t.Helper()
	ctx := context.Background()
	gas, err := l.EstimateRegister(ctx, from, contentID, fileName, "desc")
	if err != nil {
		t.Fatalf("EstimateRegister() error = %v", err)
	}
	h, err := l.Register(ctx, from, dfs.PadGas(gas), contentID, fileName, "desc")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r, err := l.AwaitReceipt(ctx, h)
	if err != nil {
		t.Fatalf("AwaitReceipt() error = %v", err)
	}
	return r
}

func TestSQLiteLedger_RegisterAssignsVersions(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	alice := accts[0]

	for i, cid := range []string{"bafk1", "bafk2", "bafk3"} {
		r := register(t, l, alice, cid, "report.pdf")
		if !r.Success {
			t.Fatalf("register %d reverted: %s", i, r.Reason)
		}
	}
	register(t, l, alice, "bafk4", "other.txt")

	owned, err := l.ListOwned(context.Background(), alice)
	if err != nil {
		t.Fatalf("ListOwned() error = %v", err)
	}
	if len(owned) != 4 {
		t.Fatalf("ListOwned() returned %d records, want 4", len(owned))
	}
	wantVersions := []uint64{1, 2, 3, 1}
	for i, rec := range owned {
		if rec.Version != wantVersions[i] {
			t.Errorf("owned[%d].Version = %d, want %d", i, rec.Version, wantVersions[i])
		}
		if rec.Owner != alice {
			t.Errorf("owned[%d].Owner = %s, want %s", i, rec.Owner.Hex(), alice.Hex())
		}
	}
}

func TestSQLiteLedger_EstimateRevert(t *testing.T) {
	signer, accts := testutil.NewKeySigner(2)
	l := newTestDevChain(t, ":memory:", signer)
	alice, bob := accts[0], accts[1]
	ctx := context.Background()
	register(t, l, alice, "bafk1", "a.txt")

	tests := []struct {
		name   string
		run    func() error
		reason string
	}{
		{
			name: "register without name",
			run: func() error {
				_, err := l.EstimateRegister(ctx, alice, "bafk2", "", "d")
				return err
			},
			reason: "File name required",
		},
		{
			name: "share by non-owner",
			run: func() error {
				_, err := l.EstimateShare(ctx, bob, "bafk1", alice)
				return err
			},
			reason: "Not the file owner",
		},
		{
			name: "share to zero address",
			run: func() error {
				_, err := l.EstimateShare(ctx, alice, "bafk1", common.Address{})
				return err
			},
			reason: "Invalid recipient",
		},
		{
			name: "delete unknown version",
			run: func() error {
				_, err := l.EstimateDelete(ctx, alice, "a.txt", 9)
				return err
			},
			reason: "File not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("estimate succeeded, want revert")
			}
			var rpcErr rpc.Error
			if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != dfs.CodeExecutionReverted {
				t.Errorf("error %v does not carry code %d", err, dfs.CodeExecutionReverted)
			}
			if got := dfs.Classify(err); got != dfs.KindExecutionReverted {
				t.Errorf("Classify() = %s, want %s", got, dfs.KindExecutionReverted)
			}
			if err.Error() != "execution reverted: "+tt.reason {
				t.Errorf("error = %q, want reason %q", err.Error(), tt.reason)
			}
		})
	}

	owned, _ := l.ListOwned(ctx, alice)
	if len(owned) != 1 {
		t.Errorf("estimates changed state: %d owned records, want 1", len(owned))
	}
}

func TestSQLiteLedger_ShareAndDelete(t *testing.T) {
	signer, accts := testutil.NewKeySigner(2)
	l := newTestDevChain(t, ":memory:", signer)
	alice, bob := accts[0], accts[1]
	ctx := context.Background()
	register(t, l, alice, "bafk1", "a.txt")

	gas, err := l.EstimateShare(ctx, alice, "bafk1", bob)
	if err != nil {
		t.Fatalf("EstimateShare() error = %v", err)
	}
	h, err := l.Share(ctx, alice, dfs.PadGas(gas), "bafk1", bob)
	if err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if r, err := l.AwaitReceipt(ctx, h); err != nil || !r.Success {
		t.Fatalf("share receipt = %+v, %v", r, err)
	}

	shared, err := l.ListSharedWith(ctx, bob)
	if err != nil {
		t.Fatalf("ListSharedWith() error = %v", err)
	}
	if len(shared) != 1 || shared[0].ContentID != "bafk1" || shared[0].Owner != alice {
		t.Fatalf("ListSharedWith() = %+v", shared)
	}
	if !shared[0].IsSharedWith(bob) {
		t.Error("shared record does not list the grantee")
	}

	gas, err = l.EstimateDelete(ctx, alice, "a.txt", 1)
	if err != nil {
		t.Fatalf("EstimateDelete() error = %v", err)
	}
	h, err = l.Delete(ctx, alice, dfs.PadGas(gas), "a.txt", 1)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if r, err := l.AwaitReceipt(ctx, h); err != nil || !r.Success {
		t.Fatalf("delete receipt = %+v, %v", r, err)
	}

	owned, _ := l.ListOwned(ctx, alice)
	if len(owned) != 1 || !owned[0].IsDeleted {
		t.Fatalf("ListOwned() after delete = %+v", owned)
	}

	_, err = l.EstimateDelete(ctx, alice, "a.txt", 1)
	if err == nil || err.Error() != "execution reverted: File already deleted" {
		t.Errorf("second delete estimate error = %v", err)
	}
}

func TestSQLiteLedger_OutOfGas(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	alice := accts[0]
	ctx := context.Background()

	h, err := l.Register(ctx, alice, intrinsicGas, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r, err := l.AwaitReceipt(ctx, h)
	if err != nil {
		t.Fatalf("AwaitReceipt() error = %v", err)
	}
	if r.Success || r.Reason != "out of gas" {
		t.Errorf("receipt = %+v, want out of gas failure", r)
	}

	owned, _ := l.ListOwned(ctx, alice)
	if len(owned) != 0 {
		t.Errorf("failed transaction changed state: %+v", owned)
	}

	// The failed transaction still consumed its nonce.
	next := register(t, l, alice, "bafk1", "a.txt")
	if !next.Success {
		t.Fatalf("register after failure reverted: %s", next.Reason)
	}
}

func TestSQLiteLedger_NonceOrdering(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	alice := accts[0]
	ctx := context.Background()

	first, err := l.Register(ctx, alice, 500_000, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	second, err := l.Register(ctx, alice, 500_000, "bafk2", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.Nonce != 0 || second.Nonce != 1 {
		t.Fatalf("nonces = %d, %d, want 0, 1", first.Nonce, second.Nonce)
	}

	// Awaiting the later transaction mines the earlier one first.
	r2, err := l.AwaitReceipt(ctx, second)
	if err != nil {
		t.Fatalf("AwaitReceipt(second) error = %v", err)
	}
	r1, err := l.AwaitReceipt(ctx, first)
	if err != nil {
		t.Fatalf("AwaitReceipt(first) error = %v", err)
	}
	if r1.BlockNumber.Cmp(r2.BlockNumber) >= 0 {
		t.Errorf("first mined in block %s, second in %s", r1.BlockNumber, r2.BlockNumber)
	}

	owned, _ := l.ListOwned(ctx, alice)
	if len(owned) != 2 || owned[0].ContentID != "bafk1" || owned[1].Version != 2 {
		t.Errorf("ListOwned() = %+v", owned)
	}
}

func TestSQLiteLedger_AwaitReceiptIsIdempotent(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	ctx := context.Background()

	h, err := l.Register(ctx, accts[0], 500_000, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	first, err := l.AwaitReceipt(ctx, h)
	if err != nil {
		t.Fatalf("AwaitReceipt() error = %v", err)
	}
	second, err := l.AwaitReceipt(ctx, h)
	if err != nil {
		t.Fatalf("second AwaitReceipt() error = %v", err)
	}
	if first.Success != second.Success || first.GasUsed != second.GasUsed || first.BlockNumber.Cmp(second.BlockNumber) != 0 {
		t.Errorf("receipts differ: %+v vs %+v", first, second)
	}

	owned, _ := l.ListOwned(ctx, accts[0])
	if len(owned) != 1 {
		t.Errorf("awaiting twice applied the transaction %d times", len(owned))
	}
}

func TestSQLiteLedger_AwaitUnknownTransaction(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)

	_, err := l.AwaitReceipt(context.Background(), &dfs.TxHandle{Hash: common.HexToHash("0x01"), From: accts[0]})
	if err == nil {
		t.Error("AwaitReceipt() for unknown hash succeeded")
	}
}

func TestSQLiteLedger_CancelledWhileSigning(t *testing.T) {
	signer, accts := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	alice := accts[0]

	ctx, cancel := context.WithCancel(context.Background())
	signer.Hook = func(context.Context) error {
		cancel()
		return nil
	}
	if _, err := l.Register(ctx, alice, 500_000, "bafk1", "a.txt", "d"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Register() error = %v, want context.Canceled", err)
	}
	signer.Hook = nil

	h, err := l.Register(context.Background(), alice, 500_000, "bafk1", "a.txt", "d")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if h.Nonce != 0 {
		t.Errorf("abandoned transaction consumed a nonce: next nonce = %d", h.Nonce)
	}
}

func TestSQLiteLedger_SignerMismatch(t *testing.T) {
	signer, _ := testutil.NewKeySigner(1)
	l := newTestDevChain(t, ":memory:", signer)
	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")

	if _, err := l.Register(context.Background(), stranger, 500_000, "bafk1", "a.txt", "d"); err == nil {
		t.Error("Register() for an account the signer does not hold succeeded")
	}
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	signer, accts := testutil.NewKeySigner(2)
	alice, bob := accts[0], accts[1]
	path := filepath.Join(t.TempDir(), DevChainFile)
	ctx := context.Background()

	l, err := NewSQLiteLedger(path, devChainID, signer, testutil.FixedClock(), dfs.NewNopLogger())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	register(t, l, alice, "bafk1", "a.txt")
	h, err := l.Share(ctx, alice, 500_000, "bafk1", bob)
	if err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if _, err := l.AwaitReceipt(ctx, h); err != nil {
		t.Fatalf("AwaitReceipt() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestDevChain(t, path, signer)
	owned, err := reopened.ListOwned(ctx, alice)
	if err != nil {
		t.Fatalf("ListOwned() error = %v", err)
	}
	if len(owned) != 1 || owned[0].ContentID != "bafk1" || !owned[0].IsSharedWith(bob) {
		t.Fatalf("ListOwned() after reopen = %+v", owned)
	}
	next := register(t, reopened, alice, "bafk2", "a.txt")
	if !next.Success {
		t.Fatalf("register after reopen reverted: %s", next.Reason)
	}
	owned, _ = reopened.ListOwned(ctx, alice)
	if len(owned) != 2 || owned[1].Version != 2 {
		t.Errorf("version after reopen = %+v", owned)
	}
}

func TestRegistry_OverDevChain(t *testing.T) {
	signer, accts := testutil.NewKeySigner(2)
	alice, bob := accts[0], accts[1]
	l := newTestDevChain(t, ":memory:", signer)
	st := testutil.NewFakeStore()
	ctx := context.Background()

	session := dfs.NewSession(testutil.NewFakeWallet(alice), dfs.NewNopLogger())
	if _, err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	exec := dfs.NewExecutor(l, dfs.NewNopLogger(), testutil.FixedClock(), testutil.NewSeqTokens(), dfs.DefaultConfirmTimeout)
	reg := dfs.NewRegistry(session, st, l, exec, dfs.NewNopLogger())

	payload := []byte("quarterly numbers")
	rec, err := reg.Upload(ctx, payload, "report.txt", "Q3")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if rec.Version != 1 || !rec.Provisional {
		t.Errorf("Upload() = %+v, want provisional version 1", rec)
	}

	if err := reg.Share(ctx, rec.ContentID, bob.Hex()); err != nil {
		t.Fatalf("Share() error = %v", err)
	}

	listing, err := reg.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(listing.Owned) != 1 || listing.Owned[0].Provisional || !listing.Owned[0].IsSharedWith(bob) {
		t.Errorf("Refresh().Owned = %+v", listing.Owned)
	}

	got, err := reg.Download(ctx, rec.ContentID, rec.FileName)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Download() = %q, want %q", got, payload)
	}

	shared, err := l.ListSharedWith(ctx, bob)
	if err != nil {
		t.Fatalf("ListSharedWith() error = %v", err)
	}
	if len(shared) != 1 || shared[0].ContentID != rec.ContentID {
		t.Errorf("ListSharedWith(bob) = %+v", shared)
	}
}
