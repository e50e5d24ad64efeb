package dfs_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *dfs.Error
		want string
	}{
		{
			name: "kind only",
			err:  &dfs.Error{Kind: dfs.KindNotConnected},
			want: "not connected",
		},
		{
			name: "op and message",
			err:  dfs.Errorf(dfs.KindInvalidInput, dfs.OpUpload, "file is empty"),
			want: "upload: invalid input: file is empty",
		},
		{
			name: "cause",
			err:  &dfs.Error{Kind: dfs.KindEstimationFailed, Op: dfs.OpShare, Cause: dfs.KindInsufficientFunds, Err: errors.New("boom")},
			want: "share: estimation failed (insufficient funds): boom",
		},
		{
			name: "pinned content and tx",
			err: &dfs.Error{
				Kind:      dfs.KindExecutionReverted,
				Op:        dfs.OpUpload,
				ContentID: "bafkqaaa",
				TxHash:    common.HexToHash("0x01"),
			},
			want: "upload: execution reverted [pinned bafkqaaa] [tx " + common.HexToHash("0x01").Hex() + "]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_IsAndKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", dfs.Errorf(dfs.KindUserRejected, dfs.OpConnect, "declined"))

	if !errors.Is(err, dfs.ErrUserRejected) {
		t.Error("errors.Is(err, ErrUserRejected) = false")
	}
	if errors.Is(err, dfs.ErrNetworkFailed) {
		t.Error("errors.Is(err, ErrNetworkFailed) = true")
	}
	if got := dfs.KindOf(err); got != dfs.KindUserRejected {
		t.Errorf("KindOf() = %q", got)
	}
	if got := dfs.KindOf(errors.New("plain")); got != dfs.KindUnknownFailure {
		t.Errorf("KindOf(plain) = %q, want unknown failure", got)
	}
	if got := dfs.KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestKinds_Distinct(t *testing.T) {
	seen := make(map[dfs.Kind]bool)
	for _, k := range dfs.Kinds {
		if seen[k] {
			t.Errorf("duplicate kind %q", k)
		}
		if strings.TrimSpace(string(k)) == "" {
			t.Error("empty kind")
		}
		seen[k] = true
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure before send", &dfs.Error{Kind: dfs.KindNetworkFailed}, true},
		{"network failure after send", &dfs.Error{Kind: dfs.KindNetworkFailed, TxHash: common.HexToHash("0x02")}, false},
		{"rejection", &dfs.Error{Kind: dfs.KindUserRejected}, false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dfs.Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPinnedContentID(t *testing.T) {
	if _, ok := dfs.PinnedContentID(errors.New("x")); ok {
		t.Error("PinnedContentID(plain) reported a content id")
	}
	cid, ok := dfs.PinnedContentID(fmt.Errorf("w: %w", &dfs.Error{Kind: dfs.KindUserRejected, ContentID: "bafkqaaa"}))
	if !ok || cid != "bafkqaaa" {
		t.Errorf("PinnedContentID() = %q, %v", cid, ok)
	}
}
