package dfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is a stable failure category. Callers branch on Kind, never on
// message text.
type Kind string

const (
	KindWalletUnavailable   Kind = "wallet_unavailable"
	KindUserRejected        Kind = "user_rejected"
	KindInvalidRecipient    Kind = "invalid_recipient"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindStoreRejected       Kind = "store_rejected"
	KindEstimationFailed    Kind = "estimation_failed"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindExecutionReverted   Kind = "execution_reverted"
	KindNetworkFailed       Kind = "network_failed"
	KindUnknownFailure      Kind = "unknown_failure"
	KindOperationInProgress Kind = "operation_in_progress"
	KindInvalidInput        Kind = "invalid_input"
	KindNotConnected        Kind = "not_connected"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{
	KindWalletUnavailable,
	KindUserRejected,
	KindInvalidRecipient,
	KindStoreUnavailable,
	KindStoreRejected,
	KindEstimationFailed,
	KindInsufficientFunds,
	KindExecutionReverted,
	KindNetworkFailed,
	KindUnknownFailure,
	KindOperationInProgress,
	KindInvalidInput,
	KindNotConnected,
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrWalletUnavailable   = &Error{Kind: KindWalletUnavailable}
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrInvalidRecipient    = &Error{Kind: KindInvalidRecipient}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
	ErrStoreRejected       = &Error{Kind: KindStoreRejected}
	ErrEstimationFailed    = &Error{Kind: KindEstimationFailed}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrExecutionReverted   = &Error{Kind: KindExecutionReverted}
	ErrNetworkFailed       = &Error{Kind: KindNetworkFailed}
	ErrUnknownFailure      = &Error{Kind: KindUnknownFailure}
	ErrOperationInProgress = &Error{Kind: KindOperationInProgress}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
)

// Op names the user-level operation an error belongs to.
type Op string

const (
	OpConnect  Op = "connect"
	OpPin      Op = "pin"
	OpFetch    Op = "fetch"
	OpRegister Op = "register"
	OpUpload   Op = "upload"
	OpShare    Op = "share"
	OpDelete   Op = "delete"
	OpRefresh  Op = "refresh"
	OpDownload Op = "download"
	OpPreview  Op = "preview"
)

// Error is the classified failure returned across the core's boundary.
type Error struct {
	Kind Kind
	Op   Op

	// State is the terminal transaction state when the failure came out of
	// the executor, empty otherwise.
	State TxState

	// Cause is the heuristically derived reason behind an EstimationFailed
	// error (e.g. InsufficientFunds, ExecutionReverted).
	Cause Kind

	// ContentID is set when an upload stopped after its content was pinned.
	// The pin is not undone; the id can be registered later.
	ContentID string

	// TxHash is set once a transaction reached the network.
	TxHash common.Hash

	Err error
}

// NewError builds an *Error of the given kind wrapping err.
func NewError(kind Kind, op Op, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op Op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	b.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))
	if e.Cause != "" && e.Cause != e.Kind {
		fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(string(e.Cause), "_", " "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.ContentID != "" {
		fmt.Fprintf(&b, " [pinned %s]", e.ContentID)
	}
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&b, " [tx %s]", e.TxHash.Hex())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknownFailure for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknownFailure
}

// Retryable reports whether the failed operation is safe to repeat as-is:
// a network failure before anything reached the ledger.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindNetworkFailed && e.TxHash == (common.Hash{})
}

// PinnedContentID returns the content id of an upload that failed after its
// content was pinned.
func PinnedContentID(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.ContentID != "" {
		return e.ContentID, true
	}
	return "", false
}

// withOp stamps op on an *Error that does not carry one yet, and wraps
// anything else as kind.
func withOp(err error, op Op, kind Kind) *Error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}
	return NewError(kind, op, err)
}
