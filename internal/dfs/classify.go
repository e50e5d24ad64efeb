package dfs

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes with a fixed meaning across wallets and nodes.
const (
	// CodeUserRejected is the EIP-1193 "user rejected request" code.
	CodeUserRejected = 4001
	// CodeExecutionReverted is returned by nodes for reverted calls and estimates.
	CodeExecutionReverted = 3
)

// FailureRule maps a message fragment to a Kind. Rules are matched in order
// against the lowercased error message.
type FailureRule struct {
	Contains string
	Kind     Kind
}

// FailureRules is the fallback table used when an error carries no
// structured code.
var FailureRules = []FailureRule{
	{Contains: "insufficient funds", Kind: KindInsufficientFunds},
	{Contains: "user rejected", Kind: KindUserRejected},
	{Contains: "user denied", Kind: KindUserRejected},
	{Contains: "rejected by user", Kind: KindUserRejected},
	{Contains: "execution reverted", Kind: KindExecutionReverted},
	{Contains: "revert", Kind: KindExecutionReverted},
	{Contains: "out of gas", Kind: KindExecutionReverted},
}

// Classify maps an arbitrary ledger or wallet error to a Kind. Structured
// signals win over message text; unrecognised errors are KindUnknownFailure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected:
			return KindUserRejected
		case CodeExecutionReverted:
			return KindExecutionReverted
		}
	}

	if isTransportError(err) {
		return KindNetworkFailed
	}

	return classifyMessage(err.Error())
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, rule := range FailureRules {
		if strings.Contains(msg, rule.Contains) {
			return rule.Kind
		}
	}
	return KindUnknownFailure
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
