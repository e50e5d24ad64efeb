package dfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxState is the lifecycle position of a ledger mutation.
type TxState string

const (
	StateEstimating    TxState = "estimating"
	StateSubmitted     TxState = "submitted"
	StateConfirmed     TxState = "confirmed"
	StateReverted      TxState = "reverted"
	StateRejected      TxState = "rejected"
	StateNetworkFailed TxState = "network_failed"
)

// Terminal reports whether no further transition can happen.
func (s TxState) Terminal() bool {
	switch s {
	case StateConfirmed, StateReverted, StateRejected, StateNetworkFailed:
		return true
	}
	return false
}

// GasHeadroomPercent is added on top of every gas estimate.
const GasHeadroomPercent = 20

// DefaultConfirmTimeout bounds the wait for a receipt.
const DefaultConfirmTimeout = 5 * time.Minute

// PadGas applies the fixed headroom to an estimate, rounding down.
func PadGas(estimate uint64) uint64 {
	return estimate * (100 + GasHeadroomPercent) / 100
}

// Mutation is one ledger write the executor drives through its lifecycle.
type Mutation struct {
	Op       Op
	Account  common.Address
	Estimate func(ctx context.Context) (uint64, error)
	Submit   func(ctx context.Context, gasLimit uint64) (*TxHandle, error)
}

// TxRecord is the ephemeral trace of one executed mutation.
type TxRecord struct {
	Token    string
	Op       Op
	Account  common.Address
	Estimate uint64
	GasLimit uint64
	Tx       *TxHandle
	State    TxState
	Receipt  *Receipt
}

// Executor runs mutations through estimate, pad, submit and await. It never
// retries; every outcome is reported to the caller.
type Executor struct {
	ledger         Ledger
	logger         Logger
	clock          Clock
	tokens         Tokens
	confirmTimeout time.Duration

	mu        sync.Mutex
	pending   map[string]Op
	committed map[string]bool
}

// NewExecutor creates an Executor that awaits receipts on ledger.
func NewExecutor(ledger Ledger, logger Logger, clock Clock, tokens Tokens, confirmTimeout time.Duration) *Executor {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &Executor{
		ledger:         ledger,
		logger:         logger,
		clock:          clock,
		tokens:         tokens,
		confirmTimeout: confirmTimeout,
		pending:        make(map[string]Op),
		committed:      make(map[string]bool),
	}
}

// Pending returns the number of submissions still waiting on the wallet or
// node whose callers have not given up.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Execute drives m to a terminal state. The returned record is never nil.
// A nil error means StateConfirmed.
func (e *Executor) Execute(ctx context.Context, m Mutation) (*TxRecord, error) {
	rec := &TxRecord{
		Token:   e.tokens.Next(m.Op),
		Op:      m.Op,
		Account: m.Account,
		State:   StateEstimating,
	}

	estimate, err := m.Estimate(ctx)
	if err != nil {
		cause := Classify(err)
		e.logger.Warn("gas estimation failed", "op", m.Op, "cause", cause, "error", err)
		return e.finish(rec, StateNetworkFailed, &Error{
			Kind:  KindEstimationFailed,
			Op:    m.Op,
			Cause: cause,
			Err:   err,
		})
	}
	rec.Estimate = estimate
	rec.GasLimit = PadGas(estimate)
	e.logger.Debug("gas estimated", "op", m.Op, "estimate", estimate, "gas_limit", rec.GasLimit)

	tx, err := e.submit(ctx, rec, m)
	if err != nil {
		return rec, err
	}
	rec.Tx = tx
	rec.State = StateSubmitted
	e.logger.Info("transaction submitted", "op", m.Op, "tx", tx.Hash.Hex(), "nonce", tx.Nonce)

	return e.await(ctx, rec)
}

type submitResult struct {
	tx  *TxHandle
	err error
}

// submit hands the mutation to the wallet and node. The caller may give up
// while the wallet prompt is open; the late response is then discarded by
// token instead of being applied.
func (e *Executor) submit(ctx context.Context, rec *TxRecord, m Mutation) (*TxHandle, error) {
	e.mu.Lock()
	e.pending[rec.Token] = m.Op
	e.mu.Unlock()

	results := make(chan submitResult, 1)
	go func() {
		gated := withBroadcastGate(ctx, func() bool { return e.commit(rec.Token) })
		tx, err := m.Submit(gated, rec.GasLimit)
		if !e.claim(rec.Token) {
			staleResponsesTotal.Inc()
			if err == nil {
				e.logger.Warn("discarding stale submission", "op", m.Op, "token", rec.Token, "tx", tx.Hash.Hex())
			} else {
				e.logger.Debug("discarding stale submission error", "op", m.Op, "token", rec.Token, "error", err)
			}
			return
		}
		results <- submitResult{tx: tx, err: err}
	}()

	var res submitResult
	select {
	case res = <-results:
	case <-ctx.Done():
		if e.abandon(rec.Token) {
			_, err := e.finish(rec, StateNetworkFailed, NewError(KindNetworkFailed, m.Op, fmt.Errorf("abandoned before submission: %w", ctx.Err())))
			return nil, err
		}
		// The response won the race or the broadcast has begun; either way
		// the outcome is on its way.
		res = <-results
	}

	if res.err != nil {
		kind := Classify(res.err)
		state := StateNetworkFailed
		switch kind {
		case KindUserRejected:
			state = StateRejected
		case KindUnknownFailure:
			kind = KindNetworkFailed
		}
		e.logger.Warn("transaction submission failed", "op", m.Op, "kind", kind, "error", res.err)
		_, err := e.finish(rec, state, NewError(kind, m.Op, res.err))
		return nil, err
	}
	if res.tx == nil {
		_, err := e.finish(rec, StateNetworkFailed, Errorf(KindUnknownFailure, m.Op, "ledger returned no transaction"))
		return nil, err
	}
	return res.tx, nil
}

// claim removes token from the pending set, reporting whether it was there.
func (e *Executor) claim(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[token]; !ok {
		return false
	}
	delete(e.pending, token)
	delete(e.committed, token)
	return true
}

// commit marks token as broadcasting. It fails once the caller gave up.
func (e *Executor) commit(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[token]; !ok {
		return false
	}
	e.committed[token] = true
	return true
}

// abandon gives up on token unless its broadcast has begun.
func (e *Executor) abandon(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[token]; !ok || e.committed[token] {
		return false
	}
	delete(e.pending, token)
	return true
}

// await waits for the receipt. Once submitted a transaction cannot be
// recalled, so the wait ignores caller cancellation and is bounded by the
// confirm timeout instead.
func (e *Executor) await(ctx context.Context, rec *TxRecord) (*TxRecord, error) {
	awaitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.confirmTimeout)
	defer cancel()

	start := e.clock.Now()
	receipt, err := e.ledger.AwaitReceipt(awaitCtx, rec.Tx)
	confirmDuration.WithLabelValues(string(rec.Op)).Observe(e.clock.Now().Sub(start).Seconds())

	if err != nil {
		kind := KindUnknownFailure
		if !errors.Is(err, context.DeadlineExceeded) {
			if k := Classify(err); k != KindNetworkFailed {
				kind = k
			}
		}
		e.logger.Error("confirmation failed", "op", rec.Op, "tx", rec.Tx.Hash.Hex(), "kind", kind, "error", err)
		return e.finish(rec, StateNetworkFailed, &Error{
			Kind:   kind,
			Op:     rec.Op,
			TxHash: rec.Tx.Hash,
			Err:    fmt.Errorf("awaiting confirmation: %w", err),
		})
	}

	rec.Receipt = receipt
	if !receipt.Success {
		reason := receipt.Reason
		if reason == "" {
			reason = "transaction reverted"
		}
		e.logger.Warn("transaction reverted", "op", rec.Op, "tx", rec.Tx.Hash.Hex(), "reason", reason)
		return e.finish(rec, StateReverted, &Error{
			Kind:   KindExecutionReverted,
			Op:     rec.Op,
			TxHash: rec.Tx.Hash,
			Err:    errors.New(reason),
		})
	}

	e.logger.Info("transaction confirmed", "op", rec.Op, "tx", rec.Tx.Hash.Hex(), "gas_used", receipt.GasUsed)
	return e.finish(rec, StateConfirmed, nil)
}

func (e *Executor) finish(rec *TxRecord, state TxState, err *Error) (*TxRecord, error) {
	rec.State = state
	transactionsTotal.WithLabelValues(string(rec.Op), string(state)).Inc()
	if err == nil {
		return rec, nil
	}
	err.State = state
	if rec.Tx != nil && err.TxHash == (common.Hash{}) {
		err.TxHash = rec.Tx.Hash
	}
	return rec, err
}
