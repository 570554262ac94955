package ledger

import (
	"context"
	"errors"

	"github.com/mbd888/bankguard/internal/circuitbreaker"
)

// ErrLedgerUnavailable is returned while the breaker around the ledger is open.
var ErrLedgerUnavailable = errors.New("ledger: unavailable (circuit open)")

const breakerKey = "ledger"

// Guarded wraps a Reader with a circuit breaker so a failing ledger is not
// hammered by every detection task in a batch.
type Guarded struct {
	inner   Reader
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner with breaker.
func NewGuarded(inner Reader, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

func (g *Guarded) ListTransactions(ctx context.Context, w Window) ([]*Transaction, error) {
	var txs []*Transaction
	err := g.call(func() (err error) {
		txs, err = g.inner.ListTransactions(ctx, w)
		return err
	})
	return txs, err
}

func (g *Guarded) ListAccountTransactions(ctx context.Context, accountID string, w Window) ([]*Transaction, error) {
	var txs []*Transaction
	err := g.call(func() (err error) {
		txs, err = g.inner.ListAccountTransactions(ctx, accountID, w)
		return err
	})
	return txs, err
}

func (g *Guarded) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var tx *Transaction
	err := g.call(func() (err error) {
		tx, err = g.inner.GetTransaction(ctx, id)
		return err
	})
	return tx, err
}

// call runs fn through the breaker. Only infrastructure failures count
// against it; caller mistakes are returned but recorded as successes.
func (g *Guarded) call(fn func() error) error {
	var callErr error
	err := g.breaker.Do(breakerKey, func() error {
		callErr = fn()
		if errors.Is(callErr, ErrTransactionNotFound) || errors.Is(callErr, ErrInvalidWindow) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrLedgerUnavailable
	}
	return callErr
}

// State reports the breaker state guarding the ledger.
func (g *Guarded) State() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}
