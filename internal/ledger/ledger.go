// Package ledger is the read side of the transaction ledger.
//
// Transactions are immutable once posted; this package never writes them on
// behalf of detection. The Reader interface is what the detection engine
// consumes; MemoryStore and PostgresStore are the two implementations.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrInvalidWindow       = errors.New("ledger: window end must be after start")
)

// Transaction is a posted ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	PostedAt    time.Time       `json:"postedAt"`
	AccountID   string          `json:"accountId"`
	Location    string          `json:"location,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Lookback returns the window [now-d, now).
func Lookback(now time.Time, d time.Duration) Window {
	return Window{From: now.Add(-d), To: now}
}

// Before returns the window of length d ending (exclusively) at t.
func Before(t time.Time, d time.Duration) Window {
	return Window{From: t.Add(-d), To: t}
}

// Contains reports whether t falls in [From, To).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Validate rejects empty or inverted windows.
func (w Window) Validate() error {
	if !w.To.After(w.From) {
		return ErrInvalidWindow
	}
	return nil
}

// Reader is the ledger surface consumed by detection.
type Reader interface {
	// ListTransactions returns every transaction posted inside w.
	ListTransactions(ctx context.Context, w Window) ([]*Transaction, error)
	// ListAccountTransactions returns the account's transactions posted inside w,
	// ordered by posting time.
	ListAccountTransactions(ctx context.Context, accountID string, w Window) ([]*Transaction, error)
	// GetTransaction returns a single transaction or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
}
