package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/bankguard/internal/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func seed(store *MemoryStore, id, account string, at time.Time, amount int64) {
	store.Post(&Transaction{
		ID:        id,
		Type:      "TRANSFER",
		Amount:    decimal.NewFromInt(amount),
		PostedAt:  at,
		AccountID: account,
	})
}

func TestWindow_HalfOpen(t *testing.T) {
	w := Window{From: base, To: base.Add(time.Minute)}
	assert.True(t, w.Contains(base))
	assert.True(t, w.Contains(base.Add(59*time.Second)))
	assert.False(t, w.Contains(base.Add(time.Minute)))
	assert.False(t, w.Contains(base.Add(-time.Nanosecond)))
}

func TestWindow_Validate(t *testing.T) {
	assert.NoError(t, Window{From: base, To: base.Add(time.Second)}.Validate())
	assert.ErrorIs(t, Window{From: base, To: base}.Validate(), ErrInvalidWindow)
	assert.ErrorIs(t, Window{From: base, To: base.Add(-time.Second)}.Validate(), ErrInvalidWindow)
}

func TestLookbackAndBefore(t *testing.T) {
	w := Lookback(base, 48*time.Hour)
	assert.Equal(t, base.Add(-48*time.Hour), w.From)
	assert.Equal(t, base, w.To)

	b := Before(base, 300*time.Second)
	assert.Equal(t, base.Add(-5*time.Minute), b.From)
	assert.False(t, b.Contains(base), "the end instant is excluded")
}

func TestMemoryStore_ListTransactions(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "tx2", "acc1", base.Add(2*time.Minute), 10)
	seed(store, "tx1", "acc1", base.Add(time.Minute), 10)
	seed(store, "tx3", "acc2", base.Add(3*time.Hour), 10)

	txs, err := store.ListTransactions(context.Background(), Window{From: base, To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx1", txs[0].ID)
	assert.Equal(t, "tx2", txs[1].ID)
}

func TestMemoryStore_ListAccountTransactions(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "a1", "acc1", base, 1)
	seed(store, "a2", "acc1", base.Add(time.Minute), 1)
	seed(store, "b1", "acc2", base.Add(time.Minute), 1)

	txs, err := store.ListAccountTransactions(context.Background(), "acc1", Before(base.Add(time.Minute), 5*time.Minute))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "a1", txs[0].ID)
}

func TestMemoryStore_PostIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "tx1", "acc1", base, 5)
	seed(store, "tx1", "acc1", base, 999)

	tx, err := store.GetTransaction(context.Background(), "tx1")
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(5)))

	txs, _ := store.ListAccountTransactions(context.Background(), "acc1", Lookback(base.Add(time.Second), time.Hour))
	assert.Len(t, txs, 1)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "tx1", "acc1", base, 5)

	tx, _ := store.GetTransaction(context.Background(), "tx1")
	tx.AccountID = "mutated"

	again, _ := store.GetTransaction(context.Background(), "tx1")
	assert.Equal(t, "acc1", again.AccountID)
}

type failingReader struct {
	calls int
}

func (f *failingReader) ListTransactions(context.Context, Window) ([]*Transaction, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingReader) ListAccountTransactions(context.Context, string, Window) ([]*Transaction, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingReader) GetTransaction(context.Context, string) (*Transaction, error) {
	f.calls++
	return nil, ErrTransactionNotFound
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	inner := &failingReader{}
	g := NewGuarded(inner, circuitbreaker.New(2, time.Hour))
	w := Lookback(base, time.Hour)

	_, err := g.ListTransactions(context.Background(), w)
	assert.Error(t, err)
	_, err = g.ListAccountTransactions(context.Background(), "acc1", w)
	assert.Error(t, err)

	_, err = g.ListTransactions(context.Background(), w)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the ledger")
	assert.Equal(t, circuitbreaker.StateOpen, g.State())
}

func TestGuarded_NotFoundDoesNotTrip(t *testing.T) {
	inner := &failingReader{}
	g := NewGuarded(inner, circuitbreaker.New(1, time.Hour))

	for i := 0; i < 3; i++ {
		_, err := g.GetTransaction(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, circuitbreaker.StateClosed, g.State())
}

func TestGuarded_PassesResultsThrough(t *testing.T) {
	store := NewMemoryStore()
	seed(store, "tx-1", "acc1", base, 100)
	seed(store, "tx-2", "acc2", base.Add(time.Minute), 200)
	g := NewGuarded(store, circuitbreaker.New(1, time.Hour))
	w := Window{From: base, To: base.Add(time.Hour)}

	txs, err := g.ListTransactions(context.Background(), w)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	txs, err = g.ListAccountTransactions(context.Background(), "acc2", w)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-2", txs[0].ID)

	tx, err := g.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "acc1", tx.AccountID)

	_, err = g.ListTransactions(context.Background(), Window{From: base, To: base})
	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.Equal(t, circuitbreaker.StateClosed, g.State(), "an invalid window is not a ledger failure")
}
