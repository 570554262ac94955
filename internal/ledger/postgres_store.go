package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore reads posted transactions from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger reader.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, type, amount::TEXT, posted_at, account_id, COALESCE(location, ''), COALESCE(description, '')`

func (s *PostgresStore) ListTransactions(ctx context.Context, w Window) ([]*Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE posted_at >= $1 AND posted_at < $2
		ORDER BY posted_at ASC, id ASC
	`, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListAccountTransactions(ctx context.Context, accountID string, w Window) ([]*Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND posted_at >= $2 AND posted_at < $3
		ORDER BY posted_at ASC, id ASC
	`, accountID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	tx := &Transaction{}
	var amount string
	if err := row.Scan(&tx.ID, &tx.Type, &amount, &tx.PostedAt, &tx.AccountID, &tx.Location, &tx.Description); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	tx.Amount = d
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}
