package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore resolves tiers from the accounts and customers tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed directory.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) TierOf(ctx context.Context, accountID string) (Tier, error) {
	var customerType sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT c.customer_type
		FROM accounts a
		LEFT JOIN customers c ON c.id = a.customer_id
		WHERE a.id = $1
	`, accountID).Scan(&customerType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tier: %w", err)
	}
	return ParseTier(customerType.String), nil
}
