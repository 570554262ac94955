package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mbd888/bankguard/internal/pagination"
)

const transactionUniqueConstraint = "alerts_transaction_id_key"

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, transaction_id, account_id, alert_type, description, status,
	created_at, processed_at, COALESCE(processed_by, ''), COALESCE(resolution_notes, '')`

func (p *PostgresStore) CreateIfAbsent(ctx context.Context, a *Alert) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, transaction_id, account_id, alert_type, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`, a.ID, a.TransactionID, a.AccountID, string(a.Type), a.Description, string(a.Status), a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == transactionUniqueConstraint {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE transaction_id = $1`, transactionID)
	return scanAlert(row)
}

func (p *PostgresStore) List(ctx context.Context, f Filter, page pagination.Page) ([]*Alert, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	n := len(args)
	query := `SELECT ` + alertColumns + ` FROM alerts` + where + `
		ORDER BY processed_at DESC NULLS LAST, created_at DESC, id ASC
		LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, page.Limit, page.Offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, a)
	}
	return result, total, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, change StatusChange) (*Alert, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE alerts
		SET status = $2, processed_at = $3, processed_by = $4, resolution_notes = $5
		WHERE id = $1
		RETURNING `+alertColumns,
		id, string(change.Status), change.At, change.Actor, change.Notes,
	)
	return scanAlert(row)
}

func (p *PostgresStore) ExistsForTransactions(ctx context.Context, transactionIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(transactionIDs) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT transaction_id FROM alerts WHERE transaction_id = ANY($1)
	`, pq.Array(transactionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to check existing alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Keyword != "" {
		args = append(args, "%"+escapeLike(f.Keyword)+"%")
		conds = append(conds, "description ILIKE $"+strconv.Itoa(len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conds = append(conds, "alert_type = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*Alert, error) {
	a := &Alert{}
	var alertType, status string
	var processedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.TransactionID, &a.AccountID, &alertType, &a.Description, &status,
		&a.CreatedAt, &processedAt, &a.ProcessedBy, &a.ResolutionNotes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Type = Type(alertType)
	a.Status = Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		a.ProcessedAt = &t
	}
	return a, nil
}
