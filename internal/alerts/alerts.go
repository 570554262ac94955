// Package alerts owns the alert lifecycle: idempotent creation by detection,
// lookup, filtered listing, and status transitions by reviewers.
//
// An alert is keyed by the transaction that raised it. At most one alert
// exists per transaction; the store enforces that atomically so concurrent
// detection runs converge on the same row.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/bankguard/internal/pagination"
)

var (
	ErrNotFound   = errors.New("alerts: not found")
	ErrValidation = errors.New("alerts: validation failed")
)

// Type is the rule that raised the alert.
type Type string

const (
	TypeLargeAmount       Type = "LARGE_AMOUNT"
	TypeRapidTransactions Type = "RAPID_TRANSACTIONS"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	return t == TypeLargeAmount || t == TypeRapidTransactions
}

// Status is the review state of an alert.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusResolved   Status = "RESOLVED"
	StatusIgnored    Status = "IGNORED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Alert is a flagged transaction awaiting or past review.
type Alert struct {
	ID              string     `json:"id"`
	TransactionID   string     `json:"transactionId"`
	AccountID       string     `json:"accountId"`
	Type            Type       `json:"alertType"`
	Description     string     `json:"description"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessedBy     string     `json:"processedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Keyword string `json:"keyword,omitempty"`
	Type    Type   `json:"alertType,omitempty"`
	Status  Status `json:"status,omitempty"`
}

// Validate rejects unknown type and status values.
func (f Filter) Validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return ErrValidation
	}
	if f.Status != "" && !f.Status.Valid() {
		return ErrValidation
	}
	return nil
}

// StatusChange is the reviewer-supplied part of a status update.
type StatusChange struct {
	Status Status
	Actor  string
	Notes  string
	At     time.Time
}

// Store persists alerts.
type Store interface {
	// CreateIfAbsent inserts a unless an alert already exists for a.TransactionID.
	// It reports whether the row was inserted; a conflict is not an error.
	CreateIfAbsent(ctx context.Context, a *Alert) (bool, error)
	Get(ctx context.Context, id string) (*Alert, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Alert, error)
	// List returns one page ordered by processed_at DESC NULLS LAST, created_at DESC, id,
	// plus the total number of matching rows.
	List(ctx context.Context, f Filter, p pagination.Page) ([]*Alert, int, error)
	UpdateStatus(ctx context.Context, id string, change StatusChange) (*Alert, error)
	// ExistsForTransactions returns the subset of ids that already own an alert.
	ExistsForTransactions(ctx context.Context, transactionIDs []string) (map[string]bool, error)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	AlertCreated(a *Alert)
	AlertStatusChanged(a *Alert, from Status)
}

// less orders alerts for listing: processed DESC NULLS LAST, created DESC, id ASC.
func less(a, b *Alert) bool {
	switch {
	case a.ProcessedAt != nil && b.ProcessedAt == nil:
		return true
	case a.ProcessedAt == nil && b.ProcessedAt != nil:
		return false
	case a.ProcessedAt != nil && !a.ProcessedAt.Equal(*b.ProcessedAt):
		return a.ProcessedAt.After(*b.ProcessedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
