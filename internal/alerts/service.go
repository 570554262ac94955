package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/bankguard/internal/idgen"
	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/mbd888/bankguard/internal/pagination"
	"github.com/mbd888/bankguard/internal/traces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Service implements the alert lifecycle.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an alert service over store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithNotifier adds a sink for lifecycle events.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ExistsForTransactions reports which of transactionIDs already own an alert.
// Callers use it as an advisory filter; Create remains the dedup guard.
func (s *Service) ExistsForTransactions(ctx context.Context, transactionIDs []string) (map[string]bool, error) {
	return s.store.ExistsForTransactions(ctx, transactionIDs)
}

// Create raises a NEW alert for tx unless one already exists.
// created is false when another caller got there first; that is not an error
// and the existing alert is returned.
func (s *Service) Create(ctx context.Context, tx *ledger.Transaction, typ Type, description string) (_ *Alert, created bool, retErr error) {
	ctx, span := traces.StartSpan(ctx, "alerts.Create",
		traces.TransactionID(tx.ID),
		traces.AccountID(tx.AccountID),
		attribute.String("alert.type", string(typ)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if !typ.Valid() {
		return nil, false, fmt.Errorf("%w: unknown alert type %q", ErrValidation, typ)
	}
	if tx.ID == "" {
		return nil, false, fmt.Errorf("%w: transaction id is required", ErrValidation)
	}

	a := &Alert{
		ID:            idgen.WithPrefix("alr_"),
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Type:          typ,
		Description:   description,
		Status:        StatusNew,
		CreatedAt:     s.now().UTC(),
	}

	inserted, err := s.store.CreateIfAbsent(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		alertsDuplicate.Inc()
		existing, err := s.store.GetByTransaction(ctx, tx.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	alertsCreated.WithLabelValues(string(typ)).Inc()
	s.logger.Info("alert created",
		"alert_id", a.ID, "transaction_id", a.TransactionID, "type", a.Type)
	if s.notifier != nil {
		s.notifier.AlertCreated(a)
	}
	return a, true, nil
}

// Get returns a single alert or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of alerts matching f.
func (s *Service) List(ctx context.Context, f Filter, p pagination.Page) (pagination.Result[*Alert], error) {
	if err := f.Validate(); err != nil {
		return pagination.Result[*Alert]{}, err
	}
	p, err := p.Normalize()
	if err != nil {
		return pagination.Result[*Alert]{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	f.Keyword = strings.TrimSpace(f.Keyword)

	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return pagination.Result[*Alert]{}, err
	}
	return pagination.NewResult(items, p, total), nil
}

// UpdateStatus moves an alert to status and stamps who did it and when.
// Any status may move to any other status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, actor, notes string) (_ *Alert, retErr error) {
	ctx, span := traces.StartSpan(ctx, "alerts.UpdateStatus",
		traces.AlertID(id),
		attribute.String("alert.status", string(status)),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	var from Status
	if s.notifier != nil {
		prev, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		from = prev.Status
	}

	a, err := s.store.UpdateStatus(ctx, id, StatusChange{
		Status: status,
		Actor:  actor,
		Notes:  notes,
		At:     s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	alertStatusChanges.WithLabelValues(string(status)).Inc()
	s.logger.Info("alert status updated",
		"alert_id", a.ID, "status", a.Status, "actor", a.ProcessedBy)
	if s.notifier != nil {
		s.notifier.AlertStatusChanged(a, from)
	}
	return a, nil
}
