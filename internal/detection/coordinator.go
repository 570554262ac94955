package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/bankguard/internal/alerts"
	"github.com/mbd888/bankguard/internal/directory"
	"github.com/mbd888/bankguard/internal/idgen"
	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/mbd888/bankguard/internal/retry"
	"github.com/mbd888/bankguard/internal/risk"
	"github.com/mbd888/bankguard/internal/traces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AlertSink is the part of the alert lifecycle detection writes to.
type AlertSink interface {
	Create(ctx context.Context, tx *ledger.Transaction, typ alerts.Type, description string) (*alerts.Alert, bool, error)
	ExistsForTransactions(ctx context.Context, transactionIDs []string) (map[string]bool, error)
}

const (
	defaultReadAttempts = 3
	defaultReadDelay    = 50 * time.Millisecond
)

// Coordinator runs scans and single-transaction checks.
type Coordinator struct {
	ledger    ledger.Reader
	directory directory.Directory
	alerts    AlertSink
	evaluator *risk.Evaluator
	policy    risk.Policy
	pool      *Pool
	logger    *slog.Logger
	scans     *tracker

	lookback     time.Duration
	readAttempts int
	readDelay    time.Duration
	now          func() time.Time
}

// NewCoordinator wires the collaborators. The pool is shared with anything
// else that submits evaluation work.
func NewCoordinator(l ledger.Reader, d directory.Directory, a AlertSink, e *risk.Evaluator, pool *Pool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ledger:       l,
		directory:    d,
		alerts:       a,
		evaluator:    e,
		policy:       risk.DefaultPolicy(),
		pool:         pool,
		logger:       logger,
		scans:        newTracker(),
		lookback:     DefaultLookback,
		readAttempts: defaultReadAttempts,
		readDelay:    defaultReadDelay,
		now:          time.Now,
	}
}

// WithPolicy overrides the tier threshold table.
func (c *Coordinator) WithPolicy(p risk.Policy) *Coordinator {
	c.policy = p
	return c
}

// WithLookback sets the window length RunDetection scans.
func (c *Coordinator) WithLookback(d time.Duration) *Coordinator {
	if d > 0 {
		c.lookback = d
	}
	return c
}

// WithReadRetry configures retries for ledger and directory reads inside a task.
func (c *Coordinator) WithReadRetry(attempts int, baseDelay time.Duration) *Coordinator {
	c.readAttempts = attempts
	c.readDelay = baseDelay
	return c
}

// WithClock overrides the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// RunDetection scans [now-lookback, now).
func (c *Coordinator) RunDetection(ctx context.Context) (*ScanReport, error) {
	return c.Scan(ctx, ledger.Lookback(c.now(), c.lookback))
}

type taskResult struct {
	tx         *ledger.Transaction
	dispatched bool
	findings   []risk.Finding
	err        error
}

// Scan evaluates every transaction in w that does not already own an alert
// and creates one alert per flagged transaction.
//
// Cancelling ctx stops dispatch; tasks already running finish and their
// findings are still committed. The report is returned even on error.
func (c *Coordinator) Scan(ctx context.Context, w ledger.Window) (_ *ScanReport, retErr error) {
	c.scans.start()
	defer c.scans.done()

	report := &ScanReport{
		ID:        idgen.WithPrefix("scan_"),
		Window:    w,
		State:     StateCollecting,
		StartedAt: c.now().UTC(),
	}

	ctx, span := traces.StartSpan(ctx, "detection.Scan",
		traces.ScanID(report.ID),
		attribute.String("window.from", w.From.UTC().Format(time.RFC3339)),
		attribute.String("window.to", w.To.UTC().Format(time.RFC3339)),
	)
	start := time.Now()
	defer func() {
		report.FinishedAt = c.now().UTC()
		scansTotal.WithLabelValues(string(report.State)).Inc()
		scanDuration.Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("scan.state", string(report.State)),
			attribute.Int("scan.alerted", report.Alerted),
		)
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	// COLLECTING
	if err := w.Validate(); err != nil {
		report.State = StateFailed
		return report, err
	}
	txs, err := retry.Value(ctx, c.readAttempts, c.readDelay, func() ([]*ledger.Transaction, error) {
		txs, err := c.ledger.ListTransactions(ctx, w)
		return txs, retry.PermanentIf(err, ledger.ErrLedgerUnavailable, ledger.ErrInvalidWindow)
	})
	if err != nil {
		report.State = StateFailed
		c.logger.Error("scan collection failed", "scan_id", report.ID, "error", err)
		return report, fmt.Errorf("collect transactions: %w", err)
	}
	report.Candidates = len(txs)
	pending := c.dropAlreadyAlerted(ctx, report, txs)

	// DISPATCHING
	report.State = StateDispatching
	results := make([]taskResult, len(pending))
	taskCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i, tx := range pending {
		results[i].tx = tx
		wg.Add(1)
		err := c.pool.Go(ctx, func() {
			defer wg.Done()
			results[i].findings, results[i].err = c.evaluate(taskCtx, tx)
		})
		if err != nil {
			wg.Done()
			report.Undispatched = len(pending) - i
			break
		}
		results[i].dispatched = true
	}
	wg.Wait()

	// AGGREGATING
	report.State = StateAggregating
	for _, r := range results {
		if !r.dispatched {
			continue
		}
		if r.err != nil {
			report.Failed++
			tasksTotal.WithLabelValues("failed").Inc()
			c.logger.Warn("transaction evaluation failed",
				"scan_id", report.ID, "transaction_id", r.tx.ID, "error", r.err)
			continue
		}
		if len(r.findings) == 0 {
			report.Processed++
			tasksTotal.WithLabelValues("clean").Inc()
			continue
		}
		tasksTotal.WithLabelValues("flagged").Inc()
		_, created, err := c.commit(taskCtx, r.tx, r.findings)
		switch {
		case err != nil:
			report.Failed++
			c.logger.Error("failed to create alert",
				"scan_id", report.ID, "transaction_id", r.tx.ID, "error", err)
		case created:
			report.Processed++
			report.Alerted++
		default:
			report.Processed++
			report.Duplicates++
		}
	}
	if report.Undispatched > 0 {
		tasksTotal.WithLabelValues("undispatched").Add(float64(report.Undispatched))
	}

	if report.Undispatched > 0 {
		report.State = StateFailed
		c.logger.Warn("scan interrupted",
			"scan_id", report.ID, "undispatched", report.Undispatched, "processed", report.Processed)
		return report, fmt.Errorf("%w: %d of %d transactions not dispatched: %v",
			ErrScanInterrupted, report.Undispatched, len(pending), context.Cause(ctx))
	}

	report.State = StateDone
	c.logger.Info("scan complete",
		"scan_id", report.ID,
		"candidates", report.Candidates,
		"already_alerted", report.AlreadyAlerted,
		"processed", report.Processed,
		"failed", report.Failed,
		"alerted", report.Alerted,
		"duplicates", report.Duplicates,
	)
	return report, nil
}

// dropAlreadyAlerted filters out transactions that own an alert. A failing
// lookup keeps every candidate; the create path dedups regardless.
func (c *Coordinator) dropAlreadyAlerted(ctx context.Context, report *ScanReport, txs []*ledger.Transaction) []*ledger.Transaction {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	existing, err := c.alerts.ExistsForTransactions(ctx, ids)
	if err != nil {
		c.logger.Warn("alert pre-check failed, evaluating all candidates", "scan_id", report.ID, "error", err)
		return txs
	}
	pending := make([]*ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if existing[tx.ID] {
			report.AlreadyAlerted++
			continue
		}
		pending = append(pending, tx)
	}
	return pending
}

// evaluate resolves the tier, fetches the account's recent history and applies the rules.
func (c *Coordinator) evaluate(ctx context.Context, tx *ledger.Transaction) ([]risk.Finding, error) {
	tier, err := retry.Value(ctx, c.readAttempts, c.readDelay, func() (directory.Tier, error) {
		t, err := c.directory.TierOf(ctx, tx.AccountID)
		return t, retry.PermanentIf(err, directory.ErrAccountNotFound)
	})
	if errors.Is(err, directory.ErrAccountNotFound) {
		tier = directory.TierPersonal
	} else if err != nil {
		return nil, fmt.Errorf("%w: tier of account %s: %v", ErrTransientRead, tx.AccountID, err)
	}

	recent, err := retry.Value(ctx, c.readAttempts, c.readDelay, func() ([]*ledger.Transaction, error) {
		txs, err := c.ledger.ListAccountTransactions(ctx, tx.AccountID, c.evaluator.RecentWindow(tx))
		return txs, retry.PermanentIf(err, ledger.ErrLedgerUnavailable, ledger.ErrInvalidWindow)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: history of account %s: %v", ErrTransientRead, tx.AccountID, err)
	}

	findings := c.evaluator.Evaluate(tx, recent, c.policy.ResolveThreshold(tier))
	for _, f := range findings {
		findingsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	return findings, nil
}

// commit creates the alert for the first finding. Findings arrive
// LARGE_AMOUNT first, so that kind wins when both rules fire.
func (c *Coordinator) commit(ctx context.Context, tx *ledger.Transaction, findings []risk.Finding) (*alerts.Alert, bool, error) {
	f := findings[0]
	return c.alerts.Create(ctx, tx, alerts.Type(f.Kind), f.Message)
}

// Check evaluates one transaction inline and creates its alert if flagged.
func (c *Coordinator) Check(ctx context.Context, transactionID string) (_ *CheckResult, retErr error) {
	ctx, span := traces.StartSpan(ctx, "detection.Check", traces.TransactionID(transactionID))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	tx, err := retry.Value(ctx, c.readAttempts, c.readDelay, func() (*ledger.Transaction, error) {
		tx, err := c.ledger.GetTransaction(ctx, transactionID)
		return tx, retry.PermanentIf(err, ledger.ErrTransactionNotFound, ledger.ErrLedgerUnavailable)
	})
	if err != nil {
		return nil, err
	}

	result := &CheckResult{TransactionID: tx.ID}
	findings, err := c.evaluate(ctx, tx)
	if err != nil {
		tasksTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	result.Findings = len(findings)
	if len(findings) == 0 {
		tasksTotal.WithLabelValues("clean").Inc()
		return result, nil
	}

	tasksTotal.WithLabelValues("flagged").Inc()
	a, created, err := c.commit(ctx, tx, findings)
	if err != nil {
		return nil, err
	}
	result.AlertID = a.ID
	result.Created = created
	return result, nil
}

// CheckTransaction submits a check of one transaction to the shared pool.
// It blocks only until a slot is free; the check itself runs detached from
// ctx and its outcome is logged. Use Wait to drain submitted checks.
func (c *Coordinator) CheckTransaction(ctx context.Context, transactionID string) error {
	taskCtx := context.WithoutCancel(ctx)
	return c.pool.Go(ctx, func() {
		res, err := c.Check(taskCtx, transactionID)
		if err != nil {
			c.logger.Warn("async transaction check failed", "transaction_id", transactionID, "error", err)
			return
		}
		if res.Created {
			c.logger.Info("async transaction check raised alert",
				"transaction_id", transactionID, "alert_id", res.AlertID)
		}
	})
}

// Wait blocks until running scans, including their alert writes, and all
// work on the coordinator's pool have finished.
func (c *Coordinator) Wait() {
	c.scans.wait()
	c.pool.Wait()
}
