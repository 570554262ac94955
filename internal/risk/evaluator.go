package risk

import (
	"fmt"
	"time"

	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/shopspring/decimal"
)

const messageTimeLayout = "2006-01-02 15:04:05 MST"

// Evaluator applies the rules to one transaction at a time.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	cfg RuleConfig
}

// NewEvaluator creates an evaluator. Non-positive settings fall back to the defaults.
func NewEvaluator(cfg RuleConfig) *Evaluator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRapidWindow
	}
	if cfg.BurstCount <= 0 {
		cfg.BurstCount = DefaultRapidBurstCount
	}
	return &Evaluator{cfg: cfg}
}

// Config returns the rule configuration in effect.
func (e *Evaluator) Config() RuleConfig {
	return e.cfg
}

// RecentWindow is the account history window the rapid rule needs for tx.
func (e *Evaluator) RecentWindow(tx *ledger.Transaction) ledger.Window {
	return ledger.Before(tx.PostedAt, e.cfg.Window)
}

// Evaluate returns the findings for tx, LARGE_AMOUNT first.
// recent may contain anything the caller fetched for the account; only
// entries strictly before tx inside the rule window are counted.
func (e *Evaluator) Evaluate(tx *ledger.Transaction, recent []*ledger.Transaction, threshold decimal.Decimal) []Finding {
	var findings []Finding

	if tx.Amount.GreaterThan(threshold) {
		findings = append(findings, Finding{
			Kind: KindLargeAmount,
			Message: fmt.Sprintf("Large amount transaction: %s on account %s at %s exceeds threshold %s",
				tx.Amount.String(), tx.AccountID, tx.PostedAt.UTC().Format(messageTimeLayout), threshold.String()),
		})
	}

	if n := e.countPrior(tx, recent); n+1 > e.cfg.BurstCount {
		findings = append(findings, Finding{
			Kind: KindRapidTransactions,
			Message: fmt.Sprintf("Rapid transactions: %d transactions on account %s within %s ending at %s",
				n+1, tx.AccountID, formatWindow(e.cfg.Window), tx.PostedAt.UTC().Format(messageTimeLayout)),
		})
	}

	return findings
}

// countPrior counts other transactions of the same account in [t-W, t).
func (e *Evaluator) countPrior(tx *ledger.Transaction, recent []*ledger.Transaction) int {
	w := e.RecentWindow(tx)
	n := 0
	for _, r := range recent {
		if r == nil || r.ID == tx.ID || r.AccountID != tx.AccountID {
			continue
		}
		if w.Contains(r.PostedAt) {
			n++
		}
	}
	return n
}

func formatWindow(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
