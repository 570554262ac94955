// Package risk holds the fixed, explainable rules that flag posted transactions.
//
// Two rules exist: a tiered large-amount threshold and a rapid-transactions
// burst check over a short backward window. Both are pure functions of their
// inputs; nothing here touches storage.
package risk

import (
	"time"

	"github.com/mbd888/bankguard/internal/directory"
	"github.com/shopspring/decimal"
)

// Kind identifies which rule produced a finding.
type Kind string

const (
	KindLargeAmount       Kind = "LARGE_AMOUNT"
	KindRapidTransactions Kind = "RAPID_TRANSACTIONS"
)

// Finding is one rule firing for one transaction.
type Finding struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Default rapid-transactions parameters.
const (
	DefaultRapidWindow     = 300 * time.Second
	DefaultRapidBurstCount = 3
)

// RuleConfig parameterizes the rapid-transactions rule.
type RuleConfig struct {
	Window     time.Duration
	BurstCount int
}

// DefaultRuleConfig returns the 300s / 3 transaction configuration.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{Window: DefaultRapidWindow, BurstCount: DefaultRapidBurstCount}
}

// Policy maps customer tiers to the large-amount threshold.
type Policy struct {
	Personal  decimal.Decimal
	Business  decimal.Decimal
	Temporary decimal.Decimal
}

// DefaultPolicy returns the production threshold table.
func DefaultPolicy() Policy {
	return Policy{
		Personal:  decimal.NewFromInt(50_000_000),
		Business:  decimal.NewFromInt(5_000_000_000),
		Temporary: decimal.NewFromInt(5_000_000),
	}
}

// ResolveThreshold returns the alert threshold for tier. Unknown tiers get the personal threshold.
func (p Policy) ResolveThreshold(tier directory.Tier) decimal.Decimal {
	switch tier {
	case directory.TierBusiness:
		return p.Business
	case directory.TierTemporary:
		return p.Temporary
	default:
		return p.Personal
	}
}

// ResolveThreshold resolves tier against DefaultPolicy.
func ResolveThreshold(tier directory.Tier) decimal.Decimal {
	return DefaultPolicy().ResolveThreshold(tier)
}
