package server

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/bankguard/internal/directory"
	"github.com/mbd888/bankguard/internal/ledger"
)

// seedDemo posts a small book of transactions relative to now so a fresh
// in-memory instance has something to detect. With the default thresholds
// a full lookback scan raises three alerts: one large personal payment, one
// large temporary-account payment and one rapid burst.
func seedDemo(l *ledger.MemoryStore, d *directory.MemoryStore, now time.Time) int {
	d.SetAccount("demo-personal", string(directory.TierPersonal))
	d.SetAccount("demo-business", string(directory.TierBusiness))
	d.SetAccount("demo-temporary", string(directory.TierTemporary))
	d.SetAccount("demo-rapid", string(directory.TierPersonal))

	txs := []*ledger.Transaction{
		demoTx("demo-tx-1", "demo-personal", now.Add(-3*time.Hour), 75_000_000, "Property deposit"),
		demoTx("demo-tx-2", "demo-personal", now.Add(-26*time.Hour), 1_200_000, "Utilities"),
		demoTx("demo-tx-3", "demo-business", now.Add(-2*time.Hour), 900_000_000, "Supplier settlement"),
		demoTx("demo-tx-4", "demo-temporary", now.Add(-5*time.Hour), 7_500_000, "Cash withdrawal"),
	}
	burst := now.Add(-90 * time.Minute)
	for i := 0; i < 4; i++ {
		txs = append(txs, demoTx(
			"demo-tx-burst-"+string(rune('a'+i)), "demo-rapid",
			burst.Add(time.Duration(i)*time.Minute), 120_000, "Card payment"))
	}

	for _, tx := range txs {
		l.Post(tx)
	}
	return len(txs)
}

func demoTx(id, account string, at time.Time, amount int64, desc string) *ledger.Transaction {
	return &ledger.Transaction{
		ID:          id,
		Type:        "TRANSFER",
		Amount:      decimal.NewFromInt(amount),
		PostedAt:    at.UTC(),
		AccountID:   account,
		Description: desc,
	}
}
