// Package detection runs the risk rules over posted transactions and turns
// findings into alerts.
//
// Two entry points share one bounded worker pool and one idempotent create:
// batch scans over a time window (scheduled or on demand) and per-transaction
// checks submitted asynchronously. Overlapping runs are expected; the alert
// store's uniqueness on the transaction is what keeps them from duplicating
// work, not locking here.
package detection

import (
	"errors"
	"time"

	"github.com/mbd888/bankguard/internal/ledger"
)

var (
	// ErrScanInterrupted is returned when cancellation stopped dispatch before every
	// candidate was submitted. The accompanying report is still filled in.
	ErrScanInterrupted = errors.New("detection: scan interrupted")

	// ErrTransientRead marks a ledger or directory failure inside one task.
	// It is absorbed by the scan and only shows up in counts and logs.
	ErrTransientRead = errors.New("detection: transient read failure")
)

// State is the phase of a scan.
type State string

const (
	StateCollecting  State = "COLLECTING"
	StateDispatching State = "DISPATCHING"
	StateAggregating State = "AGGREGATING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// DefaultLookback is the window RunDetection scans when nothing else is configured.
const DefaultLookback = 48 * time.Hour

// ScanReport summarizes one scan.
//
// Candidates counts every transaction in the window. AlreadyAlerted were
// dropped by the pre-check. Of the rest, each is either Undispatched,
// Processed or Failed. Alerted and Duplicates split the creates attempted
// for transactions with findings.
type ScanReport struct {
	ID             string        `json:"id"`
	Window         ledger.Window `json:"window"`
	State          State         `json:"state"`
	Candidates     int           `json:"candidates"`
	AlreadyAlerted int           `json:"alreadyAlerted"`
	Processed      int           `json:"processed"`
	Failed         int           `json:"failed"`
	Undispatched   int           `json:"undispatched"`
	Alerted        int           `json:"alerted"`
	Duplicates     int           `json:"duplicates"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
}

// CheckResult is the outcome of evaluating a single transaction.
type CheckResult struct {
	TransactionID string `json:"transactionId"`
	Findings      int    `json:"findings"`
	AlertID       string `json:"alertId,omitempty"`
	Created       bool   `json:"created"`
}
