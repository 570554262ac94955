package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/bankguard/internal/alerts"
	"github.com/mbd888/bankguard/internal/directory"
	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/mbd888/bankguard/internal/logging"
	"github.com/mbd888/bankguard/internal/pagination"
	"github.com/mbd888/bankguard/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ledger    *ledger.MemoryStore
	directory *directory.MemoryStore
	alerts    *alerts.Service
	coord     *Coordinator
}

func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    ledger.NewMemoryStore(),
		directory: directory.NewMemoryStore(),
		alerts:    alerts.NewService(alerts.NewMemoryStore(), logging.Discard()),
	}
	f.coord = f.build(f.ledger, f.directory, poolSize)
	return f
}

func (f *fixture) build(l ledger.Reader, d directory.Directory, poolSize int) *Coordinator {
	return NewCoordinator(l, d, f.alerts, risk.NewEvaluator(risk.DefaultRuleConfig()), NewPool(poolSize), logging.Discard()).
		WithClock(func() time.Time { return now }).
		WithReadRetry(2, time.Millisecond)
}

func (f *fixture) post(id, account string, at time.Time, amount int64) {
	f.ledger.Post(&ledger.Transaction{
		ID:        id,
		Type:      "TRANSFER",
		Amount:    decimal.NewFromInt(amount),
		PostedAt:  at,
		AccountID: account,
	})
}

func (f *fixture) allAlerts(t *testing.T) []*alerts.Alert {
	t.Helper()
	res, err := f.alerts.List(context.Background(), alerts.Filter{}, pagination.Page{Limit: 100})
	require.NoError(t, err)
	return res.Items
}

func TestScan_LargeAmountPersonal(t *testing.T) {
	f := newFixture(t, 4)
	f.directory.SetAccount("acc-A", "PERSONAL")
	f.post("tx-big", "acc-A", now.Add(-time.Hour), 60_000_000)
	f.post("tx-edge", "acc-A", now.Add(-2*time.Hour), 50_000_000)

	report, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Alerted)

	all := f.allAlerts(t)
	require.Len(t, all, 1)
	assert.Equal(t, "tx-big", all[0].TransactionID)
	assert.Equal(t, alerts.TypeLargeAmount, all[0].Type)
	assert.Equal(t, alerts.StatusNew, all[0].Status)
	assert.Contains(t, all[0].Description, "60000000")
	assert.Contains(t, all[0].Description, "acc-A")
}

func TestScan_TierThresholds(t *testing.T) {
	f := newFixture(t, 4)
	f.directory.SetAccount("acc-biz", "BUSINESS")
	f.directory.SetAccount("acc-tmp", "TEMPORARY")
	f.directory.SetAccount("acc-odd", "SOMETHING_ELSE")
	f.post("biz", "acc-biz", now.Add(-time.Hour), 60_000_000)
	f.post("tmp", "acc-tmp", now.Add(-time.Hour), 6_000_000)
	f.post("odd", "acc-odd", now.Add(-time.Hour), 60_000_000)
	f.post("ghost", "acc-missing", now.Add(-time.Hour), 60_000_000)

	report, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Alerted)

	flagged := map[string]bool{}
	for _, a := range f.allAlerts(t) {
		flagged[a.TransactionID] = true
	}
	assert.False(t, flagged["biz"], "business threshold is 5,000,000,000")
	assert.True(t, flagged["tmp"])
	assert.True(t, flagged["odd"], "unknown tier falls back to personal")
	assert.True(t, flagged["ghost"], "account without directory entry falls back to personal")
}

func TestScan_RapidTransactions(t *testing.T) {
	f := newFixture(t, 4)
	f.directory.SetAccount("acc-B", "PERSONAL")
	start := now.Add(-time.Hour)
	f.post("b1", "acc-B", start, 10)
	f.post("b2", "acc-B", start.Add(60*time.Second), 10)
	f.post("b3", "acc-B", start.Add(120*time.Second), 10)
	f.post("b4", "acc-B", start.Add(180*time.Second), 10)
	f.post("b5", "acc-B", start.Add(301*time.Second), 10)

	report, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Processed)

	byTx := map[string]*alerts.Alert{}
	for _, a := range f.allAlerts(t) {
		byTx[a.TransactionID] = a
	}
	assert.NotContains(t, byTx, "b1")
	assert.NotContains(t, byTx, "b2")
	assert.NotContains(t, byTx, "b3", "third inside the window does not fire")
	require.Contains(t, byTx, "b4")
	assert.Equal(t, alerts.TypeRapidTransactions, byTx["b4"].Type)

	// b1 falls out of b5's window, so b5 counts four transactions, not five.
	require.Contains(t, byTx, "b5")
	assert.Contains(t, byTx["b5"].Description, "4 transactions")
}

func TestScan_BothRulesOneAlert(t *testing.T) {
	f := newFixture(t, 2)
	start := now.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		f.post(fmt.Sprintf("p%d", i), "acc-C", start.Add(time.Duration(i)*time.Second), 1)
	}
	f.post("big", "acc-C", start.Add(10*time.Second), 90_000_000)

	_, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)

	var found *alerts.Alert
	for _, a := range f.allAlerts(t) {
		if a.TransactionID == "big" {
			found = a
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, alerts.TypeLargeAmount, found.Type, "large amount wins when both rules fire")
}

func TestScan_Idempotent(t *testing.T) {
	f := newFixture(t, 4)
	for i := 0; i < 10; i++ {
		f.post(fmt.Sprintf("tx%d", i), fmt.Sprintf("acc%d", i), now.Add(-time.Duration(i+1)*time.Minute), 70_000_000)
	}

	first, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, first.Alerted)

	second, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, second.AlreadyAlerted)
	assert.Equal(t, 0, second.Alerted)
	assert.Len(t, f.allAlerts(t), 10)
}

func TestScan_ConcurrentOverlappingWindows(t *testing.T) {
	f := newFixture(t, 8)
	for i := 0; i < 50; i++ {
		f.post(fmt.Sprintf("tx%02d", i), fmt.Sprintf("acc%02d", i), now.Add(-time.Duration(i+1)*time.Minute), 80_000_000)
	}

	windows := []ledger.Window{
		ledger.Lookback(now, 48*time.Hour),
		ledger.Lookback(now, 30*time.Minute),
		{From: now.Add(-45 * time.Minute), To: now.Add(-5 * time.Minute)},
		ledger.Lookback(now, 48*time.Hour),
	}

	var wg sync.WaitGroup
	reports := make([]*ScanReport, len(windows))
	for i, w := range windows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.coord.Scan(context.Background(), w)
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	all := f.allAlerts(t)
	assert.Len(t, all, 50)
	seen := map[string]bool{}
	for _, a := range all {
		assert.False(t, seen[a.TransactionID], "duplicate alert for %s", a.TransactionID)
		seen[a.TransactionID] = true
	}

	alerted := 0
	for _, r := range reports {
		alerted += r.Alerted
	}
	assert.Equal(t, 50, alerted, "exactly one scan creates each alert")
}

type flakyDirectory struct {
	directory.Directory
	failFor string
}

func (d *flakyDirectory) TierOf(ctx context.Context, accountID string) (directory.Tier, error) {
	if accountID == d.failFor {
		return "", errors.New("directory timeout")
	}
	return d.Directory.TierOf(ctx, accountID)
}

func TestScan_TaskFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, 4)
	f.post("ok1", "acc-1", now.Add(-time.Minute), 90_000_000)
	f.post("bad", "acc-bad", now.Add(-2*time.Minute), 90_000_000)
	f.post("ok2", "acc-2", now.Add(-3*time.Minute), 90_000_000)

	coord := f.build(f.ledger, &flakyDirectory{Directory: f.directory, failFor: "acc-bad"}, 4)
	report, err := coord.RunDetection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Alerted)
}

type brokenLedger struct {
	ledger.Reader
}

func (brokenLedger) ListTransactions(context.Context, ledger.Window) ([]*ledger.Transaction, error) {
	return nil, errors.New("connection reset")
}

func TestScan_CollectionFailure(t *testing.T) {
	f := newFixture(t, 2)
	coord := f.build(brokenLedger{Reader: f.ledger}, f.directory, 2)

	report, err := coord.RunDetection(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StateFailed, report.State)
	assert.Zero(t, report.Processed)
}

func TestScan_InvalidWindow(t *testing.T) {
	f := newFixture(t, 2)
	report, err := f.coord.Scan(context.Background(), ledger.Window{From: now, To: now})
	assert.ErrorIs(t, err, ledger.ErrInvalidWindow)
	assert.Equal(t, StateFailed, report.State)
}

type blockingDirectory struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *blockingDirectory) TierOf(context.Context, string) (directory.Tier, error) {
	d.once.Do(func() { close(d.started) })
	<-d.release
	return directory.TierPersonal, nil
}

func TestScan_CancellationStopsDispatch(t *testing.T) {
	f := newFixture(t, 1)
	for i := 0; i < 5; i++ {
		f.post(fmt.Sprintf("tx%d", i), "acc-x", now.Add(-time.Duration(i+1)*time.Hour), 90_000_000)
	}
	dir := &blockingDirectory{started: make(chan struct{}), release: make(chan struct{})}
	coord := f.build(f.ledger, dir, 1)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		report *ScanReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := coord.Scan(ctx, ledger.Lookback(now, 48*time.Hour))
		done <- outcome{r, err}
	}()

	<-dir.started
	cancel()
	close(dir.release)

	out := <-done
	assert.ErrorIs(t, out.err, ErrScanInterrupted)
	assert.Equal(t, StateFailed, out.report.State)
	assert.Equal(t, 5, out.report.Candidates)
	assert.Equal(t, 4, out.report.Undispatched)
	assert.Equal(t, 1, out.report.Processed, "in-flight task finishes")
	assert.Equal(t, 1, out.report.Alerted, "in-flight finding is still committed")
	assert.Len(t, f.allAlerts(t), 1)
}

func TestScan_AlreadyCancelled(t *testing.T) {
	f := newFixture(t, 2)
	f.post("tx1", "acc-1", now.Add(-time.Minute), 90_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.coord.RunDetection(ctx)
	assert.ErrorIs(t, err, ErrScanInterrupted)
	assert.Equal(t, 1, report.Undispatched)
	assert.Empty(t, f.allAlerts(t))
}

func TestCheck_SingleTransaction(t *testing.T) {
	f := newFixture(t, 2)
	f.post("tx1", "acc-1", now.Add(-time.Minute), 90_000_000)
	f.post("tx2", "acc-2", now.Add(-time.Minute), 5)

	res, err := f.coord.Check(context.Background(), "tx1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Findings)

	again, err := f.coord.Check(context.Background(), "tx1")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.AlertID, again.AlertID)

	clean, err := f.coord.Check(context.Background(), "tx2")
	require.NoError(t, err)
	assert.Zero(t, clean.Findings)
	assert.Empty(t, clean.AlertID)

	_, err = f.coord.Check(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestCheckTransaction_AsyncConvergesWithScan(t *testing.T) {
	f := newFixture(t, 3)
	for i := 0; i < 20; i++ {
		f.post(fmt.Sprintf("tx%02d", i), fmt.Sprintf("acc%02d", i), now.Add(-time.Duration(i+1)*time.Minute), 75_000_000)
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, f.coord.CheckTransaction(context.Background(), fmt.Sprintf("tx%02d", i)))
	}
	_, err := f.coord.RunDetection(context.Background())
	require.NoError(t, err)
	f.coord.Wait()

	assert.Len(t, f.allAlerts(t), 20)
}

func TestCheckTransaction_CancelledBeforeSubmit(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.coord.CheckTransaction(ctx, "tx1"), context.Canceled)
}

// blockingSink holds the first Create until released.
type blockingSink struct {
	*alerts.Service
	creating chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (s *blockingSink) Create(ctx context.Context, tx *ledger.Transaction, typ alerts.Type, desc string) (*alerts.Alert, bool, error) {
	s.once.Do(func() { close(s.creating) })
	<-s.release
	return s.Service.Create(ctx, tx, typ, desc)
}

func TestWait_CoversScanAlertWrites(t *testing.T) {
	f := newFixture(t, 2)
	f.post("tx1", "acc-1", now.Add(-time.Minute), 90_000_000)
	sink := &blockingSink{Service: f.alerts, creating: make(chan struct{}), release: make(chan struct{})}
	coord := NewCoordinator(f.ledger, f.directory, sink, risk.NewEvaluator(risk.DefaultRuleConfig()), NewPool(2), logging.Discard()).
		WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	scanDone := make(chan *ScanReport, 1)
	go func() {
		r, _ := coord.RunDetection(ctx)
		scanDone <- r
	}()

	<-sink.creating
	cancel()

	waited := make(chan struct{})
	go func() {
		coord.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the scan was still writing its alert")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the scan finished")
	}

	// The alert is stored by the time Wait returns.
	assert.Len(t, f.allAlerts(t), 1)

	r := <-scanDone
	assert.Equal(t, StateDone, r.State)
	assert.Equal(t, 1, r.Alerted)
}
