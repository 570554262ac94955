package detection

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically runs a detection scan over the default window.
type Timer struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
	stop        chan struct{}
}

// NewTimer creates a detection sweep timer. Non-positive intervals default to one hour.
func NewTimer(coordinator *Coordinator, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	report, err := t.coordinator.RunDetection(ctx)
	if err != nil {
		t.logger.Warn("scheduled detection failed", "error", err)
		return
	}
	if report.Alerted > 0 {
		t.logger.Info("scheduled detection raised alerts", "scan_id", report.ID, "alerted", report.Alerted)
	}
}
