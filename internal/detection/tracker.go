package detection

import "sync"

// tracker counts running work. Unlike sync.WaitGroup, start may be called
// while another goroutine is in wait.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed whenever n == 0
}

func newTracker() *tracker {
	idle := make(chan struct{})
	close(idle)
	return &tracker{idle: idle}
}

func (t *tracker) start() {
	t.mu.Lock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
	t.mu.Unlock()
}

// wait blocks until the count drops to zero. Work started after that point
// is not waited for.
func (t *tracker) wait() {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	<-idle
}
