package tracker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// debouncer arms a callback after a quiet period; re-arming cancels the
// pending callback and restarts the delay, so bursts of Arm calls collapse
// into a single firing at the tail of the burst.
type debouncer struct {
	clk   clock.Clock
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *clock.Timer
}

func newDebouncer(clk clock.Clock, delay time.Duration, fn func()) *debouncer {
	return &debouncer{clk: clk, delay: delay, fn: fn}
}

// Arm schedules the callback after the delay, cancelling any pending one.
func (d *debouncer) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clk.AfterFunc(d.delay, d.fn)
}

// Stop cancels any pending callback.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
