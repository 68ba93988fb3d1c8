package fetch

import (
	"context"
	"time"
)

// watchdog aborts a transfer when no bytes arrive within the configured
// window. It is an opt-in extension: with a zero timeout it does nothing and
// the fetch behaves exactly like a plain streaming copy.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(cancel context.CancelCauseFunc, timeout time.Duration) *watchdog {
	wd := &watchdog{timeout: timeout}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() {
			cancel(ErrStalled)
		})
	}
	return wd
}

// kick resets the inactivity window. Called after every successful chunk read.
func (wd *watchdog) kick() {
	if wd.timeout > 0 {
		wd.timer.Reset(wd.timeout)
	}
}

// stop disarms the watchdog once the transfer reaches a terminal state.
func (wd *watchdog) stop() {
	if wd.timeout > 0 {
		wd.timer.Stop()
	}
}
