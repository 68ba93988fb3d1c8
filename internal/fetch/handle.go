package fetch

import (
	"context"
	"errors"
	"sync"
)

// errCancelled is the cancellation cause installed by Handle.Cancel. It never
// escapes this package; callers observe OutcomeCancelled instead.
var errCancelled = errors.New("fetch: cancelled by caller")

// Handle is the ownership token for one in-flight fetch attempt. It exposes
// cancellation and completion; it becomes inert once the attempt reaches a
// terminal outcome.
type Handle struct {
	cancel context.CancelCauseFunc

	done chan struct{}

	mu     sync.Mutex
	result Result
}

func newHandle(cancel context.CancelCauseFunc) *Handle {
	return &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. The fetch stops at the next
// chunk boundary, removes the partial file and resolves with
// OutcomeCancelled. Calling Cancel after the attempt has already reached a
// terminal outcome has no effect.
func (h *Handle) Cancel() {
	h.cancel(errCancelled)
}

// Done is closed once the attempt reaches its terminal outcome. The
// destination file is guaranteed closed by then.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the attempt resolves and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Result returns the terminal result without blocking. ok is false while the
// attempt is still running.
func (h *Handle) Result() (res Result, ok bool) {
	select {
	case <-h.done:
	default:
		return Result{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true
}

// finish records the result and unblocks waiters. Called exactly once, from
// the fetch goroutine, after the destination file has been closed.
func (h *Handle) finish(res Result) {
	h.mu.Lock()
	h.result = res
	h.mu.Unlock()
	close(h.done)
	// Release the context resources; a Cancel after this point is a no-op.
	h.cancel(nil)
}
