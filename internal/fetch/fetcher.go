package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"modelfetch/internal/asset"
)

// DefaultChunkSize is the read granularity of the streaming copy. Progress
// callbacks and cancellation checks happen once per chunk.
const DefaultChunkSize = 32 * 1024

// HTTPClient is the interface for HTTP operations. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads model assets to the storage root. It owns the download
// lifecycle of a single attempt: the network request, the streaming copy,
// progress computation and cancellation cleanup.
//
// Progress callbacks run on the fetch goroutine; callers must hop to their
// own context before touching UI-owned state.
type Fetcher struct {
	client            HTTPClient
	locator           *asset.Locator
	chunkSize         int
	inactivityTimeout time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client. Useful for tests and for
// customizing timeouts. Defaults to http.DefaultClient.
func WithHTTPClient(c HTTPClient) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithChunkSize overrides the copy chunk size. Values below 1 KiB are
// clamped up to keep the cancellation latency bound meaningful.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n < 1024 {
			n = 1024
		}
		f.chunkSize = n
	}
}

// WithInactivityTimeout arms a stall watchdog: if no bytes arrive within d,
// the attempt fails with ErrStalled. Zero disables the watchdog, which is
// the default.
func WithInactivityTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.inactivityTimeout = d }
}

// New creates a Fetcher writing under the locator's storage root.
func New(locator *asset.Locator, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    http.DefaultClient,
		locator:   locator,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch starts one asynchronous download attempt and returns its Handle.
// onProgress may be nil; when set it receives a percentage in [0,100], or
// IndeterminateProgress when the server did not declare a content length.
// Values are non-decreasing for a single attempt. The terminal result is
// delivered exactly once through the Handle, after all progress callbacks
// and after the destination file has been closed.
func (f *Fetcher) Fetch(ctx context.Context, d asset.Descriptor, onProgress func(int)) *Handle {
	ctx, cancel := context.WithCancelCause(ctx)
	h := newHandle(cancel)
	go f.run(ctx, d, onProgress, h)
	return h
}

func (f *Fetcher) run(ctx context.Context, d asset.Descriptor, onProgress func(int), h *Handle) {
	if d.SourceURL == "" {
		h.finish(failure(fmt.Errorf("%w for model %s", ErrNoSource, d.ID)))
		return
	}
	dest := f.locator.Path(d)
	if dest == "" {
		h.finish(failure(fmt.Errorf("%w: model %s has no local path", ErrStorage, d.ID)))
		return
	}

	wd := newWatchdog(h.cancel, f.inactivityTimeout)
	defer wd.stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.SourceURL, nil)
	if err != nil {
		h.finish(failure(fmt.Errorf("%w: %v", ErrNetwork, err)))
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		h.finish(resolveAbort(ctx, fmt.Errorf("%w: %v", ErrNetwork, err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		h.finish(failure(fmt.Errorf("%w: download failed: %s", ErrNetwork, resp.Status)))
		return
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		h.finish(failure(fmt.Errorf("%w: create storage dir: %v", ErrStorage, err)))
		return
	}
	// No resume support: any pre-existing file is overwritten from offset zero.
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		h.finish(failure(fmt.Errorf("%w: open %s: %v", ErrStorage, dest, err)))
		return
	}

	total := resp.ContentLength // -1 when the server does not declare it
	var written int64
	buf := make([]byte, f.chunkSize)
	for {
		// Cooperative cancellation at chunk boundaries.
		select {
		case <-ctx.Done():
			f.discard(out, dest)
			h.finish(resolveAbort(ctx, nil))
			return
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			wd.kick()
			if _, werr := out.Write(buf[:n]); werr != nil {
				f.discard(out, dest)
				h.finish(failure(fmt.Errorf("%w: write %s: %v", ErrStorage, dest, werr)))
				return
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(percent(written, total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.discard(out, dest)
			h.finish(resolveAbort(ctx, fmt.Errorf("%w: read body: %v", ErrNetwork, rerr)))
			return
		}
	}

	wd.stop()
	if err := out.Close(); err != nil {
		// A file we could not close cleanly must not be mistaken for a
		// complete asset on a later run.
		_ = os.Remove(dest)
		h.finish(failure(fmt.Errorf("%w: close %s: %v", ErrStorage, dest, err)))
		return
	}
	h.finish(Result{Outcome: OutcomeCompleted})
}

// discard closes and removes a partially-written file. Failed and cancelled
// attempts leave either no file or a fully-written one, never a truncated
// file that Exists would report as present.
func (f *Fetcher) discard(out *os.File, dest string) {
	_ = out.Close()
	_ = os.Remove(dest)
}

// percent computes floor(written*100/total), clamped to 100. A non-positive
// total means the size is unknown.
func percent(written, total int64) int {
	if total <= 0 {
		return IndeterminateProgress
	}
	p := int(written * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

func failure(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

// resolveAbort maps an interrupted transfer to its terminal result based on
// the cancellation cause: caller cancellation resolves to OutcomeCancelled,
// a watchdog trip to ErrStalled, anything else to the supplied fallback.
func resolveAbort(ctx context.Context, fallback error) Result {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errCancelled), errors.Is(cause, context.Canceled):
		return Result{Outcome: OutcomeCancelled}
	case errors.Is(cause, ErrStalled):
		return failure(ErrStalled)
	}
	if fallback == nil {
		fallback = fmt.Errorf("%w: %v", ErrNetwork, cause)
	}
	return failure(fallback)
}
