package fetch

import "errors"

// Sentinel errors for fetch operations. Use errors.Is to classify a failed
// Result into a user-facing error kind.
var (
	// ErrNoSource indicates the descriptor has no source URL configured.
	// Not retryable without user action.
	ErrNoSource = errors.New("fetch: no source configured")

	// ErrNetwork indicates a transport failure or non-success HTTP status.
	// Retryable.
	ErrNetwork = errors.New("fetch: network error")

	// ErrStorage indicates the destination file could not be opened,
	// written or removed. Retryable after the user frees space or fixes
	// permissions.
	ErrStorage = errors.New("fetch: storage error")

	// ErrStalled indicates the inactivity watchdog aborted the transfer.
	ErrStalled = errors.New("fetch: transfer stalled")

	// ErrFetchInProgress indicates a fetch for the same model is already
	// running; attempts are serialized per descriptor.
	ErrFetchInProgress = errors.New("fetch: already in progress")

	// ErrShuttingDown indicates the manager is no longer accepting work.
	ErrShuttingDown = errors.New("fetch: shutting down")

	// ErrUnknownAttempt indicates the attempt ID is not known to the
	// manager.
	ErrUnknownAttempt = errors.New("fetch: unknown attempt")
)
