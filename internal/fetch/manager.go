package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"modelfetch/internal/asset"
	"modelfetch/internal/logging"
)

// Ticket describes the result of an Ensure call. When the asset was already
// on disk, Outcome is OutcomeAlreadyPresent and no fetch was started;
// otherwise AttemptID and Handle identify the in-flight attempt.
type Ticket struct {
	AttemptID string
	Outcome   Outcome
	Handle    *Handle
	Path      string
}

// Manager coordinates fetch attempts: it short-circuits assets that are
// already present, serializes attempts per model, tracks attempt state in a
// Registry and mirrors transitions to persistence Hooks.
type Manager struct {
	fetcher *Fetcher
	locator *asset.Locator
	reg     *Registry
	hooks   Hooks

	mu       sync.Mutex
	inflight map[string]*Handle // keyed by model ID
	handles  map[string]*Handle // keyed by attempt ID
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager retaining up to retain terminal attempts in
// memory for status queries.
func NewManager(fetcher *Fetcher, locator *asset.Locator, retain int) *Manager {
	return &Manager{
		fetcher:  fetcher,
		locator:  locator,
		reg:      NewRegistry(retain),
		inflight: make(map[string]*Handle),
		handles:  make(map[string]*Handle),
	}
}

// SetHooks installs persistence callbacks. Must be called before the first
// Ensure.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// Ensure makes sure the asset described by d is available locally. If the
// file already exists no network request is made and the returned Ticket
// resolves immediately. Otherwise one fetch attempt is started; a second
// Ensure for the same model while one is in flight returns
// ErrFetchInProgress.
func (m *Manager) Ensure(ctx context.Context, d asset.Descriptor) (*Ticket, error) {
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}
	path := m.locator.Path(d)
	if m.locator.Exists(d) {
		return &Ticket{Outcome: OutcomeAlreadyPresent, Path: path}, nil
	}

	m.mu.Lock()
	if _, busy := m.inflight[d.ID]; busy {
		m.mu.Unlock()
		return nil, ErrFetchInProgress
	}
	id := uuid.NewString()
	if _, err := m.reg.Create(id, d.ID, d.SourceURL); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	h := m.fetcher.Fetch(ctx, d, func(p int) {
		m.updateProgress(id, p)
	})
	m.inflight[d.ID] = h
	m.handles[id] = h
	m.mu.Unlock()

	logging.LogFetchStart(id, d.ID, d.SourceURL)
	m.setState(id, StateFetching, "")

	m.wg.Add(1)
	go m.track(id, d.ID, h)

	return &Ticket{AttemptID: id, Handle: h, Path: path}, nil
}

// Cancel requests cancellation of an attempt. Cancelling an attempt that has
// already reached a terminal outcome is a no-op.
func (m *Manager) Cancel(attemptID string) error {
	m.mu.Lock()
	h, ok := m.handles[attemptID]
	m.mu.Unlock()
	if ok {
		h.Cancel()
		return nil
	}
	if m.reg.Get(attemptID) != nil {
		return nil // already terminal
	}
	return ErrUnknownAttempt
}

// AttachDB binds a database row ID to an attempt for persistence updates.
// The attempt may already have resolved by the time the caller created the
// row; in that case the terminal state is replayed to the hooks so the row
// does not stay in flight until the next restart reconciles it.
func (m *Manager) AttachDB(attemptID string, dbID int64) {
	it, err := m.reg.Attach(attemptID, dbID)
	if err != nil || dbID <= 0 || m.hooks == nil {
		return
	}
	if !it.State.Terminal() {
		return
	}
	progress, state, errMsg := it.Progress, it.State, it.Error
	go func() {
		if progress > 0 {
			m.hooks.OnProgress(dbID, progress)
		}
		m.hooks.OnStateChange(dbID, state, errMsg)
	}()
}

// Snapshot returns copies of known attempts. If id is non-empty, at most
// that attempt.
func (m *Manager) Snapshot(id string) []*Item {
	return m.reg.Snapshot(id)
}

// StopAccepting stops starting new attempts; Ensure returns ErrShuttingDown
// afterwards.
func (m *Manager) StopAccepting() {
	m.closing.Store(true)
}

// Shutdown cancels all in-flight attempts and waits for them to resolve.
// Safe to call multiple times.
func (m *Manager) Shutdown() {
	m.closing.Store(true)
	m.mu.Lock()
	for _, h := range m.inflight {
		h.Cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) track(id, modelID string, h *Handle) {
	defer m.wg.Done()
	res := h.Wait()

	switch res.Outcome {
	case OutcomeCompleted:
		// Reaching EOF with an undeclared length still means done; the
		// final 100 goes through updateProgress so the hooks see it too.
		m.updateProgress(id, 100)
		m.setState(id, StateCompleted, "")
		logging.LogFetchComplete(id, modelID)
	case OutcomeCancelled:
		m.setState(id, StateCancelled, "")
	case OutcomeFailed:
		msg := res.Err.Error()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		m.setState(id, StateFailed, msg)
		logging.LogFetchError(id, modelID, res.Err)
	}

	m.mu.Lock()
	delete(m.inflight, modelID)
	delete(m.handles, id)
	m.mu.Unlock()
}

func (m *Manager) updateProgress(id string, p int) {
	prev, cur, err := m.reg.SetProgress(id, p)
	if err != nil || cur == prev {
		return
	}
	it := m.reg.Get(id)
	if it == nil {
		return
	}
	logging.LogFetchProgress(id, it.ModelID, cur)
	if it.DBID > 0 && m.hooks != nil {
		go m.hooks.OnProgress(it.DBID, cur)
	}
}

func (m *Manager) setState(id string, state State, errMsg string) {
	_ = m.reg.SetState(id, state, errMsg)
	it := m.reg.Get(id)
	if it == nil {
		return
	}
	logging.LogFetchStateChange(id, it.ModelID, string(state))
	if it.DBID > 0 && m.hooks != nil {
		go m.hooks.OnStateChange(it.DBID, state, errMsg)
	}
}
