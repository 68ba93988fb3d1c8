package fetch

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// State tracks one fetch attempt through its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateFetching  State = "fetching"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Item is the observable record of one fetch attempt.
type Item struct {
	ID       string `json:"id"`
	ModelID  string `json:"model_id"`
	URL      string `json:"url"`
	Progress int    `json:"progress"` // 0-100, or -1 for indeterminate
	State    State  `json:"state"`
	Error    string `json:"error,omitempty"`

	// Optional database binding for persistence updates.
	DBID int64 `json:"db_id,omitempty"`

	startedAt time.Time
	updatedAt time.Time
}

// Registry is a thread-safe store of fetch attempts. Active attempts live in
// a map; terminal attempts move to a bounded LRU so memory stays flat no
// matter how many fetches a long-lived process performs.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*Item
	finished *lru.Cache[string, *Item]
}

// NewRegistry creates a Registry retaining up to retain terminal attempts.
func NewRegistry(retain int) *Registry {
	if retain <= 0 {
		retain = 128
	}
	finished, _ := lru.New[string, *Item](retain)
	return &Registry{
		active:   make(map[string]*Item),
		finished: finished,
	}
}

// Create adds a new queued attempt. Returns an error if the ID is taken.
func (r *Registry) Create(id, modelID, url string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		return nil, fmt.Errorf("attempt %s already exists", id)
	}
	it := &Item{
		ID:        id,
		ModelID:   modelID,
		URL:       url,
		State:     StateQueued,
		startedAt: time.Now(),
		updatedAt: time.Now(),
	}
	r.active[id] = it
	cp := *it
	return &cp, nil
}

// Get returns a copy of the attempt, or nil if unknown.
func (r *Registry) Get(id string) *Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if it, ok := r.active[id]; ok {
		cp := *it
		return &cp
	}
	if it, ok := r.finished.Get(id); ok {
		cp := *it
		return &cp
	}
	return nil
}

// Update atomically mutates an active attempt. Terminal transitions move the
// item into the finished cache.
func (r *Registry) Update(id string, fn func(*Item)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.active[id]
	if !ok {
		return fmt.Errorf("attempt %s not found", id)
	}
	fn(it)
	it.updatedAt = time.Now()
	if it.State.Terminal() {
		delete(r.active, id)
		r.finished.Add(id, it)
	}
	return nil
}

// SetProgress records progress for an attempt. Determinate values only ever
// increase; the indeterminate sentinel is recorded only before any real
// percentage has been seen. Returns the previous and effective values.
func (r *Registry) SetProgress(id string, progress int) (prev, cur int, err error) {
	err = r.Update(id, func(it *Item) {
		prev = it.Progress
		cur = prev
		if progress == IndeterminateProgress {
			if it.Progress <= 0 {
				it.Progress = IndeterminateProgress
				cur = IndeterminateProgress
			}
			return
		}
		if progress > it.Progress {
			it.Progress = progress
			cur = progress
		}
	})
	return prev, cur, err
}

// SetState records a state transition with an optional error message.
func (r *Registry) SetState(id string, state State, errMsg string) error {
	return r.Update(id, func(it *Item) {
		it.State = state
		it.Error = errMsg
	})
}

// Attach binds a database row to the attempt for persistence hooks. Unlike
// Update it also reaches attempts that have already gone terminal, so a row
// created while the attempt was resolving still gets bound. Returns a copy
// of the attempt as of the attach.
func (r *Registry) Attach(id string, dbID int64) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if it, ok := r.active[id]; ok {
		it.DBID = dbID
		it.updatedAt = time.Now()
		cp := *it
		return &cp, nil
	}
	if it, ok := r.finished.Get(id); ok {
		it.DBID = dbID
		cp := *it
		return &cp, nil
	}
	return nil, fmt.Errorf("attempt %s not found", id)
}

// Snapshot returns copies of all known attempts, active and retained. If id
// is non-empty, returns at most that attempt.
func (r *Registry) Snapshot(id string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		if it, ok := r.active[id]; ok {
			cp := *it
			return []*Item{&cp}
		}
		if it, ok := r.finished.Get(id); ok {
			cp := *it
			return []*Item{&cp}
		}
		return []*Item{}
	}

	out := make([]*Item, 0, len(r.active)+r.finished.Len())
	for _, it := range r.active {
		cp := *it
		out = append(out, &cp)
	}
	for _, key := range r.finished.Keys() {
		if it, ok := r.finished.Get(key); ok {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out
}

// ActiveCount returns the number of attempts not yet terminal.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
