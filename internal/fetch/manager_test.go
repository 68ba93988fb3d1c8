package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelfetch/internal/asset"
)

// recordingHooks captures persistence callbacks for assertions.
type recordingHooks struct {
	mu       sync.Mutex
	progress []hookProgress
	states   []hookState
}

type hookProgress struct {
	dbID     int64
	progress int
}

type hookState struct {
	dbID  int64
	state State
	msg   string
}

func (h *recordingHooks) OnProgress(dbID int64, progress int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, hookProgress{dbID, progress})
}

func (h *recordingHooks) OnStateChange(dbID int64, state State, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, hookState{dbID, state, errMsg})
}

func (h *recordingHooks) sawState(dbID int64, state State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.states {
		if s.dbID == dbID && s.state == state {
			return true
		}
	}
	return false
}

func (h *recordingHooks) sawProgress(dbID int64, progress int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.progress {
		if p.dbID == dbID && p.progress == progress {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *asset.Locator) {
	t.Helper()
	loc := asset.NewLocator(t.TempDir())
	return NewManager(New(loc, opts...), loc, 16), loc
}

// slowServer streams a large body in small flushed chunks until the request
// context is cancelled, keeping an attempt in flight as long as the test
// needs it.
func slowServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(64<<20))
		fl := w.(http.Flusher)
		for {
			if _, err := w.Write(make([]byte, 8192)); err != nil {
				return
			}
			fl.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureAlreadyPresentSkipsNetwork(t *testing.T) {
	client := &countingClient{inner: http.DefaultClient}
	loc := asset.NewLocator(t.TempDir())
	mgr := NewManager(New(loc, WithHTTPClient(client)), loc, 16)

	d := asset.Descriptor{ID: "chat-7b", SourceURL: "https://example.com/x", LocalPath: "chat-7b.gguf"}
	require.NoError(t, os.WriteFile(loc.Path(d), []byte("weights"), 0o644))

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyPresent, tk.Outcome)
	require.Nil(t, tk.Handle)
	require.Equal(t, loc.Path(d), tk.Path)
	require.Equal(t, 0, client.count())
}

func TestEnsureRunsFetchToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	mgr, loc := newTestManager(t)
	d := asset.Descriptor{ID: "embed-small", SourceURL: srv.URL, LocalPath: "embed-small.bin"}

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	require.NotEmpty(t, tk.AttemptID)
	require.NotNil(t, tk.Handle)

	res := tk.Handle.Wait()
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.True(t, loc.Exists(d))

	require.Eventually(t, func() bool {
		items := mgr.Snapshot(tk.AttemptID)
		return len(items) == 1 && items[0].State == StateCompleted && items[0].Progress == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnsureSerializesPerModel(t *testing.T) {
	srv := slowServer(t)

	mgr, _ := newTestManager(t)
	d := asset.Descriptor{ID: "chat-7b", SourceURL: srv.URL, LocalPath: "chat-7b.gguf"}

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)

	_, err = mgr.Ensure(context.Background(), d)
	require.ErrorIs(t, err, ErrFetchInProgress)

	require.NoError(t, mgr.Cancel(tk.AttemptID))
	require.Equal(t, OutcomeCancelled, tk.Handle.Wait().Outcome)

	// Once the attempt resolves, the model becomes fetchable again.
	require.Eventually(t, func() bool {
		_, err := mgr.Ensure(context.Background(), d)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	mgr.Shutdown()
}

func TestCancelUnknownAttempt(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.ErrorIs(t, mgr.Cancel("never-issued"), ErrUnknownAttempt)
}

func TestCancelTerminalAttemptIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	d := asset.Descriptor{ID: "embed-small", SourceURL: srv.URL, LocalPath: "embed-small.bin"}

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	tk.Handle.Wait()

	require.Eventually(t, func() bool {
		return mgr.Cancel(tk.AttemptID) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerHooksObserveLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "16384")
		_, _ = w.Write(make([]byte, 16384))
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	mgr, _ := newTestManager(t, WithChunkSize(4096))
	mgr.SetHooks(hooks)

	d := asset.Descriptor{ID: "embed-small", SourceURL: srv.URL, LocalPath: "embed-small.bin"}
	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	mgr.AttachDB(tk.AttemptID, 42)

	require.Equal(t, OutcomeCompleted, tk.Handle.Wait().Outcome)

	require.Eventually(t, func() bool {
		return hooks.sawState(42, StateCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

// failingClient rejects every request, resolving an attempt terminally as
// fast as an unreachable host would.
type failingClient struct{}

func (failingClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestAttachAfterTerminalReplaysState(t *testing.T) {
	loc := asset.NewLocator(t.TempDir())
	mgr := NewManager(New(loc, WithHTTPClient(failingClient{})), loc, 16)
	hooks := &recordingHooks{}
	mgr.SetHooks(hooks)

	d := asset.Descriptor{ID: "chat-7b", SourceURL: "http://198.51.100.1/x", LocalPath: "chat-7b.gguf"}
	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, tk.Handle.Wait().Outcome)

	require.Eventually(t, func() bool {
		items := mgr.Snapshot(tk.AttemptID)
		return len(items) == 1 && items[0].State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	// The row was only created after the attempt had already resolved.
	mgr.AttachDB(tk.AttemptID, 42)

	items := mgr.Snapshot(tk.AttemptID)
	require.Len(t, items, 1)
	require.EqualValues(t, 42, items[0].DBID, "attach must reach terminal attempts")

	require.Eventually(t, func() bool {
		return hooks.sawState(42, StateFailed)
	}, 2*time.Second, 10*time.Millisecond, "terminal state must be replayed to the hooks")
}

func TestCompletionReportsFinalProgressToHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write(make([]byte, 4096))
			fl.Flush() // undeclared length: progress stays indeterminate
		}
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	mgr, _ := newTestManager(t, WithChunkSize(4096))
	mgr.SetHooks(hooks)

	d := asset.Descriptor{ID: "embed-small", SourceURL: srv.URL, LocalPath: "embed-small.bin"}
	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	mgr.AttachDB(tk.AttemptID, 7)

	require.Equal(t, OutcomeCompleted, tk.Handle.Wait().Outcome)

	// Even with an indeterminate length the completed attempt must settle
	// the persisted progress at 100, not leave it at the sentinel.
	require.Eventually(t, func() bool {
		return hooks.sawProgress(7, 100) && hooks.sawState(7, StateCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnsureFailureRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	d := asset.Descriptor{ID: "chat-7b", SourceURL: srv.URL, LocalPath: "chat-7b.gguf"}

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)
	res := tk.Handle.Wait()
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, ErrNetwork)

	require.Eventually(t, func() bool {
		items := mgr.Snapshot(tk.AttemptID)
		return len(items) == 1 && items[0].State == StateFailed && items[0].Error != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownCancelsInflightAndRejectsNewWork(t *testing.T) {
	srv := slowServer(t)

	mgr, loc := newTestManager(t)
	d := asset.Descriptor{ID: "chat-7b", SourceURL: srv.URL, LocalPath: "chat-7b.gguf"}

	tk, err := mgr.Ensure(context.Background(), d)
	require.NoError(t, err)

	mgr.Shutdown()

	res, ok := tk.Handle.Result()
	require.True(t, ok, "Shutdown must wait for attempts to resolve")
	require.Equal(t, OutcomeCancelled, res.Outcome)
	require.False(t, loc.Exists(d))

	_, err = mgr.Ensure(context.Background(), d)
	require.ErrorIs(t, err, ErrShuttingDown)
}
