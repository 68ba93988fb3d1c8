package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"modelfetch/internal/asset"
	"modelfetch/internal/fetch"
	"modelfetch/internal/logging"
	"modelfetch/internal/store"
)

type fetchManager interface {
	Ensure(ctx context.Context, d asset.Descriptor) (*fetch.Ticket, error)
	Cancel(attemptID string) error
	AttachDB(attemptID string, dbID int64)
	Snapshot(id string) []*fetch.Item
}

type rateLimiter interface {
	Allow(key string) bool
}

// New returns an http.Handler with routes and middleware wired.
// A nil store disables DB-backed history and the websocket feed.
func New(mgr fetchManager, man *asset.Manifest, loc *asset.Locator, st *store.Store) http.Handler {
	rl := newIPRateLimiter(60, time.Minute) // 60 req/min/IP
	mux := http.NewServeMux()

	mux.HandleFunc("/api/fetch", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.Model == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		d, ok := man.Lookup(req.Model)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "unknown_model"})
			return
		}

		// The fetch outlives this request; its lifetime is owned by the
		// manager, not the request context.
		ticket, err := mgr.Ensure(context.Background(), d)
		if err != nil {
			switch {
			case errors.Is(err, fetch.ErrFetchInProgress):
				writeJSON(w, http.StatusConflict, map[string]any{"status": "error", "message": "fetch_in_progress"})
			case errors.Is(err, fetch.ErrShuttingDown):
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "shutting_down"})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
			return
		}
		if ticket.Outcome == fetch.OutcomeAlreadyPresent {
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "already_present", "path": ticket.Path})
			return
		}

		if st != nil {
			if dbid, err := st.CreateFetch(r.Context(), d.ID, d.SourceURL, "fetching", 0); err == nil {
				mgr.AttachDB(ticket.AttemptID, dbid)
				writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "fetching", "id": ticket.AttemptID, "db_id": dbid})
				return
			} else {
				log.Printf("db create error: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "fetching", "id": ticket.AttemptID})
	}))

	mux.HandleFunc("/api/cancel", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		if err := mgr.Cancel(req.ID); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "unknown_attempt"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": "cancelling"})
	}))

	mux.HandleFunc("/api/status", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id := r.URL.Query().Get("id")
		items := mgr.Snapshot(id)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "fetches": items})
	}))

	mux.HandleFunc("/api/models", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		type modelEntry struct {
			ID        string `json:"id"`
			SourceURL string `json:"source_url,omitempty"`
			Path      string `json:"path"`
			Present   bool   `json:"present"`
		}
		out := make([]modelEntry, 0, len(man.Models))
		for _, d := range man.Models {
			out = append(out, modelEntry{
				ID:        d.ID,
				SourceURL: logging.RedactURL(d.SourceURL),
				Path:      loc.Path(d),
				Present:   loc.Exists(d),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "models": out})
	}))

	// DB-backed history; only registered if a store is provided via main.
	if st != nil {
		mux.HandleFunc("/api/fetches", with(rl, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			q := r.URL.Query()
			f := store.ListFilter{
				Status:  q.Get("status"),
				ModelID: q.Get("model"),
				Sort:    q.Get("sort"),
				Order:   q.Get("order"),
			}
			items, err := st.ListFetches(r.Context(), f)
			if err != nil {
				log.Printf("list fetches: %v", err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "fetches": items})
		}))

		mux.HandleFunc("/ws", serveWS(st))
	}

	// Healthcheck
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Add minimal logging + recover
	return recoverer(logger(mux))
}

// Utilities

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "error", "message": "method_not_allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Middleware

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "rate_limited"})
			return
		}
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// The websocket connection hijacks the writer and logs itself.
		if r.URL.Path == "/ws" {
			return
		}
		logging.LogHTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, time.Since(start), rec.status)
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Printf("panic: %v", v)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Respect common proxy headers, then fall back to RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// Simple token bucket per IP with fixed refill interval and capacity.
type ipRateLimiter struct {
	cap     int
	refill  time.Duration
	buckets map[string]*bucket
	// protect buckets
	mu sync.Mutex
}

type bucket struct {
	tokens int
	last   time.Time
}

func newIPRateLimiter(cap int, refill time.Duration) *ipRateLimiter {
	return &ipRateLimiter{cap: cap, refill: refill, buckets: make(map[string]*bucket)}
}

func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{tokens: rl.cap - 1, last: now}
		rl.buckets[key] = b
		return true
	}
	// refill if interval passed
	if d := now.Sub(b.last); d >= rl.refill {
		// reset once per interval
		b.tokens = rl.cap
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
