package cli

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/autosync/internal/autosave"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/config"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/engine"
	"github.com/roach88/autosync/internal/syncerr"
)

// maxRecordBytes bounds a working copy posted to the control API.
const maxRecordBytes = 1 << 20

// schedulerIdle is how long a clean per-entity scheduler is kept after its
// last request.
const schedulerIdle = 5 * time.Minute

// controlAPI is the local HTTP surface of "autosync run". Editors post their
// working copies to it and the daemon autosaves them.
//
//	GET  /status                    sync status
//	POST /sync                      queue a reconciliation pass
//	PUT  /entities/{kind}/{id}      replace the working copy (debounced save)
//	POST /entities/{kind}/{id}/save save the working copy now
//	GET  /metrics                   Prometheus metrics
type controlAPI struct {
	eng     *engine.Engine
	cfg     *config.Config
	metrics http.Handler
	logger  *slog.Logger
	clock   clock.Clock
	idle    time.Duration

	mu      sync.Mutex
	entries map[string]*apiEntry // by kind/id
}

// apiEntry is one entity's scheduler. busy counts requests using it; an
// entry is only evicted when it is idle, not busy and has nothing unsaved.
type apiEntry struct {
	sched   *autosave.Scheduler
	touched time.Time
	busy    int
}

func newControlAPI(eng *engine.Engine, cfg *config.Config, metrics http.Handler, logger *slog.Logger) *controlAPI {
	return &controlAPI{
		eng:     eng,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		clock:   clock.Wall{},
		idle:    schedulerIdle,
		entries: make(map[string]*apiEntry),
	}
}

func (a *controlAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", a.handleStatus)
	r.Post("/sync", a.handleSync)
	r.Route("/entities/{kind}/{id}", func(r chi.Router) {
		r.Put("/", a.handleSet)
		r.Post("/save", a.handleSave)
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}
	return r
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Syncing  bool       `json:"syncing"`
	Pending  int        `json:"pending"`
	LastSync *time.Time `json:"lastSync,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
}

func (a *controlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.eng.Status()
	resp := StatusResponse{Syncing: st.IsSyncing, Pending: st.PendingChanges, LastSync: st.LastSyncTime}
	for _, err := range st.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *controlAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	if !a.eng.RequestSync() {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "engine is shutting down")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (a *controlAPI) handleSet(w http.ResponseWriter, r *http.Request) {
	entry, rec, ok := a.prepare(w, r)
	if !ok {
		return
	}
	defer a.release(entry)
	entry.sched.Set(rec)
	writeJSON(w, http.StatusAccepted, map[string]bool{"dirty": entry.sched.IsDirty()})
}

func (a *controlAPI) handleSave(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	entry, err := a.acquire(kind, id, false)
	if err != nil {
		writeError(w, http.StatusNotFound, "UNKNOWN_KIND", err.Error())
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, SaveResult{
			Kind:    kind,
			ID:      id,
			Skipped: autosave.SkipEmpty,
			Pending: a.eng.Status().PendingChanges,
		})
		return
	}
	defer a.release(entry)
	res, err := entry.sched.SaveNow(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if syncerr.IsStoreUnavailable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, ErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SaveResult{
		Kind:    kind,
		ID:      id,
		Path:    string(res.Path),
		Skipped: res.Skipped,
		Pending: a.eng.Status().PendingChanges,
		Record:  res.Record,
	})
}

// prepare decodes the working copy and forces its id to the URL's.
func (a *controlAPI) prepare(w http.ResponseWriter, r *http.Request) (*apiEntry, doc.Object, bool) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	if !a.cfg.HasEntity(kind) {
		writeError(w, http.StatusNotFound, "UNKNOWN_KIND", "unknown entity kind "+kind)
		return nil, nil, false
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return nil, nil, false
	}
	if len(data) > maxRecordBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "BAD_BODY", "record too large")
		return nil, nil, false
	}
	rec, err := doc.ParseObject(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "body must be a JSON object")
		return nil, nil, false
	}
	entry, err := a.acquire(kind, id, true)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrorCode(err), err.Error())
		return nil, nil, false
	}
	return entry, rec.With("id", doc.String(id)), true
}

// acquire returns the entry for one entity and marks it busy. Each entity
// gets its own scheduler so edits to different records never coalesce. With
// create false a missing entry yields nil.
func (a *controlAPI) acquire(kind, id string, create bool) (*apiEntry, error) {
	if !a.cfg.HasEntity(kind) {
		return nil, errors.New("unknown entity kind " + kind)
	}
	key := kind + "/" + id
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[key]
	if !ok {
		if !create {
			return nil, nil
		}
		s, err := a.eng.Autosave(kind, engine.AutosaveOptions{
			OnError: func(err error) {
				a.logger.Warn("autosave failed", "kind", kind, "id", id, "error", err)
			},
		})
		if err != nil {
			return nil, err
		}
		entry = &apiEntry{sched: s}
		a.entries[key] = entry
	}
	entry.busy++
	entry.touched = a.clock.Now()
	return entry, nil
}

func (a *controlAPI) release(entry *apiEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry.busy--
	entry.touched = a.clock.Now()
}

// evictIdle releases schedulers that have been clean and unused for the idle
// window. It returns how many were released.
func (a *controlAPI) evictIdle() int {
	now := a.clock.Now()
	var idle []*autosave.Scheduler
	a.mu.Lock()
	for key, entry := range a.entries {
		if entry.busy > 0 || now.Sub(entry.touched) < a.idle || entry.sched.IsDirty() {
			continue
		}
		delete(a.entries, key)
		idle = append(idle, entry.sched)
	}
	a.mu.Unlock()

	for _, s := range idle {
		a.eng.Release(s)
	}
	if len(idle) > 0 {
		a.logger.Debug("released idle schedulers", "count", len(idle))
	}
	return len(idle)
}

// startEviction runs evictIdle once per idle window until the timer is
// stopped.
func (a *controlAPI) startEviction() clock.Timer {
	return a.clock.Every(a.idle, func() { a.evictIdle() })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, CLIError{Code: code, Message: message})
}
