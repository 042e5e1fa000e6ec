// Package session keeps best-effort recovery context (route, scroll offsets,
// draft form state) per user, refreshed on every successful save.
//
// Session snapshots are independent of entity correctness: a failed
// checkpoint is logged and never fails the save that triggered it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/store"
)

// DefaultRetention is how long an idle snapshot is kept.
const DefaultRetention = 30 * 24 * time.Hour

// Snapshot is the recovery context for one user. There is one per user,
// overwritten on every checkpoint.
type Snapshot struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	ProjectID       string         `json:"projectId,omitempty"`
	SceneID         string         `json:"sceneId,omitempty"`
	Route           string         `json:"route,omitempty"`
	LastActivity    time.Time      `json:"lastActivity"`
	FormData        map[string]any `json:"formData,omitempty"`
	ScrollPositions map[string]int `json:"scrollPositions,omitempty"`
}

// SnapshotID returns the store key of userID's snapshot.
func SnapshotID(userID string) string {
	return "session-" + userID
}

// Viewport is the host's view of navigation state.
type Viewport interface {
	Route() string
	ScrollOffset() int
	ScrollTo(offset int)
}

// Manager checkpoints and recovers session snapshots.
//
// Thread-safety: safe for concurrent use.
type Manager struct {
	store           store.RecordStore
	changes         *changelog.Log
	clock           clock.Clock
	logger          *slog.Logger
	viewport        Viewport
	retention       time.Duration
	changeRetention time.Duration

	mu        sync.Mutex
	userID    string
	projectID string
	sceneID   string
	formData  map[string]any
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithViewport connects the manager to the host's route and scroll state.
func WithViewport(v Viewport) Option { return func(m *Manager) { m.viewport = v } }

// WithRetention sets how long idle snapshots and synced changes are kept.
func WithRetention(sessions, changes time.Duration) Option {
	return func(m *Manager) {
		if sessions > 0 {
			m.retention = sessions
		}
		if changes > 0 {
			m.changeRetention = changes
		}
	}
}

// WithChangeLog lets Cleanup prune synced offline changes too.
func WithChangeLog(l *changelog.Log) Option { return func(m *Manager) { m.changes = l } }

// New returns a Manager persisting to st.
func New(st store.RecordStore, opts ...Option) *Manager {
	m := &Manager{
		store:           st,
		clock:           clock.Wall{},
		logger:          slog.Default(),
		retention:       DefaultRetention,
		changeRetention: changelog.DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetUser sets the signed-in user. An empty id disables checkpoints.
func (m *Manager) SetUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
}

// User returns the current user id.
func (m *Manager) User() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// SetContext records the project and scene being edited.
func (m *Manager) SetContext(projectID, sceneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectID, m.sceneID = projectID, sceneID
}

// SetFormData stores a draft form value to include in the next checkpoint.
// A nil value removes the key.
func (m *Manager) SetFormData(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil {
		delete(m.formData, key)
		return
	}
	if m.formData == nil {
		m.formData = make(map[string]any)
	}
	m.formData[key] = value
}

// Checkpoint upserts the current user's snapshot. It is a no-op when no
// user is set. Scroll offsets for other routes are carried over from the
// previous snapshot.
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	snap := Snapshot{
		UserID:    m.userID,
		ProjectID: m.projectID,
		SceneID:   m.sceneID,
	}
	if len(m.formData) > 0 {
		snap.FormData = make(map[string]any, len(m.formData))
		for k, v := range m.formData {
			snap.FormData[k] = v
		}
	}
	m.mu.Unlock()

	if snap.UserID == "" {
		return nil
	}
	snap.ID = SnapshotID(snap.UserID)
	snap.LastActivity = m.clock.Now().UTC()

	prev, err := m.load(ctx, snap.UserID)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if prev != nil && len(prev.ScrollPositions) > 0 {
		snap.ScrollPositions = prev.ScrollPositions
	}
	if m.viewport != nil {
		if route := m.viewport.Route(); route != "" {
			snap.Route = route
			if snap.ScrollPositions == nil {
				snap.ScrollPositions = make(map[string]int)
			}
			snap.ScrollPositions[route] = m.viewport.ScrollOffset()
		}
	}

	if err := m.save(ctx, snap); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	m.logger.Debug("session checkpoint", "user_id", snap.UserID, "route", snap.Route)
	return nil
}

// Save writes snap as-is, stamping its id.
func (m *Manager) Save(ctx context.Context, snap Snapshot) error {
	snap.ID = SnapshotID(snap.UserID)
	return m.save(ctx, snap)
}

// Recover returns userID's snapshot, or nil if there is none, and restores
// the scroll offset saved for the viewport's current route.
func (m *Manager) Recover(ctx context.Context, userID string) (*Snapshot, error) {
	snap, err := m.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recover session: %w", err)
	}
	if snap == nil {
		return nil, nil
	}
	if m.viewport != nil {
		if offset, ok := snap.ScrollPositions[m.viewport.Route()]; ok {
			m.viewport.ScrollTo(offset)
		}
	}
	return snap, nil
}

// CleanupResult counts what Cleanup removed.
type CleanupResult struct {
	Sessions int
	Changes  int
}

// Cleanup removes snapshots idle longer than the retention window and, when
// a change log is attached, synced changes past their retention.
func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	cutoff := m.clock.Now().Add(-m.retention)

	n, err := m.store.Prune(ctx, store.StoreSessions, func(rec doc.Object) bool {
		var snap Snapshot
		if err := doc.Decode(rec, &snap); err != nil {
			return false
		}
		return snap.LastActivity.Before(cutoff)
	})
	if err != nil {
		return res, fmt.Errorf("cleanup sessions: %w", err)
	}
	res.Sessions = n

	if m.changes != nil {
		n, err := m.changes.PruneSynced(ctx, m.changeRetention)
		if err != nil {
			return res, fmt.Errorf("cleanup changes: %w", err)
		}
		res.Changes = n
	}

	m.logger.Info("cleanup complete", "sessions_removed", res.Sessions, "changes_removed", res.Changes)
	return res, nil
}

func (m *Manager) load(ctx context.Context, userID string) (*Snapshot, error) {
	rec, ok, err := m.store.Get(ctx, store.StoreSessions, SnapshotID(userID))
	if err != nil || !ok {
		return nil, err
	}
	var snap Snapshot
	if err := doc.Decode(rec, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *Manager) save(ctx context.Context, snap Snapshot) error {
	rec, err := doc.Encode(snap)
	if err != nil {
		return err
	}
	return m.store.Save(ctx, store.StoreSessions, rec)
}
