// Package session implements the Session Manager (spec §4.1): the
// singleton registry of active sessions, admission policy, and the
// stream_id-keyed maps binding sessions to their running pipeline and
// subscriber set.
//
// Grounded on pkg/orchestrator/types.go's ConversationSession
// (mutex-guarded struct with accessor methods) for the per-entity
// shape, and on original_source/src/services/stream_manager.py for the
// admission-ordering discipline. Concurrent shutdown uses
// golang.org/x/sync/errgroup, grounded on MatchaCake-LiveSub and
// MrWong99-glyphoxa's go.mod.
package session

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/transcribe-gateway/internal/apperrors"
	"github.com/lokutor-ai/transcribe-gateway/internal/bus"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidStreamID reports whether id matches the boundary regex from
// spec §8 ("abc-XYZ_01" accepted; "abc/def", "", "abc def" rejected).
func ValidStreamID(id string) bool {
	return id != "" && streamIDPattern.MatchString(id)
}

// PipelineHandle is the narrow surface the Session Manager needs from
// a running pipeline to cancel and await it. internal/pipeline.Pipeline
// satisfies this.
type PipelineHandle interface {
	Stop()
}

type entry struct {
	session  *model.Session
	pipeline PipelineHandle
	bus      *bus.Bus
}

// Manager is the process-wide singleton registry. Construct one with
// New and inject it into the HTTP layer and the pipeline factory.
type Manager struct {
	cap int

	mu       sync.Mutex
	sessions map[string]*entry
}

// New constructs a Manager with the given admission cap.
func New(cap int) *Manager {
	return &Manager{cap: cap, sessions: make(map[string]*entry)}
}

// Create admits a new session for streamID, failing without side
// effects on conflict or capacity. The existence/capacity check and
// the insert happen under the same critical section (spec §4.1
// "Admission ordering").
func (m *Manager) Create(streamID, hlsURL string, opts model.StreamOptions) (*model.Session, error) {
	if !ValidStreamID(streamID) {
		return nil, apperrors.ErrInvalidStreamID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[streamID]; exists {
		return nil, apperrors.ErrAlreadyExists
	}
	if len(m.sessions) >= m.cap {
		return nil, apperrors.ErrAtCapacity
	}

	sess := &model.Session{
		SessionID: newSessionID(),
		StreamID:  streamID,
		Status:    model.StatusPending,
		StartedAt: time.Now(),
		HLSURL:    hlsURL,
		Options:   opts,
	}
	m.sessions[streamID] = &entry{session: sess, bus: bus.New()}
	return sess, nil
}

// Get returns the current Session for streamID, or nil if none exists.
func (m *Manager) Get(streamID string) *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[streamID]
	if !ok {
		return nil
	}
	sessCopy := *e.session
	return &sessCopy
}

// Bus returns the Fan-out Bus for streamID, or nil if no session
// exists.
func (m *Manager) Bus(streamID string) *bus.Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[streamID]
	if !ok {
		return nil
	}
	return e.bus
}

// SetStatus idempotently advances streamID's status. Backward
// transitions are silently rejected (Session.CanAdvanceTo), matching
// spec §3's "status transitions are monotonic forward" invariant.
// Terminal statuses additionally record StoppedAt.
func (m *Manager) SetStatus(streamID string, status model.Status, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[streamID]
	if !ok {
		return
	}
	if !e.session.CanAdvanceTo(status) {
		return
	}
	e.session.Status = status
	if lastError != "" {
		e.session.LastError = lastError
	}
	if status == model.StatusStopped || status == model.StatusError {
		if e.session.StoppedAt.IsZero() {
			e.session.StoppedAt = time.Now()
		}
	}
}

// AttachPipeline binds the running orchestrator handle to streamID.
func (m *Manager) AttachPipeline(streamID string, p PipelineHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[streamID]; ok {
		e.pipeline = p
	}
}

// Remove cancels streamID's attached pipeline, waits for its
// quiescence, drops its subscribers, and removes the entry. Safe to
// call more than once; only the first call has any effect.
func (m *Manager) Remove(streamID string) bool {
	m.mu.Lock()
	e, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.bus.CloseAll()
	if e.pipeline != nil {
		e.pipeline.Stop()
	}
	return true
}

// List returns a stable, stream_id-sorted snapshot of every session
// for the admission API's list() operation.
func (m *Manager) List() []model.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.SessionInfo, 0, len(m.sessions))
	for id, e := range m.sessions {
		out = append(out, model.SessionInfo{
			SessionID:        e.session.SessionID,
			UniqueID:         id,
			Status:           e.session.Status,
			StartedAt:        e.session.StartedAt,
			UptimeSeconds:    time.Since(e.session.StartedAt).Seconds(),
			ConnectedClients: e.bus.Count(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Shutdown removes every session concurrently, bounding total shutdown
// latency to the slowest individual pipeline teardown rather than
// their sum.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			m.Remove(id)
			return nil
		})
	}
	_ = g.Wait()
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
