// Package jobs tracks ingestion jobs in process memory: staged progress,
// terminal latching, and per-job pub/sub for streaming consumers.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectral-ai/corpus-engine/internal/observability"
)

// Status is the coarse lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is the pipeline step a running job is currently in.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageParsing   Stage = "parsing"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// State is an immutable snapshot of a job. Every update emits a fresh copy.
type State struct {
	JobID           string     `json:"job_id"`
	Filename        string     `json:"filename"`
	TenantID        string     `json:"tenant_id,omitempty"`
	Status          Status     `json:"status"`
	Stage           Stage      `json:"stage"`
	TotalChunks     int        `json:"total_chunks"`
	ProcessedChunks int        `json:"processed_chunks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	DocumentID      string     `json:"document_id,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// Patch describes a partial state change. Nil fields inherit the current
// value.
type Patch struct {
	Status          *Status
	Stage           *Stage
	TotalChunks     *int
	ProcessedChunks *int
	Error           *string
	DocumentID      *string
	Message         *string
}

// Listener receives job snapshots. Listeners run on the updater's goroutine
// and must not block.
type Listener func(State)

type entry struct {
	state     State
	listeners map[int]Listener
	nextID    int
}

// Manager is the in-memory job registry. Jobs live for the process lifetime;
// nothing is persisted.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	logger *observability.Logger
}

// NewManager creates an empty registry.
func NewManager(logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Manager{
		jobs:   make(map[string]*entry),
		logger: logger.WithComponent("jobs"),
	}
}

// Create registers a new queued job and returns its initial snapshot.
func (m *Manager) Create(filename, tenantID string) State {
	now := time.Now().UTC()
	st := State{
		JobID:     uuid.NewString(),
		Filename:  filename,
		TenantID:  tenantID,
		Status:    StatusQueued,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[st.JobID] = &entry{state: st, listeners: make(map[int]Listener)}
	m.mu.Unlock()

	m.logger.Info().Str("job_id", st.JobID).Str("filename", filename).Str("tenant_id", tenantID).Msg("job created")
	return st
}

// Get returns the current snapshot of a job.
func (m *Manager) Get(id string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Update applies a patch, bumps updated_at, and emits the new snapshot to
// the job's subscribers. Updates to a job already in a terminal status are
// ignored and return the final snapshot unchanged. A single goroutine owns
// each job's updates, so per-job deliveries are ordered.
func (m *Manager) Update(id string, p Patch) (State, bool) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return State{}, false
	}
	if e.state.Status.Terminal() {
		st := e.state
		m.mu.Unlock()
		return st, true
	}

	if p.Status != nil {
		e.state.Status = *p.Status
	}
	if p.Stage != nil {
		e.state.Stage = *p.Stage
	}
	if p.TotalChunks != nil {
		e.state.TotalChunks = *p.TotalChunks
	}
	if p.ProcessedChunks != nil {
		e.state.ProcessedChunks = *p.ProcessedChunks
	}
	if p.Error != nil {
		e.state.Error = *p.Error
	}
	if p.DocumentID != nil {
		e.state.DocumentID = *p.DocumentID
	}
	if p.Message != nil {
		e.state.Message = *p.Message
	}

	// updated_at is strictly increasing per job even when the clock
	// does not move between updates.
	now := time.Now().UTC()
	if !now.After(e.state.UpdatedAt) {
		now = e.state.UpdatedAt.Add(time.Nanosecond)
	}
	e.state.UpdatedAt = now

	if e.state.Status.Terminal() && e.state.CompletedAt == nil {
		done := now
		e.state.CompletedAt = &done
	}

	st := e.state
	listeners := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
	return st, true
}

// Subscribe attaches a listener to a job. The listener sees every emission
// after this call; it does not receive the current state. The returned
// closure detaches the listener and is safe to call more than once.
func (m *Manager) Subscribe(id string, fn Listener) (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return func() {}, false
	}

	lid := e.nextID
	e.nextID++
	e.listeners[lid] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(e.listeners, lid)
	}, true
}
