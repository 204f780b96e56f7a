package review

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage identifies where a review session is in the pipeline.
type Stage string

const (
	StageClassifying          Stage = "classifying"
	StageAwaitingConfirmation Stage = "awaiting-confirmation"
	StageReviewingLowRisk     Stage = "reviewing-low-risk"
	StageReviewingHighRisk    Stage = "reviewing-high-risk"
	StageCompleted            Stage = "completed"
)

// ErrSessionNotFound is returned when a stage call references an unknown or
// cancelled session id.
var ErrSessionNotFound = errors.New("review session not found")

// Session is one in-flight review, owned exclusively by the Registry.
type Session struct {
	ID              string
	ProjectPath     string
	Files           []string
	Stage           Stage
	Classifications []FileClassification
	LowRiskFiles    []string
	HighRiskFiles   []string
	HighRiskCursor  int
	CreatedAt       time.Time
}

// Registry holds in-flight review sessions keyed by session id. All access
// goes through the registry; callers receive copies, never shared pointers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session. If id is empty a new one is generated.
// Creating a session with an id already in use is an error: there is exactly
// one session instance per id.
func (r *Registry) Create(id, projectPath string, files []string) (Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return Session{}, fmt.Errorf("session %s already exists", id)
	}
	s := &Session{
		ID:          id,
		ProjectPath: projectPath,
		Files:       append([]string(nil), files...),
		Stage:       StageClassifying,
		CreatedAt:   time.Now(),
	}
	r.sessions[id] = s
	return *s, nil
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// Update applies fn to the session under the registry lock. It returns
// ErrSessionNotFound if the session no longer exists, which is how stage
// functions detect a cancel that happened while they were waiting on the
// LLM: results for a removed session are discarded, never committed.
func (r *Registry) Update(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	fn(s)
	return nil
}

// Remove deletes the session and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Len returns the number of in-flight sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
