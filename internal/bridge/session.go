package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

// PermissionMode is the per-session policy governing tool-call arbitration.
type PermissionMode string

const (
	ModeDefault     PermissionMode = "default"
	ModeAcceptEdits PermissionMode = "acceptEdits"
	ModeBypass      PermissionMode = "bypassPermissions"
	ModePlan        PermissionMode = "plan"
)

// ValidMode reports whether s names a known permission mode.
func ValidMode(s string) bool {
	switch PermissionMode(s) {
	case ModeDefault, ModeAcceptEdits, ModeBypass, ModePlan:
		return true
	}
	return false
}

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrPromptInFlight is returned when a second prompt is issued before the
// first resolves. At most one completion waiter exists per session.
var ErrPromptInFlight = errors.New("a prompt is already in flight for this session")

// completion is the payload delivered to a prompt waiter when the session's
// current assistant message finishes.
type completion struct {
	err *opencode.MessageError // nil on a clean finish
}

// Session is the bridge-side record of one upstream conversation. All
// derived translation state lives here; the session table never shares
// state across sessions.
type Session struct {
	ID  string
	Cwd string

	mu        sync.Mutex
	mode      PermissionMode
	cancelled bool

	// lastText remembers the cumulative text last emitted per part, so the
	// next snapshot can be reduced to its incremental suffix.
	lastText map[string]string

	// pendingSent tracks which tool calls already produced their one
	// pending notification.
	pendingSent map[string]bool

	// toolStatus is the last upstream lifecycle status seen per call, used
	// to collapse repeated snapshots of the same state.
	toolStatus map[string]string

	// pendingCompletion is the single-slot waiter for the next
	// message-completion event. Nil when no prompt is in flight.
	pendingCompletion chan completion

	// stopWorker cancels this session's event worker.
	stopWorker context.CancelFunc
}

func newSession(id, cwd string, mode PermissionMode) *Session {
	return &Session{
		ID:          id,
		Cwd:         cwd,
		mode:        mode,
		lastText:    make(map[string]string),
		pendingSent: make(map[string]bool),
		toolStatus:  make(map[string]string),
	}
}

// Mode returns the current permission mode.
func (s *Session) Mode() PermissionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the permission mode.
func (s *Session) SetMode(mode PermissionMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// MarkCancelled flags the session cancelled. Advisory only: the actual
// interrupt is a separate abort call to the upstream runtime.
func (s *Session) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports whether the session was marked cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// computeDelta returns the suffix of fullText beyond the text already
// emitted for partID and stores fullText as the new baseline. Correct only
// while upstream snapshots are monotonically non-decreasing under the
// prefix relation; a shrinking snapshot yields an empty delta.
func (s *Session) computeDelta(partID, fullText string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lastText[partID]
	s.lastText[partID] = fullText
	if len(fullText) <= len(prev) {
		return ""
	}
	return fullText[len(prev):]
}

// markPendingSent records that the pending notification for callID went
// out. Returns true on the first call for a given callID.
func (s *Session) markPendingSent(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSent[callID] {
		return false
	}
	s.pendingSent[callID] = true
	return true
}

// statusChanged records the upstream status for callID and reports whether
// it differs from the last one seen. Repeated snapshots of the same state
// must not produce duplicate notifications.
func (s *Session) statusChanged(callID, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toolStatus[callID] == status {
		return false
	}
	s.toolStatus[callID] = status
	return true
}

// beginPrompt installs the single-slot completion waiter.
func (s *Session) beginPrompt() (chan completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingCompletion != nil {
		return nil, ErrPromptInFlight
	}
	s.cancelled = false
	ch := make(chan completion, 1)
	s.pendingCompletion = ch
	return ch, nil
}

// endPrompt clears the waiter slot.
func (s *Session) endPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCompletion = nil
}

// resolveCompletion delivers a completion to the waiter, if one exists and
// has not already been resolved. Reports whether the delivery happened.
func (s *Session) resolveCompletion(c completion) bool {
	s.mu.Lock()
	ch := s.pendingCompletion
	s.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- c:
		return true
	default:
		return false
	}
}

// Registry is the session table: explicit scoped accessors instead of an
// ambient global map. Constructed once and owned by the Bridge.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
