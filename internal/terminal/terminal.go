// Package terminal tracks background shell processes spawned through the
// upstream runtime, independent of the conversational event stream.
package terminal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/logging"
)

// ErrNotFound is returned when a terminal id is unknown (or released).
var ErrNotFound = errors.New("terminal not found")

// Status is the lifecycle state of a terminal. Started is the only
// non-terminal state; there is no transition out of a terminal state.
type Status string

const (
	StatusStarted  Status = "started"
	StatusExited   Status = "exited"
	StatusAborted  Status = "aborted"
	StatusKilled   Status = "killed"
	StatusTimedOut Status = "timedOut"
)

// ExitStatus reports how the underlying process ended.
type ExitStatus struct {
	ExitCode *int
	Signal   *string
}

// Terminal is one tracked background process. The id is generated locally;
// MessageID is the upstream handle of the shell invocation.
type Terminal struct {
	ID        string
	SessionID string
	MessageID string

	mu     sync.Mutex
	output string
	status Status
	exit   *ExitStatus

	// done is closed exactly once, when status leaves started.
	done  chan struct{}
	timer *time.Timer
}

// SetOutput stores the latest cumulative output snapshot.
func (t *Terminal) SetOutput(output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(output) >= len(t.output) {
		t.output = output
	}
}

// Snapshot returns the current output, status, and exit status.
func (t *Terminal) Snapshot() (string, Status, *ExitStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output, t.status, t.exit
}

// WaitForExit blocks until the terminal leaves the started state and
// returns the stored exit status. A terminal already in a terminal state
// returns immediately.
func (t *Terminal) WaitForExit(ctx context.Context) (*ExitStatus, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exit != nil {
		return t.exit, nil
	}
	return &ExitStatus{}, nil
}

// Finish moves the terminal to a terminal state exactly once and signals
// all waiters. Later calls are no-ops and report false.
func (t *Terminal) Finish(status Status, exit *ExitStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusStarted {
		return false
	}
	t.status = status
	t.exit = exit
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)
	return true
}

// Kill marks the terminal killed. Best-effort local state only: the
// upstream runtime offers no kill primitive, so there is no confirmation
// that the underlying process stopped.
func (t *Terminal) Kill() {
	t.Finish(StatusKilled, nil)
}

// Registry owns all terminals for the process. Constructed once at startup
// and owned by the bridge.
type Registry struct {
	mu        sync.RWMutex
	terminals map[string]*Terminal
	log       zerolog.Logger
}

// NewRegistry creates an empty terminal registry.
func NewRegistry() *Registry {
	return &Registry{
		terminals: make(map[string]*Terminal),
		log:       logging.Component("terminal"),
	}
}

// Create registers a new terminal in the started state. A non-zero timeout
// moves it to timedOut if it is still running when the timer fires.
func (r *Registry) Create(sessionID, messageID string, timeout time.Duration) *Terminal {
	t := &Terminal{
		ID:        "term_" + ulid.Make().String(),
		SessionID: sessionID,
		MessageID: messageID,
		status:    StatusStarted,
		done:      make(chan struct{}),
	}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, func() {
			if t.Finish(StatusTimedOut, nil) {
				r.log.Warn().Str("terminalID", t.ID).Dur("timeout", timeout).Msg("terminal timed out")
			}
		})
	}

	r.mu.Lock()
	r.terminals[t.ID] = t
	r.mu.Unlock()

	r.log.Debug().Str("terminalID", t.ID).Str("sessionID", sessionID).Msg("terminal created")
	return t
}

// Get looks up a terminal by id.
func (r *Registry) Get(id string) (*Terminal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.terminals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// ByMessage finds the terminal tracking a given upstream message, if any.
func (r *Registry) ByMessage(sessionID, messageID string) (*Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.terminals {
		if t.SessionID == sessionID && t.MessageID == messageID {
			return t, true
		}
	}
	return nil, false
}

// Release discards the local record. A still-running terminal is marked
// aborted first so waiters unblock.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	t, ok := r.terminals[id]
	if ok {
		delete(r.terminals, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t.Finish(StatusAborted, nil)
	return nil
}

// ReleaseSession discards every terminal belonging to a session.
func (r *Registry) ReleaseSession(sessionID string) {
	r.mu.Lock()
	var orphans []*Terminal
	for id, t := range r.terminals {
		if t.SessionID == sessionID {
			orphans = append(orphans, t)
			delete(r.terminals, id)
		}
	}
	r.mu.Unlock()
	for _, t := range orphans {
		t.Finish(StatusAborted, nil)
	}
}
