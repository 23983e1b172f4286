package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefionn/chatrelay/internal/logger"
)

// Task tracks one in-flight generation. Cancellation is fire and forget:
// callers signal the task and move on, the pipeline unwinds on its own.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewTask wraps a cancel func for the generation's context.
func NewTask(cancel context.CancelFunc) *Task {
	return &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel requests the generation to stop. Safe to call more than once.
func (t *Task) Cancel() {
	t.cancel()
}

// Finish marks the task complete. Called by the pipeline exactly once.
func (t *Task) Finish() {
	t.once.Do(func() { close(t.done) })
}

// Finished reports completion without blocking.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done exposes the completion channel for callers that do want to wait.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

type sessionEntry struct {
	sink Sink
	task *Task
}

// Registry maps live session ids to their connection sink and, while a
// generation runs, its task. One connection per session id at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	log      *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Global()
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		log:      log,
	}
}

// RegisterConn claims a session id for a connection. A second connection
// on the same id is rejected instead of silently stealing the session.
func (r *Registry) RegisterConn(sessionID string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return fmt.Errorf("session %s already has a live connection", sessionID)
	}

	r.sessions[sessionID] = &sessionEntry{sink: sink}
	r.log.Debug("Session registered: %s (%d live)", sessionID, len(r.sessions))
	return nil
}

// UnregisterConn releases the session id and cancels any generation still
// running for it.
func (r *Registry) UnregisterConn(sessionID string) {
	r.mu.Lock()
	entry, exists := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !exists {
		return
	}
	if entry.task != nil && !entry.task.Finished() {
		entry.task.Cancel()
		r.log.Debug("Session %s unregistered with task still running, cancelled", sessionID)
		return
	}
	r.log.Debug("Session unregistered: %s", sessionID)
}

// SetTask attaches the running generation to its session. Returns false
// when the session is no longer registered, in which case the caller
// should cancel the task itself.
func (r *Registry) SetTask(sessionID string, task *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[sessionID]
	if !exists {
		return false
	}
	entry.task = task
	return true
}

// StopTask cancels the session's current generation if one is still
// running. It does not wait for the pipeline to unwind; callers that need
// the unwind to finish wait on the returned task's Done channel. Returns
// nil when nothing live was signalled.
func (r *Registry) StopTask(sessionID string) *Task {
	r.mu.Lock()
	entry, exists := r.sessions[sessionID]
	var task *Task
	if exists {
		task = entry.task
	}
	r.mu.Unlock()

	if task == nil || task.Finished() {
		return nil
	}
	task.Cancel()
	r.log.Debug("Stop requested for session %s", sessionID)
	return task
}

// Sink returns the connection sink for a session, if registered.
func (r *Registry) Sink(sessionID string) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return entry.sink, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
