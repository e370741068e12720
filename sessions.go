package cortex

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionStore is the exclusive owner of chatting and workflow sessions.
// Lookup methods return copies; mutation goes through the store so that the
// pending-end protocol and the single-active-workflow invariant cannot be
// bypassed by an external holder of a Session value.
//
// The pending-end protocol: MarkForEnd flags a session instead of tearing it
// down, and FinalizePending — called by the Controller on every
// CYCLE_COMPLETED — flips flagged sessions to their terminal status and
// publishes SESSION_ENDED. Deferring teardown to the cycle boundary is what
// lets the LLM speak its closing line (and TTS play it) before the session
// dies.
type SessionStore struct {
	bus    *EventBus
	logger *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	workflows map[string]*WorkflowSession
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionLogger sets a structured logger for lifecycle reporting.
func WithSessionLogger(l *slog.Logger) SessionStoreOption {
	return func(s *SessionStore) { s.logger = l }
}

// NewSessionStore creates an empty SessionStore publishing lifecycle events
// on bus.
func NewSessionStore(bus *EventBus, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		bus:       bus,
		logger:    slog.Default(),
		sessions:  make(map[string]*Session),
		workflows: make(map[string]*WorkflowSession),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateSession creates a session of the given kind and publishes
// SESSION_STARTED. For SessionWorkflow it enforces the invariant that at
// most one workflow session is active at any moment, returning an
// ErrInvalidInput error when a second one is attempted.
func (s *SessionStore) CreateSession(ctx context.Context, kind SessionKind, workflowType, command string) (string, error) {
	s.mu.Lock()
	if kind == SessionWorkflow {
		for _, w := range s.workflows {
			if w.Status.IsActive() {
				s.mu.Unlock()
				return "", wrapf(ErrInvalidInput, "workflow session %s already active", w.ID)
			}
		}
	}
	now := time.Now()
	base := Session{
		ID:           NewID(),
		Kind:         kind,
		Status:       SessionReady,
		CreatedAt:    now,
		LastActivity: now,
		SessionData:  make(map[string]any),
		Metadata:     make(map[string]any),
	}
	if kind == SessionWorkflow {
		s.workflows[base.ID] = &WorkflowSession{
			Session:      base,
			WorkflowType: workflowType,
			Command:      command,
		}
	} else {
		sess := base
		s.sessions[base.ID] = &sess
	}
	s.mu.Unlock()

	s.bus.Publish(ctx, SessionStarted, map[string]any{
		"session_id":    base.ID,
		"kind":          string(kind),
		"workflow_type": workflowType,
	}, "session_store")
	return base.ID, nil
}

// GetSession returns a copy of the session with the given id, covering both
// chatting and workflow sessions.
func (s *SessionStore) GetSession(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return copySession(sess), true
	}
	if w, ok := s.workflows[id]; ok {
		return copySession(&w.Session), true
	}
	return Session{}, false
}

// GetWorkflowSession returns a copy of the workflow session with the given
// id.
func (s *SessionStore) GetWorkflowSession(id string) (WorkflowSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return WorkflowSession{}, false
	}
	return copyWorkflowSession(w), true
}

// GetActiveSessions returns copies of every session whose status is active.
func (s *SessionStore) GetActiveSessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Status.IsActive() {
			out = append(out, copySession(sess))
		}
	}
	for _, w := range s.workflows {
		if w.Status.IsActive() {
			out = append(out, copySession(&w.Session))
		}
	}
	return out
}

// GetActiveWorkflowSessionIDs returns the ids of active workflow sessions;
// by invariant there is at most one.
func (s *SessionStore) GetActiveWorkflowSessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, w := range s.workflows {
		if w.Status.IsActive() {
			out = append(out, id)
		}
	}
	return out
}

// SetStatus moves a session to the given (non-terminal) status and bumps
// LastActivity. Terminal statuses go through EndSession or the pending-end
// sweep, never through SetStatus.
func (s *SessionStore) SetStatus(id string, status SessionStatus) error {
	if !status.IsActive() {
		return wrapf(ErrInvalidInput, "status %s is terminal; use MarkForEnd or EndSession", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(id)
	if sess == nil {
		return wrapf(ErrSessionNotActive, "session %s not found", id)
	}
	sess.Status = status
	sess.LastActivity = time.Now()
	return nil
}

// MarkForEnd flags a session for finalization at the next cycle boundary.
// The reason decides the terminal status: a reason starting (in any case)
// with "cancel" maps to CANCELLED, one starting with "fail" or "error" to
// FAILED, anything else to COMPLETED.
func (s *SessionStore) MarkForEnd(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(id)
	if sess == nil {
		return wrapf(ErrSessionNotActive, "session %s not found", id)
	}
	if !sess.Status.IsActive() {
		return wrapf(ErrSessionNotActive, "session %s already ended", id)
	}
	sess.PendingEnd = true
	sess.PendingEndReason = reason
	sess.LastActivity = time.Now()
	return nil
}

// EndSession finalizes a session immediately, bypassing the cycle boundary.
// Used when a workflow session fails to start; ordinary teardown, including
// cancellation, goes through MarkForEnd.
func (s *SessionStore) EndSession(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	sess := s.lookupLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return wrapf(ErrSessionNotActive, "session %s not found", id)
	}
	if !sess.Status.IsActive() {
		s.mu.Unlock()
		return wrapf(ErrSessionNotActive, "session %s already ended", id)
	}
	s.finalizeLocked(sess, reason)
	evt := endedEventData(sess, reason)
	s.mu.Unlock()

	s.bus.Publish(ctx, SessionEnded, evt, "session_store")
	return nil
}

// FinalizePending finalizes every session flagged pending_end, publishing
// SESSION_ENDED for each. The Controller calls this exactly once per
// CYCLE_COMPLETED; it is the only place deferred teardown happens.
func (s *SessionStore) FinalizePending(ctx context.Context) []string {
	s.mu.Lock()
	var ended []map[string]any
	var ids []string
	for _, sess := range s.sessions {
		if sess.PendingEnd && sess.Status.IsActive() {
			s.finalizeLocked(sess, sess.PendingEndReason)
			ended = append(ended, endedEventData(sess, sess.PendingEndReason))
			ids = append(ids, sess.ID)
		}
	}
	for _, w := range s.workflows {
		if w.PendingEnd && w.Status.IsActive() {
			s.finalizeLocked(&w.Session, w.PendingEndReason)
			ended = append(ended, endedEventData(&w.Session, w.PendingEndReason))
			ids = append(ids, w.ID)
		}
	}
	s.mu.Unlock()

	for _, data := range ended {
		s.bus.Publish(ctx, SessionEnded, data, "session_store")
	}
	return ids
}

// AddData writes a key into the session's data map. An empty string is a
// present value; presence is what step skipping consults.
func (s *SessionStore) AddData(id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(id)
	if sess == nil {
		return wrapf(ErrSessionNotActive, "session %s not found", id)
	}
	sess.SessionData[key] = value
	sess.LastActivity = time.Now()
	return nil
}

// GetData reads a key from the session's data map, returning fallback when
// the key is absent. Reads never error; an unknown session reports absent.
func (s *SessionStore) GetData(id, key string, fallback any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(id)
	if sess == nil {
		return fallback, false
	}
	v, ok := sess.SessionData[key]
	if !ok {
		return fallback, false
	}
	return v, true
}

// RecordStep appends a step-history entry and updates CurrentStep on a
// workflow session.
func (s *SessionStore) RecordStep(id, stepID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return
	}
	w.StepHistory = append(w.StepHistory, StepHistoryEntry{
		StepID:        stepID,
		ResultSummary: summary,
		Timestamp:     time.Now(),
	})
	w.CurrentStep = stepID
	w.LastActivity = time.Now()
}

// lookupLocked returns the live session pointer for id, or nil. Callers hold
// s.mu.
func (s *SessionStore) lookupLocked(id string) *Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	if w, ok := s.workflows[id]; ok {
		return &w.Session
	}
	return nil
}

// finalizeLocked flips a session to its terminal status per reason. Callers
// hold s.mu and publish SESSION_ENDED after releasing it.
func (s *SessionStore) finalizeLocked(sess *Session, reason string) {
	sess.Status = terminalStatusFor(reason)
	sess.PendingEnd = false
	sess.LastActivity = time.Now()
	s.logger.Debug("session finalized", "session_id", sess.ID, "status", sess.Status, "reason", reason)
}

func endedEventData(sess *Session, reason string) map[string]any {
	return map[string]any{
		"session_id": sess.ID,
		"kind":       string(sess.Kind),
		"status":     string(sess.Status),
		"reason":     reason,
	}
}

// terminalStatusFor maps a recorded end reason onto the terminal status:
// cancellation reasons yield CANCELLED, failure reasons FAILED, everything
// else COMPLETED.
func terminalStatusFor(reason string) SessionStatus {
	switch {
	case hasPrefixFold(reason, "cancel"):
		return SessionCancelled
	case hasPrefixFold(reason, "fail"), hasPrefixFold(reason, "error"):
		return SessionFailed
	default:
		return SessionCompleted
	}
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c, p := s[i], prefix[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != p {
			return false
		}
	}
	return true
}

func copySession(sess *Session) Session {
	out := *sess
	out.SessionData = copyMap(sess.SessionData)
	out.Metadata = copyMap(sess.Metadata)
	return out
}

func copyWorkflowSession(w *WorkflowSession) WorkflowSession {
	out := *w
	out.Session = copySession(&w.Session)
	out.StepHistory = append([]StepHistoryEntry(nil), w.StepHistory...)
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
