package provision

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps in-flight provisioning sessions in memory, one record per
// attempt, keyed by session id. Mutations run under a per-session lock so
// concurrent polls never observe a half-applied transition. The target index
// only tracks non-terminal sessions, which is what enforces the
// one-active-session-per-target invariant at Create time.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	active   map[string]string // targetID -> non-terminal session id
}

type sessionEntry struct {
	// targetID is immutable after Create, so index maintenance can read it
	// without taking the entry lock.
	targetID string

	mu      sync.Mutex
	session Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*sessionEntry),
		active:   make(map[string]string),
	}
}

// Create registers a new session for targetID in StateInitializing. It
// fails with ErrConflict while another non-terminal session exists for the
// same target.
func (st *Store) Create(targetID string) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.active[targetID]; exists {
		return Session{}, ErrConflict
	}

	now := time.Now()
	session := Session{
		ID:             uuid.NewString(),
		TargetID:       targetID,
		State:          StateInitializing,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	st.sessions[session.ID] = &sessionEntry{targetID: targetID, session: session}
	st.active[targetID] = session.ID

	return session, nil
}

// Get returns a snapshot of the session.
func (st *Store) Get(id string) (Session, error) {
	entry, err := st.entry(id)
	if err != nil {
		return Session{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session, nil
}

// Update applies mutate to the session under its lock and returns the
// resulting snapshot. If mutate returns an error the session is left
// untouched. A session that becomes terminal is dropped from the active
// index immediately, so a fresh Create for the same target succeeds even
// while the finished record remains pollable.
func (st *Store) Update(id string, mutate func(*Session) error) (Session, error) {
	entry, err := st.entry(id)
	if err != nil {
		return Session{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.session
	if err := mutate(&next); err != nil {
		return entry.session, err
	}
	next.LastActivityAt = time.Now()
	entry.session = next

	if next.State.Terminal() {
		st.mu.Lock()
		if st.active[next.TargetID] == id {
			delete(st.active, next.TargetID)
		}
		st.mu.Unlock()
	}

	return next, nil
}

// Delete removes the session. It is idempotent.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, exists := st.sessions[id]
	if !exists {
		return
	}
	delete(st.sessions, id)
	if st.active[entry.targetID] == id {
		delete(st.active, entry.targetID)
	}
}

// ActiveForTarget returns the id of the non-terminal session for targetID,
// if any.
func (st *Store) ActiveForTarget(targetID string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.active[targetID]
	return id, ok
}

// List returns snapshots of every stored session.
func (st *Store) List() []Session {
	st.mu.RLock()
	entries := make([]*sessionEntry, 0, len(st.sessions))
	for _, entry := range st.sessions {
		entries = append(entries, entry)
	}
	st.mu.RUnlock()

	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		sessions = append(sessions, entry.session)
		entry.mu.Unlock()
	}
	return sessions
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) entry(id string) (*sessionEntry, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	entry, exists := st.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return entry, nil
}
