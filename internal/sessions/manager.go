// Package sessions owns the saved-session list. It is the only code that
// mutates the local document or the remote mirror.
//
// The local document is authoritative: every operation succeeds or fails
// on its local write alone. The remote mirror is best effort, and its
// failures are logged and never returned. A remote delete that fails after
// the local delete succeeded leaves an orphaned object. Its key is queued
// in the pending-deletes document so Reconcile can remove it later without
// touching chats saved from other devices.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"car-assistant/internal/blobstore"
	"car-assistant/internal/history"
	"car-assistant/internal/identity"
)

// ErrNotFound is returned by Get for unknown ids
var ErrNotFound = errors.New("session not found")

// ErrNoRemote is returned by Reconcile when there is no remote store or
// nobody is signed in
var ErrNoRemote = errors.New("remote storage unavailable")

// QuarantineError reports that the local document was corrupt. The
// original was moved to Backup and the Kept sessions that still validated
// were written back in its place. It matches history.ErrCorrupt.
type QuarantineError struct {
	Backup string
	Kept   int
	Err    error
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("saved chats were corrupt: kept %d readable chat(s), original moved to %s: %v", e.Kept, e.Backup, e.Err)
}

func (e *QuarantineError) Unwrap() error {
	return e.Err
}

// Manager coordinates the local document and the remote mirror
type Manager struct {
	mu       sync.Mutex // serializes every read-modify-write of the document
	local    *history.Store
	pending  *history.PendingDeletes
	remote   blobstore.Store
	identity identity.Provider
	logger   *log.Logger
	now      func() time.Time

	list       []history.Session // list as of the last read or write
	quarantine *QuarantineError  // recovery not yet reported to the user
}

// NewManager creates a manager. remote and who may be nil, in which case
// sessions are kept locally only.
func NewManager(local *history.Store, remote blobstore.Store, who identity.Provider, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		local:    local,
		pending:  local.PendingDeletes(),
		remote:   remote,
		identity: who,
		logger:   logger,
		now:      time.Now,
		list:     []history.Session{},
	}
}

// SessionKey is the remote object key of one session
func SessionKey(uid, id string) string {
	return ChatsPrefix(uid) + id + ".json"
}

// ChatsPrefix is the remote folder holding a user's sessions
func ChatsPrefix(uid string) string {
	return uid + "/chats/"
}

// LoadList reads the local document, creating it on first run, and returns
// the sessions newest first. The remote store is never consulted.
//
// If the document was found corrupt since the last report, the recovered
// list is returned together with a *QuarantineError.
func (m *Manager) LoadList(ctx context.Context) ([]history.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.readLocked()
	if err != nil {
		return nil, err
	}
	m.list = sessions
	if q := m.takeQuarantineLocked(); q != nil {
		return cloneList(sessions), q
	}
	return cloneList(sessions), nil
}

// TakeQuarantine returns and clears the unreported document recovery, if
// any. Save and delete recover a corrupt document silently; callers use
// this to tell the user afterwards.
func (m *Manager) TakeQuarantine() *QuarantineError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeQuarantineLocked()
}

func (m *Manager) takeQuarantineLocked() *QuarantineError {
	q := m.quarantine
	m.quarantine = nil
	return q
}

// Sessions returns the list as of the last load, save or delete
func (m *Manager) Sessions() []history.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneList(m.list)
}

// Get returns one saved session
func (m *Manager) Get(ctx context.Context, id string) (history.Session, error) {
	if err := ctx.Err(); err != nil {
		return history.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.readLocked()
	if err != nil {
		return history.Session{}, err
	}
	m.list = sessions
	for _, s := range sessions {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return history.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// SaveSession stores a deep copy of transcript as a new session at the
// head of the list, then mirrors it to the remote store
func (m *Manager) SaveSession(ctx context.Context, transcript history.Transcript) (history.Session, error) {
	if err := ctx.Err(); err != nil {
		return history.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.readLocked()
	if err != nil {
		return history.Session{}, err
	}

	session := history.NewSession(m.nextTimestamp(sessions), transcript)

	updated := make([]history.Session, 0, len(sessions)+1)
	updated = append(updated, session)
	updated = append(updated, sessions...)

	if err := m.local.Write(updated); err != nil {
		return history.Session{}, fmt.Errorf("failed to save session: %w", err)
	}
	m.list = updated
	m.logger.Printf("SESSION_SAVED | session=%s turns=%d", session.ID, len(session.Conversation))

	m.mirror(ctx, session)

	return session.Clone(), nil
}

// DeleteSession removes the session from the local document and then from
// the remote store. Unknown ids are a no-op.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]history.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != id {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == len(sessions) {
		m.list = sessions
		return nil
	}

	if err := m.local.Write(filtered); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.list = filtered
	m.logger.Printf("SESSION_DELETED | session=%s", id)

	m.unmirror(ctx, id)
	return nil
}

// readLocked loads the document, bootstrapping it when absent. A corrupt
// document is moved aside and replaced by its readable entries; the
// recovery is held for the next LoadList or TakeQuarantine.
func (m *Manager) readLocked() ([]history.Session, error) {
	if err := m.local.Ensure(); err != nil {
		return nil, err
	}

	sessions, err := m.local.Read()
	if errors.Is(err, history.ErrCorrupt) {
		kept, backup, rerr := m.local.Recover()
		if rerr != nil {
			return nil, fmt.Errorf("%w (and %v)", err, rerr)
		}
		m.logger.Printf("HISTORY_QUARANTINED | backup=%s kept=%d error=%v", backup, len(kept), err)
		m.quarantine = &QuarantineError{Backup: backup, Kept: len(kept), Err: err}
		return kept, nil
	}
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// nextTimestamp returns the save instant. It is kept strictly after the
// newest session, so the list stays chronological if the clock steps back,
// and moved forward a millisecond at a time while it collides with an
// existing id.
func (m *Manager) nextTimestamp(sessions []history.Session) time.Time {
	taken := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		taken[s.ID] = true
	}

	at := m.now().UTC().Truncate(time.Millisecond)
	if len(sessions) > 0 {
		if head, err := sessions[0].SavedAt(); err == nil && !at.After(head) {
			at = head.Add(time.Millisecond)
		}
	}
	for taken[history.FormatID(at)] {
		at = at.Add(time.Millisecond)
	}
	return at
}

func (m *Manager) currentUser() (string, bool) {
	if m.remote == nil || m.identity == nil {
		return "", false
	}
	return m.identity.UserID()
}

func (m *Manager) mirror(ctx context.Context, session history.Session) {
	uid, ok := m.currentUser()
	if !ok {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		m.logger.Printf("MIRROR_FAILED | session=%s error=%v", session.ID, err)
		return
	}

	key := SessionKey(uid, session.ID)
	if err := m.remote.Put(ctx, key, data); err != nil {
		m.logger.Printf("MIRROR_FAILED | session=%s key=%s error=%v", session.ID, key, err)
		return
	}
	m.logger.Printf("MIRRORED | session=%s key=%s", session.ID, key)
}

func (m *Manager) unmirror(ctx context.Context, id string) {
	uid, ok := m.currentUser()
	if !ok {
		return
	}

	key := SessionKey(uid, id)
	err := m.remote.Delete(ctx, key)
	if err == nil || errors.Is(err, blobstore.ErrNotExist) {
		return
	}
	m.logger.Printf("REMOTE_DELETE_FAILED | session=%s key=%s orphaned=true error=%v", id, key, err)
	if err := m.pending.Add(key); err != nil {
		m.logger.Printf("PENDING_DELETE_FAILED | session=%s key=%s error=%v", id, key, err)
	}
}

// sessionIDFromKey extracts the id from "<uid>/chats/<id>.json"
func sessionIDFromKey(prefix, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ".json")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func cloneList(sessions []history.Session) []history.Session {
	out := make([]history.Session, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}
