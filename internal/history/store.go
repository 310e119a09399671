package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultFileName is the name of the saved-chats document
const DefaultFileName = "chats.json"

// ErrCorrupt is returned when the saved-chats document cannot be decoded
// or holds entries that fail validation
var ErrCorrupt = errors.New("saved chats document is corrupt")

// Store is the durable local copy of the session list: one JSON array
// document, newest session first. Store itself does no locking; callers
// serialize read-modify-write sequences.
type Store struct {
	filePath string
}

// NewStore creates a store backed by the document at filePath
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Path returns the document location
func (s *Store) Path() string {
	return s.filePath
}

// Ensure creates the document as an empty list if it does not exist yet.
// Concurrent callers race on an exclusive create, so exactly one of them
// writes the empty list and the others leave the file alone.
func (s *Store) Ensure() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	f, err := os.OpenFile(s.filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}

	if _, err := f.WriteString("[]"); err != nil {
		f.Close()
		return fmt.Errorf("failed to initialize history file: %w", err)
	}
	return f.Close()
}

// Read loads the session list. A missing or empty document is an empty list.
func (s *Store) Read() ([]Session, error) {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return []Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	return Decode(data)
}

// Write replaces the document with sessions
func (s *Store) Write(sessions []Session) error {
	data, err := Encode(sessions)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable document aside and returns where it went.
// Backups are never overwritten.
func (s *Store) Quarantine() (string, error) {
	stamp := time.Now().UnixNano()
	backupPath := s.backupPath(stamp)
	for {
		if _, err := os.Lstat(backupPath); errors.Is(err, os.ErrNotExist) {
			break
		}
		stamp++
		backupPath = s.backupPath(stamp)
	}

	if err := os.Rename(s.filePath, backupPath); err != nil {
		return "", fmt.Errorf("failed to quarantine history file: %w", err)
	}
	return backupPath, nil
}

func (s *Store) backupPath(stamp int64) string {
	return s.filePath + ".corrupt-" + strconv.FormatInt(stamp, 10)
}

// Recover moves a corrupt document aside and writes back the entries that
// still validate. It returns the kept sessions and the backup location.
func (s *Store) Recover() ([]Session, string, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read history file: %w", err)
	}

	backup, err := s.Quarantine()
	if err != nil {
		return nil, "", err
	}

	kept := Salvage(data)
	if err := s.Write(kept); err != nil {
		return nil, backup, err
	}
	return kept, backup, nil
}

// PendingDeletes returns the queue of failed remote deletes kept next to
// the document
func (s *Store) PendingDeletes() *PendingDeletes {
	return NewPendingDeletes(filepath.Join(filepath.Dir(s.filePath), PendingFileName))
}

// Encode renders sessions in the document format
func Encode(sessions []Session) ([]byte, error) {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}

// Decode parses and validates a document
func Decode(data []byte) ([]Session, error) {
	if len(data) == 0 {
		return []Session{}, nil
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sessions == nil {
		sessions = []Session{}
	}

	for _, session := range sessions {
		if err := session.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return sessions, nil
}

// Salvage decodes a document entry by entry and keeps the sessions that
// validate. A document that is not a JSON array yields an empty list.
func Salvage(data []byte) []Session {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return []Session{}
	}

	kept := make([]Session, 0, len(entries))
	for _, entry := range entries {
		var session Session
		if err := json.Unmarshal(entry, &session); err != nil {
			continue
		}
		if session.Validate() != nil {
			continue
		}
		kept = append(kept, session)
	}
	return kept
}

// writeFileAtomic writes to a temp file in the same directory, syncs it,
// and renames it over path so readers see either the old or the new list.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
