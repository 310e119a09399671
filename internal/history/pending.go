package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
)

// PendingFileName is the name of the failed-remote-delete queue
const PendingFileName = "pending-deletes.json"

// PendingDeletes is the durable set of remote keys whose delete failed
// after the local delete succeeded. These are the only remote objects
// reconciliation removes without being asked to prune. Like Store, it does
// no locking of its own.
type PendingDeletes struct {
	filePath string
}

// NewPendingDeletes creates a queue backed by the document at filePath
func NewPendingDeletes(filePath string) *PendingDeletes {
	return &PendingDeletes{filePath: filePath}
}

// Path returns the document location
func (p *PendingDeletes) Path() string {
	return p.filePath
}

// Keys returns the queued keys in the order they were added. A missing
// document is an empty queue.
func (p *PendingDeletes) Keys() ([]string, error) {
	data, err := os.ReadFile(p.filePath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending deletes: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse pending deletes: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Add queues key. Adding a queued key is a no-op.
func (p *PendingDeletes) Add(key string) error {
	keys, err := p.Keys()
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return p.write(append(keys, key))
}

// Remove drops keys from the queue. Unknown keys are ignored.
func (p *PendingDeletes) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	current, err := p.Keys()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(current), func(k string) bool {
		return slices.Contains(keys, k)
	})
	if len(kept) == len(current) {
		return nil
	}
	return p.write(kept)
}

func (p *PendingDeletes) write(keys []string) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pending deletes: %w", err)
	}
	if err := writeFileAtomic(p.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write pending deletes: %w", err)
	}
	return nil
}
