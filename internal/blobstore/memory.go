package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. The Fail* fields inject errors for the
// matching operation, which lets callers exercise their failure paths.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    error
	FailDelete error
	FailList   error

	puts    int
	deletes int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put stores a copy of data
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.FailPut != nil {
		return m.FailPut
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the object
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the object
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.FailDelete != nil {
		return m.FailDelete
	}
	if _, ok := m.objects[key]; !ok {
		return ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

// List returns the sorted keys starting with prefix
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailList != nil {
		return nil, m.FailList
	}
	keys := []string{}
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

// SetFailures replaces the injected errors under the lock
func (m *Memory) SetFailures(put, del, list error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailPut, m.FailDelete, m.FailList = put, del, list
}

// Calls reports how many Put and Delete calls were made
func (m *Memory) Calls() (puts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts, m.deletes
}
