// Package blobstore provides the remote object storage that mirrors saved
// sessions. Keys are slash-separated paths such as "<uid>/chats/<id>.json".
package blobstore

import (
	"context"
	"errors"
)

// ErrNotExist is returned when an object is absent
var ErrNotExist = errors.New("object does not exist")

// Store is a flat key/value object store
type Store interface {
	// Put creates or replaces the object at key
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key, or ErrNotExist
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key, or returns ErrNotExist
	Delete(ctx context.Context, key string) error

	// List returns the keys starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying client
	Close() error
}
