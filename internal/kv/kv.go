// Package kv is a small path-keyed byte store used by the history and retry
// stores. Keys are segment slices joined with ':' on disk.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

const separator = ":"

// Key is a hierarchical path such as Key{"history", "item", id}.
// Segments must not contain ':'.
type Key []string

func (k Key) String() string {
	return strings.Join(k, separator)
}

func (k Key) encode() []byte {
	return []byte(k.String())
}

// prefixBytes adds a trailing separator so "a:b" never matches "a:bc".
func (k Key) prefixBytes() []byte {
	if len(k) == 0 {
		return nil
	}
	return []byte(k.String() + separator)
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), separator))
}

// Entry is one key/value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is implemented by Badger and Memory.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	BatchDelete(ctx context.Context, keys []Key) error
	Close() error
}
