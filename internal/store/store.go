// Package store persists transcript history and failed recordings on top of kv.
package store

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned for an unknown failed recording id.
var ErrNotFound = errors.New("failed recording not found")

func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// paginate returns the zero-based page of items.
func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 || page < 0 {
		return nil
	}
	start := page * pageSize
	if start >= len(items) {
		return nil
	}
	end := min(len(items), start+pageSize)
	return items[start:end]
}
