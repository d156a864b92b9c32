package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"murmur/internal/domain"
	"murmur/internal/kv"
)

// DefaultHistoryLimit caps how many transcripts are kept.
const DefaultHistoryLimit = 1000

var historyPrefix = kv.Key{"history"}

// History keeps delivered transcripts newest first.
type History struct {
	kv    kv.Store
	limit int

	// mu serializes add/trim so the cap holds under concurrent writers.
	mu sync.Mutex
}

func NewHistory(store kv.Store, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{kv: store, limit: limit}
}

// historyKey sorts newest first under lexicographic iteration.
func historyKey(item domain.TranscriptItem) kv.Key {
	rev := math.MaxInt64 - item.CreatedAt.UnixNano()
	return kv.Key{"history", fmt.Sprintf("%019d", rev), item.ID}
}

func (h *History) Add(ctx context.Context, item domain.TranscriptItem) error {
	data, err := encode(item)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.kv.Set(ctx, historyKey(item), data); err != nil {
		return fmt.Errorf("save history item: %w", err)
	}
	return h.trimLocked(ctx)
}

func (h *History) trimLocked(ctx context.Context) error {
	var stale []kv.Key
	n := 0
	for entry, err := range h.kv.List(ctx, historyPrefix) {
		if err != nil {
			return err
		}
		n++
		if n > h.limit {
			stale = append(stale, entry.Key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return h.kv.BatchDelete(ctx, stale)
}

func (h *History) List(ctx context.Context, page, pageSize int) ([]domain.TranscriptItem, error) {
	items, err := h.matching(ctx, "")
	if err != nil {
		return nil, err
	}
	return paginate(items, page, pageSize), nil
}

// Search matches a case-insensitive substring of the text. A blank query matches everything.
func (h *History) Search(ctx context.Context, query string, page, pageSize int) ([]domain.TranscriptItem, error) {
	items, err := h.matching(ctx, query)
	if err != nil {
		return nil, err
	}
	return paginate(items, page, pageSize), nil
}

func (h *History) Count(ctx context.Context, query string) (int, error) {
	items, err := h.matching(ctx, query)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (h *History) ClearAll(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var keys []kv.Key
	for entry, err := range h.kv.List(ctx, historyPrefix) {
		if err != nil {
			return err
		}
		keys = append(keys, entry.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	return h.kv.BatchDelete(ctx, keys)
}

func (h *History) matching(ctx context.Context, query string) ([]domain.TranscriptItem, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	var items []domain.TranscriptItem
	for entry, err := range h.kv.List(ctx, historyPrefix) {
		if err != nil {
			return nil, err
		}
		var item domain.TranscriptItem
		if err := decode(entry.Value, &item); err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(item.Text), needle) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
