package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// WorkingMemory is a small bounded buffer of recently relevant memories. It
// holds copies of immutable records and never reads the store on Get.
type WorkingMemory struct {
	mu       sync.RWMutex
	capacity int
	items    []Memory // oldest first

	store  *Store
	logger *zap.Logger
}

func NewWorkingMemory(store *Store, capacity int, logger *zap.Logger) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultOptions().WorkingMemoryCapacity
	}
	return &WorkingMemory{
		capacity: capacity,
		items:    make([]Memory, 0, capacity),
		store:    store,
		logger:   logger,
	}
}

// Admit appends m, evicting the oldest entry at capacity.
func (w *WorkingMemory) Admit(m Memory) {
	m.Embedding = nil
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.items) == w.capacity {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, m)
}

// Get returns up to n entries, most recent first. n above capacity is capped.
func (w *WorkingMemory) Get(n int) ([]Memory, error) {
	if n < 1 {
		return nil, validationf("n must be at least 1")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n > len(w.items) {
		n = len(w.items)
	}
	out := make([]Memory, 0, n)
	for i := len(w.items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, w.items[i])
	}
	return out, nil
}

// Refresh rebuilds the buffer from the store: half of it (rounded up) from the
// most important memories, the rest from the most recent, topping up with
// further important ones when the two sets overlap. The store write lock is
// held from the first read to the swap, so an insert lands either in the
// snapshot or after it.
func (w *WorkingMemory) Refresh(ctx context.Context) ([]Memory, error) {
	var size int
	err := w.store.withWriteLock(func() error {
		important, err := w.store.MostImportant(ctx, w.capacity)
		if err != nil {
			return err
		}
		recent, err := w.store.ListRecent(ctx, w.capacity, "")
		if err != nil {
			return err
		}
		picked := w.pick(important, recent)
		size = len(picked)

		w.mu.Lock()
		w.items = picked
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("working memory refreshed", zap.Int("size", size))
	return w.Get(w.capacity)
}

// pick merges important and recent into at most capacity entries, oldest first.
func (w *WorkingMemory) pick(important, recent []Memory) []Memory {
	half := (w.capacity + 1) / 2
	seen := make(map[string]bool, w.capacity)
	picked := make([]Memory, 0, w.capacity)
	take := func(ms []Memory, limit int) {
		for _, m := range ms {
			if len(picked) >= limit {
				return
			}
			if !seen[m.ID] {
				seen[m.ID] = true
				picked = append(picked, m)
			}
		}
	}
	take(important, half)
	take(recent, w.capacity)
	take(important, w.capacity)

	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].CreatedAt.Before(picked[j].CreatedAt)
	})
	for i := range picked {
		picked[i].Embedding = nil
	}
	return picked
}

func (w *WorkingMemory) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

func (w *WorkingMemory) Capacity() int { return w.capacity }
