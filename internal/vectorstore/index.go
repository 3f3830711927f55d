package vectorstore

import (
	"context"
	"errors"
	"sort"
)

// ContentKey is the payload key holding the indexed document text.
const ContentKey = "content"

// ErrNotFound is returned by Get when no point has the requested id.
var ErrNotFound = errors.New("vectorstore: point not found")

// Filter restricts queries to points whose payload matches every key exactly.
type Filter map[string]string

// Hit is a single point returned from the index.
// Distance is cosine distance (1 - cosine similarity); 0 means identical.
type Hit struct {
	ID       string
	Distance float32
	Payload  map[string]string
	Vector   []float32
}

// Index is the nearest-neighbour capability the memory store is built on.
type Index interface {
	// Upsert inserts or replaces the point with the given id.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
	Delete(ctx context.Context, id string) error
	// Query returns at most k points ordered by ascending distance.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)
	Get(ctx context.Context, id string) (*Hit, error)
	// Scan returns every point matching filter, in no particular order.
	Scan(ctx context.Context, filter Filter) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// sortHits orders hits by ascending distance.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
}
