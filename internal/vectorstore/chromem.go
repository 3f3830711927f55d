package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemDB is an embedded vector database, persisted to disk when opened with a path.
type ChromemDB struct {
	db *chromem.DB
}

// OpenChromem opens (or creates) a persistent chromem database rooted at path.
// An empty path yields a purely in-memory database.
func OpenChromem(path string, compress bool) (*ChromemDB, error) {
	if path == "" {
		return &ChromemDB{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem %s: %w", path, err)
	}
	return &ChromemDB{db: db}, nil
}

// Collection returns an Index over the named collection, creating it if needed.
// dimension is the embedding size, used to probe the collection on Scan; when 0
// it is learned from the first vector written or read.
func (d *ChromemDB) Collection(name string, dimension int) (*ChromemIndex, error) {
	// Embeddings are always supplied by the caller, the embedding func is never invoked.
	col, err := d.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem collection %s: %w", name, err)
	}
	return &ChromemIndex{col: col, name: name, dim: dimension}, nil
}

// ChromemIndex implements Index on a chromem collection.
type ChromemIndex struct {
	col  *chromem.Collection
	name string

	mu  sync.Mutex
	dim int
}

func (c *ChromemIndex) learnDim(n int) {
	c.mu.Lock()
	if c.dim == 0 {
		c.dim = n
	}
	c.mu.Unlock()
}

func (c *ChromemIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("chromem upsert %s: empty vector", id)
	}
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		if k != ContentKey {
			meta[k] = v
		}
	}
	err := c.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   payload[ContentKey],
		Embedding: vector,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("chromem upsert %s/%s: %w", c.name, id, err)
	}
	c.learnDim(len(vector))
	return nil
}

func (c *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem delete %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// chromem rejects nResults larger than the collection.
	if n := c.col.Count(); n == 0 {
		return nil, nil
	} else if k > n {
		k = n
	}
	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := c.col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", c.name, err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.ID,
			Distance: 1 - r.Similarity,
			Payload:  withContent(r.Metadata, r.Content),
			Vector:   r.Embedding,
		})
	}
	sortHits(hits)
	return hits, nil
}

func (c *ChromemIndex) Get(ctx context.Context, id string) (*Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := c.col.GetByID(ctx, id)
	if err != nil {
		// chromem reports a missing id and an empty id the same way.
		return nil, ErrNotFound
	}
	c.learnDim(len(doc.Embedding))
	return &Hit{
		ID:      doc.ID,
		Payload: withContent(doc.Metadata, doc.Content),
		Vector:  doc.Embedding,
	}, nil
}

// Scan queries with a constant probe vector and asks for every document; chromem
// has no listing API, and similarity order is irrelevant to the caller.
func (c *ChromemIndex) Scan(ctx context.Context, filter Filter) ([]Hit, error) {
	n := c.col.Count()
	if n == 0 {
		return nil, nil
	}
	c.mu.Lock()
	dim := c.dim
	c.mu.Unlock()
	if dim == 0 {
		return nil, fmt.Errorf("chromem scan %s: vector dimension unknown", c.name)
	}
	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}
	return c.Query(ctx, probe, n, filter)
}

func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	return c.col.Count(), ctx.Err()
}

// Close is a no-op; persistent chromem writes through on every upsert.
func (c *ChromemIndex) Close() error { return nil }

func withContent(meta map[string]string, content string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[ContentKey] = content
	return out
}
