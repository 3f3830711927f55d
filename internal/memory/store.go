package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// Options tune the memory subsystem. They are fixed for the life of a Store.
type Options struct {
	EmbedTimeout          time.Duration
	IndexTimeout          time.Duration
	SummarizeTimeout      time.Duration
	AutoLinkThreshold     float64
	AutoLinkMax           int
	WorkingMemoryCapacity int
	CacheSize             int

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns the defaults the memory server has always used.
func DefaultOptions() Options {
	return Options{
		EmbedTimeout:          10 * time.Second,
		IndexTimeout:          5 * time.Second,
		SummarizeTimeout:      30 * time.Second,
		AutoLinkThreshold:     0.8,
		AutoLinkMax:           5,
		WorkingMemoryCapacity: 20,
		CacheSize:             1000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = d.EmbedTimeout
	}
	if o.IndexTimeout <= 0 {
		o.IndexTimeout = d.IndexTimeout
	}
	if o.SummarizeTimeout <= 0 {
		o.SummarizeTimeout = d.SummarizeTimeout
	}
	if o.AutoLinkThreshold <= 0 {
		o.AutoLinkThreshold = d.AutoLinkThreshold
	}
	if o.AutoLinkMax <= 0 {
		o.AutoLinkMax = d.AutoLinkMax
	}
	if o.WorkingMemoryCapacity <= 0 {
		o.WorkingMemoryCapacity = d.WorkingMemoryCapacity
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// maxOverfetchK bounds the k for which a search over-fetches 2k+1 candidates.
const maxOverfetchK = 1 << 12

// InsertRequest describes a memory to record.
type InsertRequest struct {
	Content    string
	Emotion    Emotion
	Category   Category
	Importance int // 0 selects DefaultImportance
	Tags       []string
	Sensory    *Sensory

	// LinkThreshold overrides the configured auto-link threshold when > 0.
	LinkThreshold float64
	SkipAutoLink  bool
}

// InsertResult is the stored memory plus the outcome of best-effort auto-linking.
type InsertResult struct {
	Memory   Memory
	AutoLink AutoLinkReport
}

// Store persists memories in a vector index and answers similarity queries.
// Inserts are serialized; reads take no lock.
type Store struct {
	index    vectorstore.Index
	embedder embedding.Provider
	opts     Options
	cache    *ristretto.Cache
	logger   *zap.Logger

	writeMu sync.Mutex
	lastAt  time.Time

	linker  *AutoLinker
	working *WorkingMemory
	events  EventSink
}

// NewStore creates a Store over index, embedding text with embedder.
func NewStore(index vectorstore.Index, embedder embedding.Provider, opts Options, logger *zap.Logger) (*Store, error) {
	opts = opts.withDefaults()
	s := &Store{
		index:    index,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
	}
	if opts.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(opts.CacheSize) * 10,
			MaxCost:     int64(opts.CacheSize),
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Close releases the cache and the underlying index.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.index.Close()
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC().Round(0)
}

// nextTimestamp returns a creation time strictly after the previous insert, so
// creation order and insertion order never disagree. Callers hold writeMu.
func (s *Store) nextTimestamp() time.Time {
	t := s.now()
	if !t.After(s.lastAt) {
		t = s.lastAt.Add(time.Nanosecond)
	}
	s.lastAt = t
	return t
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, unavailable("embed", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, unavailable("embed", errors.New("provider returned no vector"))
	}
	return vecs[0], nil
}

func (s *Store) indexCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.IndexTimeout)
}

func validateImportance(imp int) (int, error) {
	if imp == 0 {
		return DefaultImportance, nil
	}
	if imp < MinImportance || imp > MaxImportance {
		return 0, validationf("importance %d outside %d..%d", imp, MinImportance, MaxImportance)
	}
	return imp, nil
}

func validateEnums(e Emotion, c Category) error {
	if _, err := ParseEmotion(string(e)); err != nil {
		return err
	}
	_, err := ParseCategory(string(c))
	return err
}

func validatePose(p *CameraPose) error {
	if p == nil {
		return nil
	}
	for _, v := range []float64{p.Pan, p.Tilt} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return validationf("camera angles must be finite")
		}
	}
	return nil
}

func cleanTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Insert records a new memory. Embedding, id assignment, the index write,
// working-memory admission and auto-linking happen under one write lock.
// Auto-link failures are reported in the result and never fail the insert.
func (s *Store) Insert(ctx context.Context, req InsertRequest) (*InsertResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, validationf("content must not be empty")
	}
	imp, err := validateImportance(req.Importance)
	if err != nil {
		return nil, err
	}
	if err := validateEnums(req.Emotion, req.Category); err != nil {
		return nil, err
	}
	if req.Sensory != nil {
		if err := validatePose(req.Sensory.Camera); err != nil {
			return nil, err
		}
	}
	threshold := req.LinkThreshold
	if threshold < 0 {
		return nil, validationf("link threshold must not be negative")
	}
	if threshold == 0 {
		threshold = s.opts.AutoLinkThreshold
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	vec, err := s.embed(ctx, req.Content)
	if err != nil {
		return nil, err
	}

	m := Memory{
		ID:         s.opts.NewID(),
		Content:    req.Content,
		Emotion:    req.Emotion,
		Category:   req.Category,
		Importance: imp,
		Tags:       cleanTags(req.Tags),
		CreatedAt:  s.nextTimestamp(),
		Embedding:  vec,
	}
	if !req.Sensory.empty() {
		sensory := *req.Sensory
		m.Sensory = &sensory
	}

	ictx, cancel := s.indexCtx(ctx)
	err = s.index.Upsert(ictx, m.ID, vec, encodeMemory(m))
	cancel()
	if err != nil {
		return nil, unavailable("index upsert", err)
	}
	if s.cache != nil {
		s.cache.Set(m.ID, m, 1)
	}
	if s.working != nil {
		s.working.Admit(m)
	}

	s.logger.Info("memory stored",
		zap.String("memory", m.ID),
		zap.String("emotion", string(m.Emotion)),
		zap.String("category", string(m.Category)),
		zap.Int("importance", m.Importance))

	result := &InsertResult{Memory: m}
	if !req.SkipAutoLink && s.linker != nil {
		result.AutoLink = s.linker.TryAutoLink(ctx, m, threshold)
	}

	s.publish(ctx, Event{Type: EventMemoryInserted, MemoryID: m.ID, Content: m.Content})
	return result, nil
}

// withWriteLock runs fn with inserts held off.
func (s *Store) withWriteLock(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

// assignEpisode records episodeID on each member, rewriting its payload in
// place and dropping the cached copy.
func (s *Store) assignEpisode(ctx context.Context, members []Memory, episodeID string) error {
	return s.withWriteLock(func() error {
		for _, m := range members {
			m.EpisodeID = episodeID
			vec := m.Embedding
			if len(vec) == 0 {
				var err error
				if vec, err = s.embed(ctx, m.Content); err != nil {
					return err
				}
			}
			ictx, cancel := s.indexCtx(ctx)
			err := s.index.Upsert(ictx, m.ID, vec, encodeMemory(m))
			cancel()
			if err != nil {
				return unavailable("index upsert", err)
			}
			if s.cache != nil {
				s.cache.Del(m.ID)
			}
		}
		return nil
	})
}

// Get returns the memory with the given id.
func (s *Store) Get(ctx context.Context, id string) (Memory, error) {
	if id == "" {
		return Memory{}, validationf("memory id must not be empty")
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return v.(Memory), nil
		}
	}

	ictx, cancel := s.indexCtx(ctx)
	hit, err := s.index.Get(ictx, id)
	cancel()
	if errors.Is(err, vectorstore.ErrNotFound) {
		return Memory{}, notFound("memory", id)
	}
	if err != nil {
		return Memory{}, unavailable("index get", err)
	}
	m, err := decodeMemory(hit.ID, hit.Payload, hit.Vector)
	if err != nil {
		return Memory{}, err
	}
	if s.cache != nil {
		s.cache.Set(id, m, 1)
	}
	return m, nil
}

// GetMany resolves ids in order; unknown ids are all reported in one NotFound error.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]Memory, error) {
	out := make([]Memory, 0, len(ids))
	var missing []string
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(missing) > 0 {
		return nil, notFound("memories", missing...)
	}
	return out, nil
}

// Search returns the k memories nearest to query, nearest first. Exact distance
// ties are broken by newer creation time.
func (s *Store) Search(ctx context.Context, query string, k int, f SearchFilter) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, validationf("query must not be empty")
	}
	if k < 1 {
		return nil, validationf("k must be at least 1")
	}
	if err := validateEnums(f.Emotion, f.Category); err != nil {
		return nil, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, validationf("date range start is after its end")
	}
	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.searchVector(ctx, vec, k, f, "")
}

// searchVector runs the nearest-neighbour query for an already embedded vector,
// optionally leaving out one id.
func (s *Store) searchVector(ctx context.Context, vec []float32, k int, f SearchFilter, exclude string) ([]SearchHit, error) {
	filter := vectorstore.Filter{}
	if f.Emotion != "" {
		filter[keyEmotion] = string(f.Emotion)
	}
	if f.Category != "" {
		filter[keyCategory] = string(f.Category)
	}

	ictx, cancel := s.indexCtx(ctx)
	defer cancel()

	// Over-fetch so ties at the cut-off are ordered by us, not the index. Date
	// filters and very large k read the whole collection instead.
	var fetch int
	if k <= maxOverfetchK && f.From.IsZero() && f.To.IsZero() {
		fetch = 2*k + 1
	} else {
		n, err := s.index.Count(ictx)
		if err != nil {
			return nil, unavailable("index count", err)
		}
		if n == 0 {
			return []SearchHit{}, nil
		}
		fetch = n
	}

	hits, err := s.index.Query(ictx, vec, fetch, filter)
	if err != nil {
		return nil, unavailable("index query", err)
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.ID == exclude {
			continue
		}
		m, err := decodeMemory(h.ID, h.Payload, h.Vector)
		if err != nil {
			return nil, err
		}
		if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && m.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, SearchHit{Memory: m, Distance: float64(h.Distance)})
	}
	sortSearchHits(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func sortSearchHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Memory.CreatedAt.After(hits[j].Memory.CreatedAt)
	})
}

// scan decodes every memory matching filter.
func (s *Store) scan(ctx context.Context, filter vectorstore.Filter) ([]Memory, error) {
	ictx, cancel := s.indexCtx(ctx)
	defer cancel()
	hits, err := s.index.Scan(ictx, filter)
	if err != nil {
		return nil, unavailable("index scan", err)
	}
	out := make([]Memory, 0, len(hits))
	for _, h := range hits {
		m, err := decodeMemory(h.ID, h.Payload, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func newestFirst(ms []Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].CreatedAt.After(ms[j].CreatedAt)
	})
}

// ListRecent returns up to limit memories, newest first, optionally of one category.
func (s *Store) ListRecent(ctx context.Context, limit int, category Category) ([]Memory, error) {
	if limit < 1 {
		return nil, validationf("limit must be at least 1")
	}
	if err := validateEnums("", category); err != nil {
		return nil, err
	}
	filter := vectorstore.Filter{}
	if category != "" {
		filter[keyCategory] = string(category)
	}
	ms, err := s.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	newestFirst(ms)
	if len(ms) > limit {
		ms = ms[:limit]
	}
	return ms, nil
}

// MostImportant returns up to n memories by importance, newer first within a level.
func (s *Store) MostImportant(ctx context.Context, n int) ([]Memory, error) {
	ms, err := s.scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Importance != ms[j].Importance {
			return ms[i].Importance > ms[j].Importance
		}
		return ms[i].CreatedAt.After(ms[j].CreatedAt)
	})
	if len(ms) > n {
		ms = ms[:n]
	}
	return ms, nil
}

// Stats counts memories by category and emotion.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	ms, err := s.scan(ctx, nil)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Total:      len(ms),
		ByCategory: make(map[string]int),
		ByEmotion:  make(map[string]int),
	}
	for i := range ms {
		m := &ms[i]
		cat, emo := string(m.Category), string(m.Emotion)
		if cat == "" {
			cat = unspecified
		}
		if emo == "" {
			emo = unspecified
		}
		st.ByCategory[cat]++
		st.ByEmotion[emo]++
		if st.Oldest == nil || m.CreatedAt.Before(*st.Oldest) {
			st.Oldest = &m.CreatedAt
		}
		if st.Newest == nil || m.CreatedAt.After(*st.Newest) {
			st.Newest = &m.CreatedAt
		}
	}
	return st, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	ictx, cancel := s.indexCtx(ctx)
	defer cancel()
	n, err := s.index.Count(ictx)
	if err != nil {
		return 0, unavailable("index count", err)
	}
	return n, nil
}

func (s *Store) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	pctx, cancel := s.indexCtx(ctx)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		s.logger.Warn("memory event not published", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
