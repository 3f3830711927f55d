package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

const testDim = 4

// stubEmbedder maps known texts to fixed vectors and hashes everything else.
type stubEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback embedding.Provider
	err      error
}

func newStubEmbedder(dim int) *stubEmbedder {
	return &stubEmbedder{
		vectors:  make(map[string][]float32),
		fallback: embedding.NewHashingProvider(dim),
	}
}

func (s *stubEmbedder) set(text string, v ...float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[text] = v
}

func (s *stubEmbedder) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vectors[t]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		vs, err := s.fallback.Embed(ctx, []string{t})
		if err != nil {
			return nil, err
		}
		out[i] = vs[0]
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return s.fallback.Dimension() }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memEdges is an in-memory EdgeStore that records every save.
type memEdges struct {
	mu      sync.Mutex
	saved   []Link
	saveErr error
}

func (m *memEdges) SaveLink(_ context.Context, l Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, l)
	return nil
}

func (m *memEdges) LoadLinks(context.Context) ([]Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Link(nil), m.saved...), nil
}

type stubSummarizer struct {
	got   []string
	out   string
	err   error
	delay time.Duration
}

func (s *stubSummarizer) Summarize(ctx context.Context, contents []string) (string, error) {
	s.got = contents
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.out, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	svc      *Service
	embedder *stubEmbedder
	clock    *fakeClock
	edges    *memEdges
	summary  *stubSummarizer
	sink     *recordingSink
}

type envOption func(*Options)

func withCapacity(n int) envOption {
	return func(o *Options) { o.WorkingMemoryCapacity = n }
}

// envSetup varies how a testEnv is assembled. The zero value gives the
// default environment.
type envSetup struct {
	dim      int                                       // embedding size, testDim when 0
	wrap     func(vectorstore.Index) vectorstore.Index // wraps the memory index
	embedder embedding.Provider                        // replaces the stub embedder
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	return newCustomEnv(t, envSetup{}, opts...)
}

func newCustomEnv(t *testing.T, setup envSetup, opts ...envOption) *testEnv {
	t.Helper()
	dim := setup.dim
	if dim == 0 {
		dim = testDim
	}
	db, err := vectorstore.OpenChromem("", false)
	if err != nil {
		t.Fatalf("open chromem: %v", err)
	}
	var memories vectorstore.Index
	memories, err = db.Collection("memories", dim)
	if err != nil {
		t.Fatalf("memories collection: %v", err)
	}
	if setup.wrap != nil {
		memories = setup.wrap(memories)
	}
	episodes, err := db.Collection("episodes", dim)
	if err != nil {
		t.Fatalf("episodes collection: %v", err)
	}

	env := &testEnv{
		embedder: newStubEmbedder(dim),
		clock:    newFakeClock(),
		edges:    &memEdges{},
		summary:  &stubSummarizer{},
		sink:     &recordingSink{},
	}
	var embedder embedding.Provider = env.embedder
	if setup.embedder != nil {
		embedder = setup.embedder
	}
	o := Options{Now: env.clock.Now, CacheSize: 100}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := NewService(context.Background(), Deps{
		Memories:   memories,
		Episodes:   episodes,
		Embedder:   embedder,
		Edges:      env.edges,
		Summarizer: env.summary,
		Events:     env.sink,
	}, o, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	env.svc = svc
	return env
}

// insert stores content with the given vector, one minute after the previous insert.
func (e *testEnv) insert(t *testing.T, content string, vec []float32, mutate ...func(*InsertRequest)) Memory {
	t.Helper()
	if vec != nil {
		e.embedder.set(content, vec...)
	}
	e.clock.Advance(time.Minute)
	req := InsertRequest{Content: content}
	for _, fn := range mutate {
		fn(&req)
	}
	res, err := e.svc.Store.Insert(context.Background(), req)
	if err != nil {
		t.Fatalf("insert %q: %v", content, err)
	}
	return res.Memory
}

func ids(ms []Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func hitIDs(hits []SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Memory.ID
	}
	return out
}

func nodeIDs(nodes []ChainNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Memory.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("got error %v, want kind %v", err, kind)
	}
}
