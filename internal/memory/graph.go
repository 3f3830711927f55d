package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EdgeStore persists links so the graph survives restarts. SaveLink must
// upsert on (source, target, type).
type EdgeStore interface {
	SaveLink(ctx context.Context, l Link) error
	LoadLinks(ctx context.Context) ([]Link, error)
}

type edgeKey struct {
	source, target string
	typ            LinkType
}

// ChainNode is a memory reached by traversal.
type ChainNode struct {
	Memory Memory   `json:"memory"`
	Hops   int      `json:"hops"`
	Via    LinkType `json:"via"`
	From   string   `json:"from"`
}

// CausalStep is a node on a causal chain.
type CausalStep = ChainNode

// Graph holds typed links between memories as adjacency lists keyed by id.
// Memories are referenced, never embedded.
type Graph struct {
	mu    sync.RWMutex
	edges map[edgeKey]*Link
	out   map[string][]edgeKey
	in    map[string][]edgeKey

	store   *Store
	backing EdgeStore
	logger  *zap.Logger
}

// NewGraph creates an empty graph. backing may be nil for a purely in-memory graph.
func NewGraph(store *Store, backing EdgeStore, logger *zap.Logger) *Graph {
	return &Graph{
		edges:   make(map[edgeKey]*Link),
		out:     make(map[string][]edgeKey),
		in:      make(map[string][]edgeKey),
		store:   store,
		backing: backing,
		logger:  logger,
	}
}

// Load replays persisted links into the adjacency lists. Later records for the
// same edge replace earlier ones.
func (g *Graph) Load(ctx context.Context) error {
	if g.backing == nil {
		return nil
	}
	links, err := g.backing.LoadLinks(ctx)
	if err != nil {
		return unavailable("load links", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	loaded := 0
	for _, l := range links {
		if l.SourceID == "" || l.TargetID == "" || l.SourceID == l.TargetID {
			g.logger.Warn("skipping malformed link", zap.String("source", l.SourceID), zap.String("target", l.TargetID))
			continue
		}
		if _, err := ParseLinkType(string(l.Type)); err != nil || l.Type == "" {
			g.logger.Warn("skipping link with unknown type", zap.String("type", string(l.Type)))
			continue
		}
		g.put(l)
		loaded++
	}
	g.logger.Info("link graph loaded", zap.Int("links", loaded))
	return nil
}

// put inserts or replaces an edge. Callers hold mu.
func (g *Graph) put(l Link) {
	key := edgeKey{l.SourceID, l.TargetID, l.Type}
	if existing, ok := g.edges[key]; ok {
		*existing = l
		return
	}
	stored := l
	g.edges[key] = &stored
	g.out[l.SourceID] = append(g.out[l.SourceID], key)
	g.in[l.TargetID] = append(g.in[l.TargetID], key)
}

// Link creates a directed edge source → target. An empty type means caused_by.
// Asserting an existing edge again is a no-op unless a different, non-empty
// note is given, which replaces the stored one.
func (g *Graph) Link(ctx context.Context, source, target string, typ LinkType, note string) (Link, error) {
	if typ == "" {
		typ = LinkCausedBy
	}
	if _, err := ParseLinkType(string(typ)); err != nil {
		return Link{}, err
	}
	if source == "" || target == "" {
		return Link{}, validationf("source and target ids are required")
	}
	if source == target {
		return Link{}, linkConflictf("memory %s cannot link to itself", source)
	}
	note = strings.TrimSpace(note)

	var missing []string
	for _, id := range []string{source, target} {
		_, err := g.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return Link{}, err
		}
	}
	if len(missing) > 0 {
		return Link{}, notFound("memories", missing...)
	}

	link, created, err := g.upsert(ctx, Link{
		SourceID:  source,
		TargetID:  target,
		Type:      typ,
		Note:      note,
		CreatedAt: g.store.now(),
	})
	if err != nil {
		return Link{}, err
	}
	if created {
		g.store.publish(ctx, Event{Type: EventMemoryLinked, MemoryID: source, Link: &link})
	}
	return link, nil
}

func (g *Graph) upsert(ctx context.Context, l Link) (Link, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{l.SourceID, l.TargetID, l.Type}
	if existing, ok := g.edges[key]; ok {
		if l.Note == "" || l.Note == existing.Note {
			return *existing, false, nil
		}
		updated := *existing
		updated.Note = l.Note
		if err := g.persist(ctx, updated); err != nil {
			return Link{}, false, err
		}
		g.logger.Info("link note replaced",
			zap.String("source", l.SourceID), zap.String("target", l.TargetID),
			zap.String("type", string(l.Type)),
			zap.String("old", existing.Note), zap.String("new", updated.Note))
		*existing = updated
		return updated, false, nil
	}

	if err := g.persist(ctx, l); err != nil {
		return Link{}, false, err
	}
	g.put(l)
	g.logger.Debug("link created",
		zap.String("source", l.SourceID), zap.String("target", l.TargetID), zap.String("type", string(l.Type)))
	return l, true, nil
}

func (g *Graph) persist(ctx context.Context, l Link) error {
	if g.backing == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.store.opts.IndexTimeout)
	defer cancel()
	if err := g.backing.SaveLink(ctx, l); err != nil {
		return unavailable("persist link", err)
	}
	return nil
}

// Links returns the outgoing and incoming edges of id, in creation order.
func (g *Graph) Links(id string) (out, in []Link) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, k := range g.out[id] {
		out = append(out, *g.edges[k])
	}
	for _, k := range g.in[id] {
		in = append(in, *g.edges[k])
	}
	return out, in
}

// LinkCount returns the number of distinct edges.
func (g *Graph) LinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

type step struct {
	id  string
	via LinkType
}

// neighbours follows every outgoing edge plus incoming symmetric ones.
func (g *Graph) neighbours(id string) []step {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var steps []step
	for _, k := range g.out[id] {
		steps = append(steps, step{k.target, k.typ})
	}
	for _, k := range g.in[id] {
		if k.typ.symmetric() {
			steps = append(steps, step{k.source, k.typ})
		}
	}
	return steps
}

// causalNeighbours reads "A leads_to B" and "B caused_by A" as the same arrow
// A → B, then walks it the requested way.
func (g *Graph) causalNeighbours(dir Direction) func(string) []step {
	outType, inType := LinkCausedBy, LinkLeadsTo
	if dir == Forward {
		outType, inType = LinkLeadsTo, LinkCausedBy
	}
	return func(id string) []step {
		g.mu.RLock()
		defer g.mu.RUnlock()
		var steps []step
		for _, k := range g.out[id] {
			if k.typ == outType {
				steps = append(steps, step{k.target, k.typ})
			}
		}
		for _, k := range g.in[id] {
			if k.typ == inType {
				steps = append(steps, step{k.source, k.typ})
			}
		}
		return steps
	}
}

func validateDepth(depth int) error {
	if depth < MinChainDepth || depth > MaxChainDepth {
		return validationf("depth %d outside %d..%d", depth, MinChainDepth, MaxChainDepth)
	}
	return nil
}

// Chain returns every memory reachable from id within depth hops, each once at
// its minimum hop distance, nearest first. id itself is excluded.
func (g *Graph) Chain(ctx context.Context, id string, depth int) ([]ChainNode, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	if _, err := g.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return g.walk(ctx, id, depth, g.neighbours)
}

// CausalChain follows causal links from id. Backward yields causes, forward
// yields effects.
func (g *Graph) CausalChain(ctx context.Context, id string, dir Direction, maxDepth int) ([]CausalStep, error) {
	if dir != Forward && dir != Backward {
		return nil, validationf("unknown direction %q", dir)
	}
	if err := validateDepth(maxDepth); err != nil {
		return nil, err
	}
	if _, err := g.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return g.walk(ctx, id, maxDepth, g.causalNeighbours(dir))
}

func (g *Graph) walk(ctx context.Context, start string, depth int, next func(string) []step) ([]ChainNode, error) {
	visited := map[string]bool{start: true}
	frontier := []string{start}
	var nodes []ChainNode

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var upcoming []string
		for _, from := range frontier {
			for _, s := range next(from) {
				if visited[s.id] {
					continue
				}
				visited[s.id] = true
				m, err := g.store.Get(ctx, s.id)
				if errors.Is(err, ErrNotFound) {
					g.logger.Warn("link points at unknown memory", zap.String("memory", s.id))
					continue
				}
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, ChainNode{Memory: m, Hops: hop, Via: s.via, From: from})
				upcoming = append(upcoming, s.id)
			}
		}
		frontier = upcoming
	}
	return nodes, nil
}
