package memory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// Deps are the external capabilities a Service is assembled from. Edges,
// Summarizer and Events are optional.
type Deps struct {
	Memories   vectorstore.Index
	Episodes   vectorstore.Index
	Embedder   embedding.Provider
	Edges      EdgeStore
	Summarizer Summarizer
	Events     EventSink
}

// Service is the memory subsystem with all components wired together. The
// surfaces (REST, MCP, commands) talk to it and nothing else.
type Service struct {
	Store    *Store
	Graph    *Graph
	Linker   *AutoLinker
	Episodes *EpisodeManager
	Working  *WorkingMemory
	Recall   *RecallEngine

	edges  EdgeStore
	logger *zap.Logger
}

// NewService wires the components and replays persisted links.
func NewService(ctx context.Context, deps Deps, opts Options, logger *zap.Logger) (*Service, error) {
	if deps.Memories == nil || deps.Episodes == nil || deps.Embedder == nil {
		return nil, errors.New("memory service: memory index, episode index and embedder are required")
	}
	store, err := NewStore(deps.Memories, deps.Embedder, opts, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	opts = store.opts

	graph := NewGraph(store, deps.Edges, logger.Named("graph"))
	if err := graph.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("memory service: %w", err)
	}

	svc := &Service{
		Store:    store,
		Graph:    graph,
		Linker:   NewAutoLinker(store, graph, opts.AutoLinkMax, logger.Named("autolink")),
		Episodes: NewEpisodeManager(deps.Episodes, store, deps.Summarizer, logger.Named("episodes")),
		Working:  NewWorkingMemory(store, opts.WorkingMemoryCapacity, logger.Named("working")),
		Recall:   NewRecallEngine(store, graph, logger.Named("recall")),
		edges:    deps.Edges,
		logger:   logger,
	}
	store.linker = svc.Linker
	store.working = svc.Working
	store.events = deps.Events

	n, err := store.Count(ctx)
	if err != nil {
		logger.Warn("memory count unavailable", zap.Error(err))
	}
	logger.Info("memory service ready",
		zap.Int("memories", n),
		zap.Int("links", graph.LinkCount()),
		zap.Float64("auto_link_threshold", opts.AutoLinkThreshold),
		zap.Int("working_memory_capacity", opts.WorkingMemoryCapacity))
	return svc, nil
}

// Close releases the indexes and the edge store.
func (s *Service) Close() error {
	errs := []error{s.Store.Close(), s.Episodes.Close()}
	if c, ok := s.edges.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
