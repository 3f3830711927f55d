package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/config"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/events"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/linkstore"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/summarize"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// app owns the service and every resource it was built from.
type app struct {
	svc     *memory.Service
	closers []io.Closer
}

func (a *app) Close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	svc, err := a.build(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*memory.Service, error) {
	embedder, err := embedding.New(embedding.Config(cfg.Embedding))
	if err != nil {
		return nil, err
	}
	dim := embedder.Dimension()
	if dim == 0 {
		dim = cfg.Embedding.Dimension
	}

	mems, eps, err := a.openIndexes(ctx, cfg, dim, logger)
	if err != nil {
		return nil, err
	}

	edges, err := linkstore.Open(ctx, cfg, logger.Named("links"))
	if err != nil {
		return nil, fmt.Errorf("open link store: %w", err)
	}

	deps := memory.Deps{
		Memories:   mems,
		Episodes:   eps,
		Embedder:   embedder,
		Edges:      edges,
		Summarizer: newSummarizer(cfg, logger),
	}
	if cfg.Events.Enabled {
		bus, err := openEvents(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without memory events", zap.Error(err))
		} else {
			a.closers = append(a.closers, bus)
			deps.Events = bus
		}
	}

	opts := memory.Options{
		EmbedTimeout:          cfg.Timeouts.Embed(),
		IndexTimeout:          cfg.Timeouts.Index(),
		SummarizeTimeout:      time.Duration(cfg.Summarizer.TimeoutMS) * time.Millisecond,
		AutoLinkThreshold:     cfg.Memory.AutoLinkThreshold,
		AutoLinkMax:           cfg.Memory.AutoLinkMax,
		WorkingMemoryCapacity: cfg.Memory.WorkingMemoryCapacity,
		CacheSize:             cfg.Memory.CacheSize,
	}
	svc, err := memory.NewService(ctx, deps, opts, logger.Named("memory"))
	if err != nil {
		if c, ok := edges.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return svc, nil
}

func (a *app) openIndexes(ctx context.Context, cfg *config.Config, dim int, logger *zap.Logger) (mems, eps vectorstore.Index, err error) {
	switch cfg.Storage.Backend {
	case "qdrant":
		if dim <= 0 {
			return nil, nil, errors.New("qdrant backend needs embedding.dimension")
		}
		client, err := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, client)
		if mems, err = client.Collection(ctx, cfg.Storage.Collection, dim); err != nil {
			return nil, nil, err
		}
		if eps, err = client.Collection(ctx, cfg.Storage.EpisodeCollection, dim); err != nil {
			return nil, nil, err
		}
		logger.Info("using qdrant index", zap.String("host", cfg.Database.Qdrant.Host))
	default:
		db, err := vectorstore.OpenChromem(cfg.Storage.Path, cfg.Storage.Compress)
		if err != nil {
			return nil, nil, err
		}
		if mems, err = db.Collection(cfg.Storage.Collection, dim); err != nil {
			return nil, nil, err
		}
		if eps, err = db.Collection(cfg.Storage.EpisodeCollection, dim); err != nil {
			return nil, nil, err
		}
		logger.Info("using chromem index", zap.String("path", cfg.Storage.Path))
	}
	return mems, eps, nil
}

// newSummarizer prefers the configured chat model and falls back to concatenation.
func newSummarizer(cfg *config.Config, logger *zap.Logger) memory.Summarizer {
	if cfg.Summarizer.Endpoint == "" {
		return summarize.Concat{}
	}
	llm := summarize.NewLLM(summarize.LLMConfig{
		Endpoint: cfg.Summarizer.Endpoint,
		APIKey:   cfg.Summarizer.APIKey,
		Model:    cfg.Summarizer.Model,
		Timeout:  time.Duration(cfg.Summarizer.TimeoutMS) * time.Millisecond,
	}, logger.Named("summarizer"))
	return summarize.NewChain(logger.Named("summarizer"), llm, summarize.Concat{})
}

func openEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*events.RedisBus, error) {
	return events.NewRedisBus(ctx, cfg.Database.Redis.URL, cfg.Events.Stream, logger.Named("events"))
}
