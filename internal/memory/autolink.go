package memory

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// AutoLinkReport is what auto-linking managed to do for one insert. Err is set
// when candidate retrieval or some link writes failed; the memory itself is
// stored regardless.
type AutoLinkReport struct {
	Links []Link
	Err   error
}

// AutoLinker connects a freshly stored memory to its nearest neighbours with
// "similar" edges.
type AutoLinker struct {
	store    *Store
	graph    *Graph
	maxLinks int
	logger   *zap.Logger
}

func NewAutoLinker(store *Store, graph *Graph, maxLinks int, logger *zap.Logger) *AutoLinker {
	if maxLinks <= 0 {
		maxLinks = DefaultOptions().AutoLinkMax
	}
	return &AutoLinker{store: store, graph: graph, maxLinks: maxLinks, logger: logger}
}

// TryAutoLink links m to at most maxLinks existing memories whose distance is
// strictly below threshold, nearest first. m must already be in the index.
func (a *AutoLinker) TryAutoLink(ctx context.Context, m Memory, threshold float64) AutoLinkReport {
	var report AutoLinkReport
	if len(m.Embedding) == 0 {
		return report
	}

	candidates, err := a.store.searchVector(ctx, m.Embedding, a.maxLinks, SearchFilter{}, m.ID)
	if err != nil {
		a.logger.Warn("auto-link candidates unavailable", zap.String("memory", m.ID), zap.Error(err))
		report.Err = err
		return report
	}

	var errs []error
	for _, c := range candidates {
		if c.Distance >= threshold {
			continue
		}
		link, err := a.graph.Link(ctx, m.ID, c.Memory.ID, LinkSimilar, "")
		if err != nil {
			a.logger.Warn("auto-link failed",
				zap.String("source", m.ID), zap.String("target", c.Memory.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		report.Links = append(report.Links, link)
	}
	report.Err = errors.Join(errs...)
	if len(report.Links) > 0 {
		a.logger.Debug("auto-linked memory", zap.String("memory", m.ID), zap.Int("links", len(report.Links)))
	}
	return report
}
