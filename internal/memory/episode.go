package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// Summarizer condenses time-ordered memory contents into one summary.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}

// EpisodeRequest describes an episode to create.
type EpisodeRequest struct {
	Title         string
	MemoryIDs     []string
	Participants  []string
	AutoSummarize bool
}

// EpisodeHit is an episode with its distance to a query.
type EpisodeHit struct {
	Episode  Episode `json:"episode"`
	Distance float64 `json:"distance"`
}

// EpisodeManager groups memories into episodes kept in their own collection.
type EpisodeManager struct {
	mu         sync.Mutex
	index      vectorstore.Index
	store      *Store
	summarizer Summarizer
	logger     *zap.Logger
}

// NewEpisodeManager creates a manager. summarizer may be nil, in which case
// episodes are never summarized.
func NewEpisodeManager(index vectorstore.Index, store *Store, summarizer Summarizer, logger *zap.Logger) *EpisodeManager {
	return &EpisodeManager{index: index, store: store, summarizer: summarizer, logger: logger}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func oldestFirst(ms []Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}

// CreateEpisode validates every member before anything is written.
func (e *EpisodeManager) CreateEpisode(ctx context.Context, req EpisodeRequest) (*Episode, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, validationf("episode title must not be empty")
	}
	ids := dedupe(req.MemoryIDs)
	if len(ids) == 0 {
		return nil, validationf("episode needs at least one memory id")
	}

	members, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	ep := Episode{
		Title:        title,
		MemoryIDs:    ids,
		Participants: cleanTags(req.Participants),
	}
	ordered := append([]Memory(nil), members...)
	oldestFirst(ordered)
	ep.StartTime = ordered[0].CreatedAt
	ep.EndTime = ordered[len(ordered)-1].CreatedAt

	// The first member at the highest importance sets the tone.
	for _, m := range members {
		if m.Importance > ep.Importance {
			ep.Importance = m.Importance
			ep.Emotion = m.Emotion
		}
	}

	contents := make([]string, len(ordered))
	for i, m := range ordered {
		contents[i] = m.Content
	}
	if req.AutoSummarize {
		ep.Summary = e.summarize(ctx, contents)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vec, err := e.store.embed(ctx, episodeText(ep.Title, ep.Summary, contents))
	if err != nil {
		return nil, err
	}
	ep.ID = e.store.opts.NewID()
	ep.CreatedAt = e.store.now()

	ictx, cancel := e.store.indexCtx(ctx)
	err = e.index.Upsert(ictx, ep.ID, vec, encodeEpisode(ep))
	cancel()
	if err != nil {
		return nil, unavailable("episode upsert", err)
	}

	if err := e.store.assignEpisode(ctx, members, ep.ID); err != nil {
		e.logger.Warn("episode members not tagged", zap.String("episode", ep.ID), zap.Error(err))
	}

	e.logger.Info("episode created",
		zap.String("episode", ep.ID), zap.String("title", ep.Title), zap.Int("memories", len(ep.MemoryIDs)))
	e.store.publish(ctx, Event{Type: EventEpisodeCreated, EpisodeID: ep.ID, Content: ep.Title})
	return &ep, nil
}

func (e *EpisodeManager) summarize(ctx context.Context, contents []string) string {
	if e.summarizer == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, e.store.opts.SummarizeTimeout)
	defer cancel()
	summary, err := e.summarizer.Summarize(ctx, contents)
	if err != nil {
		e.logger.Warn("episode summary unavailable", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}

// SearchEpisodes returns the k episodes nearest to query.
func (e *EpisodeManager) SearchEpisodes(ctx context.Context, query string, k int) ([]EpisodeHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, validationf("query must not be empty")
	}
	if k < 1 {
		return nil, validationf("k must be at least 1")
	}
	vec, err := e.store.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	ictx, cancel := e.store.indexCtx(ctx)
	defer cancel()
	hits, err := e.index.Query(ictx, vec, k, nil)
	if err != nil {
		return nil, unavailable("episode query", err)
	}
	out := make([]EpisodeHit, 0, len(hits))
	for _, h := range hits {
		ep, err := decodeEpisode(h.ID, h.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, EpisodeHit{Episode: ep, Distance: float64(h.Distance)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Episode.CreatedAt.After(out[j].Episode.CreatedAt)
	})
	return out, nil
}

func (e *EpisodeManager) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	if id == "" {
		return nil, validationf("episode id must not be empty")
	}
	ictx, cancel := e.store.indexCtx(ctx)
	defer cancel()
	hit, err := e.index.Get(ictx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, notFound("episode", id)
	}
	if err != nil {
		return nil, unavailable("episode get", err)
	}
	ep, err := decodeEpisode(hit.ID, hit.Payload)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetEpisodeMemories returns the members of an episode, oldest first.
func (e *EpisodeManager) GetEpisodeMemories(ctx context.Context, id string) ([]Memory, error) {
	ep, err := e.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := e.store.GetMany(ctx, ep.MemoryIDs)
	if err != nil {
		return nil, err
	}
	oldestFirst(members)
	return members, nil
}

// ListEpisodes returns every episode, newest first.
func (e *EpisodeManager) ListEpisodes(ctx context.Context) ([]Episode, error) {
	ictx, cancel := e.store.indexCtx(ctx)
	defer cancel()
	hits, err := e.index.Scan(ictx, nil)
	if err != nil {
		return nil, unavailable("episode scan", err)
	}
	out := make([]Episode, 0, len(hits))
	for _, h := range hits {
		ep, err := decodeEpisode(h.ID, h.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (e *EpisodeManager) Close() error {
	return e.index.Close()
}
