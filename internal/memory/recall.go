package memory

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// Associations is the result of an associative recall.
type Associations struct {
	Primary    []SearchHit `json:"primary"`
	Associated []ChainNode `json:"associated"`
}

// PoseHit is a memory recorded near a camera pose.
type PoseHit struct {
	Memory Memory  `json:"memory"`
	Offset float64 `json:"offset"`
}

// ScoredHit is a search hit re-ranked by recency, emotion and importance.
// Lower scores rank first.
type ScoredHit struct {
	Memory   Memory  `json:"memory"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// RecallEngine answers context-driven recall questions.
type RecallEngine struct {
	store  *Store
	graph  *Graph
	logger *zap.Logger
}

func NewRecallEngine(store *Store, graph *Graph, logger *zap.Logger) *RecallEngine {
	return &RecallEngine{store: store, graph: graph, logger: logger}
}

// Recall is an unfiltered similarity search on the conversation context.
func (r *RecallEngine) Recall(ctx context.Context, query string, k int) ([]SearchHit, error) {
	return r.store.Search(ctx, query, k, SearchFilter{})
}

// RecallWithAssociations widens a recall with everything linked to the hits.
func (r *RecallEngine) RecallWithAssociations(ctx context.Context, query string, k, depth int) (*Associations, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	primary, err := r.Recall(ctx, query, k)
	if err != nil {
		return nil, err
	}

	res := &Associations{Primary: primary, Associated: []ChainNode{}}
	seen := make(map[string]bool, len(primary))
	for _, h := range primary {
		seen[h.Memory.ID] = true
	}
	for _, h := range primary {
		nodes, err := r.graph.Chain(ctx, h.Memory.ID, depth)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if seen[n.Memory.ID] {
				continue
			}
			seen[n.Memory.ID] = true
			res.Associated = append(res.Associated, n)
		}
	}
	return res, nil
}

// RecallByCameraPosition finds memories recorded within tolerance degrees of
// (pan, tilt), closest first.
func (r *RecallEngine) RecallByCameraPosition(ctx context.Context, pan, tilt, tolerance float64) ([]PoseHit, error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, validationf("tolerance must not be negative")
	}
	if err := validatePose(&CameraPose{Pan: pan, Tilt: tilt}); err != nil {
		return nil, err
	}
	ms, err := r.store.scan(ctx, vectorstore.Filter{keyHasCamera: "true"})
	if err != nil {
		return nil, err
	}
	out := []PoseHit{}
	for _, m := range ms {
		if m.Sensory == nil || m.Sensory.Camera == nil {
			continue
		}
		off := math.Hypot(m.Sensory.Camera.Pan-pan, m.Sensory.Camera.Tilt-tilt)
		if off <= tolerance {
			out = append(out, PoseHit{Memory: m, Offset: off})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
	})
	return out, nil
}

// RecallScored over-fetches candidates and re-ranks them so that recent,
// emotional and important memories surface ahead of marginally closer ones.
func (r *RecallEngine) RecallScored(ctx context.Context, query string, k int) ([]ScoredHit, error) {
	if k < 1 {
		return nil, validationf("k must be at least 1")
	}
	fetch := scoredMaxCandidates
	if k < scoredMaxCandidates/scoredOverfetch {
		fetch = k * scoredOverfetch
	}
	if fetch < k {
		fetch = k
	}
	hits, err := r.store.Search(ctx, query, fetch, SearchFilter{})
	if err != nil {
		return nil, err
	}

	now := r.store.now()
	out := make([]ScoredHit, len(hits))
	for i, h := range hits {
		out[i] = ScoredHit{Memory: h.Memory, Distance: h.Distance, Score: recallScore(h.Distance, h.Memory, now)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
