package memory

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// orthogonal vectors keep auto-linking out of graph tests.
var axes = [][]float32{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

func (e *testEnv) unlinked(t *testing.T, n int) []Memory {
	t.Helper()
	if n > len(axes) {
		t.Fatalf("at most %d unlinked memories", len(axes))
	}
	out := make([]Memory, n)
	for i := range out {
		out[i] = e.insert(t, string(rune('A'+i)), axes[i])
	}
	return out
}

func TestLinkDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ms := env.unlinked(t, 2)
	a, b := ms[0], ms[1]

	l, err := env.svc.Graph.Link(ctx, a.ID, b.ID, "", "because")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if l.Type != LinkCausedBy || l.Note != "because" {
		t.Errorf("link = %+v", l)
	}

	_, err = env.svc.Graph.Link(ctx, a.ID, a.ID, LinkRelated, "")
	wantKind(t, err, ErrLinkConflict)

	_, err = env.svc.Graph.Link(ctx, "nope-1", "nope-2", LinkRelated, "")
	wantKind(t, err, ErrNotFound)
	if got := MissingIDs(err); !equalIDs(got, []string{"nope-1", "nope-2"}) {
		t.Errorf("missing = %v", got)
	}

	_, err = env.svc.Graph.Link(ctx, a.ID, b.ID, "friend_of", "")
	wantKind(t, err, ErrValidation)
}

func TestLinkIsIdempotentAndNoteOverwrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ms := env.unlinked(t, 2)
	a, b := ms[0], ms[1]

	first, err := env.svc.Graph.Link(ctx, a.ID, b.ID, LinkLeadsTo, "one")
	if err != nil {
		t.Fatal(err)
	}
	again, err := env.svc.Graph.Link(ctx, a.ID, b.ID, LinkLeadsTo, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Note != "one" || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("re-assert without note changed the link: %+v", again)
	}
	updated, err := env.svc.Graph.Link(ctx, a.ID, b.ID, LinkLeadsTo, "two")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Note != "two" {
		t.Errorf("note = %q, want two", updated.Note)
	}

	// A different type is a different edge.
	if _, err := env.svc.Graph.Link(ctx, a.ID, b.ID, LinkRelated, ""); err != nil {
		t.Fatal(err)
	}

	out, in := env.svc.Graph.Links(a.ID)
	if len(out) != 2 || len(in) != 0 {
		t.Fatalf("links of a: out=%d in=%d", len(out), len(in))
	}
	if env.svc.Graph.LinkCount() != 2 {
		t.Errorf("link count = %d", env.svc.Graph.LinkCount())
	}
	// created, note update, related
	if len(env.edges.saved) != 3 {
		t.Errorf("persisted %d writes, want 3", len(env.edges.saved))
	}
}

func TestGraphLoadReplaysLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ms := env.unlinked(t, 2)
	if _, err := env.svc.Graph.Link(ctx, ms[0].ID, ms[1].ID, LinkLeadsTo, "old"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Graph.Link(ctx, ms[0].ID, ms[1].ID, LinkLeadsTo, "new"); err != nil {
		t.Fatal(err)
	}
	env.edges.saved = append(env.edges.saved, Link{SourceID: "x", TargetID: "x", Type: LinkRelated})

	g := NewGraph(env.svc.Store, env.edges, zap.NewNop())
	if err := g.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	out, _ := g.Links(ms[0].ID)
	if len(out) != 1 || out[0].Note != "new" {
		t.Errorf("replayed links = %+v", out)
	}
	if g.LinkCount() != 1 {
		t.Errorf("self loop was loaded")
	}
}

func TestLinkPersistFailure(t *testing.T) {
	env := newTestEnv(t)
	ms := env.unlinked(t, 2)
	env.edges.saveErr = errors.New("disk full")

	_, err := env.svc.Graph.Link(context.Background(), ms[0].ID, ms[1].ID, LinkRelated, "")
	wantKind(t, err, ErrDependencyUnavailable)
	if env.svc.Graph.LinkCount() != 0 {
		t.Errorf("edge kept in memory after a failed write")
	}
}

func TestChainBreadthFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ms := env.unlinked(t, 4)
	a, b, c, d := ms[0], ms[1], ms[2], ms[3]
	g := env.svc.Graph

	// a → b → c, a → c, d ~ a (similar, stored d → a)
	for _, l := range []struct {
		s, t string
		typ  LinkType
	}{
		{a.ID, b.ID, LinkLeadsTo},
		{b.ID, c.ID, LinkLeadsTo},
		{a.ID, c.ID, LinkRelated},
		{d.ID, a.ID, LinkSimilar},
	} {
		if _, err := g.Link(ctx, l.s, l.t, l.typ, ""); err != nil {
			t.Fatal(err)
		}
	}

	nodes, err := g.Chain(ctx, a.ID, 1)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !equalIDs(nodeIDs(nodes), []string{b.ID, c.ID, d.ID}) {
		t.Errorf("depth 1 = %v", nodeIDs(nodes))
	}
	for _, n := range nodes {
		if n.Hops != 1 || n.From != a.ID {
			t.Errorf("node %s hops=%d from=%s", n.Memory.Content, n.Hops, n.From)
		}
	}

	// From b the incoming leads_to from a is directional and not followed, but
	// a is still reached through the symmetric a-c relation.
	nodes, err = g.Chain(ctx, b.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(nodeIDs(nodes), []string{c.ID, a.ID, d.ID}) {
		t.Errorf("chain from b = %v", nodeIDs(nodes))
	}

	// From d: a at 1 hop (outgoing similar), then b and c at 2; c reached once.
	nodes, err = g.Chain(ctx, d.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(nodeIDs(nodes), []string{a.ID, b.ID, c.ID}) {
		t.Errorf("chain from d = %v", nodeIDs(nodes))
	}
	if nodes[2].Hops != 2 {
		t.Errorf("c at hop %d, want 2", nodes[2].Hops)
	}
}

func TestChainDepthBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.unlinked(t, 1)[0]
	for _, depth := range []int{0, 6, -1} {
		_, err := env.svc.Graph.Chain(ctx, m.ID, depth)
		wantKind(t, err, ErrValidation)
	}
	_, err := env.svc.Graph.Chain(ctx, "missing", 2)
	wantKind(t, err, ErrNotFound)

	nodes, err := env.svc.Graph.Chain(ctx, m.ID, 5)
	if err != nil || len(nodes) != 0 {
		t.Errorf("isolated chain = %v, %v", nodes, err)
	}
}

func TestCausalChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ms := env.unlinked(t, 4)
	rain, wet, slip, unrelated := ms[0], ms[1], ms[2], ms[3]
	g := env.svc.Graph

	// rain leads_to wet; slip caused_by wet; unrelated similar to wet.
	if _, err := g.Link(ctx, rain.ID, wet.ID, LinkLeadsTo, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Link(ctx, slip.ID, wet.ID, LinkCausedBy, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Link(ctx, unrelated.ID, wet.ID, LinkSimilar, ""); err != nil {
		t.Fatal(err)
	}

	causes, err := g.CausalChain(ctx, slip.ID, Backward, 5)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if !equalIDs(nodeIDs(causes), []string{wet.ID, rain.ID}) {
		t.Errorf("causes of slip = %v", nodeIDs(causes))
	}

	effects, err := g.CausalChain(ctx, rain.ID, Forward, 5)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !equalIDs(nodeIDs(effects), []string{wet.ID, slip.ID}) {
		t.Errorf("effects of rain = %v", nodeIDs(effects))
	}

	shallow, err := g.CausalChain(ctx, rain.ID, Forward, 1)
	if err != nil || !equalIDs(nodeIDs(shallow), []string{wet.ID}) {
		t.Errorf("depth 1 effects = %v, %v", nodeIDs(shallow), err)
	}

	_, err = g.CausalChain(ctx, rain.ID, Forward, 6)
	wantKind(t, err, ErrValidation)
	_, err = g.CausalChain(ctx, rain.ID, "sideways", 2)
	wantKind(t, err, ErrValidation)
}
