package command

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/embedding"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/summarize"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Source: "test"}

	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Unknown command") {
		t.Errorf("got %q for unknown command", result.Content)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestLeadingOptions(t *testing.T) {
	opts, rest := leadingOptions("emotion=happy importance=4 a=b tea time", "emotion", "importance")
	if opts["emotion"] != "happy" || opts["importance"] != "4" {
		t.Errorf("opts = %v", opts)
	}
	if rest != "a=b tea time" {
		t.Errorf("rest = %q", rest)
	}
}

func newTestRegistry(t *testing.T) (*Registry, *memory.Service) {
	t.Helper()
	db, err := vectorstore.OpenChromem("", false)
	if err != nil {
		t.Fatal(err)
	}
	mems, _ := db.Collection("memories", 64)
	eps, _ := db.Collection("episodes", 64)
	svc, err := memory.NewService(context.Background(), memory.Deps{
		Memories:   mems,
		Episodes:   eps,
		Embedder:   embedding.NewHashingProvider(64),
		Summarizer: summarize.Concat{},
	}, memory.Options{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	reg := NewRegistry()
	RegisterBuiltins(reg)
	RegisterMemoryCommands(reg, svc)
	return reg, svc
}

func TestMemoryCommands(t *testing.T) {
	reg, svc := newTestRegistry(t)
	ctx := context.Background()
	cc := &CommandContext{Source: "test"}

	res, err := reg.Dispatch(ctx, "/remember emotion=happy importance=4 drank tea with Kota", cc)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := res.Data.(memory.Memory)
	if !ok {
		t.Fatalf("remember result = %q", res.Content)
	}
	if m.Emotion != memory.EmotionHappy || m.Importance != 4 || m.Content != "drank tea with Kota" {
		t.Errorf("stored memory = %+v", m)
	}

	res, _ = reg.Dispatch(ctx, "/remember emotion=furious something", cc)
	if !strings.Contains(res.Content, "validation_error") {
		t.Errorf("bad emotion result = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/search tea with Kota", cc)
	if !strings.Contains(res.Content, m.ID) {
		t.Errorf("search result = %q", res.Content)
	}

	other, err := svc.Store.Insert(ctx, memory.InsertRequest{Content: "went home", SkipAutoLink: true})
	if err != nil {
		t.Fatal(err)
	}
	res, _ = reg.Dispatch(ctx, "/link "+other.Memory.ID+" "+m.ID+" caused_by tired after tea", cc)
	l, ok := res.Data.(memory.Link)
	if !ok || l.Type != memory.LinkCausedBy || l.Note != "tired after tea" {
		t.Fatalf("link result = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/causes "+other.Memory.ID, cc)
	if !strings.Contains(res.Content, m.ID) {
		t.Errorf("causes = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/link "+m.ID+" "+m.ID, cc)
	if !strings.Contains(res.Content, "link_conflict") {
		t.Errorf("self link = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/episode Evening | "+m.ID+", "+other.Memory.ID, cc)
	ep, ok := res.Data.(*memory.Episode)
	if !ok || len(ep.MemoryIDs) != 2 || ep.Summary == "" {
		t.Fatalf("episode result = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/episode Ghost | missing-id", cc)
	if !strings.Contains(res.Content, "not_found") || !strings.Contains(res.Content, "missing-id") {
		t.Errorf("missing episode member = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/working 1", cc)
	if ms, ok := res.Data.([]memory.Memory); !ok || len(ms) != 1 || ms[0].ID != other.Memory.ID {
		t.Errorf("working = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/stats", cc)
	if !strings.Contains(res.Content, "Total memories: 2") {
		t.Errorf("stats = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/help", cc)
	for _, name := range []string{"/remember", "/chain", "/episode", "/refresh"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help is missing %s", name)
		}
	}
}
