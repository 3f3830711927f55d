package vectorstore

import (
	"context"
	"errors"
	"math"
	"testing"
)

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	db, err := OpenChromem("", false)
	if err != nil {
		t.Fatalf("open chromem: %v", err)
	}
	idx, err := db.Collection("test", 3)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	return idx
}

func TestChromemQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	points := map[string][]float32{
		"near": {1, 0.1, 0},
		"mid":  {1, 1, 0},
		"far":  {0, 0, 1},
	}
	for id, v := range points {
		if err := idx.Upsert(ctx, id, v, map[string]string{ContentKey: "doc " + id, "kind": "memory"}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3 (k clamped to collection size)", len(hits))
	}
	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("hit %d = %s, want %s", i, hits[i].ID, id)
		}
	}
	if math.Abs(float64(hits[2].Distance)-1) > 1e-4 {
		t.Errorf("orthogonal vector distance = %v, want 1", hits[2].Distance)
	}
	if hits[0].Payload[ContentKey] != "doc near" || hits[0].Payload["kind"] != "memory" {
		t.Errorf("payload not round-tripped: %v", hits[0].Payload)
	}
}

func TestChromemFilterAndScan(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	idx.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"emotion": "happy"})
	idx.Upsert(ctx, "b", []float32{0, 1, 0}, map[string]string{"emotion": "sad"})
	idx.Upsert(ctx, "c", []float32{0, 0, 1}, map[string]string{"emotion": "happy"})

	hits, err := idx.Query(ctx, []float32{0, 1, 0}, 3, Filter{"emotion": "happy"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d filtered hits, want 2", len(hits))
	}

	all, err := idx.Scan(ctx, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("scan returned %d, want 3", len(all))
	}

	sad, err := idx.Scan(ctx, Filter{"emotion": "sad"})
	if err != nil {
		t.Fatalf("scan filtered: %v", err)
	}
	if len(sad) != 1 || sad[0].ID != "b" {
		t.Errorf("filtered scan = %+v", sad)
	}

	none, err := idx.Scan(ctx, Filter{"emotion": "moved"})
	if err != nil || len(none) != 0 {
		t.Errorf("scan with no match = %v, %v", none, err)
	}
}

func TestChromemGetAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if _, err := idx.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	idx.Upsert(ctx, "x", []float32{3, 4, 0}, map[string]string{ContentKey: "hello"})
	hit, err := idx.Get(ctx, "x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit.Payload[ContentKey] != "hello" || len(hit.Vector) != 3 {
		t.Errorf("unexpected hit %+v", hit)
	}

	if n, _ := idx.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if err := idx.Delete(ctx, "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestChromemEmptyCollection(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 5, nil)
	if err != nil || len(hits) != 0 {
		t.Fatalf("empty query = %v, %v", hits, err)
	}
	all, err := idx.Scan(ctx, nil)
	if err != nil || len(all) != 0 {
		t.Fatalf("empty scan = %v, %v", all, err)
	}
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := OpenChromem(dir, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx, _ := db.Collection("memories", 3)
	if err := idx.Upsert(ctx, "kept", []float32{0, 1, 0}, map[string]string{ContentKey: "persisted"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reopened, err := OpenChromem(dir, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	idx2, _ := reopened.Collection("memories", 3)
	hit, err := idx2.Get(ctx, "kept")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if hit.Payload[ContentKey] != "persisted" {
		t.Errorf("content = %q", hit.Payload[ContentKey])
	}
}
