//go:build integration

package linkstore

import (
	"context"
	"testing"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// exerciseEdgeStore checks the upsert-on-key contract every backend shares.
func exerciseEdgeStore(t *testing.T, s memory.EdgeStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	link := memory.Link{SourceID: "m-1", TargetID: "m-2", Type: memory.LinkCausedBy, Note: "first", CreatedAt: at}
	if err := s.SaveLink(ctx, link); err != nil {
		t.Fatalf("save: %v", err)
	}
	link.Note = "second"
	if err := s.SaveLink(ctx, link); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	other := memory.Link{SourceID: "m-1", TargetID: "m-2", Type: memory.LinkRelated, CreatedAt: at.Add(time.Minute)}
	if err := s.SaveLink(ctx, other); err != nil {
		t.Fatalf("save other type: %v", err)
	}

	links, err := s.LoadLinks(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("loaded %d links, want 2", len(links))
	}
	if links[0].Type != memory.LinkCausedBy || links[0].Note != "second" || !links[0].CreatedAt.Equal(at) {
		t.Errorf("first link = %+v", links[0])
	}
	if links[1].Type != memory.LinkRelated {
		t.Errorf("second link = %+v", links[1])
	}
}

func TestNeo4jStore(t *testing.T) {
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("bolt url: %v", err)
	}

	s, err := NewNeo4jStore(ctx, uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	exerciseEdgeStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("memory_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := NewPostgresStore(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	// Migrations are idempotent.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	exerciseEdgeStore(t, s)
}
