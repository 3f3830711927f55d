package linkstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// Neo4jStore keeps links as LINKED relationships between Memory nodes that
// carry only the memory id.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

func NewNeo4jStore(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	s := &Neo4jStore{driver: driver, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	logger.Info("Neo4j link store connected", zap.String("uri", uri))
	return s, nil
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	err := runWrite(ctx, session,
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create memory constraint: %w", err)
	}
	return nil
}

// runWrite runs one statement and consumes its result; the driver may only
// report a failed write once the result is consumed.
func runWrite(ctx context.Context, session neo4j.SessionWithContext, cypher string, params map[string]any) error {
	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// SaveLink merges the relationship on (source, target, type); only the note
// changes on a repeat save.
func (s *Neo4jStore) SaveLink(ctx context.Context, l memory.Link) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	err := runWrite(ctx, session,
		`MERGE (a:Memory {id: $source})
		 MERGE (b:Memory {id: $target})
		 MERGE (a)-[r:LINKED {type: $type}]->(b)
		 ON CREATE SET r.note = $note, r.created_at = $created
		 ON MATCH SET r.note = $note`,
		map[string]interface{}{
			"source":  l.SourceID,
			"target":  l.TargetID,
			"type":    string(l.Type),
			"note":    l.Note,
			"created": l.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	return nil
}

func (s *Neo4jStore) LoadLinks(ctx context.Context) ([]memory.Link, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Memory)-[r:LINKED]->(b:Memory)
		 RETURN a.id AS source, b.id AS target, r.type AS type, r.note AS note, r.created_at AS created
		 ORDER BY r.created_at`, nil)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}

	var links []memory.Link
	for result.Next(ctx) {
		rec := result.Record()
		l := memory.Link{
			SourceID: stringValue(rec, "source"),
			TargetID: stringValue(rec, "target"),
			Type:     memory.LinkType(stringValue(rec, "type")),
			Note:     stringValue(rec, "note"),
		}
		if created := stringValue(rec, "created"); created != "" {
			if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
				l.CreatedAt = t
			}
		}
		links = append(links, l)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}
