package linkstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// PostgresStore keeps links in the memory_links table.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, pings and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL link store connected")
	return s, nil
}

// Migrate runs the embedded .up.sql files in name order. Every migration is
// idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrations.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

func (s *PostgresStore) SaveLink(ctx context.Context, l memory.Link) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_links (source_id, target_id, link_type, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, target_id, link_type)
		DO UPDATE SET note = EXCLUDED.note`,
		l.SourceID, l.TargetID, string(l.Type), l.Note, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadLinks(ctx context.Context) ([]memory.Link, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source_id, target_id, link_type, note, created_at
		FROM memory_links
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()

	var links []memory.Link
	for rows.Next() {
		var l memory.Link
		var typ string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &typ, &l.Note, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.Type = memory.LinkType(typ)
		l.CreatedAt = l.CreatedAt.UTC()
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
