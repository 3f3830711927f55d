// Package linkstore persists memory links for the in-process link graph.
package linkstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// FileStore appends links to a JSON-lines log. Re-saving an edge appends a new
// record; the latest record for an edge wins on load.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create link log dir: %w", err)
	}
	return &FileStore{path: path, logger: logger}, nil
}

func (s *FileStore) SaveLink(ctx context.Context, l memory.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open link log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append link: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync link log: %w", err)
	}
	return f.Close()
}

// LoadLinks returns every record in file order. Unreadable lines are skipped
// so a torn final write does not lose the rest of the log.
func (s *FileStore) LoadLinks(ctx context.Context) ([]memory.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open link log: %w", err)
	}
	defer f.Close()

	var links []memory.Link
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l memory.Link
		if err := json.Unmarshal(raw, &l); err != nil {
			s.logger.Warn("skipping unreadable link record", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		links = append(links, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read link log: %w", err)
	}
	return links, nil
}

func (s *FileStore) Close() error { return nil }
