package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/pncp-sync/internal/atomicfile"
	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore keeps each collection in <dir>/<name>.json.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileStore creates a file-backed snapshot store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: log.With().Str("component", "snapshot").Str("dir", dir).Logger(),
	}
}

// Path returns the file holding the named collection.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, name string) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []record.Record{}, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return records, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, name string, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Encode(records)
	if err == nil {
		err = atomicfile.WriteFile(s.Path(name), data, 0o644)
	}
	recordSave("file", err)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}

	s.logger.Debug().Str("collection", name).Int("records", len(records)).Msg("Snapshot saved")
	return nil
}
