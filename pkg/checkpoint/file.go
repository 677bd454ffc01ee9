package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Sternrassler/pncp-sync/internal/atomicfile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileStore keeps the checkpoint in a single JSON file:
//
//	{"last_checkpoint_page": 42}
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileStore creates a file-backed checkpoint store.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		logger: log.With().Str("component", "checkpoint").Str("path", path).Logger(),
	}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug().Msg("No checkpoint file, starting from page 1")
		} else {
			s.logger.Warn().Err(err).Msg("Checkpoint unreadable, starting from page 1")
		}
		return Default()
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Checkpoint corrupt, starting from page 1")
		return Default()
	}
	return cp
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(page)
	if err == nil {
		err = atomicfile.WriteFile(s.path, data, 0o644)
	}
	recordSave("file", err)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	s.logger.Debug().Int("page", page).Msg("Checkpoint saved")
	return nil
}

// Reset implements Store.
func (s *FileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	return nil
}
