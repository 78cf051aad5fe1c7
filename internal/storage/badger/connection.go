// Package badger persists the queue daemon's durable state: pending task
// records, outstanding confirmation entries and the task id counter.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Store wraps the badgerhold database holding the queue snapshot.
type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

func open(path string) (*badgerhold.Store, error) {
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // arbor does the logging

	return badgerhold.Open(options)
}

// Open opens (or creates) the store at path. A store that fails to open
// is treated as corrupt: it is removed with a warning and recreated
// empty, since losing queued tasks beats refusing to boot.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening Badger database connection")

	store, err := open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Queue store is corrupt, removing and starting afresh")
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("failed to remove corrupt store: %w", rmErr)
		}
		store, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
	}

	logger.Debug().Str("path", path).Msg("Badger database initialized")
	return &Store{store: store, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
