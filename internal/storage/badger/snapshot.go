package badger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/numerus/internal/task"
)

const snapshotKey = "queue"

// Snapshot is the durable image of the queue daemon's state. In-flight
// tasks are flattened back into Pending before saving: a restart means
// every worker lease is void anyway.
type Snapshot struct {
	Pending       []task.Record          `json:"pending"`
	Confirmations map[string]task.Record `json:"confirmationMap"`
	IDCounter     uint64                 `json:"idCounter"`
}

// snapshotRecord stores the snapshot as JSON. Task records carry untyped
// parameter values, and the JSON round trip is exactly what the wire
// format uses, so reloaded records revalidate identically.
type snapshotRecord struct {
	Key  string `badgerhold:"key"`
	Data []byte
}

// SaveSnapshot atomically replaces the stored snapshot.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode queue snapshot: %w", err)
	}
	rec := snapshotRecord{Key: snapshotKey, Data: data}
	if err := s.store.Upsert(snapshotKey, &rec); err != nil {
		return fmt.Errorf("failed to save queue snapshot: %w", err)
	}
	s.logger.Debug().
		Int("pending", len(snap.Pending)).
		Int("confirmations", len(snap.Confirmations)).
		Msg("Synced queue snapshot to disk")
	return nil
}

// LoadSnapshot reads the stored snapshot. The second return is false
// when no snapshot has ever been written.
func (s *Store) LoadSnapshot() (Snapshot, bool, error) {
	var rec snapshotRecord
	err := s.store.Get(snapshotKey, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load queue snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		// Same policy as a store that fails to open: losing queued
		// tasks beats refusing to boot.
		s.logger.Warn().Err(err).Msg("Queue snapshot is corrupt, discarding and starting afresh")
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}
