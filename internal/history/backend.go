package history

import (
	"encoding/json"
	"fmt"
)

// Snapshot is everything a Backend persists.
type Snapshot struct {
	Pending []Entry  `json:"pending"`
	Ledger  []Record `json:"ledger"`
}

// Backend persists snapshots. Save must replace the previous snapshot
// atomically. Load may return a partial snapshot together with an error
// matching ErrCorrupt when only some rows could be read.
type Backend interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Close() error
}

// MemoryBackend keeps state in process, for tests and dry runs.
type MemoryBackend struct {
	data []byte
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Load() (*Snapshot, error) {
	var snap Snapshot
	if b.data == nil {
		return &snap, nil
	}
	if err := json.Unmarshal(b.data, &snap); err != nil {
		return nil, &CorruptionError{Path: "memory", Err: err}
	}
	return &snap, nil
}

// Save stores an encoded copy so later mutation of the caller's slices
// does not leak into the saved state.
func (b *MemoryBackend) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	b.data = data
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
