package load

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// checkpointKeyPrefix namespaces load-source rows inside a pebble instance
// that may also be storing other consensus-core state (e.g. a sibling
// fee-state checkpoint), matching the shared-keyspace convention
// internal/storage/database/pebble's callers use for their own rows.
const checkpointKeyPrefix = "load/source/"

// checkpointRecord is the on-disk representation of a Source. It mirrors
// Source field-for-field; kept separate so the wire format doesn't change
// silently if Source ever grows fields the store shouldn't persist.
type checkpointRecord struct {
	Balance     int   `json:"balance"`
	Flags       int   `json:"flags"`
	LastUpdate  int64 `json:"last_update"`
	LastWarning int64 `json:"last_warning"`
}

// Checkpoint persists every tracked source's balance and flags to db so a
// restarted node doesn't reset every peer's credit to zero. It does not
// canonicalise first; callers that want up-to-date balances should have
// already called Adjust/AdjustKind/Snapshot recently, or accept that idle
// accrual since LastUpdate resumes correctly on Restore regardless (balance
// and LastUpdate are both persisted, so the missed interval is still
// credited the next time canonicalizeLocked runs).
func (m *Manager) Checkpoint(db *pebble.DB) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := db.NewBatch()
	defer batch.Close()

	for id, s := range m.sources {
		rec := checkpointRecord{
			Balance:     s.Balance,
			Flags:       s.Flags,
			LastUpdate:  s.LastUpdate,
			LastWarning: s.LastWarning,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("load: marshal checkpoint for %q: %w", id, err)
		}
		if err := batch.Set(checkpointKey(id), data, nil); err != nil {
			return fmt.Errorf("load: stage checkpoint for %q: %w", id, err)
		}
	}

	return batch.Commit(pebble.Sync)
}

// Restore loads every previously checkpointed source from db into m,
// overwriting any in-memory state for sources with the same id. Sources
// with no checkpoint entry are left untouched.
func (m *Manager) Restore(db *pebble.DB) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(checkpointKeyPrefix),
		UpperBound: keyUpperBound(checkpointKeyPrefix),
	})
	if err != nil {
		return fmt.Errorf("load: open restore iterator: %w", err)
	}
	defer iter.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(checkpointKeyPrefix):])
		var rec checkpointRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("load: unmarshal checkpoint for %q: %w", id, err)
		}
		m.sources[id] = &Source{
			Balance:     rec.Balance,
			Flags:       rec.Flags,
			LastUpdate:  rec.LastUpdate,
			LastWarning: rec.LastWarning,
		}
	}
	return iter.Error()
}

func checkpointKey(id string) []byte {
	return append([]byte(checkpointKeyPrefix), id...)
}

// keyUpperBound returns the smallest key greater than every key sharing
// prefix, for use as a pebble iterator's exclusive upper bound.
func keyUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			out := make([]byte, i+1)
			copy(out, b[:i+1])
			out[i]++
			return out
		}
	}
	return nil // prefix is all 0xff bytes; no finite upper bound needed in practice
}
