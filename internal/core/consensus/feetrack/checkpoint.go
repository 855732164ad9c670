package feetrack

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// checkpointKey is a single well-known row: unlike load.Manager's
// per-source rows, a node has exactly one FeeState.
const checkpointKey = "fee/state"

type checkpointRecord struct {
	Local  uint32 `json:"local"`
	Remote uint32 `json:"remote"`
}

// Checkpoint persists the local/remote fee factors to db so a restarted
// node resumes at its prior fee-escalation level instead of NormalFee.
// Remote factors resync quickly from peer traffic regardless; local factors
// reflect this node's own recent load and are worth preserving.
func (s *State) Checkpoint(db *pebble.DB) error {
	s.mu.Lock()
	rec := checkpointRecord{Local: s.local, Remote: s.remote}
	s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feetrack: marshal checkpoint: %w", err)
	}
	if err := db.Set([]byte(checkpointKey), data, pebble.Sync); err != nil {
		return fmt.Errorf("feetrack: write checkpoint: %w", err)
	}
	return nil
}

// Restore loads a previously checkpointed FeeState from db into s. If no
// checkpoint row exists, s is left at its constructed defaults.
func (s *State) Restore(db *pebble.DB) error {
	data, closer, err := db.Get([]byte(checkpointKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil
		}
		return fmt.Errorf("feetrack: read checkpoint: %w", err)
	}
	defer closer.Close()

	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("feetrack: unmarshal checkpoint: %w", err)
	}

	s.mu.Lock()
	s.local = rec.Local
	s.remote = rec.Remote
	s.mu.Unlock()
	return nil
}
