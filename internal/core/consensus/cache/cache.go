// Package cache provides the signature-verification memo used by the
// consensus driver: once a proposal or validation's signature has been
// checked, repeated delivery of the same message (relay fan-out, slow
// peers retransmitting) should not pay for a second elliptic-curve
// verification.
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2"
)

// Key identifies a signed consensus message for memoization purposes:
// the signing node and a digest of the signed fields.
type Key struct {
	Node   [33]byte
	Digest [32]byte
}

// VerifiedSet remembers the outcome of a signature check keyed by Key, so
// the driver can skip re-verifying a message it has already seen this
// round. Entries are small (a bool) so a generous capacity is cheap.
type VerifiedSet struct {
	mu    sync.Mutex
	inner *lru.Cache[Key, bool]

	hits   uint64
	misses uint64
}

// NewVerifiedSet creates a verified-signature memo with room for size
// entries. A non-positive size selects the default of 4096 entries.
func NewVerifiedSet(size int) (*VerifiedSet, error) {
	if size <= 0 {
		size = 4096
	}
	inner, err := lru.New[Key, bool](size)
	if err != nil {
		return nil, err
	}
	return &VerifiedSet{inner: inner}, nil
}

// Lookup returns the cached verification result for key, if any.
func (v *VerifiedSet) Lookup(key Key) (valid bool, found bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	valid, found = v.inner.Get(key)
	if found {
		v.hits++
	} else {
		v.misses++
	}
	return valid, found
}

// Record stores the verification outcome for key.
func (v *VerifiedSet) Record(key Key, valid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inner.Add(key, valid)
}

// Purge clears every entry, called when a round's trusted validator set
// changes enough that stale verifications could otherwise leak across it.
func (v *VerifiedSet) Purge() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inner.Purge()
}

// Stats reports memo hit/miss counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

// Stats returns current cache statistics.
func (v *VerifiedSet) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{Hits: v.hits, Misses: v.misses, Len: v.inner.Len()}
}
