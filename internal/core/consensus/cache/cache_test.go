package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifiedSet_RecordAndLookup(t *testing.T) {
	vs, err := NewVerifiedSet(16)
	require.NoError(t, err)

	key := Key{Node: [33]byte{1}, Digest: [32]byte{2}}

	_, found := vs.Lookup(key)
	assert.False(t, found)

	vs.Record(key, true)
	valid, found := vs.Lookup(key)
	require.True(t, found)
	assert.True(t, valid)
}

func TestVerifiedSet_PurgeClearsEntries(t *testing.T) {
	vs, err := NewVerifiedSet(16)
	require.NoError(t, err)

	key := Key{Node: [33]byte{1}, Digest: [32]byte{2}}
	vs.Record(key, false)
	vs.Purge()

	_, found := vs.Lookup(key)
	assert.False(t, found)
}

func TestVerifiedSet_Stats(t *testing.T) {
	vs, err := NewVerifiedSet(16)
	require.NoError(t, err)

	key := Key{Node: [33]byte{9}, Digest: [32]byte{9}}
	vs.Lookup(key)
	vs.Record(key, true)
	vs.Lookup(key)

	stats := vs.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Len)
}

func TestNewVerifiedSet_DefaultsNonPositiveSize(t *testing.T) {
	vs, err := NewVerifiedSet(0)
	require.NoError(t, err)
	assert.NotNil(t, vs)
}
