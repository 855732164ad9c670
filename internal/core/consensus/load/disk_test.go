package load

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFreeBytes_Boundary(t *testing.T) {
	assert.NoError(t, checkFreeBytes(MinFreeDiskSpace))
	assert.ErrorIs(t, checkFreeBytes(MinFreeDiskSpace-1), ErrDiskLow)
	assert.ErrorIs(t, checkFreeBytes(0), ErrDiskLow)
}

func TestCheckDiskSpace_TempDirHasRoom(t *testing.T) {
	// The test environment's temp filesystem is assumed to have more than
	// the 512 MiB floor free; a failure here means the host itself is in
	// the state the check exists to catch.
	require.NoError(t, CheckDiskSpace(t.TempDir()))
}
