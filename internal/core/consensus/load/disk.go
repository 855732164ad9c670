package load

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// MinFreeDiskSpace is the free-space floor, in bytes, below which the node
// cannot safely keep writing ledger data and must shut down gracefully.
const MinFreeDiskSpace = 512 << 20 // 512 MiB

// ErrDiskLow is returned by CheckDiskSpace when the filesystem holding the
// node's data directory has dropped below MinFreeDiskSpace. It is fatal:
// callers are expected to begin a graceful shutdown, not retry.
var ErrDiskLow = errors.New("load: free disk space below minimum")

// CheckDiskSpace reports ErrDiskLow when the filesystem containing path has
// less than MinFreeDiskSpace available to unprivileged writes.
func CheckDiskSpace(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("load: statfs %q: %w", path, err)
	}
	return checkFreeBytes(uint64(st.Bavail) * uint64(st.Bsize))
}

func checkFreeBytes(free uint64) error {
	if free < MinFreeDiskSpace {
		return fmt.Errorf("%w: %d MiB free", ErrDiskLow, free>>20)
	}
	return nil
}

// RunDiskMonitor starts a goroutine that checks free space under path every
// interval, calling onLow once and exiting if the floor is crossed. Statfs
// failures are ignored; a transiently unreadable mount is not a reason to
// shut the node down.
func (m *Manager) RunDiskMonitor(ctx context.Context, path string, interval time.Duration, onLow func(error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := CheckDiskSpace(path); errors.Is(err, ErrDiskLow) {
					onLow(err)
					return
				}
			}
		}
	}()
}
