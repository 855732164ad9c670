package meta

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4"
)

// ErrDecompressionFailed mirrors the wire-layer compression package's error
// of the same name, scoped to the audit-log boundary.
var ErrDecompressionFailed = errors.New("meta: audit blob decompression failed")

// CompressForAudit compresses a Finalize'd metadata blob for storage in the
// round/consensus audit log. It prefixes the result with the uncompressed
// length (needed by DecompressFromAudit) so the blob is self-describing,
// since lz4 has no framing of its own for bare blocks. Blobs that do not
// shrink are stored raw under the same length prefix.
func CompressForAudit(data []byte) ([]byte, error) {
	maxSize := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, maxSize)

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("meta: compressing audit blob: %w", err)
	}

	out := make([]byte, 4, 4+n)
	binary.BigEndian.PutUint32(out, uint32(len(data)))

	if n == 0 || n >= len(data) {
		// Incompressible or not worth it: store the raw bytes, still
		// length-prefixed so DecompressFromAudit can tell compressed and
		// raw blobs apart.
		return append(out, data...), nil
	}

	return append(out, compressed[:n]...), nil
}

// DecompressFromAudit reverses CompressForAudit.
func DecompressFromAudit(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("%w: blob too short", ErrDecompressionFailed)
	}
	size := binary.BigEndian.Uint32(blob[:4])
	body := blob[4:]

	if uint32(len(body)) == size {
		// Stored raw (CompressForAudit fell back to uncompressed).
		return body, nil
	}

	decompressed := make([]byte, size)
	n, err := lz4.UncompressBlock(body, decompressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if uint32(n) != size {
		return nil, ErrDecompressionFailed
	}
	return decompressed, nil
}
