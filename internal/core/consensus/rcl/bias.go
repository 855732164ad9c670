package rcl

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/cache"
)

// biasThreshold evaluates the escalating agreement schedule described by
// thresholds at the given establish-phase elapsed duration. It returns a
// fraction in [0, 1] suitable for ProposalTracker.HasConverged and
// DisputeTracker.Resolve: the longer a round runs without agreement, the
// larger the share of trusted support it takes to count as converged.
func biasThreshold(thresholds consensus.Thresholds, elapsed time.Duration) float64 {
	band := thresholds.BandWidth
	if band <= 0 {
		band = 6 * time.Second
	}

	steps := int(elapsed / band)
	pct := thresholds.MinConsensusPct + thresholds.IncreaseConsensusPct*steps
	if pct > thresholds.MaxConsensusPct {
		pct = thresholds.MaxConsensusPct
	}
	if pct < thresholds.MinConsensusPct {
		pct = thresholds.MinConsensusPct
	}
	return float64(pct) / 100.0
}

// nodeIDKey renders a NodeID as the string identifier the load accountant
// keys its per-source balances by.
func nodeIDKey(node consensus.NodeID) string {
	return hex.EncodeToString(node[:])
}

// proposalCacheKey derives the signature-verification memo key for a
// proposal: the node that signed it, and a digest of the signature bytes
// standing in for the signed payload.
func proposalCacheKey(p *consensus.Proposal) cache.Key {
	return cache.Key{Node: p.NodeID, Digest: sha256.Sum256(p.Signature)}
}

// validationCacheKey is the validation analogue of proposalCacheKey.
func validationCacheKey(v *consensus.Validation) cache.Key {
	return cache.Key{Node: v.NodeID, Digest: sha256.Sum256(v.Signature)}
}

// txIDOf derives a transaction's identity from its raw bytes, the way a
// dispute tracker keys votes on a transaction that peers disagree about.
func txIDOf(tx []byte) consensus.TxID {
	return consensus.TxID(sha256.Sum256(tx))
}
