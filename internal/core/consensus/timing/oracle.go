// Package timing implements the ledger timing oracle: the pure, stateless
// rules that decide when the currently open ledger should close and when a
// consensus round has converged. Both functions are deterministic integer
// arithmetic over round statistics; neither touches the network, the clock,
// or any shared state.
package timing

// LedgerIdleInterval is the normal cadence, in seconds, at which an idle
// ledger (no transactions) closes. It must be the same value on every node
// in the network: the synchronisation rounding in ShouldClose only keeps
// nodes aligned if they agree on this constant.
const LedgerIdleInterval = 15

// LedgerMinConsensus is the minimum number of seconds a round must spend in
// the Establishing phase before HaveConsensus can return true.
const LedgerMinConsensus = 2

// ShouldClose decides how many seconds the open ledger should remain open.
// The caller closes the ledger once its wall clock reaches the returned
// value. anyTransactions reports whether the open ledger holds any
// candidate transactions; prevProposers/prevOpenSecs describe the previous
// round; proposersClosed counts how many proposers have already signaled a
// close this round; currentOpenSecs is how long the current ledger has been
// open so far.
func ShouldClose(anyTransactions bool, prevProposers, proposersClosed, prevOpenSecs, currentOpenSecs int) int {
	if !anyTransactions {
		if proposersClosed > prevProposers/4 {
			// Enough of the network already closed without us seeing a
			// transaction -- we likely missed one. Close immediately.
			return currentOpenSecs
		}
		if prevOpenSecs > LedgerIdleInterval+2 {
			// The previous round ran long; accelerate back toward the
			// normal cadence instead of waiting the full idle interval.
			return prevOpenSecs - 1
		}
		return LedgerIdleInterval
	}

	if prevOpenSecs == LedgerIdleInterval {
		// We just emerged from an idle round and a transaction arrived:
		// close right away rather than waiting out a fresh interval.
		return currentOpenSecs
	}

	// Synchronisation rounding: when the network has been slow, align close
	// boundaries to a coarser grid so straggling nodes still converge on the
	// same close time.
	switch {
	case prevOpenSecs > 8:
		return currentOpenSecs - (currentOpenSecs % 4)
	case prevOpenSecs > 4:
		return currentOpenSecs - (currentOpenSecs % 2)
	}

	return currentOpenSecs
}

// HaveConsensus decides whether the current round has converged enough to
// close. prevProposers/curProposers are the trusted-proposer counts for the
// previous and current rounds; curAgree is how many current proposers agree
// with our position; curClosed is how many other proposers have signaled
// close; prevAgreeSecs/curAgreeSecs are how long the previous and current
// rounds have spent agreeing (establishing).
func HaveConsensus(prevProposers, curProposers, curAgree, curClosed, prevAgreeSecs, curAgreeSecs int) bool {
	if curAgreeSecs <= LedgerMinConsensus {
		return false
	}

	if curProposers < (prevProposers*3)/4 {
		// The validator population shrank noticeably; require extra time
		// before trusting the shrunken view.
		if curAgreeSecs < prevAgreeSecs+2 {
			return false
		}
	}

	// Agreement threshold: the +1/+100 terms fold the local node's own
	// position into the tally.
	if (curAgree*100+100)/(curProposers+1) > 80 {
		return true
	}

	// Closed-peer threshold: the local node is excluded from curClosed, so
	// when over half of the others have already closed, we should too.
	if (curClosed*100-100)/(curProposers+1) > 50 {
		return true
	}

	return false
}
