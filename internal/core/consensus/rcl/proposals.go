package rcl

import (
	"sync"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

// ProposalOutcome reports what ProposalTracker.Add did with an incoming
// proposal. Only ProposalAccepted positions are stored and counted toward
// convergence.
type ProposalOutcome int

const (
	// ProposalAccepted means the proposal was new or a newer position from
	// an already-known node, and is now the node's current position.
	ProposalAccepted ProposalOutcome = iota

	// ProposalStale means the proposal's position didn't advance the
	// sender's sequence (an old resend, or a duplicate), or the proposal
	// belongs to a round other than the one being tracked. Dropped without
	// being stored or counted.
	ProposalStale

	// ProposalUntrusted means the proposal's sender is not on the UNL this
	// tracker was given via SetTrusted. Dropped silently: not stored, not
	// relayed, not counted in TxSetCounts.
	ProposalUntrusted
)

// String returns the string representation of the outcome.
func (o ProposalOutcome) String() string {
	switch o {
	case ProposalAccepted:
		return "accepted"
	case ProposalStale:
		return "stale"
	case ProposalUntrusted:
		return "untrusted"
	default:
		return "unknown"
	}
}

// ProposalTracker tracks the proposed positions trusted validators have
// taken during a consensus round, and which tx set each has proposed, so
// the engine can decide when proposals have converged.
type ProposalTracker struct {
	mu sync.RWMutex

	// round is the current round being tracked
	round consensus.RoundID

	// proposals maps node ID to their current proposal. Only ever holds
	// proposals that were ProposalAccepted: untrusted or stale proposals
	// never enter this map.
	proposals map[consensus.NodeID]*consensus.Proposal

	// byTxSet maps tx set ID to nodes proposing it
	byTxSet map[consensus.TxSetID]map[consensus.NodeID]bool

	// trusted is the UNL this round is tracking: the set of validators
	// whose proposals are accepted and whose votes count toward
	// convergence and the winning tx set.
	trusted map[consensus.NodeID]bool

	// freshness is how long proposals are considered fresh; PruneStale
	// drops positions older than this.
	freshness time.Duration

	// lastChange is when Add last accepted a position. Stall detection
	// compares this against the clock: a round that has gone quiet is one
	// where no peer has moved in a while.
	lastChange time.Time
}

// NewProposalTracker creates a new proposal tracker.
func NewProposalTracker(freshness time.Duration) *ProposalTracker {
	return &ProposalTracker{
		proposals: make(map[consensus.NodeID]*consensus.Proposal),
		byTxSet:   make(map[consensus.TxSetID]map[consensus.NodeID]bool),
		trusted:   make(map[consensus.NodeID]bool),
		freshness: freshness,
	}
}

// SetRound sets the current round being tracked, discarding any proposals
// left over from the previous one.
func (pt *ProposalTracker) SetRound(round consensus.RoundID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.round = round
	pt.proposals = make(map[consensus.NodeID]*consensus.Proposal)
	pt.byTxSet = make(map[consensus.TxSetID]map[consensus.NodeID]bool)
}

// SetTrusted updates the UNL this round is tracking.
func (pt *ProposalTracker) SetTrusted(nodes []consensus.NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.trusted = make(map[consensus.NodeID]bool)
	for _, node := range nodes {
		pt.trusted[node] = true
	}
}

// Add records a proposal, enforcing the three rules that decide whether it
// affects round state at all:
//
//  1. it must belong to the round currently being tracked (a proposal for a
//     round we already left or haven't started is ProposalStale);
//  2. its Position must exceed the sender's last accepted position (the
//     sequence invariant -- a resend or reorder is ProposalStale, never a
//     rollback of the sender's prior vote);
//  3. its sender must be on the UNL (ProposalUntrusted) -- this is
//     belt-and-suspenders with the engine's own trust check before Add is
//     ever called, so the tracker's invariants hold even if called
//     directly, e.g. from a test.
func (pt *ProposalTracker) Add(proposal *consensus.Proposal) ProposalOutcome {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.trusted[proposal.NodeID] {
		return ProposalUntrusted
	}

	if proposal.Round != pt.round {
		return ProposalStale
	}

	existing, hasExisting := pt.proposals[proposal.NodeID]
	if hasExisting {
		if proposal.Position <= existing.Position {
			return ProposalStale
		}

		if nodes, exists := pt.byTxSet[existing.TxSet]; exists {
			delete(nodes, proposal.NodeID)
			if len(nodes) == 0 {
				delete(pt.byTxSet, existing.TxSet)
			}
		}
	}

	pt.proposals[proposal.NodeID] = proposal

	nodes, exists := pt.byTxSet[proposal.TxSet]
	if !exists {
		nodes = make(map[consensus.NodeID]bool)
		pt.byTxSet[proposal.TxSet] = nodes
	}
	nodes[proposal.NodeID] = true
	pt.lastChange = proposal.Timestamp

	return ProposalAccepted
}

// LastChange returns when the tracker last accepted a new or updated
// position, zero if none has been accepted this round.
func (pt *ProposalTracker) LastChange() time.Time {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.lastChange
}

// PruneStale discards positions whose proposals are older than the
// tracker's freshness window: a proposer that has gone silent longer than
// that is treated as having left the round, so its last position no
// longer counts toward convergence or the proposer tally.
func (pt *ProposalTracker) PruneStale(now time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	cutoff := now.Add(-pt.freshness)
	for nodeID, p := range pt.proposals {
		if !p.Timestamp.Before(cutoff) {
			continue
		}
		delete(pt.proposals, nodeID)
		if nodes, exists := pt.byTxSet[p.TxSet]; exists {
			delete(nodes, nodeID)
			if len(nodes) == 0 {
				delete(pt.byTxSet, p.TxSet)
			}
		}
	}
}

// Get returns the proposal from a specific node.
func (pt *ProposalTracker) Get(nodeID consensus.NodeID) *consensus.Proposal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.proposals[nodeID]
}

// GetAll returns all current proposals.
func (pt *ProposalTracker) GetAll() []*consensus.Proposal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	result := make([]*consensus.Proposal, 0, len(pt.proposals))
	for _, p := range pt.proposals {
		result = append(result, p)
	}
	return result
}

// GetTrusted returns proposals from trusted validators. Since Add already
// rejects untrusted senders, this is equivalent to GetAll, but the accessor
// is kept separate: callers that only care about the UNL view (the engine's
// dispute resolution) shouldn't depend on Add's internal trust gate.
func (pt *ProposalTracker) GetTrusted() []*consensus.Proposal {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	var result []*consensus.Proposal
	for nodeID, p := range pt.proposals {
		if pt.trusted[nodeID] {
			result = append(result, p)
		}
	}
	return result
}

// GetForTxSet returns nodes proposing a specific tx set.
func (pt *ProposalTracker) GetForTxSet(txSetID consensus.TxSetID) []consensus.NodeID {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	nodes, exists := pt.byTxSet[txSetID]
	if !exists {
		return nil
	}

	result := make([]consensus.NodeID, 0, len(nodes))
	for nodeID := range nodes {
		result = append(result, nodeID)
	}
	return result
}

// GetTrustedForTxSet returns trusted nodes proposing a specific tx set.
func (pt *ProposalTracker) GetTrustedForTxSet(txSetID consensus.TxSetID) []consensus.NodeID {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	nodes, exists := pt.byTxSet[txSetID]
	if !exists {
		return nil
	}

	var result []consensus.NodeID
	for nodeID := range nodes {
		if pt.trusted[nodeID] {
			result = append(result, nodeID)
		}
	}
	return result
}

// TxSetCounts returns the count of proposals for each tx set.
func (pt *ProposalTracker) TxSetCounts() map[consensus.TxSetID]int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	result := make(map[consensus.TxSetID]int)
	for txSetID, nodes := range pt.byTxSet {
		result[txSetID] = len(nodes)
	}
	return result
}

// TrustedTxSetCounts returns the count of trusted proposals for each tx set.
func (pt *ProposalTracker) TrustedTxSetCounts() map[consensus.TxSetID]int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	result := make(map[consensus.TxSetID]int)
	for txSetID, nodes := range pt.byTxSet {
		count := 0
		for nodeID := range nodes {
			if pt.trusted[nodeID] {
				count++
			}
		}
		if count > 0 {
			result[txSetID] = count
		}
	}
	return result
}

// GetWinningTxSet returns the tx set with the most trusted support.
func (pt *ProposalTracker) GetWinningTxSet() (consensus.TxSetID, int) {
	counts := pt.TrustedTxSetCounts()

	var bestID consensus.TxSetID
	bestCount := 0

	for txSetID, count := range counts {
		if count > bestCount {
			bestID = txSetID
			bestCount = count
		}
	}

	return bestID, bestCount
}

// Count returns the total number of proposals.
func (pt *ProposalTracker) Count() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.proposals)
}

// TrustedCount returns the number of proposals from trusted validators.
func (pt *ProposalTracker) TrustedCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	count := 0
	for nodeID := range pt.proposals {
		if pt.trusted[nodeID] {
			count++
		}
	}
	return count
}

// HasConverged reports whether the share of trusted proposers backing the
// single best-supported tx set has reached threshold -- the escalating bias
// figure the engine recomputes every tick from bias.go's step schedule.
func (pt *ProposalTracker) HasConverged(threshold float64) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	trustedCount := 0
	for nodeID := range pt.proposals {
		if pt.trusted[nodeID] {
			trustedCount++
		}
	}

	if trustedCount == 0 {
		return false
	}

	bestCount := 0
	for _, nodes := range pt.byTxSet {
		count := 0
		for nodeID := range nodes {
			if pt.trusted[nodeID] {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
		}
	}
	return float64(bestCount)/float64(trustedCount) >= threshold
}

// Clear removes all proposals.
func (pt *ProposalTracker) Clear() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.proposals = make(map[consensus.NodeID]*consensus.Proposal)
	pt.byTxSet = make(map[consensus.TxSetID]map[consensus.NodeID]bool)
}

// DisputeTracker tracks, per transaction, which trusted peers want it
// included in the closing ledger and which don't, so the engine can resolve
// each dispute against the round's current bias threshold.
type DisputeTracker struct {
	mu sync.RWMutex

	// disputes maps tx ID to dispute info
	disputes map[consensus.TxID]*consensus.DisputedTx

	// ourVotes tracks our votes on disputes
	ourVotes map[consensus.TxID]bool
}

// NewDisputeTracker creates a new dispute tracker.
func NewDisputeTracker() *DisputeTracker {
	return &DisputeTracker{
		disputes: make(map[consensus.TxID]*consensus.DisputedTx),
		ourVotes: make(map[consensus.TxID]bool),
	}
}

// CreateDispute creates a new disputed transaction.
func (dt *DisputeTracker) CreateDispute(txID consensus.TxID, tx []byte, ourVote bool) *consensus.DisputedTx {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if existing, exists := dt.disputes[txID]; exists {
		return existing
	}

	dispute := &consensus.DisputedTx{
		TxID:    txID,
		Tx:      tx,
		OurVote: ourVote,
		Yays:    0,
		Nays:    0,
	}

	if ourVote {
		dispute.Yays = 1
	} else {
		dispute.Nays = 1
	}

	dt.disputes[txID] = dispute
	dt.ourVotes[txID] = ourVote

	return dispute
}

// AddVote records a vote on a disputed transaction.
func (dt *DisputeTracker) AddVote(txID consensus.TxID, include bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	dispute, exists := dt.disputes[txID]
	if !exists {
		return
	}

	if include {
		dispute.Yays++
	} else {
		dispute.Nays++
	}
}

// GetDispute returns a disputed transaction.
func (dt *DisputeTracker) GetDispute(txID consensus.TxID) *consensus.DisputedTx {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.disputes[txID]
}

// GetAll returns all disputed transactions.
func (dt *DisputeTracker) GetAll() []*consensus.DisputedTx {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	result := make([]*consensus.DisputedTx, 0, len(dt.disputes))
	for _, d := range dt.disputes {
		result = append(result, d)
	}
	return result
}

// Resolve determines which disputed transactions clear threshold.
// Returns (include, exclude) lists.
func (dt *DisputeTracker) Resolve(threshold float64) ([]consensus.TxID, []consensus.TxID) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	var include, exclude []consensus.TxID

	for txID, dispute := range dt.disputes {
		total := dispute.Yays + dispute.Nays
		if total == 0 {
			continue
		}

		if float64(dispute.Yays)/float64(total) >= threshold {
			include = append(include, txID)
		} else {
			exclude = append(exclude, txID)
		}
	}

	return include, exclude
}

// ResolveAt resolves every open dispute against the bias threshold that
// applies elapsed time into the Establishing phase, per the escalating
// bias schedule in thresholds (50% up to the first band, then +10% per
// band, capped at 80%). This is the DisputeTracker-level counterpart of
// the per-node updateDisputes tally the engine runs against peer tx sets;
// Resolve itself stays threshold-agnostic so callers that already have a
// threshold in hand (or are testing a fixed one) don't need a Thresholds
// value at all.
func (dt *DisputeTracker) ResolveAt(thresholds consensus.Thresholds, elapsed time.Duration) ([]consensus.TxID, []consensus.TxID) {
	return dt.Resolve(biasThreshold(thresholds, elapsed))
}

// UpdateOurVote updates our vote on a dispute.
func (dt *DisputeTracker) UpdateOurVote(txID consensus.TxID, include bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	dispute, exists := dt.disputes[txID]
	if !exists {
		return
	}

	oldVote, hadVote := dt.ourVotes[txID]
	if hadVote && oldVote == include {
		return // No change
	}

	// Update vote counts
	if hadVote {
		if oldVote {
			dispute.Yays--
		} else {
			dispute.Nays--
		}
	}

	if include {
		dispute.Yays++
	} else {
		dispute.Nays++
	}

	dispute.OurVote = include
	dt.ourVotes[txID] = include
}

// Count returns the number of disputes.
func (dt *DisputeTracker) Count() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.disputes)
}

// Clear removes all disputes.
func (dt *DisputeTracker) Clear() {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	dt.disputes = make(map[consensus.TxID]*consensus.DisputedTx)
	dt.ourVotes = make(map[consensus.TxID]bool)
}
