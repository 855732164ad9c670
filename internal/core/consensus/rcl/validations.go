package rcl

import (
	"sync"
	"time"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

// ValidationTracker tracks the validations other nodes broadcast for closed
// ledgers and decides when a ledger has reached full (quorum) validation.
// Only validations from nodes on the trusted set (the UNL) count toward
// quorum; validations from elsewhere are still recorded per ledger, for
// diagnostics, but never move IsFullyValidated.
type ValidationTracker struct {
	mu sync.RWMutex

	// validations maps ledger ID to the validations seen for that ledger,
	// trusted and untrusted alike.
	validations map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation

	// latestByNode maps node ID to its most recent validation, used to
	// reject stale (lower-sequence) resends from the same node.
	latestByNode map[consensus.NodeID]*consensus.Validation

	// trusted is this round's UNL: the set of validators whose votes count
	// toward quorum.
	trusted map[consensus.NodeID]bool

	// quorum is the number of trusted validations a ledger needs before
	// onFullyValidated fires.
	quorum int

	// freshness bounds how long a node's last validation is considered
	// "currently validating" by GetCurrentValidators.
	freshness time.Duration

	onFullyValidated func(ledgerID consensus.LedgerID)
}

// NewValidationTracker creates a new validation tracker.
func NewValidationTracker(quorum int, freshness time.Duration) *ValidationTracker {
	return &ValidationTracker{
		validations:  make(map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation),
		latestByNode: make(map[consensus.NodeID]*consensus.Validation),
		trusted:      make(map[consensus.NodeID]bool),
		quorum:       quorum,
		freshness:    freshness,
	}
}

// SetTrusted updates the UNL used to decide which validations count toward
// quorum.
func (vt *ValidationTracker) SetTrusted(nodes []consensus.NodeID) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.trusted = make(map[consensus.NodeID]bool)
	for _, node := range nodes {
		vt.trusted[node] = true
	}
}

// SetQuorum updates the number of trusted validations required for a
// ledger to be considered fully validated.
func (vt *ValidationTracker) SetQuorum(quorum int) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.quorum = quorum
}

// SetFullyValidatedCallback sets the callback invoked the moment a ledger
// crosses quorum.
func (vt *ValidationTracker) SetFullyValidatedCallback(fn func(consensus.LedgerID)) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.onFullyValidated = fn
}

// Add records a validation, rejecting it if it is older than (or the same
// sequence as) the last one seen from this node: nodes validate at most
// one ledger per sequence, so a lower or equal sequence number is a stale
// resend, not a new vote. Returns true if the validation was recorded.
func (vt *ValidationTracker) Add(validation *consensus.Validation) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if existing, ok := vt.latestByNode[validation.NodeID]; ok {
		if validation.LedgerSeq <= existing.LedgerSeq {
			return false
		}
	}
	vt.latestByNode[validation.NodeID] = validation

	ledgerVals, exists := vt.validations[validation.LedgerID]
	if !exists {
		ledgerVals = make(map[consensus.NodeID]*consensus.Validation)
		vt.validations[validation.LedgerID] = ledgerVals
	}
	ledgerVals[validation.NodeID] = validation

	if vt.trusted[validation.NodeID] {
		vt.checkFullValidation(validation.LedgerID)
	}
	return true
}

// trustedCountLocked counts the trusted validations seen for ledgerID.
// Caller holds vt.mu.
func (vt *ValidationTracker) trustedCountLocked(ledgerID consensus.LedgerID) int {
	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return 0
	}
	count := 0
	for nodeID := range ledgerVals {
		if vt.trusted[nodeID] {
			count++
		}
	}
	return count
}

// checkFullValidation fires onFullyValidated the moment ledgerID's trusted
// validation count reaches quorum. Caller holds vt.mu.
func (vt *ValidationTracker) checkFullValidation(ledgerID consensus.LedgerID) {
	if vt.trustedCountLocked(ledgerID) == vt.quorum && vt.onFullyValidated != nil {
		vt.onFullyValidated(ledgerID)
	}
}

// GetValidations returns all validations recorded for a ledger, trusted and
// untrusted.
func (vt *ValidationTracker) GetValidations(ledgerID consensus.LedgerID) []*consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return nil
	}

	result := make([]*consensus.Validation, 0, len(ledgerVals))
	for _, v := range ledgerVals {
		result = append(result, v)
	}
	return result
}

// GetTrustedValidations returns the UNL-member validations recorded for a
// ledger.
func (vt *ValidationTracker) GetTrustedValidations(ledgerID consensus.LedgerID) []*consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return nil
	}

	var result []*consensus.Validation
	for nodeID, v := range ledgerVals {
		if vt.trusted[nodeID] {
			result = append(result, v)
		}
	}
	return result
}

// GetValidationCount returns the total validation count for a ledger.
func (vt *ValidationTracker) GetValidationCount(ledgerID consensus.LedgerID) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	ledgerVals, exists := vt.validations[ledgerID]
	if !exists {
		return 0
	}
	return len(ledgerVals)
}

// GetTrustedValidationCount returns the UNL validation count for a ledger,
// the figure IsFullyValidated compares against quorum.
func (vt *ValidationTracker) GetTrustedValidationCount(ledgerID consensus.LedgerID) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return vt.trustedCountLocked(ledgerID)
}

// IsFullyValidated reports whether a ledger has reached quorum among
// trusted validators.
func (vt *ValidationTracker) IsFullyValidated(ledgerID consensus.LedgerID) bool {
	return vt.GetTrustedValidationCount(ledgerID) >= vt.quorum
}

// GetLatestValidation returns the most recent validation received from a
// node, regardless of trust.
func (vt *ValidationTracker) GetLatestValidation(nodeID consensus.NodeID) *consensus.Validation {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return vt.latestByNode[nodeID]
}

// TrustedNodesAfter counts the trusted nodes whose latest validation is
// for a ledger past seq: peers that have already closed and moved on while
// we are still establishing. The consensus check feeds this count into the
// closed-peer threshold, so a node lagging the network closes with it.
func (vt *ValidationTracker) TrustedNodesAfter(seq uint32) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	count := 0
	for nodeID, v := range vt.latestByNode {
		if vt.trusted[nodeID] && v.LedgerSeq > seq {
			count++
		}
	}
	return count
}

// GetCurrentValidators returns the nodes whose latest validation is still
// within the freshness window, i.e. are actively validating right now.
func (vt *ValidationTracker) GetCurrentValidators() []consensus.NodeID {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	cutoff := time.Now().Add(-vt.freshness)
	var result []consensus.NodeID

	for nodeID, v := range vt.latestByNode {
		if v.SignTime.After(cutoff) {
			result = append(result, nodeID)
		}
	}
	return result
}

// ExpireOld drops every ledger's validation set whose sequence is below
// minSeq. The engine calls this after accepting a ledger so the tracker
// doesn't keep validations for rounds that can no longer matter; it does
// not touch latestByNode, since a node's last-seen sequence number is
// still needed to reject stale resends from it.
func (vt *ValidationTracker) ExpireOld(minSeq uint32) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	for ledgerID, ledgerVals := range vt.validations {
		for _, v := range ledgerVals {
			if v.LedgerSeq < minSeq {
				delete(vt.validations, ledgerID)
			}
			break
		}
	}
}

// Clear removes all tracked validations and per-node history.
func (vt *ValidationTracker) Clear() {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	vt.validations = make(map[consensus.LedgerID]map[consensus.NodeID]*consensus.Validation)
	vt.latestByNode = make(map[consensus.NodeID]*consensus.Validation)
}

// ValidationStats summarizes the tracker's current state for diagnostics.
type ValidationStats struct {
	TotalValidations   int
	TrustedValidations int
	ValidatorsActive   int
	LedgersTracked     int
}

// GetStats returns current validation statistics.
func (vt *ValidationTracker) GetStats() ValidationStats {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	totalValidations := 0
	trustedValidations := 0

	for _, ledgerVals := range vt.validations {
		for nodeID := range ledgerVals {
			totalValidations++
			if vt.trusted[nodeID] {
				trustedValidations++
			}
		}
	}

	return ValidationStats{
		TotalValidations:   totalValidations,
		TrustedValidations: trustedValidations,
		ValidatorsActive:   len(vt.latestByNode),
		LedgersTracked:     len(vt.validations),
	}
}
