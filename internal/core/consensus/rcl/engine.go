// Package rcl implements the Ripple Consensus Ledger algorithm.
// This is the default consensus algorithm used by the XRP Ledger.
package rcl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/cache"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/feetrack"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/load"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/timing"
)

// tickInterval is how often run polls for close/consensus decisions and
// drains the inbox. It bounds reaction latency, not round duration: the
// actual close/consensus timing comes from the timing package applied to
// the adaptor's clock, not from this interval.
const tickInterval = 100 * time.Millisecond

// roundStallThreshold is how long a round may sit in Establish without
// converging before stall detection engages; stallQuiet is how long peer
// positions must additionally have been unchanged before the stall is
// reported. A stalled round keeps running -- the report is a fork-suspicion
// signal for operators, not an abort.
const (
	roundStallThreshold = 20 * time.Second
	stallQuiet          = 5 * time.Second
)

// Engine implements the RCL consensus algorithm.
type Engine struct {
	mu sync.RWMutex

	timing     consensus.Timing
	thresholds consensus.Thresholds

	adaptor  consensus.Adaptor
	eventBus *consensus.EventBus

	load     *load.Manager
	fees     *feetrack.State
	verified *cache.VerifiedSet

	mode       consensus.Mode
	phase      consensus.Phase
	state      *consensus.RoundState
	prevLedger consensus.Ledger

	proposalTracker   *ProposalTracker
	disputeTracker    *DisputeTracker
	validationTracker *ValidationTracker

	ourTxSet  consensus.TxSet
	converged bool
	stalled   bool

	// inbox holds proposals/validations delivered by peer I/O but not yet
	// processed; tick drains it at the start of every poll instead of the
	// network callback mutating round state directly.
	inboxMu            sync.Mutex
	pendingProposals   []*consensus.Proposal
	pendingValidations []*consensus.Validation

	// prevRound* carry statistics from the last completed round into the
	// timing oracle's shouldClose/haveConsensus calls for this one.
	prevRoundProposers int
	prevRoundOpenSecs  int
	prevRoundAgreeSecs int

	ctx         context.Context
	cancel      context.CancelFunc
	roundCtx    context.Context
	roundCancel context.CancelFunc
	wg          sync.WaitGroup

	roundCount     uint64
	consensusCount uint64
}

// Config holds RCL engine configuration.
type Config struct {
	Timing     consensus.Timing
	Thresholds consensus.Thresholds

	// Load and Fees are optional; if nil, NewEngine creates node-default
	// instances. Callers that run multiple engines sharing one node's
	// load/fee state should pass the same instances in.
	Load *load.Manager
	Fees *feetrack.State

	// CacheSize bounds the signature-verification memo. Zero uses the
	// package default.
	CacheSize int
}

// DefaultConfig returns the default RCL configuration.
func DefaultConfig() Config {
	return Config{
		Timing:     consensus.DefaultTiming(),
		Thresholds: consensus.DefaultThresholds(),
	}
}

// NewEngine creates a new RCL consensus engine.
func NewEngine(adaptor consensus.Adaptor, config Config) *Engine {
	loadMgr := config.Load
	if loadMgr == nil {
		loadMgr = load.NewManager(load.Config{}, nil)
	}
	fees := config.Fees
	if fees == nil {
		fees = feetrack.NewState()
	}
	verified, err := cache.NewVerifiedSet(config.CacheSize)
	if err != nil {
		verified, _ = cache.NewVerifiedSet(0)
	}

	return &Engine{
		timing:            config.Timing,
		thresholds:        config.Thresholds,
		adaptor:           adaptor,
		eventBus:          consensus.NewEventBus(100),
		load:              loadMgr,
		fees:              fees,
		verified:          verified,
		mode:              consensus.ModeObserving,
		phase:             consensus.PhaseAccepted,
		proposalTracker:   NewProposalTracker(config.Timing.ProposeFreshness),
		disputeTracker:    NewDisputeTracker(),
		validationTracker: NewValidationTracker(1, config.Timing.ValidationFreshness),
	}
}

// Start begins the consensus engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.eventBus.Start()

	ledger, err := e.adaptor.GetLastClosedLedger()
	if err != nil {
		return fmt.Errorf("failed to get last closed ledger: %w", err)
	}
	e.prevLedger = ledger

	e.load.RunCanonicalizer(e.ctx, time.Second)

	e.wg.Add(1)
	go e.run()

	return nil
}

// Stop gracefully shuts down the consensus engine.
func (e *Engine) Stop() error {
	e.cancel()
	e.wg.Wait()
	e.load.Stop()
	e.eventBus.Stop()
	return nil
}

// StartRound begins a new consensus round.
func (e *Engine) StartRound(round consensus.RoundID, proposing bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if proposing && e.adaptor.IsValidator() && e.adaptor.GetOperatingMode() == consensus.OpModeFull {
		e.setMode(consensus.ModeProposing)
	} else {
		e.setMode(consensus.ModeObserving)
	}

	// abort() semantics: cancelling the previous round's sub-context lets
	// in-flight signature verification finish on its own time but discards
	// its result once this round has moved on.
	if e.roundCancel != nil {
		e.roundCancel()
	}
	parent := e.ctx
	if parent == nil {
		parent = context.Background()
	}
	e.roundCtx, e.roundCancel = context.WithCancel(parent)

	e.state = &consensus.RoundState{
		Round:          round,
		Mode:           e.mode,
		Phase:          consensus.PhaseOpen,
		Proposals:      make(map[consensus.NodeID]*consensus.Proposal),
		Disputed:       make(map[consensus.TxID]*consensus.DisputedTx),
		CloseTimes:     consensus.CloseTimes{Peers: make(map[time.Time]int)},
		StartTime:      e.adaptor.Now(),
		PhaseStart:     e.adaptor.Now(),
		HaveCorrectLCL: true,
	}

	e.proposalTracker.SetRound(round)
	e.proposalTracker.SetTrusted(e.adaptor.GetTrustedValidators())
	e.validationTracker.SetTrusted(e.adaptor.GetTrustedValidators())
	e.validationTracker.SetQuorum(e.adaptor.GetQuorum())
	e.disputeTracker.Clear()
	e.converged = false
	e.stalled = false
	e.ourTxSet = nil

	e.setPhase(consensus.PhaseOpen)

	e.eventBus.Publish(&consensus.RoundStartedEvent{
		Round:     round,
		Mode:      e.mode,
		Timestamp: e.adaptor.Now(),
	})

	e.roundCount++
	return nil
}

// OnProposal accepts an incoming proposal from a peer. It does not verify
// or apply the proposal itself: the next tick drains the inbox, verifying
// signatures concurrently and applying results under the round lock. This
// mirrors how peer I/O threads hand work to a single consensus thread.
func (e *Engine) OnProposal(proposal *consensus.Proposal) error {
	e.inboxMu.Lock()
	e.pendingProposals = append(e.pendingProposals, proposal)
	e.inboxMu.Unlock()
	return nil
}

// OnValidation accepts an incoming validation from a peer; see OnProposal.
func (e *Engine) OnValidation(validation *consensus.Validation) error {
	e.inboxMu.Lock()
	e.pendingValidations = append(e.pendingValidations, validation)
	e.inboxMu.Unlock()
	return nil
}

// OnTxSet handles receiving a transaction set we requested.
func (e *Engine) OnTxSet(id consensus.TxSetID, txs [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txSet, err := e.adaptor.BuildTxSet(txs)
	if err != nil {
		return fmt.Errorf("failed to build tx set: %w", err)
	}

	if txSet.ID() != id {
		return fmt.Errorf("tx set ID mismatch: expected %x, got %x", id, txSet.ID())
	}

	if e.phase == consensus.PhaseEstablish {
		e.checkConvergence()
	}

	return nil
}

// OnLedger handles receiving a ledger we were missing.
func (e *Engine) OnLedger(id consensus.LedgerID, ledger []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == consensus.ModeWrongLedger {
		l, err := e.adaptor.LoadLedgerByHash(id)
		if err == nil && l != nil {
			e.prevLedger = l
			e.state.HaveCorrectLCL = true
			e.setMode(consensus.ModeSwitchedLedger)
		}
	}

	return nil
}

// AcquireLedgerAtSeq recovers from ModeWrongLedger using a sequence number
// rather than a hash: a node that fell behind may know which sequence the
// network has moved on to (from peer validations) before it knows that
// ledger's hash. On success this is otherwise identical to OnLedger.
func (e *Engine) AcquireLedgerAtSeq(seq uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != consensus.ModeWrongLedger {
		return nil
	}

	l, err := e.adaptor.LoadLedgerBySeq(seq)
	if err != nil || l == nil {
		return err
	}

	e.prevLedger = l
	e.state.HaveCorrectLCL = true
	e.setMode(consensus.ModeSwitchedLedger)
	return nil
}

// SeedPreviousRound primes the previous-round statistics the timing rules
// consult on the engine's very first close and agreement decisions,
// typically from the audit log's last recorded round after a restart. Once
// a round completes, live statistics take over.
func (e *Engine) SeedPreviousRound(proposers, openSecs, agreeSecs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prevRoundProposers = proposers
	e.prevRoundOpenSecs = openSecs
	e.prevRoundAgreeSecs = agreeSecs
}

// Abort drops the current round without producing a ledger. In-flight
// signature verification is allowed to finish but its results are
// discarded, and the engine waits in the accepted phase for the correct
// ledger to be acquired before the next round. Used when the node
// discovers it is not on the network's ledger.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil || e.phase == consensus.PhaseAccepted {
		return
	}

	if e.roundCancel != nil {
		e.roundCancel()
	}

	e.converged = false
	e.stalled = false
	e.ourTxSet = nil

	e.setMode(consensus.ModeWrongLedger)
	e.setPhase(consensus.PhaseAccepted)
}

// State returns the current consensus state.
func (e *Engine) State() *consensus.RoundState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Mode returns the current operating mode.
func (e *Engine) Mode() consensus.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Phase returns the current consensus phase.
func (e *Engine) Phase() consensus.Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// IsProposing returns true if we're actively proposing.
func (e *Engine) IsProposing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode == consensus.ModeProposing
}

// Timing returns the consensus timing parameters.
func (e *Engine) Timing() consensus.Timing {
	return e.timing
}

// Subscribe adds an event subscriber.
func (e *Engine) Subscribe(sub consensus.EventSubscriber) {
	e.eventBus.Subscribe(sub)
}

// Events returns the event channel for direct consumption.
func (e *Engine) Events() <-chan consensus.Event {
	return e.eventBus.Events()
}

// Load returns the engine's load accountant, for wiring network-layer
// peer I/O outcomes (bad data, unwanted messages) into the same balances
// the consensus driver debits for signature failures.
func (e *Engine) Load() *load.Manager {
	return e.load
}

// Fees returns the engine's fee-scale tracker.
func (e *Engine) Fees() *feetrack.State {
	return e.fees
}

// run is the main consensus loop.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.adaptor.GetOperatingMode() == consensus.OpModeFull {
				e.checkAndStartRound()
			}
			e.tick()
		}
	}
}

// tick drains the inbox and advances the round's phase if the timing
// oracle says it is due. It is exported to the package (not outside it)
// so tests can call it directly instead of sleeping on the real clock.
func (e *Engine) tick() {
	e.drainInbox()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return
	}

	switch e.phase {
	case consensus.PhaseOpen:
		e.maybeClose()
	case consensus.PhaseEstablish:
		e.maybeAcceptOrStall()
	}
}

// drainInbox verifies and applies every proposal/validation delivered
// since the last tick. Signature checks run concurrently via errgroup;
// cancelling e.roundCtx (a new round starting, or Stop) abandons whatever
// verification is still in flight without corrupting round state, since
// nothing is applied until the group completes.
func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	proposals := e.pendingProposals
	validations := e.pendingValidations
	e.pendingProposals = nil
	e.pendingValidations = nil
	e.inboxMu.Unlock()

	if len(proposals) == 0 && len(validations) == 0 {
		return
	}

	e.mu.RLock()
	roundCtx := e.roundCtx
	e.mu.RUnlock()
	if roundCtx == nil {
		roundCtx = context.Background()
	}

	proposalValid := make([]bool, len(proposals))
	validationValid := make([]bool, len(validations))

	g, _ := errgroup.WithContext(roundCtx)
	for i, p := range proposals {
		i, p := i, p
		g.Go(func() error {
			proposalValid[i] = e.verifyProposalCached(p)
			return nil
		})
	}
	for i, v := range validations {
		i, v := i, v
		g.Go(func() error {
			validationValid[i] = e.verifyValidationCached(v)
			return nil
		})
	}
	_ = g.Wait()

	select {
	case <-roundCtx.Done():
		// The round that owned these messages was aborted; any results
		// computed above are discarded rather than applied to the new
		// round's state.
		return
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range proposals {
		e.applyProposal(p, proposalValid[i])
	}
	for i, v := range validations {
		e.applyValidation(v, validationValid[i])
	}
}

// verifyProposalCached checks a proposal's signature, consulting the
// verified-signature memo first so a relayed duplicate is not re-verified.
func (e *Engine) verifyProposalCached(p *consensus.Proposal) bool {
	key := proposalCacheKey(p)
	if valid, found := e.verified.Lookup(key); found {
		return valid
	}
	valid := e.adaptor.VerifyProposal(p) == nil
	e.verified.Record(key, valid)
	return valid
}

func (e *Engine) verifyValidationCached(v *consensus.Validation) bool {
	key := validationCacheKey(v)
	if valid, found := e.verified.Lookup(key); found {
		return valid
	}
	valid := e.adaptor.VerifyValidation(v) == nil
	e.verified.Record(key, valid)
	return valid
}

// applyProposal must be called with e.mu held.
func (e *Engine) applyProposal(proposal *consensus.Proposal, valid bool) {
	source := nodeIDKey(proposal.NodeID)
	if !valid {
		e.load.AdjustKind(source, load.InvalidSignature)
		e.checkCutoff(source)
		return
	}

	trusted := e.adaptor.IsTrusted(proposal.NodeID)

	e.eventBus.Publish(&consensus.ProposalReceivedEvent{
		Proposal:  proposal,
		Trusted:   trusted,
		Timestamp: e.adaptor.Now(),
	})

	if !trusted {
		// UntrustedProposer: the proposer isn't on our UNL. Dropped
		// silently, same as a malformed proposal, rather than inserted
		// into the tracker where it would count toward TxSetCounts or
		// trigger a tx-set request on our behalf.
		return
	}

	outcome := e.proposalTracker.Add(proposal)
	if outcome == ProposalStale {
		return
	}

	e.adaptor.RelayProposal(proposal)

	if _, err := e.adaptor.GetTxSet(proposal.TxSet); err != nil {
		e.adaptor.RequestTxSet(proposal.TxSet)
	}

	if e.phase == consensus.PhaseEstablish {
		e.checkConvergence()
	}
}

// applyValidation must be called with e.mu held.
func (e *Engine) applyValidation(validation *consensus.Validation, valid bool) {
	source := nodeIDKey(validation.NodeID)
	if !valid {
		e.load.AdjustKind(source, load.InvalidSignature)
		e.checkCutoff(source)
		return
	}

	trusted := e.adaptor.IsTrusted(validation.NodeID)
	e.validationTracker.Add(validation)

	e.eventBus.Publish(&consensus.ValidationReceivedEvent{
		Validation: validation,
		Trusted:    trusted,
		Timestamp:  e.adaptor.Now(),
	})
}

// checkCutoff emits SourceCutoffEvent the moment a source's balance
// crosses the cutoff line, so observers can act on it once rather than
// on every subsequent debit.
func (e *Engine) checkCutoff(source string) {
	if !e.load.ShouldCutoff(source) {
		return
	}
	snap := e.load.Snapshot(source)
	e.eventBus.Publish(&consensus.SourceCutoffEvent{
		Source:    source,
		Balance:   snap.Balance,
		Timestamp: e.adaptor.Now(),
	})
}

// checkAndStartRound checks if we should start a new round.
func (e *Engine) checkAndStartRound() {
	e.mu.Lock()
	if e.phase != consensus.PhaseAccepted || e.mode == consensus.ModeWrongLedger {
		e.mu.Unlock()
		return
	}

	ledger, err := e.adaptor.GetLastClosedLedger()
	if err != nil {
		e.mu.Unlock()
		return
	}

	timeSinceClose := e.adaptor.Now().Sub(ledger.CloseTime())
	if timeSinceClose < e.timing.LedgerIdleInterval {
		e.mu.Unlock()
		return
	}

	proposing := e.adaptor.IsValidator() && e.adaptor.GetOperatingMode() == consensus.OpModeFull
	round := consensus.RoundID{
		Seq:        ledger.Seq() + 1,
		ParentHash: ledger.ID(),
	}
	e.mu.Unlock()

	e.StartRound(round, proposing)
}

// setMode changes the consensus mode. Caller holds e.mu.
func (e *Engine) setMode(newMode consensus.Mode) {
	if e.mode == newMode {
		return
	}

	oldMode := e.mode
	e.mode = newMode

	e.eventBus.Publish(&consensus.ModeChangedEvent{
		OldMode:   oldMode,
		NewMode:   newMode,
		Timestamp: e.adaptor.Now(),
	})

	e.adaptor.OnModeChange(oldMode, newMode)
}

// setPhase changes the consensus phase. Caller holds e.mu.
func (e *Engine) setPhase(newPhase consensus.Phase) {
	if e.phase == newPhase {
		return
	}

	oldPhase := e.phase
	e.phase = newPhase
	if e.state != nil {
		e.state.Phase = newPhase
		e.state.PhaseStart = e.adaptor.Now()
	}

	e.eventBus.Publish(&consensus.PhaseChangedEvent{
		Round:     e.state.Round,
		OldPhase:  oldPhase,
		NewPhase:  newPhase,
		Timestamp: e.adaptor.Now(),
	})

	e.adaptor.OnPhaseChange(oldPhase, newPhase)
}

// maybeClose evaluates the timing oracle's ShouldClose rule against the
// open ledger's age and closes it once due. Caller holds e.mu.
func (e *Engine) maybeClose() {
	now := e.adaptor.Now()
	currentOpenSecs := int(now.Sub(e.state.PhaseStart).Seconds())
	minClose := int(e.timing.LedgerMinClose.Seconds())
	if currentOpenSecs < minClose {
		return
	}

	anyTx := len(e.adaptor.GetPendingTxs()) > 0
	proposersClosed := e.proposalTracker.TrustedCount()

	closeAt := timing.ShouldClose(anyTx, e.prevRoundProposers, proposersClosed, e.prevRoundOpenSecs, currentOpenSecs)
	if currentOpenSecs < closeAt {
		return
	}

	e.eventBus.Publish(&consensus.TimerFiredEvent{
		Timer:     consensus.TimerLedgerClose,
		Round:     e.state.Round,
		Timestamp: now,
	})

	e.prevRoundOpenSecs = currentOpenSecs
	e.closeLedger()
}

// maybeAcceptOrStall evaluates HaveConsensus against current round
// statistics, reporting a stall when agreement stays out of reach while
// peer positions have gone quiet. Caller holds e.mu.
func (e *Engine) maybeAcceptOrStall() {
	now := e.adaptor.Now()
	e.proposalTracker.PruneStale(now)
	establishSecs := now.Sub(e.state.PhaseStart)

	curProposers := e.proposalTracker.TrustedCount()
	curAgree := 0
	if e.ourTxSet != nil {
		curAgree = e.proposalTracker.TrustedTxSetCounts()[e.ourTxSet.ID()]
	}
	curAgreeSecs := int(establishSecs.Seconds())
	curClosed := e.validationTracker.TrustedNodesAfter(e.prevLedger.Seq())

	if timing.HaveConsensus(e.prevRoundProposers, curProposers, curAgree, curClosed, e.prevRoundAgreeSecs, curAgreeSecs) {
		e.prevRoundAgreeSecs = curAgreeSecs
		e.acceptLedger(consensus.ResultSuccess)
		return
	}

	// Fork suspicion: agreement is still out of reach well past the normal
	// establish duration, and nobody has moved in a while. Report it and
	// keep driving the round; there is no silent abort.
	if !e.stalled && establishSecs >= roundStallThreshold &&
		now.Sub(e.proposalTracker.LastChange()) >= stallQuiet {
		e.stalled = true
		e.eventBus.Publish(&consensus.RoundStalledEvent{
			Round:     e.state.Round,
			Phase:     e.phase,
			Elapsed:   establishSecs,
			Timestamp: now,
		})
		e.applyFeeAdjustment(consensus.ResultTimeout)
	}

	e.checkConvergence()
}

// closeLedger transitions from open to establish phase.
func (e *Engine) closeLedger() {
	txs := e.adaptor.GetPendingTxs()
	txSet, err := e.adaptor.BuildTxSet(txs)
	if err != nil {
		return
	}
	e.ourTxSet = txSet

	closeTime := roundCloseTime(e.adaptor.Now(), e.adaptor.CloseTimeResolution())
	e.state.CloseTimes.Self = closeTime

	if e.mode == consensus.ModeProposing {
		nodeID, err := e.adaptor.GetValidatorKey()
		if err == nil {
			proposal := &consensus.Proposal{
				Round:          e.state.Round,
				NodeID:         nodeID,
				Position:       0,
				TxSet:          txSet.ID(),
				CloseTime:      closeTime,
				PreviousLedger: e.prevLedger.ID(),
				Timestamp:      e.adaptor.Now(),
			}

			if err := e.adaptor.SignProposal(proposal); err == nil {
				e.state.OurPosition = proposal
				e.adaptor.BroadcastProposal(proposal)
			}
		}
	}

	e.setPhase(consensus.PhaseEstablish)
}

// roundCloseTime rounds t to resolution, breaking an exact tie toward the
// lower boundary rather than rounding half up.
func roundCloseTime(t time.Time, resolution time.Duration) time.Time {
	if resolution <= 0 {
		return t
	}
	rounded := t.Truncate(resolution)
	if remainder := t.Sub(rounded); remainder*2 > resolution {
		rounded = rounded.Add(resolution)
	}
	return rounded
}

// checkConvergence applies the escalating bias schedule: it resolves
// disputed transactions at the current threshold, and if proposals have
// converged on a single tx set at that threshold, adopts it.
func (e *Engine) checkConvergence() {
	if e.phase != consensus.PhaseEstablish {
		return
	}

	elapsed := e.adaptor.Now().Sub(e.state.PhaseStart)
	threshold := biasThreshold(e.thresholds, elapsed)

	if e.proposalTracker.HasConverged(threshold) {
		txSetID, _ := e.proposalTracker.GetWinningTxSet()
		e.converged = true
		e.state.Converged = true

		if e.ourTxSet == nil || e.ourTxSet.ID() != txSetID {
			if txSet, err := e.adaptor.GetTxSet(txSetID); err == nil {
				e.ourTxSet = txSet
			} else {
				e.adaptor.RequestTxSet(txSetID)
			}
		}
		return
	}

	if e.mode == consensus.ModeProposing && e.state.OurPosition != nil && e.ourTxSet != nil {
		if e.updateDisputes(threshold) {
			e.broadcastPosition()
		}
	}
}

// updateDisputes compares our tx set against every trusted peer's
// proposed tx set, tallying yay/nay votes on each transaction that isn't
// universally agreed, and folds in any transaction whose yay share clears
// threshold while dropping any of ours whose yay share falls short. It
// reports whether our tx set changed.
func (e *Engine) updateDisputes(threshold float64) bool {
	trusted := e.proposalTracker.GetTrusted()
	if len(trusted) == 0 {
		return false
	}

	type tally struct {
		tx         []byte
		yays, nays int
	}
	votes := make(map[consensus.TxID]*tally)

	ourTxs := e.ourTxSet.Txs()
	for _, p := range trusted {
		peerSet, err := e.adaptor.GetTxSet(p.TxSet)
		if err != nil {
			continue
		}
		for _, tx := range peerSet.Txs() {
			id := txIDOf(tx)
			if e.ourTxSet.Contains(id) {
				continue
			}
			t, ok := votes[id]
			if !ok {
				t = &tally{tx: tx}
				votes[id] = t
			}
			t.yays++
		}
		for _, tx := range ourTxs {
			id := txIDOf(tx)
			if peerSet.Contains(id) {
				continue
			}
			t, ok := votes[id]
			if !ok {
				t = &tally{tx: tx}
				votes[id] = t
			}
			t.nays++
		}
	}

	changed := false
	for id, t := range votes {
		total := t.yays + t.nays
		if total == 0 {
			continue
		}
		ourVote := e.ourTxSet.Contains(id)
		include := float64(t.yays)/float64(total) >= threshold

		if e.disputeTracker.GetDispute(id) == nil {
			e.disputeTracker.CreateDispute(id, t.tx, ourVote)
			e.eventBus.Publish(&consensus.DisputeCreatedEvent{
				Round:     e.state.Round,
				TxID:      id,
				OurVote:   ourVote,
				Timestamp: e.adaptor.Now(),
			})
		}
		e.disputeTracker.UpdateOurVote(id, include)

		if include && !ourVote {
			if err := e.ourTxSet.Add(t.tx); err == nil {
				changed = true
			}
		} else if !include && ourVote {
			if err := e.ourTxSet.Remove(id); err == nil {
				changed = true
			}
		}
	}
	return changed
}

// broadcastPosition signs and sends our current tx set as the next
// proposal sequence number for this round.
func (e *Engine) broadcastPosition() {
	nodeID, err := e.adaptor.GetValidatorKey()
	if err != nil {
		return
	}
	proposal := &consensus.Proposal{
		Round:          e.state.Round,
		NodeID:         nodeID,
		Position:       e.state.OurPosition.Position + 1,
		TxSet:          e.ourTxSet.ID(),
		CloseTime:      e.state.OurPosition.CloseTime,
		PreviousLedger: e.prevLedger.ID(),
		Timestamp:      e.adaptor.Now(),
	}

	if err := e.adaptor.SignProposal(proposal); err == nil {
		e.state.OurPosition = proposal
		e.adaptor.BroadcastProposal(proposal)
	}
}

// acceptLedger finalizes consensus and accepts the new ledger.
func (e *Engine) acceptLedger(result consensus.Result) {
	if e.phase != consensus.PhaseEstablish {
		return
	}

	closeTime := e.determineCloseTime()

	txSet := e.ourTxSet
	if txSet == nil {
		bestID, _ := e.proposalTracker.GetWinningTxSet()
		var err error
		txSet, err = e.adaptor.GetTxSet(bestID)
		if err != nil {
			return
		}
	}

	newLedger, err := e.adaptor.BuildLedger(e.prevLedger, txSet, closeTime)
	if err != nil {
		return
	}

	if err := e.adaptor.ValidateLedger(newLedger); err != nil {
		return
	}

	if err := e.adaptor.PushClosedLedger(newLedger); err != nil {
		return
	}

	e.validationTracker.ExpireOld(newLedger.Seq())
	e.applyFeeAdjustment(result)

	e.eventBus.Publish(&consensus.ConsensusReachedEvent{
		Round:     e.state.Round,
		TxSet:     txSet.ID(),
		CloseTime: closeTime,
		Proposers: e.proposalTracker.TrustedCount(),
		Result:    result,
		Duration:  e.adaptor.Now().Sub(e.state.StartTime),
		Timestamp: e.adaptor.Now(),
	})

	if e.adaptor.IsValidator() {
		e.sendValidation(newLedger)
	}

	validations := e.validationTracker.GetValidations(newLedger.ID())

	e.adaptor.OnConsensusReached(newLedger, validations)

	e.eventBus.Publish(&consensus.LedgerAcceptedEvent{
		LedgerID:    newLedger.ID(),
		LedgerSeq:   newLedger.Seq(),
		TxCount:     txSet.Size(),
		CloseTime:   closeTime,
		Validations: len(validations),
		Timestamp:   e.adaptor.Now(),
	})

	e.prevLedger = newLedger
	e.prevRoundProposers = e.proposalTracker.TrustedCount()
	e.consensusCount++

	e.setPhase(consensus.PhaseAccepted)
}

// applyFeeAdjustment raises the local fee scale when a round fails to
// converge in time and lowers it on a clean, timely success, the same
// shape as the load-shedding feedback loop the fee tracker is built for.
func (e *Engine) applyFeeAdjustment(result consensus.Result) {
	var changed bool
	switch result {
	case consensus.ResultTimeout, consensus.ResultFail:
		changed = e.fees.RaiseLocalFee()
	case consensus.ResultSuccess:
		changed = e.fees.LowerLocalFee()
	}
	if !changed {
		return
	}
	e.eventBus.Publish(&consensus.FeeFactorChangedEvent{
		LocalFee:  e.fees.LocalFee(),
		RemoteFee: e.fees.RemoteFee(),
		LoadFee:   e.fees.LoadFactor(),
		Timestamp: e.adaptor.Now(),
	})
}

// determineCloseTime picks the close time with the most peer support,
// breaking ties toward the lower value rather than first-found.
func (e *Engine) determineCloseTime() time.Time {
	for _, p := range e.proposalTracker.GetTrusted() {
		e.state.CloseTimes.Peers[p.CloseTime]++
	}

	var bestTime time.Time
	bestCount := -1
	for t, count := range e.state.CloseTimes.Peers {
		if count > bestCount || (count == bestCount && t.Before(bestTime)) {
			bestTime = t
			bestCount = count
		}
	}

	if bestCount <= 0 {
		return e.state.CloseTimes.Self
	}

	return bestTime
}

// sendValidation creates and broadcasts a validation.
func (e *Engine) sendValidation(ledger consensus.Ledger) {
	nodeID, err := e.adaptor.GetValidatorKey()
	if err != nil {
		return
	}

	validation := &consensus.Validation{
		LedgerID:  ledger.ID(),
		LedgerSeq: ledger.Seq(),
		NodeID:    nodeID,
		SignTime:  e.adaptor.Now(),
		SeenTime:  e.adaptor.Now(),
		Full:      true,
		LoadFee:   e.fees.LoadFactor(),
	}

	if err := e.adaptor.SignValidation(validation); err != nil {
		return
	}

	e.adaptor.BroadcastValidation(validation)
}
