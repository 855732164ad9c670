// Package load implements the per-source credit accountant: the component
// that decides whether an endpoint (peer, client) is imposing acceptable
// load, should be warned, or should be cut off. It follows rippled's
// LoadManager/LoadSource model.
package load

import (
	"context"
	"sync"
	"time"
)

// Kind identifies a category of load an endpoint can impose. The set is
// closed: these are the only kinds the accountant knows how to cost.
type Kind int

const (
	InvalidRequest Kind = iota
	RequestNoReply
	InvalidSignature
	UnwantedData
	BadProofOfWork
	BadData
	NewTrusted
	NewTransaction
	NeededData
	RequestData
	CheapQuery

	kindCount
)

// Category is a bitset describing what resource a load cost consumes.
type Category int

const (
	CategoryDisk Category = 1 << iota
	CategoryCPU
	CategoryNetwork
)

// Cost describes the credit cost and resource category of one load kind.
type Cost struct {
	Kind       Kind
	Cost       int
	Categories Category
}

// defaultCosts mirrors LoadManager.h's LT_* enum and the cost table it
// implies: bad-faith or wasted-effort behavior debits heavily, useful work
// is free or even credited back via NewTrusted/NewTransaction/NeededData,
// and routine queries cost little.
func defaultCosts() [kindCount]Cost {
	return [kindCount]Cost{
		InvalidRequest:   {InvalidRequest, -10, CategoryCPU},
		RequestNoReply:   {RequestNoReply, -10, CategoryCPU},
		InvalidSignature: {InvalidSignature, -100, CategoryCPU},
		UnwantedData:     {UnwantedData, -15, CategoryNetwork},
		BadProofOfWork:   {BadProofOfWork, -50, CategoryCPU},
		BadData:          {BadData, -20, CategoryCPU | CategoryDisk},
		NewTrusted:       {NewTrusted, 10, 0},
		NewTransaction:   {NewTransaction, 2, 0},
		NeededData:       {NeededData, 5, 0},
		RequestData:      {RequestData, -5, CategoryDisk},
		CheapQuery:       {CheapQuery, -1, CategoryCPU},
	}
}

// Flags on a LoadSource.
const (
	FlagPrivileged = 1 << iota
	FlagOutbound
)

// Source is a single endpoint that can impose load on this node. The zero
// value is a fresh source with zero balance and no flags.
type Source struct {
	Balance     int
	Flags       int
	LastUpdate  int64 // monotonic seconds
	LastWarning int64 // monotonic seconds
}

// Privileged reports whether this source is exempt from cutoff.
func (s *Source) Privileged() bool { return s.Flags&FlagPrivileged != 0 }

// SetPrivileged marks this source as exempt from cutoff.
func (s *Source) SetPrivileged() { s.Flags |= FlagPrivileged }

// Outbound reports whether this source is an outbound connection.
func (s *Source) Outbound() bool { return s.Flags&FlagOutbound != 0 }

// SetOutbound marks this source as an outbound connection.
func (s *Source) SetOutbound() { s.Flags |= FlagOutbound }

// Config configures a Manager. Zero-value fields fall back to the usual
// production defaults.
type Config struct {
	CreditRate   int           // credits gained/lost per second, default 10
	CreditLimit  int           // maximum balance, default 50
	DebitWarn    int           // warn below this balance, default -50
	DebitLimit   int           // cut off below this balance, default -100
	WarnInterval time.Duration // minimum time between warnings, default 60s
}

func (c Config) withDefaults() Config {
	if c.CreditRate == 0 {
		c.CreditRate = 10
	}
	if c.CreditLimit == 0 {
		c.CreditLimit = 50
	}
	if c.DebitWarn == 0 {
		c.DebitWarn = -50
	}
	if c.DebitLimit == 0 {
		c.DebitLimit = -100
	}
	if c.WarnInterval == 0 {
		c.WarnInterval = 60 * time.Second
	}
	return c
}

// NowFunc returns the current monotonic time in seconds. It is a variable
// (not a hard call to time.Now) so tests can drive the clock explicitly.
type NowFunc func() int64

// Manager is a collection of load sources sharing one cost table and one
// set of credit/debit limits. All operations are protected by a single
// mutex, matching LoadManager's single-lock design: this is deliberately
// not a per-source lock, since canonicalisation and adjustment both touch
// the same small, frequently-read fields.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	costs   [kindCount]Cost
	sources map[string]*Source
	now     NowFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager creates a Manager with the given configuration and clock. If
// now is nil, time.Now().Unix() is used.
func NewManager(cfg Config, now NowFunc) *Manager {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		costs:   defaultCosts(),
		sources: make(map[string]*Source),
		now:     now,
	}
}

// Source returns the tracked source for id, creating it (at balance 0) if
// it doesn't already exist.
func (m *Manager) Source(id string) *Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceLocked(id)
}

func (m *Manager) sourceLocked(id string) *Source {
	s, ok := m.sources[id]
	if !ok {
		now := m.now()
		// A new source has never been warned: LastWarning starts one full
		// interval back so its first dip below DebitWarn is reported.
		s = &Source{LastUpdate: now, LastWarning: now - int64(m.cfg.WarnInterval/time.Second) - 1}
		m.sources[id] = s
	}
	return s
}

// canonicalizeLocked applies time-based credit accrual to s and advances
// its LastUpdate. Must be called with m.mu held.
func (m *Manager) canonicalizeLocked(s *Source) {
	now := m.now()
	elapsed := now - s.LastUpdate
	if elapsed > 0 {
		s.Balance += m.cfg.CreditRate * int(elapsed)
		if s.Balance > m.cfg.CreditLimit {
			s.Balance = m.cfg.CreditLimit
		}
	}
	s.LastUpdate = now
}

// clampUpperLocked caps a balance at the credit limit. There is no lower
// clamp: a source that keeps misbehaving digs an arbitrarily deep hole, and
// ShouldCutoff fires on any balance strictly below the debit limit.
func (m *Manager) clampUpperLocked(s *Source) {
	if s.Balance > m.cfg.CreditLimit {
		s.Balance = m.cfg.CreditLimit
	}
}

// Adjust applies a signed credit delta to the named source, canonicalising
// first so idle time since the last update is credited before the delta is
// applied.
func (m *Manager) Adjust(id string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sourceLocked(id)
	m.canonicalizeLocked(s)
	s.Balance += credits
	m.clampUpperLocked(s)
}

// AdjustKind is equivalent to Adjust(id, costs[kind].Cost).
func (m *Manager) AdjustKind(id string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sourceLocked(id)
	m.canonicalizeLocked(s)
	s.Balance += m.costs[kind].Cost
	m.clampUpperLocked(s)
}

// ShouldWarn reports whether the named source's balance has dropped below
// the warn threshold and enough time has passed since the last warning. If
// it returns true, LastWarning is updated so repeated calls don't fire
// again within WarnInterval.
func (m *Manager) ShouldWarn(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sourceLocked(id)
	if s.Balance >= m.cfg.DebitWarn {
		return false
	}
	now := m.now()
	if time.Duration(now-s.LastWarning)*time.Second <= m.cfg.WarnInterval {
		return false
	}
	s.LastWarning = now
	return true
}

// ShouldCutoff reports whether the named source has crossed the cutoff
// threshold and is not privileged. Privileged sources are never cut off
// regardless of balance.
func (m *Manager) ShouldCutoff(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sourceLocked(id)
	if s.Privileged() {
		return false
	}
	return s.Balance < m.cfg.DebitLimit
}

// Snapshot returns a copy of a source's current state without mutating it.
func (m *Manager) Snapshot(id string) Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sourceLocked(id)
}

// SetFlags sets flags (FlagPrivileged, FlagOutbound) on the named source.
func (m *Manager) SetFlags(id string, flags int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sourceLocked(id)
	s.Flags |= flags
}

// Cost returns the configured cost for a load kind.
func (m *Manager) Cost(kind Kind) Cost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costs[kind]
}

// RunCanonicalizer starts a background goroutine that recanonicalises every
// tracked source once per tick (1 Hz in production) so long-idle sources
// don't underreport credit when next polled. Stop it by cancelling ctx.
func (m *Manager) RunCanonicalizer(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return // already running
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.canonicalizeAll()
			}
		}
	}()
}

func (m *Manager) canonicalizeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		m.canonicalizeLocked(s)
	}
}

// Stop halts the background canonicaliser started by RunCanonicalizer, if
// one is running, and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
