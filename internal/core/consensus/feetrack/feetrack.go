// Package feetrack implements the local/remote fee scale-factor tracker:
// the component that raises or lowers this node's advertised transaction
// fee in response to its own load, and scales a base fee by both local and
// remote load factors when quoting a transaction cost. It follows rippled's
// LoadFeeTrack model.
package feetrack

import "sync"

// NormalFee is the scale factor representing "no load": both local and
// remote fee factors start here and never fall below it.
const NormalFee = 256

// incFraction/decFraction mirror lftFeeIncFraction/lftFeeDecFraction: the
// local fee factor moves by 1/16th of itself per raise/lower.
const (
	incFraction = 16
	decFraction = 16
)

// MaxFee caps the local fee factor at 1,000,000x normal, matching
// lftFeeMax.
const MaxFee = NormalFee * 1000000

// State tracks the local and remote fee scale factors. The zero value is
// invalid; use NewState.
type State struct {
	mu     sync.Mutex
	local  uint32
	remote uint32
}

// NewState creates a State with both factors at NormalFee.
func NewState() *State {
	return &State{local: NormalFee, remote: NormalFee}
}

// RaiseLocalFee increases the local fee factor by 1/16th, reports whether
// it changed. It never exceeds MaxFee.
func (s *State) RaiseLocalFee() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.local
	step := s.local / incFraction
	if step == 0 {
		step = 1
	}
	s.local += step
	if s.local > MaxFee {
		s.local = MaxFee
	}
	return s.local != prev
}

// LowerLocalFee decreases the local fee factor by 1/16th, reports whether
// it changed. It never falls below NormalFee.
func (s *State) LowerLocalFee() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.local
	s.local -= s.local / decFraction
	if s.local < NormalFee {
		s.local = NormalFee
	}
	return s.local != prev
}

// SetRemoteFee records the fee factor reported by a remote peer.
func (s *State) SetRemoteFee(fee uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = fee
}

// LocalFee returns the current local fee scale factor.
func (s *State) LocalFee() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// RemoteFee returns the current remote fee scale factor.
func (s *State) RemoteFee() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// LoadFactor returns the greater of the local and remote fee factors: the
// scale actually applied to a quoted transaction cost.
func (s *State) LoadFactor() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local > s.remote {
		return s.local
	}
	return s.remote
}

// Snapshot is a read-only point-in-time view of a State, used for
// diagnostics and the audit log.
type Snapshot struct {
	Local  uint32
	Remote uint32
	Factor uint32
	Base   uint64
}

// Snapshot returns the current local/remote/load-factor triple, plus the
// fee base this state would scale fee against given referenceFeeUnits.
func (s *State) Snapshot(referenceFeeUnits uint32) Snapshot {
	s.mu.Lock()
	local, remote := s.local, s.remote
	s.mu.Unlock()

	factor := local
	if remote > factor {
		factor = remote
	}

	return Snapshot{
		Local:  local,
		Remote: remote,
		Factor: factor,
		Base:   scaleFeeBase(uint64(NormalFee), uint64(referenceFeeUnits), NormalFee),
	}
}

// ScaleFeeBase scales fee (in fee units) to drops given baseFee (the
// reference-transaction cost in drops) and referenceFeeUnits (the fee-unit
// cost of a reference transaction), without applying any load factor. It
// saturates to MaxUint64 on overflow rather than wrapping.
func (s *State) ScaleFeeBase(fee, baseFee uint64, referenceFeeUnits uint32) uint64 {
	return scaleFeeBase(fee, baseFee, referenceFeeUnits)
}

// ScaleFeeLoad scales fee the same way ScaleFeeBase does, then additionally
// applies the current load factor (max of local/remote) relative to
// NormalFee.
func (s *State) ScaleFeeLoad(fee, baseFee uint64, referenceFeeUnits uint32) uint64 {
	factor := s.LoadFactor()
	scaled := scaleFeeBase(fee, baseFee, referenceFeeUnits)
	return mulDiv(scaled, uint64(factor), NormalFee)
}

func scaleFeeBase(fee, baseFee uint64, referenceFeeUnits uint32) uint64 {
	if referenceFeeUnits == 0 {
		return mulDiv(fee, baseFee, 1)
	}
	return mulDiv(fee, baseFee, uint64(referenceFeeUnits))
}

// mulDiv computes (a * b) / c with overflow protection, saturating to
// MaxUint64 rather than wrapping. Adapted from txq's 128-bit mulDiv.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return ^uint64(0)
	}

	hi, lo := mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	return div128(hi, lo, c)
}

// mul64 multiplies two uint64 values and returns a 128-bit result as
// (high, low). Identical to txq's mul64.
func mul64(a, b uint64) (hi, lo uint64) {
	const mask32 = (1 << 32) - 1
	a0 := a & mask32
	a1 := a >> 32
	b0 := b & mask32
	b1 := b >> 32

	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1

	mid := (p1 & mask32) + (p0 >> 32) + (p2 & mask32)
	hi = p3 + (p1 >> 32) + (p2 >> 32) + (mid >> 32)
	lo = (p0 & mask32) | (mid << 32)
	return
}

// div128 divides a 128-bit value (hi, lo) by a 64-bit divisor, assuming
// hi < divisor. Identical to txq's div128.
func div128(hi, lo, divisor uint64) uint64 {
	if hi == 0 {
		return lo / divisor
	}

	quotient := uint64(0)
	remainder := hi

	for i := 63; i >= 0; i-- {
		remainder = (remainder << 1) | ((lo >> uint(i)) & 1)
		if remainder >= divisor {
			remainder -= divisor
			quotient |= 1 << uint(i)
		}
	}

	return quotient
}
