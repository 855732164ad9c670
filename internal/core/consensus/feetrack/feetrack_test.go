package feetrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewState_StartsAtNormal(t *testing.T) {
	s := NewState()
	assert.Equal(t, uint32(NormalFee), s.LocalFee())
	assert.Equal(t, uint32(NormalFee), s.RemoteFee())
	assert.Equal(t, uint32(NormalFee), s.LoadFactor())
}

func TestRaiseLocalFee_IncreasesByFraction(t *testing.T) {
	s := NewState()
	changed := s.RaiseLocalFee()
	assert.True(t, changed)
	// 256 + 256/16 = 256 + 16 = 272
	assert.Equal(t, uint32(272), s.LocalFee())
}

func TestRaiseLocalFee_SaturatesAtMax(t *testing.T) {
	s := NewState()
	for i := 0; i < 1000; i++ {
		s.RaiseLocalFee()
	}
	assert.Equal(t, uint32(MaxFee), s.LocalFee())
	assert.False(t, s.RaiseLocalFee(), "raising at the max is a no-op")
}

func TestLowerLocalFee_DecreasesByFraction(t *testing.T) {
	s := NewState()
	s.RaiseLocalFee() // 272
	changed := s.LowerLocalFee()
	assert.True(t, changed)
	// 272 - 272/16 = 272 - 17 = 255, clamped to NormalFee
	assert.Equal(t, uint32(NormalFee), s.LocalFee())
}

func TestLowerLocalFee_NoopAtNormal(t *testing.T) {
	s := NewState()
	assert.False(t, s.LowerLocalFee(), "lowering at NormalFee is a no-op")
	assert.Equal(t, uint32(NormalFee), s.LocalFee())
}

// TestScenario_S5FeeOscillation exercises a burst of load followed by
// recovery: local fee should rise while under load and settle back to
// NormalFee once raises stop, while the remote fee factor, once set,
// dominates LoadFactor whenever it exceeds the local value.
func TestScenario_S5FeeOscillation(t *testing.T) {
	s := NewState()

	for i := 0; i < 5; i++ {
		s.RaiseLocalFee()
	}
	raised := s.LocalFee()
	assert.Greater(t, raised, uint32(NormalFee))

	s.SetRemoteFee(raised * 4)
	assert.Equal(t, raised*4, s.LoadFactor(), "remote fee should dominate when higher")

	for i := 0; i < 20; i++ {
		s.LowerLocalFee()
	}
	assert.Equal(t, uint32(NormalFee), s.LocalFee())
	assert.Equal(t, raised*4, s.LoadFactor(), "remote fee persists independent of local decay")
}

func TestScaleFeeBase_NoLoad(t *testing.T) {
	s := NewState()
	// fee=10, baseFee=10, referenceFeeUnits=10 -> 10*10/10 = 10
	got := s.ScaleFeeBase(10, 10, 10)
	assert.Equal(t, uint64(10), got)
}

func TestScaleFeeLoad_AppliesLoadFactor(t *testing.T) {
	s := NewState()
	s.RaiseLocalFee() // local = 272
	// base scaling: 10*10/10 = 10, then *272/256
	got := s.ScaleFeeLoad(10, 10, 10)
	want := mulDiv(10, 272, 256)
	assert.Equal(t, want, got)
}

func TestScaleFeeLoad_AtNormalFeeIsIdentity(t *testing.T) {
	s := NewState()
	got := s.ScaleFeeLoad(100, 100, 100)
	assert.Equal(t, uint64(100), got)
}

func TestMulDiv_SaturatesOnOverflow(t *testing.T) {
	got := mulDiv(^uint64(0), ^uint64(0), 1)
	assert.Equal(t, ^uint64(0), got)
}

func TestMulDiv_DivisionByZeroSaturates(t *testing.T) {
	got := mulDiv(10, 10, 0)
	assert.Equal(t, ^uint64(0), got)
}

func TestSnapshot_ReflectsCurrentState(t *testing.T) {
	s := NewState()
	s.RaiseLocalFee()
	s.SetRemoteFee(1000)

	snap := s.Snapshot(10)
	assert.Equal(t, s.LocalFee(), snap.Local)
	assert.Equal(t, uint32(1000), snap.Remote)
	assert.Equal(t, uint32(1000), snap.Factor)
}
