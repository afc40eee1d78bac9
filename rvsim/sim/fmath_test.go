package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

func signalingNaN64() float64 {
	return math.Float64frombits(0x7FF0000000000001)
}

func TestRoundF2I(t *testing.T) {
	cases := []struct {
		name      string
		v         float64
		rmode     int
		bounds    intBounds
		want      uint64
		wantFlags uint32
	}{
		{"exact", 4.0, riscv.RNE, boundsI64, 4, 0},
		{"rne ties to even", 2.5, riscv.RNE, boundsI64, 2, riscv.FlagInexact},
		{"rtz truncates", -0.7, riscv.RTZ, boundsI64, 0, riscv.FlagInexact},
		{"rdn floors", -0.5, riscv.RDN, boundsI64, ^uint64(0), riscv.FlagInexact},
		{"rup ceils", 0.5, riscv.RUP, boundsI64, 1, riscv.FlagInexact},
		{"rmm away from zero", 2.5, riscv.RMM, boundsI64, 3, riscv.FlagInexact},
		{"nan clamps to max", math.NaN(), riscv.RNE, boundsI32, math.MaxInt32, riscv.FlagInvalidOperation},
		{"neg inf clamps to min", math.Inf(-1), riscv.RNE, boundsI32, 1 << 31, riscv.FlagInvalidOperation},
		{"i32 overflow clamps", 3e9, riscv.RNE, boundsI32, math.MaxInt32, riscv.FlagOverflow | riscv.FlagInvalidOperation},
		{"u32 negative clamps", -3.0, riscv.RNE, boundsU32, 0, riscv.FlagOverflow | riscv.FlagInvalidOperation},
		{"u64 max range", 1.5, riscv.RTZ, boundsU64, 1, riscv.FlagInexact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim(t)
			got := roundF2I(s, tc.v, tc.rmode, tc.bounds)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.wantFlags, s.FFlags())
		})
	}
}

func TestCompareFP(t *testing.T) {
	qnan := math.NaN()
	snan := signalingNaN64()

	t.Run("lt with quiet nan signals", func(t *testing.T) {
		s := newTestSim(t)
		require.False(t, compareFP(s, qnan, 1.0, condLT))
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})
	t.Run("eq with quiet nan is quiet", func(t *testing.T) {
		s := newTestSim(t)
		require.False(t, compareFP(s, qnan, 1.0, condEQ))
		require.Zero(t, s.FFlags())
	})
	t.Run("eq with signaling nan signals", func(t *testing.T) {
		s := newTestSim(t)
		require.False(t, compareFP(s, snan, 1.0, condEQ))
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})
	t.Run("ne with nan is true", func(t *testing.T) {
		s := newTestSim(t)
		require.True(t, compareFP(s, qnan, qnan, condNE))
	})
	t.Run("plain ordering", func(t *testing.T) {
		s := newTestSim(t)
		require.True(t, compareFP(s, 1.0, 2.0, condLT))
		require.True(t, compareFP(s, 2.0, 2.0, condLE))
		require.True(t, compareFP(s, 2.0, 2.0, condEQ))
		require.Zero(t, s.FFlags())
	})
}

func TestFPMaxMin(t *testing.T) {
	negZero := math.Copysign(0, -1)

	t.Run("min prefers negative zero", func(t *testing.T) {
		s := newTestSim(t)
		r := fpMaxMin(s, 0.0, negZero, kindMin)
		require.True(t, math.Signbit(r))
	})
	t.Run("max prefers positive zero", func(t *testing.T) {
		s := newTestSim(t)
		r := fpMaxMin(s, negZero, 0.0, kindMax)
		require.False(t, math.Signbit(r))
	})
	t.Run("single nan yields the number", func(t *testing.T) {
		s := newTestSim(t)
		require.Equal(t, 3.0, fpMaxMin(s, math.NaN(), 3.0, kindMax))
		require.Equal(t, 3.0, fpMaxMin(s, 3.0, math.NaN(), kindMin))
	})
	t.Run("double nan yields canonical quiet nan", func(t *testing.T) {
		s := newTestSim(t)
		r := fpMaxMin(s, math.NaN(), math.NaN(), kindMin)
		require.Equal(t, quietNaNBits64, math.Float64bits(r))
	})
	t.Run("signaling nan raises invalid", func(t *testing.T) {
		s := newTestSim(t)
		fpMaxMin(s, signalingNaN64(), 1.0, kindMax)
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})
}

func TestSaturatingArith(t *testing.T) {
	t.Run("satAdd clamps high", func(t *testing.T) {
		r, sat := satAdd(int8(120), int8(20))
		require.True(t, sat)
		require.Equal(t, int8(127), r)
	})
	t.Run("satAdd clamps low", func(t *testing.T) {
		r, sat := satAdd(int8(-120), int8(-20))
		require.True(t, sat)
		require.Equal(t, int8(-128), r)
	})
	t.Run("satAdd plain", func(t *testing.T) {
		r, sat := satAdd(int32(1), int32(2))
		require.False(t, sat)
		require.Equal(t, int32(3), r)
	})
	t.Run("satSub clamps", func(t *testing.T) {
		r, sat := satSub(int16(-32000), int16(1000))
		require.True(t, sat)
		require.Equal(t, int16(math.MinInt16), r)
	})
	t.Run("satSub plain", func(t *testing.T) {
		r, sat := satSub(int64(5), int64(7))
		require.False(t, sat)
		require.Equal(t, int64(-2), r)
	})
}

func TestClassifyFP(t *testing.T) {
	cases := []struct {
		name string
		v    float64
		want uint64
	}{
		{"neg inf", math.Inf(-1), riscv.ClassNegInfinity},
		{"neg normal", -1.5, riscv.ClassNegNormal},
		{"neg subnormal", -math.SmallestNonzeroFloat64, riscv.ClassNegSubnorm},
		{"neg zero", math.Copysign(0, -1), riscv.ClassNegZero},
		{"pos zero", 0, riscv.ClassPosZero},
		{"pos subnormal", math.SmallestNonzeroFloat64, riscv.ClassPosSubnorm},
		{"pos normal", 42.0, riscv.ClassPosNormal},
		{"pos inf", math.Inf(1), riscv.ClassPosInfinity},
		{"signaling nan", signalingNaN64(), riscv.ClassSignalNaN},
		{"quiet nan", math.NaN(), riscv.ClassQuietNaN},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classifyFP(tc.v))
		})
	}
}

func TestNaNBoxing(t *testing.T) {
	s := newTestSim(t)
	s.SetFPURegisterFloat(1, 1.5)
	require.Equal(t, nanBoxMask|uint64(math.Float32bits(1.5)), s.FPURegister(1))
	require.Equal(t, float32(1.5), s.FPURegisterFloat(1))

	// A raw double bit pattern is not a valid box; reading it as a float
	// yields NaN.
	s.SetFPURegisterDouble(2, 1.5)
	require.True(t, math.IsNaN(float64(s.FPURegisterFloat(2))))
}
