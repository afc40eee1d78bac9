package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

func fpInstr(funct7 uint32, rs2, rs1 int, funct3 uint32, rd int) Instr {
	return Instr(rtype(funct7, rs2, rs1, funct3, rd, riscv.OpFP))
}

func TestFPArithmetic(t *testing.T) {
	t.Run("fadd.d", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 1.5)
		s.SetFPURegisterDouble(2, 2.25)
		s.executeFP(fpInstr(0x01, 2, 1, 0, 3))
		require.Equal(t, 3.75, s.FPURegisterDouble(3))
		require.Zero(t, s.FFlags())
	})

	t.Run("fadd.s keeps nan box", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterFloat(1, 1.5)
		s.SetFPURegisterFloat(2, 2.5)
		s.executeFP(fpInstr(0x00, 2, 1, 0, 3))
		require.Equal(t, float32(4.0), s.FPURegisterFloat(3))
		require.Equal(t, nanBoxMask, s.FPURegister(3)&nanBoxMask)
	})

	t.Run("inf minus inf is invalid", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, math.Inf(1))
		s.SetFPURegisterDouble(2, math.Inf(-1))
		s.executeFP(fpInstr(0x01, 2, 1, 0, 3)) // fadd.d
		require.Equal(t, quietNaNBits64, math.Float64bits(s.FPURegisterDouble(3)))
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})

	t.Run("fdiv.d by zero", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, -1.0)
		s.SetFPURegisterDouble(2, 0.0)
		s.executeFP(fpInstr(0x0D, 2, 1, 0, 3))
		require.True(t, math.IsInf(s.FPURegisterDouble(3), -1))
		require.Equal(t, uint32(riscv.FlagDivideByZero), s.FFlags())
	})

	t.Run("fsqrt.d of negative is invalid", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, -4.0)
		s.executeFP(fpInstr(0x2D, 0, 1, 0, 3))
		require.Equal(t, quietNaNBits64, math.Float64bits(s.FPURegisterDouble(3)))
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})
}

func TestFPCompares(t *testing.T) {
	s := newTestSim(t)
	s.SetFPURegisterDouble(1, 1.0)
	s.SetFPURegisterDouble(2, 2.0)
	s.executeFP(fpInstr(0x51, 2, 1, 1, 5)) // flt.d x5, f1, f2
	require.Equal(t, uint64(1), s.Register(5))
	s.executeFP(fpInstr(0x51, 2, 1, 0, 6)) // fle.d
	require.Equal(t, uint64(1), s.Register(6))
	s.executeFP(fpInstr(0x51, 2, 1, 2, 7)) // feq.d
	require.Equal(t, uint64(0), s.Register(7))
}

func TestFPConversions(t *testing.T) {
	t.Run("fcvt.w.d negative result sign-extends", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, -7.0)
		s.executeFP(fpInstr(0x61, 0, 1, riscv.RTZ, 5))
		require.Equal(t, ^uint64(6), s.Register(5))
	})
	t.Run("fcvt.wu.d clamps negative", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, -7.0)
		s.executeFP(fpInstr(0x61, 1, 1, riscv.RTZ, 5))
		require.Equal(t, uint64(0), s.Register(5))
		require.Equal(t, uint32(riscv.FlagOverflow|riscv.FlagInvalidOperation), s.FFlags())
	})
	t.Run("fcvt.l.d rne", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 2.5)
		s.executeFP(fpInstr(0x61, 2, 1, riscv.RNE, 5))
		require.Equal(t, uint64(2), s.Register(5))
		require.Equal(t, uint32(riscv.FlagInexact), s.FFlags())
	})
	t.Run("fcvt.d.w", func(t *testing.T) {
		s := newTestSim(t)
		s.SetRegister(5, uint64(0xFFFFFFFF)) // -1 as int32
		s.executeFP(fpInstr(0x69, 0, 5, 0, 1))
		require.Equal(t, -1.0, s.FPURegisterDouble(1))
	})
	t.Run("fcvt.d.wu", func(t *testing.T) {
		s := newTestSim(t)
		s.SetRegister(5, uint64(0xFFFFFFFF))
		s.executeFP(fpInstr(0x69, 1, 5, 0, 1))
		require.Equal(t, float64(math.MaxUint32), s.FPURegisterDouble(1))
	})
	t.Run("fcvt.s.l rounds once", func(t *testing.T) {
		s := newTestSim(t)
		// Half an ulp above 1<<62 plus one: a detour through float64 would
		// lose the +1 and round the tie back down to an even mantissa.
		s.SetRegister(5, 1<<62|1<<38|1)
		s.executeFP(fpInstr(0x68, 2, 5, riscv.RNE, 1))
		require.Equal(t, uint32(0x5E800001), math.Float32bits(s.FPURegisterFloat(1)))
	})
	t.Run("fcvt.s.d and back is exact for small values", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 1.25)
		s.executeFP(fpInstr(0x20, 1, 1, 0, 2)) // fcvt.s.d f2, f1
		s.executeFP(fpInstr(0x21, 0, 2, 0, 3)) // fcvt.d.s f3, f2
		require.Equal(t, 1.25, s.FPURegisterDouble(3))
	})
	t.Run("dynamic rounding mode comes from frm", func(t *testing.T) {
		s := newTestSim(t)
		s.writeCSR(riscv.CSRFrm, riscv.RUP)
		s.SetFPURegisterDouble(1, 0.25)
		s.executeFP(fpInstr(0x61, 2, 1, riscv.DYN, 5)) // fcvt.l.d with rm=DYN
		require.Equal(t, uint64(1), s.Register(5))
	})
}

func TestFPSignInjection(t *testing.T) {
	s := newTestSim(t)
	s.SetFPURegisterDouble(1, 1.5)
	s.SetFPURegisterDouble(2, -2.0)

	s.executeFP(fpInstr(0x11, 2, 1, 0, 3)) // fsgnj.d
	require.Equal(t, -1.5, s.FPURegisterDouble(3))
	s.executeFP(fpInstr(0x11, 2, 1, 1, 4)) // fsgnjn.d
	require.Equal(t, 1.5, s.FPURegisterDouble(4))
	s.executeFP(fpInstr(0x11, 2, 1, 2, 5)) // fsgnjx.d
	require.Equal(t, -1.5, s.FPURegisterDouble(5))
}

func TestFPMoves(t *testing.T) {
	s := newTestSim(t)
	bits := math.Float64bits(3.25)
	s.SetRegister(5, bits)
	s.executeFP(fpInstr(0x79, 0, 5, 0, 1)) // fmv.d.x
	require.Equal(t, 3.25, s.FPURegisterDouble(1))
	s.executeFP(fpInstr(0x71, 0, 1, 0, 6)) // fmv.x.d
	require.Equal(t, bits, s.Register(6))

	s.SetRegister(7, uint64(math.Float32bits(-2.5)))
	s.executeFP(fpInstr(0x78, 0, 7, 0, 2)) // fmv.w.x
	require.Equal(t, float32(-2.5), s.FPURegisterFloat(2))
	s.executeFP(fpInstr(0x70, 0, 2, 0, 28)) // fmv.x.w
	require.Equal(t, sext32(uint64(math.Float32bits(-2.5))), s.Register(28))
}

func TestFPClass(t *testing.T) {
	s := newTestSim(t)
	s.SetFPURegisterDouble(1, math.Inf(-1))
	s.executeFP(fpInstr(0x71, 0, 1, 1, 5)) // fclass.d
	require.Equal(t, uint64(riscv.ClassNegInfinity), s.Register(5))
}

func TestFMA(t *testing.T) {
	r4 := func(rs3 int, funct2 uint32, rs2, rs1 int, rd int, opcode uint32) Instr {
		return Instr(uint32(rs3)<<27 | funct2<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | uint32(rd)<<7 | opcode)
	}

	t.Run("fmadd.d", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 2.0)
		s.SetFPURegisterDouble(2, 3.0)
		s.SetFPURegisterDouble(3, 1.0)
		s.executeR4Type(r4(3, 1, 2, 1, 4, riscv.OpMAdd))
		require.Equal(t, 7.0, s.FPURegisterDouble(4))
	})
	t.Run("fnmsub.d", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 2.0)
		s.SetFPURegisterDouble(2, 3.0)
		s.SetFPURegisterDouble(3, 1.0)
		s.executeR4Type(r4(3, 1, 2, 1, 4, riscv.OpNMSub)) // -(2*3) + 1
		require.Equal(t, -5.0, s.FPURegisterDouble(4))
	})
	t.Run("zero times inf is invalid", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterDouble(1, 0.0)
		s.SetFPURegisterDouble(2, math.Inf(1))
		s.SetFPURegisterDouble(3, 1.0)
		s.executeR4Type(r4(3, 1, 2, 1, 4, riscv.OpMAdd))
		require.Equal(t, quietNaNBits64, math.Float64bits(s.FPURegisterDouble(4)))
		require.Equal(t, uint32(riscv.FlagInvalidOperation), s.FFlags())
	})
	t.Run("fmadd.s", func(t *testing.T) {
		s := newTestSim(t)
		s.SetFPURegisterFloat(1, 1.5)
		s.SetFPURegisterFloat(2, 2.0)
		s.SetFPURegisterFloat(3, 0.5)
		s.executeR4Type(r4(3, 0, 2, 1, 4, riscv.OpMAdd))
		require.Equal(t, float32(3.5), s.FPURegisterFloat(4))
	})
}
