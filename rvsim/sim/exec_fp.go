package sim

import (
	"math"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Floating-point execute routines. Each binary operation first screens for
// the IEEE-754 invalid-operation input combinations and sets the sticky
// flags itself; only then does it fall back to the host's native arithmetic.

// resolveRM maps an instruction rm field to an effective rounding mode,
// reading frm for DYN. Reserved encodings are malformed code.
func (s *Simulator) resolveRM(rm int) int {
	if rm == riscv.DYN {
		rm = s.dynamicRoundingMode()
	}
	if rm > riscv.RMM {
		throw(riscv.ErrIllegalInstruction, "reserved rounding mode %d", rm)
	}
	return rm
}

func (s *Simulator) writeFPRegFloat(reg int, v float32) {
	s.SetFPURegisterFloat(reg, v)
	if s.trace != nil {
		s.traceFPRegWr(uint64(math.Float32bits(v)), traceFloat)
	}
}

func (s *Simulator) writeFPRegDouble(reg int, v float64) {
	s.SetFPURegisterDouble(reg, v)
	if s.trace != nil {
		s.traceFPRegWr(math.Float64bits(v), traceDouble)
	}
}

func fpAdd[F fpval](s *Simulator, a, b F) F {
	if isInvalidFAdd(a, b) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	return a + b
}

func fpSub[F fpval](s *Simulator, a, b F) F {
	if isInvalidFSub(a, b) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	return a - b
}

func fpMul[F fpval](s *Simulator, a, b F) F {
	if isInvalidFMul(a, b) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	return a * b
}

func fpDiv[F fpval](s *Simulator, a, b F) F {
	if isInvalidFDiv(a, b) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	if b == 0 && !isNaN(a) {
		s.setFFlags(riscv.FlagDivideByZero)
		inf := F(math.Inf(1))
		if signBit(a) != signBit(b) {
			inf = F(math.Inf(-1))
		}
		return inf
	}
	return a / b
}

func fpSqrt[F fpval](s *Simulator, a F) F {
	if isInvalidFSqrt(a) || isSignalingNaN(a) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	return F(math.Sqrt(float64(a)))
}

// fpFMA routes to the library fused operation after the invalid-operand
// pre-check on the multiply sub-expression.
func fpFMA[F fpval](s *Simulator, a, b, c F) F {
	if isInvalidFMul(a, b) {
		s.setFFlags(riscv.FlagInvalidOperation)
		return quietNaN[F]()
	}
	return F(math.FMA(float64(a), float64(b), float64(c)))
}

func (s *Simulator) executeFP(instr Instr) {
	rd := instr.Rd()
	rs1 := instr.Rs1()
	rs2 := instr.Rs2()

	switch instr.Funct7() {
	case 0x00: // FADD.S
		s.writeFPRegFloat(rd, fpAdd(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2)))
	case 0x01: // FADD.D
		s.writeFPRegDouble(rd, fpAdd(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2)))
	case 0x04: // FSUB.S
		s.writeFPRegFloat(rd, fpSub(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2)))
	case 0x05: // FSUB.D
		s.writeFPRegDouble(rd, fpSub(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2)))
	case 0x08: // FMUL.S
		s.writeFPRegFloat(rd, fpMul(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2)))
	case 0x09: // FMUL.D
		s.writeFPRegDouble(rd, fpMul(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2)))
	case 0x0C: // FDIV.S
		s.writeFPRegFloat(rd, fpDiv(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2)))
	case 0x0D: // FDIV.D
		s.writeFPRegDouble(rd, fpDiv(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2)))
	case 0x2C: // FSQRT.S
		s.writeFPRegFloat(rd, fpSqrt(s, s.FPURegisterFloat(rs1)))
	case 0x2D: // FSQRT.D
		s.writeFPRegDouble(rd, fpSqrt(s, s.FPURegisterDouble(rs1)))
	case 0x10: // FSGNJ(N/X).S
		s.executeSignInjectS(instr)
	case 0x11: // FSGNJ(N/X).D
		s.executeSignInjectD(instr)
	case 0x14: // FMIN.S / FMAX.S
		kind := kindMin
		if instr.Funct3() == 1 {
			kind = kindMax
		}
		s.writeFPRegFloat(rd, fpMaxMin(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2), kind))
	case 0x15: // FMIN.D / FMAX.D
		kind := kindMin
		if instr.Funct3() == 1 {
			kind = kindMax
		}
		s.writeFPRegDouble(rd, fpMaxMin(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2), kind))
	case 0x20: // FCVT.S.D
		d := s.FPURegisterDouble(rs1)
		if isNaN(d) {
			s.writeFPRegFloat(rd, quietNaN32())
		} else {
			s.writeFPRegFloat(rd, float32(d))
		}
	case 0x21: // FCVT.D.S
		f := s.FPURegisterFloat(rs1)
		if isNaN(f) {
			s.writeFPRegDouble(rd, quietNaN64())
		} else {
			s.writeFPRegDouble(rd, float64(f))
		}
	case 0x50: // FLE.S / FLT.S / FEQ.S
		s.writeReg(rd, boolToReg(compareFP(s, s.FPURegisterFloat(rs1), s.FPURegisterFloat(rs2), fpCondFromFunct3(instr.Funct3()))))
	case 0x51: // FLE.D / FLT.D / FEQ.D
		s.writeReg(rd, boolToReg(compareFP(s, s.FPURegisterDouble(rs1), s.FPURegisterDouble(rs2), fpCondFromFunct3(instr.Funct3()))))
	case 0x60: // FCVT.{W,WU,L,LU}.S
		s.executeFCvtToInt(instr, float64(s.FPURegisterFloat(rs1)))
	case 0x61: // FCVT.{W,WU,L,LU}.D
		s.executeFCvtToInt(instr, s.FPURegisterDouble(rs1))
	case 0x68: // FCVT.S.{W,WU,L,LU}
		// 64-bit sources must convert straight to single precision; going
		// through float64 rounds twice.
		v := s.Register(rs1)
		var f float32
		switch instr.Rs2() {
		case 0: // W
			f = float32(int32(uint32(v)))
		case 1: // WU
			f = float32(uint32(v))
		case 2: // L
			f = float32(int64(v))
		case 3: // LU
			f = float32(v)
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported FCVT variant %d", instr.Rs2())
		}
		s.writeFPRegFloat(rd, f)
	case 0x69: // FCVT.D.{W,WU,L,LU}
		s.writeFPRegDouble(rd, s.cvtIntOperand(instr))
	case 0x70: // FMV.X.W / FCLASS.S
		if instr.Funct3() == 1 {
			s.writeReg(rd, classifyFP(s.FPURegisterFloat(rs1)))
		} else {
			s.writeReg(rd, sext32(s.fpuRegs[rs1]&0xFFFFFFFF))
		}
	case 0x71: // FMV.X.D / FCLASS.D
		if instr.Funct3() == 1 {
			s.writeReg(rd, classifyFP(s.FPURegisterDouble(rs1)))
		} else {
			s.writeReg(rd, s.fpuRegs[rs1])
		}
	case 0x78: // FMV.W.X
		s.fpuRegs[rd] = nanBoxMask | (s.Register(rs1) & 0xFFFFFFFF)
	case 0x79: // FMV.D.X
		s.fpuRegs[rd] = s.Register(rs1)
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported FP instruction %#08x", uint32(instr))
	}
}

func fpCondFromFunct3(funct3 uint32) fpCond {
	switch funct3 {
	case 0:
		return condLE
	case 1:
		return condLT
	default:
		return condEQ
	}
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// executeFCvtToInt implements float-to-int conversion: round under the
// effective mode, clamp to the destination range with flag effects, and
// sign-extend 32-bit results the way every W-shaped result is.
func (s *Simulator) executeFCvtToInt(instr Instr, v float64) {
	rmode := s.resolveRM(instr.RM())
	var rdv uint64
	switch instr.Rs2() {
	case 0: // signed 32
		rdv = sext32(roundF2I(s, v, rmode, boundsI32))
	case 1: // unsigned 32
		rdv = sext32(roundF2I(s, v, rmode, boundsU32))
	case 2: // signed 64
		rdv = roundF2I(s, v, rmode, boundsI64)
	case 3: // unsigned 64
		rdv = roundF2I(s, v, rmode, boundsU64)
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported FCVT variant %d", instr.Rs2())
	}
	s.writeReg(instr.Rd(), rdv)
}

// cvtIntOperand reads the integer source of an int-to-double conversion as a
// float64 (exact for every 32-bit source; 64-bit sources round once).
func (s *Simulator) cvtIntOperand(instr Instr) float64 {
	v := s.Register(instr.Rs1())
	switch instr.Rs2() {
	case 0: // W
		return float64(int32(uint32(v)))
	case 1: // WU
		return float64(uint32(v))
	case 2: // L
		return float64(int64(v))
	case 3: // LU
		return float64(v)
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported FCVT variant %d", instr.Rs2())
		return 0
	}
}

// Sign injection works on raw bit patterns: the result takes its sign bit
// from (rs2), (negated rs2), or (rs1 xor rs2) and everything else from rs1.

func (s *Simulator) executeSignInjectS(instr Instr) {
	a := math.Float32bits(s.FPURegisterFloat(instr.Rs1()))
	b := math.Float32bits(s.FPURegisterFloat(instr.Rs2()))
	const signMask = uint32(1) << 31
	var sign uint32
	switch instr.Funct3() {
	case 0: // FSGNJ.S
		sign = b & signMask
	case 1: // FSGNJN.S
		sign = ^b & signMask
	case 2: // FSGNJX.S
		sign = (a ^ b) & signMask
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported FSGNJ variant %d", instr.Funct3())
	}
	s.fpuRegs[instr.Rd()] = nanBoxMask | uint64(a&^signMask|sign)
}

func (s *Simulator) executeSignInjectD(instr Instr) {
	a := s.fpuRegs[instr.Rs1()]
	b := s.fpuRegs[instr.Rs2()]
	const signMask = uint64(1) << 63
	var sign uint64
	switch instr.Funct3() {
	case 0: // FSGNJ.D
		sign = b & signMask
	case 1: // FSGNJN.D
		sign = ^b & signMask
	case 2: // FSGNJX.D
		sign = (a ^ b) & signMask
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported FSGNJ variant %d", instr.Funct3())
	}
	s.fpuRegs[instr.Rd()] = a&^signMask | sign
}

// executeR4Type is the fused multiply-add family. The fused rounding comes
// from the library FMA; the sign variants wrap it.
func (s *Simulator) executeR4Type(instr Instr) {
	double := instr.Funct2() == 1
	rd := instr.Rd()
	if double {
		a := s.FPURegisterDouble(instr.Rs1())
		b := s.FPURegisterDouble(instr.Rs2())
		c := s.FPURegisterDouble(instr.Rs3())
		s.writeFPRegDouble(rd, fmaVariant(s, instr.Opcode(), a, b, c))
	} else {
		a := s.FPURegisterFloat(instr.Rs1())
		b := s.FPURegisterFloat(instr.Rs2())
		c := s.FPURegisterFloat(instr.Rs3())
		s.writeFPRegFloat(rd, fmaVariant(s, instr.Opcode(), a, b, c))
	}
}

func fmaVariant[F fpval](s *Simulator, opcode uint32, a, b, c F) F {
	switch opcode {
	case riscv.OpMAdd: // (a*b) + c
		return fpFMA(s, a, b, c)
	case riscv.OpMSub: // (a*b) - c
		return fpFMA(s, a, b, -c)
	case riscv.OpNMSub: // -(a*b) + c
		return fpFMA(s, -a, b, c)
	default: // OpNMAdd: -(a*b) - c
		return fpFMA(s, -a, b, -c)
	}
}
