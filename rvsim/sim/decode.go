package sim

import "github.com/jitvm/rvsim/rvsim/riscv"

// Instr wraps one raw instruction word. All field extraction is fixed
// bit-field masking on this word; 16-bit compressed instructions occupy the
// low half and are detected by their low two bits.
type Instr uint32

// InstrType is the structural format of an instruction, selecting which
// execute routine runs it.
type InstrType int

const (
	TypeR InstrType = iota
	TypeR4
	TypeI
	TypeS
	TypeB
	TypeU
	TypeJ
	TypeV
	TypeCR
	TypeCA
	TypeCI
	TypeCIW
	TypeCSS
	TypeCL
	TypeCS
	TypeCB
	TypeCJ
	TypeUnsupported
)

// IsCompressed reports a 16-bit instruction: the low two bits of a full
// 32-bit instruction are always 11.
func (i Instr) IsCompressed() bool {
	return i&3 != 3
}

// Size returns the instruction's byte size, which is what the PC advances
// by when the instruction does not branch.
func (i Instr) Size() uint64 {
	if i.IsCompressed() {
		return 2
	}
	return 4
}

// classify maps an instruction word to exactly one structural type.
// Patterns that fit no type are TypeUnsupported, which the dispatcher
// treats as fatal.
func classify(i Instr) InstrType {
	if i.IsCompressed() {
		return classifyCompressed(i)
	}
	switch i.Opcode() {
	case riscv.OpReg, riscv.OpReg32, riscv.OpAMO, riscv.OpFP:
		return TypeR
	case riscv.OpMAdd, riscv.OpMSub, riscv.OpNMSub, riscv.OpNMAdd:
		return TypeR4
	case riscv.OpLoad, riscv.OpImm, riscv.OpImm32, riscv.OpJALR, riscv.OpSystem, riscv.OpMiscMem:
		return TypeI
	case riscv.OpLoadFP, riscv.OpStoreFP:
		// Width field 1..4 is scalar FP (I/S type); widths 0 and 5..7 select
		// the vector memory encoding (element widths 8, 16, 32, 64).
		if w := i.Funct3(); w >= 1 && w <= 4 {
			if i.Opcode() == riscv.OpLoadFP {
				return TypeI
			}
			return TypeS
		}
		return TypeV
	case riscv.OpStore:
		return TypeS
	case riscv.OpBranch:
		return TypeB
	case riscv.OpLUI, riscv.OpAUIPC:
		return TypeU
	case riscv.OpJAL:
		return TypeJ
	case riscv.OpVector:
		return TypeV
	default:
		return TypeUnsupported
	}
}

func classifyCompressed(i Instr) InstrType {
	if i&0xFFFF == 0 {
		return TypeUnsupported // all-zero is the canonical illegal instruction
	}
	op := i & 3
	funct3 := i.RvcFunct3()
	switch op {
	case 0: // C0
		switch funct3 {
		case 0:
			return TypeCIW // C.ADDI4SPN
		case 1, 2, 3:
			return TypeCL // C.FLD, C.LW, C.LD
		case 5, 6, 7:
			return TypeCS // C.FSD, C.SW, C.SD
		}
	case 1: // C1
		switch funct3 {
		case 0, 1, 2, 3:
			return TypeCI // C.ADDI, C.ADDIW, C.LI, C.ADDI16SP/C.LUI
		case 4:
			if i.RvcFunct2() == 3 {
				return TypeCA // C.SUB/C.XOR/C.OR/C.AND/C.SUBW/C.ADDW
			}
			return TypeCB // C.SRLI, C.SRAI, C.ANDI
		case 5:
			return TypeCJ // C.J
		case 6, 7:
			return TypeCB // C.BEQZ, C.BNEZ
		}
	case 2: // C2
		switch funct3 {
		case 0, 1, 2, 3:
			return TypeCI // C.SLLI, C.FLDSP, C.LWSP, C.LDSP
		case 4:
			return TypeCR // C.JR/C.MV/C.EBREAK/C.JALR/C.ADD
		case 5, 6, 7:
			return TypeCSS // C.FSDSP, C.SWSP, C.SDSP
		}
	}
	return TypeUnsupported
}

// 32-bit format fields.

func (i Instr) Opcode() uint32 { return uint32(i) & 0x7F }
func (i Instr) Rd() int { return int(i>>7) & 0x1F }
func (i Instr) Funct3() uint32 { return uint32(i>>12) & 0x7 }
func (i Instr) Rs1() int { return int(i>>15) & 0x1F }
func (i Instr) Rs2() int { return int(i>>20) & 0x1F }
func (i Instr) Rs3() int { return int(i>>27) & 0x1F }
func (i Instr) Funct7() uint32 { return uint32(i>>25) & 0x7F }
func (i Instr) Funct2() uint32 { return uint32(i>>25) & 0x3 }

// RM is the per-instruction FP rounding mode field (same bits as funct3).
func (i Instr) RM() int { return int(i.Funct3()) }

// Immediates, sign-extended to 64 bits where the format is signed.

func (i Instr) ImmI() uint64 {
	return signExtend(uint64(i)>>20, 11)
}

func (i Instr) ImmS() uint64 {
	imm := uint64(i>>7)&0x1F | uint64(i>>25)<<5
	return signExtend(imm, 11)
}

func (i Instr) ImmB() uint64 {
	imm := uint64(i>>8)&0xF<<1 |
		uint64(i>>25)&0x3F<<5 |
		uint64(i>>7)&0x1<<11 |
		uint64(i>>31)<<12
	return signExtend(imm, 12)
}

func (i Instr) ImmU() uint64 {
	return signExtend(uint64(i)&0xFFFFF000, 31)
}

func (i Instr) ImmJ() uint64 {
	imm := uint64(i>>21)&0x3FF<<1 |
		uint64(i>>20)&0x1<<11 |
		uint64(i>>12)&0xFF<<12 |
		uint64(i>>31)<<20
	return signExtend(imm, 20)
}

// CSRNum is the 12-bit CSR address of a SYSTEM instruction.
func (i Instr) CSRNum() uint64 { return uint64(i) >> 20 }

// Compressed format fields. The 3-bit register fields address x8..x15.

func (i Instr) RvcFunct3() uint32 { return uint32(i>>13) & 0x7 }
func (i Instr) RvcFunct4() uint32 { return uint32(i>>12) & 0xF }
func (i Instr) RvcFunct2() uint32 { return uint32(i>>10) & 0x3 }
func (i Instr) RvcFunct2B() uint32 { return uint32(i>>5) & 0x3 }
func (i Instr) RvcRd() int { return int(i>>7) & 0x1F }
func (i Instr) RvcRs2() int { return int(i>>2) & 0x1F }
func (i Instr) RvcRdS() int { return int(i>>2)&0x7 + 8 }
func (i Instr) RvcRs1S() int { return int(i>>7)&0x7 + 8 }
func (i Instr) RvcRs2S() int { return int(i>>2)&0x7 + 8 }

// ImmCI is the sign-extended 6-bit CI-format immediate (C.ADDI, C.LI, ...).
func (i Instr) ImmCI() uint64 {
	imm := uint64(i>>2)&0x1F | uint64(i>>12)&0x1<<5
	return signExtend(imm, 5)
}

// ImmCLUI is the C.LUI immediate, already shifted into bits 17:12.
func (i Instr) ImmCLUI() uint64 {
	return signExtend(i.ImmCI()<<12, 17)
}

// ImmCADDI16SP is the C.ADDI16SP stack adjustment (multiple of 16).
func (i Instr) ImmCADDI16SP() uint64 {
	imm := uint64(i>>6)&0x1<<4 |
		uint64(i>>2)&0x1<<5 |
		uint64(i>>5)&0x1<<6 |
		uint64(i>>3)&0x3<<7 |
		uint64(i>>12)&0x1<<9
	return signExtend(imm, 9)
}

// ImmCIW is the zero-extended C.ADDI4SPN immediate (multiple of 4).
func (i Instr) ImmCIW() uint64 {
	return uint64(i>>11)&0x3<<4 |
		uint64(i>>7)&0xF<<6 |
		uint64(i>>6)&0x1<<2 |
		uint64(i>>5)&0x1<<3
}

// ImmCLWSP / ImmCLDSP are stack-pointer-relative load offsets.
func (i Instr) ImmCLWSP() uint64 {
	return uint64(i>>4)&0x7<<2 |
		uint64(i>>12)&0x1<<5 |
		uint64(i>>2)&0x3<<6
}

func (i Instr) ImmCLDSP() uint64 {
	return uint64(i>>5)&0x3<<3 |
		uint64(i>>12)&0x1<<5 |
		uint64(i>>2)&0x7<<6
}

// ImmCSWSP / ImmCSDSP are stack-pointer-relative store offsets.
func (i Instr) ImmCSWSP() uint64 {
	return uint64(i>>9)&0xF<<2 | uint64(i>>7)&0x3<<6
}

func (i Instr) ImmCSDSP() uint64 {
	return uint64(i>>10)&0x7<<3 | uint64(i>>7)&0x7<<6
}

// ImmCLW / ImmCLD are the CL/CS register-relative offsets.
func (i Instr) ImmCLW() uint64 {
	return uint64(i>>10)&0x7<<3 | uint64(i>>6)&0x1<<2 | uint64(i>>5)&0x1<<6
}

func (i Instr) ImmCLD() uint64 {
	return uint64(i>>10)&0x7<<3 | uint64(i>>5)&0x3<<6
}

// ImmCB is the sign-extended compressed branch offset.
func (i Instr) ImmCB() uint64 {
	imm := uint64(i>>3)&0x3<<1 |
		uint64(i>>10)&0x3<<3 |
		uint64(i>>2)&0x1<<5 |
		uint64(i>>5)&0x3<<6 |
		uint64(i>>12)&0x1<<8
	return signExtend(imm, 8)
}

// ImmCJ is the sign-extended compressed jump offset.
func (i Instr) ImmCJ() uint64 {
	imm := uint64(i>>3)&0x7<<1 |
		uint64(i>>11)&0x1<<4 |
		uint64(i>>2)&0x1<<5 |
		uint64(i>>7)&0x1<<6 |
		uint64(i>>6)&0x1<<7 |
		uint64(i>>9)&0x3<<8 |
		uint64(i>>8)&0x1<<10 |
		uint64(i>>12)&0x1<<11
	return signExtend(imm, 11)
}

// ImmCShamt is the 6-bit compressed shift amount (unsigned).
func (i Instr) ImmCShamt() uint64 {
	return uint64(i>>2)&0x1F | uint64(i>>12)&0x1<<5
}

// Vector format fields.

func (i Instr) Vd() int { return int(i>>7) & 0x1F }
func (i Instr) Vs1() int { return int(i>>15) & 0x1F }
func (i Instr) Vs2() int { return int(i>>20) & 0x1F }
func (i Instr) VM() bool { return i&(1<<25) != 0 } // true = unmasked
func (i Instr) Funct6() uint32 { return uint32(i>>26) & 0x3F }
func (i Instr) Simm5() uint64 { return signExtend(uint64(i>>15)&0x1F, 4) }
func (i Instr) Uimm5() uint64 { return uint64(i>>15) & 0x1F }

// VSetImm extracts the vtype immediate of vsetvli (11 bits) or vsetivli
// (10 bits).
func (i Instr) VSetImm() uint64 {
	if i&(1<<31) == 0 {
		return uint64(i>>20) & 0x7FF // vsetvli
	}
	return uint64(i>>20) & 0x3FF // vsetivli
}
