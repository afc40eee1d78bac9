package sim

import "github.com/jitvm/rvsim/rvsim/riscv"

// Compressed (16-bit) instruction execution. Every compressed instruction is
// a shorthand for a full-width one, so these routines reuse the scalar
// semantics directly; only the field and immediate extraction differs.
// Reserved encodings (zero immediates, zero register fields where the ISA
// forbids them) are treated as illegal instructions.

func (s *Simulator) executeCompressed(instr Instr, t InstrType) {
	switch t {
	case TypeCIW:
		s.executeCIW(instr)
	case TypeCL:
		s.executeCL(instr)
	case TypeCS:
		s.executeCS(instr)
	case TypeCI:
		s.executeCI(instr)
	case TypeCSS:
		s.executeCSS(instr)
	case TypeCR:
		s.executeCR(instr)
	case TypeCA:
		s.executeCA(instr)
	case TypeCB:
		s.executeCB(instr)
	case TypeCJ:
		// C.J
		s.SetPC(s.pc + instr.ImmCJ())
	}
}

// executeCIW is C.ADDI4SPN alone: rd' = sp + zero-extended scaled immediate.
func (s *Simulator) executeCIW(instr Instr) {
	imm := instr.ImmCIW()
	if imm == 0 {
		throw(riscv.ErrIllegalInstruction, "reserved C.ADDI4SPN with zero immediate")
	}
	s.writeReg(instr.RvcRdS(), s.Register(riscv.RegSP)+imm)
}

func (s *Simulator) executeCL(instr Instr) {
	base := s.Register(instr.RvcRs1S())
	switch instr.RvcFunct3() {
	case 1: // C.FLD
		s.fpuRegs[instr.RvcRdS()] = s.loadMem(base+instr.ImmCLD(), 8, false)
	case 2: // C.LW
		s.writeReg(instr.RvcRdS(), s.loadMem(base+instr.ImmCLW(), 4, true))
	case 3: // C.LD
		s.writeReg(instr.RvcRdS(), s.loadMem(base+instr.ImmCLD(), 8, true))
	}
}

func (s *Simulator) executeCS(instr Instr) {
	base := s.Register(instr.RvcRs1S())
	switch instr.RvcFunct3() {
	case 5: // C.FSD
		s.storeMem(base+instr.ImmCLD(), 8, s.fpuRegs[instr.RvcRs2S()])
	case 6: // C.SW
		s.storeMem(base+instr.ImmCLW(), 4, s.Register(instr.RvcRs2S()))
	case 7: // C.SD
		s.storeMem(base+instr.ImmCLD(), 8, s.Register(instr.RvcRs2S()))
	}
}

func (s *Simulator) executeCI(instr Instr) {
	rd := instr.RvcRd()
	switch instr & 3 {
	case 1: // C1 quadrant
		switch instr.RvcFunct3() {
		case 0: // C.ADDI (rd == 0 and imm == 0 is the canonical NOP)
			if rd != 0 {
				s.writeReg(rd, s.Register(rd)+instr.ImmCI())
			}
		case 1: // C.ADDIW
			if rd == 0 {
				throw(riscv.ErrIllegalInstruction, "reserved C.ADDIW with rd=0")
			}
			s.writeReg(rd, sext32(s.Register(rd)+instr.ImmCI()))
		case 2: // C.LI
			s.writeReg(rd, instr.ImmCI())
		case 3:
			if rd == riscv.RegSP { // C.ADDI16SP
				imm := instr.ImmCADDI16SP()
				if imm == 0 {
					throw(riscv.ErrIllegalInstruction, "reserved C.ADDI16SP with zero immediate")
				}
				s.writeReg(rd, s.Register(rd)+imm)
			} else { // C.LUI
				imm := instr.ImmCLUI()
				if imm == 0 {
					throw(riscv.ErrIllegalInstruction, "reserved C.LUI with zero immediate")
				}
				s.writeReg(rd, imm)
			}
		}
	case 2: // C2 quadrant
		sp := s.Register(riscv.RegSP)
		switch instr.RvcFunct3() {
		case 0: // C.SLLI
			s.writeReg(rd, s.Register(rd)<<instr.ImmCShamt())
		case 1: // C.FLDSP
			s.fpuRegs[rd] = s.loadMem(sp+instr.ImmCLDSP(), 8, false)
		case 2: // C.LWSP
			if rd == 0 {
				throw(riscv.ErrIllegalInstruction, "reserved C.LWSP with rd=0")
			}
			s.writeReg(rd, s.loadMem(sp+instr.ImmCLWSP(), 4, true))
		case 3: // C.LDSP
			if rd == 0 {
				throw(riscv.ErrIllegalInstruction, "reserved C.LDSP with rd=0")
			}
			s.writeReg(rd, s.loadMem(sp+instr.ImmCLDSP(), 8, true))
		}
	}
}

func (s *Simulator) executeCSS(instr Instr) {
	sp := s.Register(riscv.RegSP)
	switch instr.RvcFunct3() {
	case 5: // C.FSDSP
		s.storeMem(sp+instr.ImmCSDSP(), 8, s.fpuRegs[instr.RvcRs2()])
	case 6: // C.SWSP
		s.storeMem(sp+instr.ImmCSWSP(), 4, s.Register(instr.RvcRs2()))
	case 7: // C.SDSP
		s.storeMem(sp+instr.ImmCSDSP(), 8, s.Register(instr.RvcRs2()))
	}
}

func (s *Simulator) executeCR(instr Instr) {
	rd := instr.RvcRd()
	rs2 := instr.RvcRs2()
	if instr.RvcFunct4()&1 == 0 {
		if rs2 == 0 { // C.JR
			if rd == 0 {
				throw(riscv.ErrIllegalInstruction, "reserved C.JR with rs1=0")
			}
			s.SetPC(s.Register(rd) &^ 1)
		} else { // C.MV
			s.writeReg(rd, s.Register(rs2))
		}
		return
	}
	switch {
	case rs2 == 0 && rd == 0: // C.EBREAK: a plain debugger trap, no stop code
		s.breakCount++
		throw(riscv.ErrDebugBreak, "debug break at %#x", s.pc)
	case rs2 == 0: // C.JALR
		target := s.Register(rd) &^ 1
		s.writeReg(riscv.RegRA, s.pc+2)
		s.SetPC(target)
	default: // C.ADD
		s.writeReg(rd, s.Register(rd)+s.Register(rs2))
	}
}

func (s *Simulator) executeCA(instr Instr) {
	rd := instr.RvcRs1S()
	rdv := s.Register(rd)
	rs2v := s.Register(instr.RvcRs2S())
	variant := instr.RvcFunct2B()
	if instr&(1<<12) == 0 {
		switch variant {
		case 0: // C.SUB
			rdv -= rs2v
		case 1: // C.XOR
			rdv ^= rs2v
		case 2: // C.OR
			rdv |= rs2v
		case 3: // C.AND
			rdv &= rs2v
		}
	} else {
		switch variant {
		case 0: // C.SUBW
			rdv = sext32(rdv - rs2v)
		case 1: // C.ADDW
			rdv = sext32(rdv + rs2v)
		default:
			throw(riscv.ErrIllegalInstruction, "reserved CA-format encoding %#04x", uint16(instr))
		}
	}
	s.writeReg(rd, rdv)
}

func (s *Simulator) executeCB(instr Instr) {
	switch instr.RvcFunct3() {
	case 4: // C.SRLI, C.SRAI, C.ANDI share the CB register layout
		rd := instr.RvcRs1S()
		switch instr.RvcFunct2() {
		case 0: // C.SRLI
			s.writeReg(rd, s.Register(rd)>>instr.ImmCShamt())
		case 1: // C.SRAI
			s.writeReg(rd, uint64(int64(s.Register(rd))>>instr.ImmCShamt()))
		case 2: // C.ANDI
			s.writeReg(rd, s.Register(rd)&instr.ImmCI())
		}
	case 6: // C.BEQZ
		if s.Register(instr.RvcRs1S()) == 0 {
			s.SetPC(s.pc + instr.ImmCB())
		}
	case 7: // C.BNEZ
		if s.Register(instr.RvcRs1S()) != 0 {
			s.SetPC(s.pc + instr.ImmCB())
		}
	}
}
