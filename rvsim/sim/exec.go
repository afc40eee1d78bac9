package sim

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// ErrBreakpointHit is returned by Run when an enabled breakpoint stops
// execution. The external debugger surface resumes by calling Run again.
var ErrBreakpointHit = errors.New("breakpoint hit")

// ErrStopLimit is returned by Run when the configured instruction-count
// threshold is reached.
var ErrStopLimit = errors.New("instruction count stop threshold reached")

// StopError is returned by Run when simulated code executes an enabled
// embedded stop (a break instruction carrying a stop code).
type StopError struct {
	Code uint32
}

func (e *StopError) Error() string {
	return fmt.Sprintf("simulated code hit stop (%d)", e.Code)
}

// recoverVMError converts a fatal execute-routine panic into a returned
// error on the public surface. Anything that is not a VMError keeps
// unwinding: it is a simulator bug, not a guest bug.
func recoverVMError(outErr *error) {
	if r := recover(); r != nil {
		vmErr, ok := r.(*VMError)
		if !ok {
			panic(r)
		}
		*outErr = vmErr
	}
}

// Step executes a single instruction.
func (s *Simulator) Step() (outErr error) {
	defer recoverVMError(&outErr)
	s.step()
	return nil
}

// Run executes instructions until the outermost simulated frame returns
// (pc reaches the end sentinel), a breakpoint or enabled stop is hit, or
// the instruction-count threshold is reached.
func (s *Simulator) Run() (outErr error) {
	defer recoverVMError(&outErr)
	for s.pc != endSimPC {
		if s.stopAt != 0 && s.icount >= s.stopAt {
			return ErrStopLimit
		}
		if len(s.breakpoints) > 0 && s.checkBreakpoints() {
			return ErrBreakpointHit
		}
		if s.step() {
			return &StopError{Code: s.lastStopCode}
		}
	}
	return nil
}

// step executes one instruction and reports whether an enabled stop fired.
// The PC auto-advances by the instruction size unless the instruction
// explicitly wrote it.
func (s *Simulator) step() bool {
	instr := Instr(s.fetch(s.pc))
	s.icount++
	s.pcModified = false
	s.instrSize = instr.Size()
	stop := false

	switch classify(instr) {
	case TypeR:
		s.executeRType(instr)
	case TypeR4:
		s.executeR4Type(instr)
	case TypeI:
		stop = s.executeIType(instr)
	case TypeS:
		s.executeSType(instr)
	case TypeB:
		s.executeBType(instr)
	case TypeU:
		s.executeUType(instr)
	case TypeJ:
		s.executeJType(instr)
	case TypeV:
		s.executeVType(instr)
	case TypeCR, TypeCA, TypeCI, TypeCIW, TypeCSS, TypeCL, TypeCS, TypeCB, TypeCJ:
		s.executeCompressed(instr, classify(instr))
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported instruction %#08x at pc %#x", uint32(instr), s.pc)
	}

	if !s.pcModified {
		s.pc += s.instrSize
	}
	return stop
}

func (s *Simulator) executeRType(instr Instr) {
	switch instr.Opcode() {
	case riscv.OpReg:
		s.executeIntReg(instr)
	case riscv.OpReg32:
		s.executeIntReg32(instr)
	case riscv.OpAMO:
		s.executeAtomic(instr)
	case riscv.OpFP:
		s.executeFP(instr)
	}
}

func (s *Simulator) executeIntReg(instr Instr) {
	rs1v := s.Register(instr.Rs1())
	rs2v := s.Register(instr.Rs2())
	var rdv uint64
	switch instr.Funct7() {
	case 1: // M extension
		switch instr.Funct3() {
		case 0: // MUL
			rdv = rs1v * rs2v
		case 1: // MULH
			rdv = mulh64(rs1v, rs2v)
		case 2: // MULHSU
			rdv = mulhsu64(rs1v, rs2v)
		case 3: // MULHU
			rdv = mulhu64(rs1v, rs2v)
		case 4: // DIV
			rdv = uint64(div64(int64(rs1v), int64(rs2v)))
		case 5: // DIVU
			rdv = divu64(rs1v, rs2v)
		case 6: // REM
			rdv = uint64(rem64(int64(rs1v), int64(rs2v)))
		case 7: // REMU
			rdv = remu64(rs1v, rs2v)
		}
	case 0x20:
		switch instr.Funct3() {
		case 0: // SUB
			rdv = rs1v - rs2v
		case 5: // SRA
			rdv = uint64(int64(rs1v) >> (rs2v & 0x3F))
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported R-type %#08x", uint32(instr))
		}
	case 0x00:
		switch instr.Funct3() {
		case 0: // ADD
			rdv = rs1v + rs2v
		case 1: // SLL
			rdv = rs1v << (rs2v & 0x3F)
		case 2: // SLT
			if int64(rs1v) < int64(rs2v) {
				rdv = 1
			}
		case 3: // SLTU
			if rs1v < rs2v {
				rdv = 1
			}
		case 4: // XOR
			rdv = rs1v ^ rs2v
		case 5: // SRL
			rdv = rs1v >> (rs2v & 0x3F)
		case 6: // OR
			rdv = rs1v | rs2v
		case 7: // AND
			rdv = rs1v & rs2v
		}
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported R-type %#08x", uint32(instr))
	}
	s.writeReg(instr.Rd(), rdv)
}

func (s *Simulator) executeIntReg32(instr Instr) {
	rs1v := s.Register(instr.Rs1())
	rs2v := s.Register(instr.Rs2())
	var rdv uint64
	switch instr.Funct7() {
	case 1: // M extension, W variants
		a := int32(uint32(rs1v))
		b := int32(uint32(rs2v))
		switch instr.Funct3() {
		case 0: // MULW
			rdv = sext32(uint64(uint32(a * b)))
		case 4: // DIVW
			switch {
			case b == 0:
				rdv = ^uint64(0)
			case a == -1<<31 && b == -1:
				rdv = sext32(uint64(uint32(a)))
			default:
				rdv = sext32(uint64(uint32(a / b)))
			}
		case 5: // DIVUW
			if uint32(rs2v) == 0 {
				rdv = ^uint64(0)
			} else {
				rdv = sext32(uint64(uint32(rs1v) / uint32(rs2v)))
			}
		case 6: // REMW
			switch {
			case b == 0:
				rdv = sext32(uint64(uint32(a)))
			case a == -1<<31 && b == -1:
				rdv = 0
			default:
				rdv = sext32(uint64(uint32(a % b)))
			}
		case 7: // REMUW
			if uint32(rs2v) == 0 {
				rdv = sext32(rs1v)
			} else {
				rdv = sext32(uint64(uint32(rs1v) % uint32(rs2v)))
			}
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported RV64M W-type %#08x", uint32(instr))
		}
	case 0x20:
		switch instr.Funct3() {
		case 0: // SUBW
			rdv = sext32(rs1v - rs2v)
		case 5: // SRAW
			rdv = uint64(int64(int32(uint32(rs1v)) >> (rs2v & 0x1F)))
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported W-type %#08x", uint32(instr))
		}
	case 0x00:
		switch instr.Funct3() {
		case 0: // ADDW
			rdv = sext32(rs1v + rs2v)
		case 1: // SLLW
			rdv = sext32(rs1v << (rs2v & 0x1F))
		case 5: // SRLW
			rdv = sext32(uint64(uint32(rs1v) >> (rs2v & 0x1F)))
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported W-type %#08x", uint32(instr))
		}
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported W-type %#08x", uint32(instr))
	}
	s.writeReg(instr.Rd(), rdv)
}

// executeIType returns true when an enabled embedded stop fired.
func (s *Simulator) executeIType(instr Instr) bool {
	switch instr.Opcode() {
	case riscv.OpLoad:
		funct3 := instr.Funct3()
		if funct3 == 7 { // LDU does not exist
			throw(riscv.ErrUnknownOpCode, "unsupported load %#08x", uint32(instr))
		}
		imm := instr.ImmI()
		signed := funct3&4 == 0
		size := uint64(1) << (funct3 & 3)
		addr := s.Register(instr.Rs1()) + imm
		s.writeReg(instr.Rd(), s.loadMem(addr, size, signed))
	case riscv.OpLoadFP: // FLW / FLD
		addr := s.Register(instr.Rs1()) + instr.ImmI()
		switch instr.Funct3() {
		case 2: // FLW
			bits := s.loadMem(addr, 4, false)
			s.fpuRegs[instr.Rd()] = nanBoxMask | bits
		case 3: // FLD
			s.fpuRegs[instr.Rd()] = s.loadMem(addr, 8, false)
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported FP load width %d", instr.Funct3())
		}
	case riscv.OpImm:
		s.executeIntImm(instr)
	case riscv.OpImm32:
		s.executeIntImm32(instr)
	case riscv.OpJALR:
		target := (s.Register(instr.Rs1()) + instr.ImmI()) &^ 1
		s.writeReg(instr.Rd(), s.pc+4)
		s.SetPC(target)
	case riscv.OpMiscMem:
		// FENCE / FENCE.I: one instruction at a time, no store pipeline,
		// nothing to order.
	case riscv.OpSystem:
		return s.executeSystem(instr)
	}
	return false
}

func (s *Simulator) executeIntImm(instr Instr) {
	rs1v := s.Register(instr.Rs1())
	imm := instr.ImmI()
	var rdv uint64
	switch instr.Funct3() {
	case 0: // ADDI
		rdv = rs1v + imm
	case 1: // SLLI
		rdv = rs1v << (imm & 0x3F)
	case 2: // SLTI
		if int64(rs1v) < int64(imm) {
			rdv = 1
		}
	case 3: // SLTIU
		if rs1v < imm {
			rdv = 1
		}
	case 4: // XORI
		rdv = rs1v ^ imm
	case 5:
		switch instr.Funct7() >> 1 { // top 6 bits select the shift type
		case 0x00: // SRLI
			rdv = rs1v >> (imm & 0x3F)
		case 0x10: // SRAI
			rdv = uint64(int64(rs1v) >> (imm & 0x3F))
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported shift %#08x", uint32(instr))
		}
	case 6: // ORI
		rdv = rs1v | imm
	case 7: // ANDI
		rdv = rs1v & imm
	}
	s.writeReg(instr.Rd(), rdv)
}

func (s *Simulator) executeIntImm32(instr Instr) {
	rs1v := s.Register(instr.Rs1())
	imm := instr.ImmI()
	var rdv uint64
	switch instr.Funct3() {
	case 0: // ADDIW
		rdv = sext32(rs1v + imm)
	case 1: // SLLIW
		rdv = sext32(rs1v << (imm & 0x1F))
	case 5:
		shamt := imm & 0x1F
		switch instr.Funct7() >> 1 {
		case 0x00: // SRLIW
			rdv = sext32(uint64(uint32(rs1v) >> shamt))
		case 0x10: // SRAIW
			rdv = uint64(int64(int32(uint32(rs1v)) >> shamt))
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported W shift %#08x", uint32(instr))
		}
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported I32-type %#08x", uint32(instr))
	}
	s.writeReg(instr.Rd(), rdv)
}

func (s *Simulator) executeSType(instr Instr) {
	addr := s.Register(instr.Rs1()) + instr.ImmS()
	switch instr.Opcode() {
	case riscv.OpStore:
		if instr.Funct3() > 3 {
			throw(riscv.ErrUnknownOpCode, "unsupported store %#08x", uint32(instr))
		}
		size := uint64(1) << instr.Funct3()
		s.storeMem(addr, size, s.Register(instr.Rs2()))
	case riscv.OpStoreFP:
		switch instr.Funct3() {
		case 2: // FSW
			s.storeMem(addr, 4, s.fpuRegs[instr.Rs2()]&0xFFFFFFFF)
		case 3: // FSD
			s.storeMem(addr, 8, s.fpuRegs[instr.Rs2()])
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported FP store width %d", instr.Funct3())
		}
	}
}

func (s *Simulator) executeBType(instr Instr) {
	rs1v := s.Register(instr.Rs1())
	rs2v := s.Register(instr.Rs2())
	var taken bool
	switch instr.Funct3() {
	case 0: // BEQ
		taken = rs1v == rs2v
	case 1: // BNE
		taken = rs1v != rs2v
	case 4: // BLT
		taken = int64(rs1v) < int64(rs2v)
	case 5: // BGE
		taken = int64(rs1v) >= int64(rs2v)
	case 6: // BLTU
		taken = rs1v < rs2v
	case 7: // BGEU
		taken = rs1v >= rs2v
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported branch %#08x", uint32(instr))
	}
	if taken {
		s.SetPC(s.pc + instr.ImmB())
	}
}

func (s *Simulator) executeUType(instr Instr) {
	switch instr.Opcode() {
	case riscv.OpLUI:
		s.writeReg(instr.Rd(), instr.ImmU())
	case riscv.OpAUIPC:
		s.writeReg(instr.Rd(), s.pc+instr.ImmU())
	}
}

func (s *Simulator) executeJType(instr Instr) {
	s.writeReg(instr.Rd(), s.pc+4)
	s.SetPC(s.pc + instr.ImmJ())
}

// executeSystem handles ECALL (the runtime-call trap), EBREAK (stops and
// watchpoints), and the CSR read/modify/write family. Returns true when an
// enabled stop fired.
func (s *Simulator) executeSystem(instr Instr) bool {
	if instr.Funct3() == 0 {
		switch uint32(instr) >> 20 { // I-type top 12 bits
		case 0: // ECALL: only the runtime-call redirection is a valid ecall here
			s.softwareInterrupt()
			return false
		case 1: // EBREAK
			return s.handleBreak()
		default:
			throw(riscv.ErrUnknownOpCode, "unsupported SYSTEM %#08x", uint32(instr))
		}
	}
	// CSR instructions. funct3 bit 2 selects the immediate (zimm) form.
	csr := instr.CSRNum()
	var v uint64
	if instr.Funct3()&4 != 0 {
		v = uint64(instr.Rs1()) // zimm
	} else {
		v = s.Register(instr.Rs1())
	}
	old := s.readCSR(csr)
	switch instr.Funct3() & 3 {
	case 1: // CSRRW(I)
		s.writeCSR(csr, v)
	case 2: // CSRRS(I)
		if instr.Rs1() != 0 {
			s.setCSRBits(csr, v)
		}
	case 3: // CSRRC(I)
		if instr.Rs1() != 0 {
			s.clearCSRBits(csr, v)
		}
	}
	s.writeReg(instr.Rd(), old)
	return false
}

// Atomic (A-extension) instructions. All of them serialize on the global
// monitor mutex: correctness of the emulated ordering over throughput.

func (s *Simulator) executeAtomic(instr Instr) {
	size := uint64(1) << instr.Funct3() // 0b010 W = 4, 0b011 D = 8
	if size != 4 && size != 8 {
		throw(riscv.ErrBadAMOSize, "bad AMO size %d", size)
	}
	addr := s.Register(instr.Rs1())
	s.checkMemAccess(addr, size)
	if addr&(size-1) != 0 {
		throw(riscv.ErrNotAlignedAddr, "misaligned atomic at %#x", addr)
	}

	op := instr.Funct7() >> 2
	switch op {
	case 0x02: // LR
		s.writeReg(instr.Rd(), s.loadReserved(addr, size))
	case 0x03: // SC
		s.writeReg(instr.Rd(), s.storeConditional(addr, size, s.Register(instr.Rs2())))
	default:
		s.writeReg(instr.Rd(), s.amoMem(op, addr, size, s.Register(instr.Rs2())))
	}
}

func (s *Simulator) loadReserved(addr uint64, size uint64) uint64 {
	s.global.mu.Lock()
	defer s.global.mu.Unlock()
	var buf [8]byte
	s.mem.GetUnaligned(addr, buf[:size])
	v := signExtend(binary.LittleEndian.Uint64(buf[:]), uint(size*8-1))
	s.local.NotifyLoadLinked(addr, TransactionSize(size))
	s.linked.notifyLoadLinkedLocked(addr)
	s.global.prependLocked(&s.linked)
	if s.trace != nil {
		s.traceMemRd(addr, v, traceTypeForSize(size, true))
	}
	return v
}

// storeConditional returns 0 on success and 1 on failure, the architectural
// result value. Failure is an ordinary outcome, not an error.
func (s *Simulator) storeConditional(addr uint64, size uint64, value uint64) uint64 {
	s.global.mu.Lock()
	defer s.global.mu.Unlock()
	if s.local.NotifyStoreConditional(addr, TransactionSize(size)) &&
		s.global.notifyStoreConditionalLocked(addr, &s.linked) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], value)
		s.mem.SetUnaligned(addr, buf[:size])
		if s.trace != nil {
			s.traceMemWr(addr, value, traceTypeForSize(size, true))
		}
		return 0
	}
	return 1
}

// amoMem performs a read-modify-write entirely inside the monitor critical
// section and returns the old memory value (sign-extended for W forms).
func (s *Simulator) amoMem(op uint32, addr uint64, size uint64, rs2v uint64) uint64 {
	s.global.mu.Lock()
	defer s.global.mu.Unlock()

	var buf [8]byte
	s.mem.GetUnaligned(addr, buf[:size])
	old := signExtend(binary.LittleEndian.Uint64(buf[:]), uint(size*8-1))
	if size == 4 {
		rs2v = sext32(rs2v)
	}

	var v uint64
	switch op {
	case 0x00: // AMOADD
		v = old + rs2v
	case 0x01: // AMOSWAP
		v = rs2v
	case 0x04: // AMOXOR
		v = old ^ rs2v
	case 0x08: // AMOOR
		v = old | rs2v
	case 0x0C: // AMOAND
		v = old & rs2v
	case 0x10: // AMOMIN
		v = old
		if int64(rs2v) < int64(old) {
			v = rs2v
		}
	case 0x14: // AMOMAX
		v = old
		if int64(rs2v) > int64(old) {
			v = rs2v
		}
	case 0x18: // AMOMINU
		v = old
		if rs2v < old {
			v = rs2v
		}
	case 0x1C: // AMOMAXU
		v = old
		if rs2v > old {
			v = rs2v
		}
	default:
		throw(riscv.ErrUnknownAtomicOperation, "unknown atomic operation %#x", op)
	}

	// The RMW is a store: clear this instance's reservation and everyone
	// else's overlapping ones.
	s.local.NotifyStore()
	for iter := s.global.head; iter != nil; iter = iter.next {
		iter.notifyStoreLocked()
	}
	binary.LittleEndian.PutUint64(buf[:], v)
	s.mem.SetUnaligned(addr, buf[:size])
	if s.trace != nil {
		s.traceMemRd(addr, old, traceTypeForSize(size, true))
		s.traceMemWr(addr, v, traceTypeForSize(size, true))
	}
	return old
}
