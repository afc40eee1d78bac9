package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Runtime-call bridge. Simulated code cannot call host functions directly,
// so each registered host function gets a trampoline address in a reserved
// guest region holding a single ECALL. Jumping there traps into
// softwareInterrupt, which marshals arguments out of the simulated register
// file, invokes the host function, and writes the results back.

// RedirectKind selects the host function signature of a trampoline, which
// fixes how arguments and results are marshalled.
type RedirectKind int

const (
	// BuiltinCall takes up to ten integer/pointer arguments (a0-a7 plus two
	// stack slots) and returns a pair in a0/a1.
	BuiltinCall RedirectKind = iota
	// FPFPCall is double f(double, double), in fa0/fa1 out fa0.
	FPFPCall
	// FPCall is double f(double).
	FPCall
	// FPIntCall is double f(double, int32), the int in a0.
	FPIntCall
	// CompareCall is int64 f(double, double), the result in a0.
	CompareCall
	// DirectAPICall is void f(a0).
	DirectAPICall
	// ProfilingAPICall is void f(a0, a1).
	ProfilingAPICall
	// DirectGetterCall is void f(a0, a1).
	DirectGetterCall
	// ProfilingGetterCall is void f(a0, a1, a2).
	ProfilingGetterCall
)

// Host function signatures, one per RedirectKind.
type (
	BuiltinFunc         func(args [10]uint64) (uint64, uint64)
	FPFPFunc            func(a, b float64) float64
	FPFunc              func(a float64) float64
	FPIntFunc           func(a float64, b int32) float64
	CompareFunc         func(a, b float64) int64
	DirectAPIFunc       func(arg0 uint64)
	ProfilingAPIFunc    func(arg0, arg1 uint64)
	DirectGetterFunc    func(arg0, arg1 uint64)
	ProfilingGetterFunc func(arg0, arg1, arg2 uint64)
)

// Trampolines live in their own sliver of the guest address space, far from
// the stack, one ECALL word apiece.
const (
	redirectBase = uint64(1) << 40
	redirectSize = 8

	ecallInstr = uint32(0x00000073)
)

type redirection struct {
	kind RedirectKind
	fn   any
}

type redirectTable struct {
	byAddr map[uint64]*redirection
	next   uint64
}

func newRedirectTable() *redirectTable {
	return &redirectTable{
		byAddr: make(map[uint64]*redirection),
		next:   redirectBase,
	}
}

func kindMatches(kind RedirectKind, fn any) bool {
	switch kind {
	case BuiltinCall:
		_, ok := fn.(BuiltinFunc)
		return ok
	case FPFPCall:
		_, ok := fn.(FPFPFunc)
		return ok
	case FPCall:
		_, ok := fn.(FPFunc)
		return ok
	case FPIntCall:
		_, ok := fn.(FPIntFunc)
		return ok
	case CompareCall:
		_, ok := fn.(CompareFunc)
		return ok
	case DirectAPICall:
		_, ok := fn.(DirectAPIFunc)
		return ok
	case ProfilingAPICall:
		_, ok := fn.(ProfilingAPIFunc)
		return ok
	case DirectGetterCall:
		_, ok := fn.(DirectGetterFunc)
		return ok
	case ProfilingGetterCall:
		_, ok := fn.(ProfilingGetterFunc)
		return ok
	}
	return false
}

// RegisterRuntimeFunction installs fn behind a fresh trampoline and returns
// the guest address simulated code should call. The function value's type
// must match the kind.
func (s *Simulator) RegisterRuntimeFunction(kind RedirectKind, fn any) uint64 {
	if !kindMatches(kind, fn) {
		panic(fmt.Sprintf("runtime function %T does not match redirect kind %d", fn, kind))
	}
	addr := s.redirects.next
	s.redirects.next += redirectSize

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], ecallInstr)
	s.mem.SetUnaligned(addr, buf[:])

	s.redirects.byAddr[addr] = &redirection{kind: kind, fn: fn}
	return addr
}

// softwareInterrupt services the ECALL of a trampoline: marshal arguments,
// call the host function, write results, and return to the caller through ra.
// An ECALL anywhere outside the trampoline region is malformed guest code.
func (s *Simulator) softwareInterrupt() {
	redir, ok := s.redirects.byAddr[s.pc]
	if !ok {
		throw(riscv.ErrUnknownECall, "ecall at %#x is not a registered runtime call", s.pc)
	}

	switch redir.kind {
	case BuiltinCall:
		var args [10]uint64
		for i := 0; i < 8; i++ {
			args[i] = s.Register(riscv.RegA0 + i)
		}
		sp := s.Register(riscv.RegSP)
		var buf [16]byte
		s.mem.GetUnaligned(sp, buf[:])
		args[8] = binary.LittleEndian.Uint64(buf[:8])
		args[9] = binary.LittleEndian.Uint64(buf[8:])
		v0, v1 := redir.fn.(BuiltinFunc)(args)
		s.writeReg(riscv.RegA0, v0)
		s.writeReg(riscv.RegA1, v1)
	case FPFPCall:
		r := redir.fn.(FPFPFunc)(s.FPURegisterDouble(riscv.RegFA0), s.FPURegisterDouble(riscv.RegFA1))
		s.writeFPRegDouble(riscv.RegFA0, r)
	case FPCall:
		r := redir.fn.(FPFunc)(s.FPURegisterDouble(riscv.RegFA0))
		s.writeFPRegDouble(riscv.RegFA0, r)
	case FPIntCall:
		r := redir.fn.(FPIntFunc)(s.FPURegisterDouble(riscv.RegFA0), int32(s.Register(riscv.RegA0)))
		s.writeFPRegDouble(riscv.RegFA0, r)
	case CompareCall:
		r := redir.fn.(CompareFunc)(s.FPURegisterDouble(riscv.RegFA0), s.FPURegisterDouble(riscv.RegFA1))
		s.writeReg(riscv.RegA0, uint64(r))
	case DirectAPICall:
		redir.fn.(DirectAPIFunc)(s.Register(riscv.RegA0))
	case ProfilingAPICall:
		redir.fn.(ProfilingAPIFunc)(s.Register(riscv.RegA0), s.Register(riscv.RegA1))
	case DirectGetterCall:
		redir.fn.(DirectGetterFunc)(s.Register(riscv.RegA0), s.Register(riscv.RegA1))
	case ProfilingGetterCall:
		redir.fn.(ProfilingGetterFunc)(s.Register(riscv.RegA0), s.Register(riscv.RegA1), s.Register(riscv.RegA2))
	}

	// The trampoline behaves like a leaf function: return to the caller.
	s.SetPC(s.Register(riscv.RegRA))
}

// Call runs simulated code at entry with the standard calling convention:
// the first eight arguments in a0-a7, the rest on the stack, ra pointing at
// the end-of-simulation sentinel. It returns the a0/a1 result pair once the
// outermost frame returns.
func (s *Simulator) Call(entry uint64, args ...uint64) (uint64, uint64, error) {
	origSP := s.Register(riscv.RegSP)

	nreg := len(args)
	if nreg > 8 {
		nreg = 8
	}
	for i := 0; i < nreg; i++ {
		s.SetRegister(riscv.RegA0+i, args[i])
	}
	if len(args) > 8 {
		stackArgs := args[8:]
		sp := origSP - uint64(len(stackArgs))*8
		sp &^= 15 // keep the ABI stack alignment
		var buf [8]byte
		for i, v := range stackArgs {
			binary.LittleEndian.PutUint64(buf[:], v)
			s.mem.SetUnaligned(sp+uint64(i)*8, buf[:])
		}
		s.SetRegister(riscv.RegSP, sp)
	}

	s.SetRegister(riscv.RegRA, endSimPC)
	s.pc = entry
	err := s.Run()

	// Only unwind the stack once the call actually finished; on a breakpoint
	// or stop-limit return the guest is still mid-frame and Run can resume.
	if err == nil {
		s.SetRegister(riscv.RegSP, origSP)
	}
	return s.Register(riscv.RegA0), s.Register(riscv.RegA1), err
}

// CallFP is Call for the double-precision convention: arguments in fa0/fa1,
// result in fa0.
func (s *Simulator) CallFP(entry uint64, d0, d1 float64) (float64, error) {
	s.SetFPURegisterDouble(riscv.RegFA0, d0)
	s.SetFPURegisterDouble(riscv.RegFA1, d1)
	s.SetRegister(riscv.RegRA, endSimPC)
	s.pc = entry
	err := s.Run()
	return s.FPURegisterDouble(riscv.RegFA0), err
}
