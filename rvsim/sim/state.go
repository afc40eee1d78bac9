package sim

import (
	"io"
	"math"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Sentinel PC values. The return address of a simulated call frame is set to
// endSimPC so the run loop knows when the outermost frame returned. badRA is
// what uninitialized ra/pc hold; jumping to it is a hard fault.
const (
	badRA    = ^uint64(0)     // -1
	endSimPC = ^uint64(0) - 1 // -2
)

// Guest address space carve-outs. Memory is sparse, these only fix where the
// simulated stack and the runtime-call trampolines live.
const (
	defaultStackSize = 2 << 20         // 2 MiB
	stackTop         = uint64(1) << 38 // grows down from here
	// The sp handed to simulated code sits a little below the real top,
	// to absorb mild stack underflow by generated code.
	stackProtectionGap = 64
)

// Config carries the knobs a simulator instance is created with.
// The zero value is usable.
type Config struct {
	// StackSize is the simulated stack size in bytes. Defaults to 2 MiB.
	StackSize uint64
	// StrictAlign makes loads/stores of width > 1 fault when misaligned.
	// The RISC-V spec leaves unaligned access to the implementation; the
	// generated code we simulate never relies on it, so this is a debug aid.
	StrictAlign bool
	// Trace, when non-nil, receives one line per executed instruction and
	// per memory access, for cross-checking against a reference run.
	Trace io.Writer
	// StopAtICount halts Run before executing instruction number N (1-based).
	// Zero means no limit.
	StopAtICount uint64
	// Monitor is the cross-instance store-conditional monitor. Defaults to
	// the process-wide monitor.
	Monitor *GlobalMonitor
}

// Simulator holds the full architectural state of one simulated hart.
// An instance is single-threaded: one instruction executes to completion
// before the next. Create one instance per host thread; instances share
// nothing but the global monitor.
type Simulator struct {
	mem *Memory

	regs       [riscv.NumRegisters]uint64
	pc         uint64
	pcModified bool
	instrSize  uint64 // byte size of the instruction being executed (2 or 4)

	fpuRegs [riscv.NumFPURegisters]uint64
	fcsr    uint32

	vregs  [riscv.NumVRegisters][riscv.VLenBytes]byte
	vtype  uint64
	vl     uint64
	vstart uint64
	vxsat  bool

	icount     uint64
	breakCount uint64

	stackBase uint64 // lowest valid stack address
	stackSize uint64

	local  LocalMonitor
	global *GlobalMonitor
	linked LinkedAddress

	breakpoints  []Breakpoint
	watchedStops [maxStopCode + 1]watchedStop
	lastStopCode uint32

	redirects *redirectTable

	trace       io.Writer
	strictAlign bool
	stopAt      uint64
}

// NewSimulator creates a simulator instance with zeroed architectural state,
// an empty sparse memory, and sp pointing at the top of a fresh simulated
// stack. ra and pc start at a known-bad value so executing without a proper
// call setup faults instead of running off into zero pages.
func NewSimulator(cfg *Config) *Simulator {
	if cfg == nil {
		cfg = &Config{}
	}
	stackSize := cfg.StackSize
	if stackSize == 0 {
		stackSize = defaultStackSize
	}
	global := cfg.Monitor
	if global == nil {
		global = DefaultGlobalMonitor()
	}
	s := &Simulator{
		mem:         NewMemory(),
		global:      global,
		stackBase:   stackTop - stackSize,
		stackSize:   stackSize,
		redirects:   newRedirectTable(),
		trace:       cfg.Trace,
		strictAlign: cfg.StrictAlign,
		stopAt:      cfg.StopAtICount,
	}
	s.regs[riscv.RegSP] = stackTop - stackProtectionGap
	s.regs[riscv.RegRA] = badRA
	s.pc = badRA
	return s
}

// Close detaches the instance from the global monitor. The instance must not
// be used afterwards.
func (s *Simulator) Close() {
	s.global.RemoveLinkedAddress(&s.linked)
}

// Memory exposes the guest memory, e.g. for loading code images and for the
// debugger's memory dump surface.
func (s *Simulator) Memory() *Memory {
	return s.mem
}

// ICount returns the number of instructions executed so far.
func (s *Simulator) ICount() uint64 {
	return s.icount
}

// SetStopAt moves the instruction-count threshold, so a driver can run in
// bounded slices and resume. Zero disables the limit.
func (s *Simulator) SetStopAt(icount uint64) {
	s.stopAt = icount
}

// Register reads an integer register. Register 0 always reads 0.
func (s *Simulator) Register(reg int) uint64 {
	if reg == 0 {
		return 0
	}
	return s.regs[reg]
}

// SetRegister writes an integer register. Writes to register 0 are dropped.
func (s *Simulator) SetRegister(reg int, value uint64) {
	if reg == 0 {
		return
	}
	s.regs[reg] = value
}

// writeReg is SetRegister plus the per-instruction trace hook.
func (s *Simulator) writeReg(reg int, value uint64) {
	s.SetRegister(reg, value)
	if s.trace != nil && reg != 0 {
		s.traceRegWr(value)
	}
}

// PC returns the current program counter.
func (s *Simulator) PC() uint64 {
	return s.pc
}

// SetPC writes the program counter and suppresses the auto-advance for the
// instruction currently executing.
func (s *Simulator) SetPC(value uint64) {
	s.pcModified = true
	s.pc = value
}

func (s *Simulator) hasBadPC() bool {
	return s.pc == badRA || s.pc == endSimPC
}

// FPURegister returns the raw 64-bit contents of an FPU register.
func (s *Simulator) FPURegister(reg int) uint64 {
	return s.fpuRegs[reg]
}

// SetFPURegister writes the raw 64-bit contents of an FPU register.
func (s *Simulator) SetFPURegister(reg int, value uint64) {
	s.fpuRegs[reg] = value
}

// SetFPURegisterFloat stores a single-precision value, NaN-boxed into the
// 64-bit register.
func (s *Simulator) SetFPURegisterFloat(reg int, value float32) {
	s.fpuRegs[reg] = boxFloat(value)
}

// SetFPURegisterDouble stores a double-precision value bit-exactly.
func (s *Simulator) SetFPURegisterDouble(reg int, value float64) {
	s.fpuRegs[reg] = math.Float64bits(value)
}

// FPURegisterFloat reads a register as single precision. A value that is not
// validly NaN-boxed reads as the canonical quiet NaN.
func (s *Simulator) FPURegisterFloat(reg int) float32 {
	bits := s.fpuRegs[reg]
	if !isBoxedFloat(bits) {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(bits))
}

// FPURegisterDouble reads a register as double precision, bit-exactly.
func (s *Simulator) FPURegisterDouble(reg int) float64 {
	return math.Float64frombits(s.fpuRegs[reg])
}

// VRegister returns a copy of the raw bytes of a vector register.
func (s *Simulator) VRegister(reg int) [riscv.VLenBytes]byte {
	return s.vregs[reg]
}

// SetVRegister overwrites the raw bytes of a vector register.
func (s *Simulator) SetVRegister(reg int, value [riscv.VLenBytes]byte) {
	s.vregs[reg] = value
}

// Vector configuration state, derived from vtype.

func (s *Simulator) vsew() int {
	return int(s.vtype>>3) & 0x7
}

// vsewBits returns the selected element width in bits.
func (s *Simulator) vsewBits() uint64 {
	return 8 << s.vsew()
}

// vlmax is how many elements of the current width fit a vector register.
func (s *Simulator) vlmax() uint64 {
	return riscv.VLenBits / s.vsewBits()
}
