package sim

import (
	"encoding/binary"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// checkMemAccess enforces the two malformed-access rules: the null page is
// never dereferenceable, and (under StrictAlign) wide accesses must be
// naturally aligned. Both are guest bugs, reported loudly.
func (s *Simulator) checkMemAccess(addr uint64, size uint64) {
	if addr < nullPageEnd {
		throw(riscv.ErrNullPageAccess, "null-page access at %#x (size %d), pc=%#x", addr, size, s.pc)
	}
	if s.strictAlign && size > 1 && addr&(size-1) != 0 {
		throw(riscv.ErrNotAlignedAddr, "misaligned %d-byte access at %#x, pc=%#x", size, addr, s.pc)
	}
}

// loadMem reads size bytes (1, 2, 4, or 8) little-endian, optionally
// sign-extending to 64 bits. A plain load conservatively clears any pending
// load-linked reservation held by this instance.
func (s *Simulator) loadMem(addr uint64, size uint64, signed bool) uint64 {
	s.checkMemAccess(addr, size)
	s.local.NotifyLoad()
	var buf [8]byte
	s.mem.GetUnaligned(addr, buf[:size])
	v := binary.LittleEndian.Uint64(buf[:])
	if signed {
		v = signExtend(v, uint(size*8-1))
	}
	if s.trace != nil {
		s.traceMemRd(addr, v, traceTypeForSize(size, signed))
	}
	return v
}

// storeMem writes size bytes little-endian. Any plain store clears the local
// reservation and, through the global monitor, every other instance's
// overlapping reservation.
func (s *Simulator) storeMem(addr uint64, size uint64, value uint64) {
	s.checkMemAccess(addr, size)
	s.local.NotifyStore()
	s.global.NotifyStore(&s.linked)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	s.mem.SetUnaligned(addr, buf[:size])
	if s.trace != nil {
		s.traceMemWr(addr, value, traceTypeForSize(size, true))
	}
}

// fetch reads an instruction word. Fetches are not data accesses: they do
// not touch the monitors and are not traced.
func (s *Simulator) fetch(addr uint64) uint32 {
	if addr < nullPageEnd || addr == badRA {
		throw(riscv.ErrNullPageAccess, "instruction fetch from bad pc %#x", addr)
	}
	var buf [4]byte
	s.mem.GetUnaligned(addr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}
