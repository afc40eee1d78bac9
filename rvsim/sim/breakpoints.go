package sim

import (
	"fmt"
	"os"
)

// Break instructions come in two flavors, distinguished by the code word
// embedded in the instruction stream right after the EBREAK:
// codes up to maxWatchpointCode are watchpoints (counted, never halting),
// codes above that up to maxStopCode are stops (halting when enabled).
const (
	maxWatchpointCode = 31
	maxStopCode       = 127
)

// Breakpoint is an address the run loop halts at before executing.
// Temporary breakpoints disable themselves after firing once.
type Breakpoint struct {
	Addr      uint64
	Enabled   bool
	Temporary bool
}

// SetBreakpoint installs a breakpoint. Setting an address that already has
// one updates it in place.
func (s *Simulator) SetBreakpoint(addr uint64, temporary bool) {
	for i := range s.breakpoints {
		if s.breakpoints[i].Addr == addr {
			s.breakpoints[i].Enabled = true
			s.breakpoints[i].Temporary = temporary
			return
		}
	}
	s.breakpoints = append(s.breakpoints, Breakpoint{Addr: addr, Enabled: true, Temporary: temporary})
}

// ClearBreakpoint removes the breakpoint at addr, if any.
func (s *Simulator) ClearBreakpoint(addr uint64) {
	for i := range s.breakpoints {
		if s.breakpoints[i].Addr == addr {
			s.breakpoints = append(s.breakpoints[:i], s.breakpoints[i+1:]...)
			return
		}
	}
}

// Breakpoints returns a copy of the installed breakpoints.
func (s *Simulator) Breakpoints() []Breakpoint {
	out := make([]Breakpoint, len(s.breakpoints))
	copy(out, s.breakpoints)
	return out
}

// checkBreakpoints reports whether an enabled breakpoint covers the current
// pc, disabling it first if it is temporary so resuming does not re-fire.
func (s *Simulator) checkBreakpoints() bool {
	for i := range s.breakpoints {
		bp := &s.breakpoints[i]
		if bp.Enabled && bp.Addr == s.pc {
			if bp.Temporary {
				bp.Enabled = false
			}
			return true
		}
	}
	return false
}

// watchedStop tracks one stop code: how many times it has been hit and
// whether hitting it halts the run loop. Stops are enabled by default.
type watchedStop struct {
	count    uint32
	disabled bool
}

func validStopCode(code uint32) bool {
	return code > maxWatchpointCode && code <= maxStopCode
}

// EnableStop makes hitting the given stop code halt Run.
func (s *Simulator) EnableStop(code uint32) {
	if validStopCode(code) {
		s.watchedStops[code].disabled = false
	}
}

// DisableStop makes the given stop code count without halting.
func (s *Simulator) DisableStop(code uint32) {
	if validStopCode(code) {
		s.watchedStops[code].disabled = true
	}
}

// StopInfo reports the hit count and enabled state of a stop code.
func (s *Simulator) StopInfo(code uint32) (count uint64, enabled bool) {
	if !validStopCode(code) {
		return 0, false
	}
	w := s.watchedStops[code]
	return uint64(w.count), !w.disabled
}

func (s *Simulator) increaseStopCounter(code uint32) {
	w := &s.watchedStops[code]
	w.count++
	if w.count == 0 { // wrapped
		fmt.Fprintf(os.Stderr, "stop counter for code %d overflowed, disabling it\n", code)
		w.disabled = true
	}
}

// handleBreak executes an EBREAK. The 32-bit word following the EBREAK in
// the instruction stream carries the break code, and the pc skips both.
// Returns true when an enabled stop fired.
func (s *Simulator) handleBreak() bool {
	var buf [4]byte
	s.mem.GetUnaligned(s.pc+4, buf[:])
	code := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	s.SetPC(s.pc + 8)
	s.breakCount++

	if code <= maxWatchpointCode {
		// Watchpoint: observable in the break count, never halts.
		return false
	}
	if code <= maxStopCode {
		s.increaseStopCounter(code)
		if s.watchedStops[code].disabled {
			return false
		}
		s.lastStopCode = code
		return true
	}
	// Out-of-range codes behave like an unconditional stop.
	s.lastStopCode = code & maxStopCode
	return true
}

// BreakCount returns how many break instructions have executed.
func (s *Simulator) BreakCount() uint64 {
	return s.breakCount
}
