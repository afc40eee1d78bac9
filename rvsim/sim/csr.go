package sim

import "github.com/jitvm/rvsim/rvsim/riscv"

// readCSR returns the current value of a control/status register.
// Unknown CSR numbers are fatal: the generated code only ever touches the
// FP and vector state registers.
func (s *Simulator) readCSR(csr uint64) uint64 {
	switch csr {
	case riscv.CSRFFlags:
		return uint64(s.fcsr & riscv.FCSRFlagsMask)
	case riscv.CSRFrm:
		return uint64(s.fcsr&riscv.FCSRFrmMask) >> riscv.FCSRFrmShift
	case riscv.CSRFCSR:
		return uint64(s.fcsr & riscv.FCSRMask)
	case riscv.CSRVStart:
		return s.vstart
	case riscv.CSRVXSat:
		if s.vxsat {
			return 1
		}
		return 0
	case riscv.CSRVL:
		return s.vl
	case riscv.CSRVType:
		return s.vtype
	case riscv.CSRVLenB:
		return riscv.VLenBytes
	case riscv.CSRCycle:
		return s.icount
	default:
		throw(riscv.ErrUnknownCSR, "unimplemented CSR %#x", csr)
		return 0
	}
}

func (s *Simulator) writeCSR(csr uint64, val uint64) {
	v := uint32(val)
	switch csr {
	case riscv.CSRFFlags:
		s.fcsr = (s.fcsr &^ riscv.FCSRFlagsMask) | (v & riscv.FCSRFlagsMask)
	case riscv.CSRFrm:
		s.fcsr = (s.fcsr &^ uint32(riscv.FCSRFrmMask)) | ((v << riscv.FCSRFrmShift) & riscv.FCSRFrmMask)
	case riscv.CSRFCSR:
		s.fcsr = (s.fcsr &^ uint32(riscv.FCSRMask)) | (v & riscv.FCSRMask)
	case riscv.CSRVStart:
		s.vstart = val
	case riscv.CSRVXSat:
		s.vxsat = val&1 != 0
	default:
		throw(riscv.ErrUnknownCSR, "unimplemented CSR write %#x", csr)
	}
}

func (s *Simulator) setCSRBits(csr uint64, val uint64) {
	v := uint32(val)
	switch csr {
	case riscv.CSRFFlags:
		s.fcsr |= v & riscv.FCSRFlagsMask
	case riscv.CSRFrm:
		s.fcsr |= (v << riscv.FCSRFrmShift) & riscv.FCSRFrmMask
	case riscv.CSRFCSR:
		s.fcsr |= v & riscv.FCSRMask
	case riscv.CSRVXSat:
		if val&1 != 0 {
			s.vxsat = true
		}
	default:
		throw(riscv.ErrUnknownCSR, "unimplemented CSR set %#x", csr)
	}
}

func (s *Simulator) clearCSRBits(csr uint64, val uint64) {
	v := uint32(val)
	switch csr {
	case riscv.CSRFFlags:
		s.fcsr &^= v & riscv.FCSRFlagsMask
	case riscv.CSRFrm:
		s.fcsr &^= (v << riscv.FCSRFrmShift) & riscv.FCSRFrmMask
	case riscv.CSRFCSR:
		s.fcsr &^= v & riscv.FCSRMask
	case riscv.CSRVXSat:
		if val&1 != 0 {
			s.vxsat = false
		}
	default:
		throw(riscv.ErrUnknownCSR, "unimplemented CSR clear %#x", csr)
	}
}

// setFFlags accumulates accrued-exception bits. The bits are sticky: they
// stay set until software clears them through the CSR interface.
func (s *Simulator) setFFlags(mask uint32) {
	s.fcsr |= mask & riscv.FCSRFlagsMask
}

// FFlags returns the accrued FP exception flags, for tests and the debugger
// flags dump.
func (s *Simulator) FFlags() uint32 {
	return s.fcsr & riscv.FCSRFlagsMask
}

// ClearFFlags resets the accrued FP exception flags.
func (s *Simulator) ClearFFlags() {
	s.fcsr &^= riscv.FCSRFlagsMask
}

// dynamicRoundingMode reads frm, the mode used when an instruction's rm
// field says DYN.
func (s *Simulator) dynamicRoundingMode() int {
	return int(s.fcsr&riscv.FCSRFrmMask) >> riscv.FCSRFrmShift
}

// VXSat reports the vector fixed-point saturation flag.
func (s *Simulator) VXSat() bool {
	return s.vxsat
}
