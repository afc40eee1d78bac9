package sim

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Snapshot is the serializable architectural state of a simulator instance:
// everything needed to resume a run in a fresh instance. Monitor state and
// breakpoints are deliberately excluded; a restored instance starts with an
// open monitor and no debugging state.
type Snapshot struct {
	PC     hexutil.Uint64                         `json:"pc"`
	Regs   [riscv.NumRegisters]hexutil.Uint64     `json:"regs"`
	FPRegs [riscv.NumFPURegisters]hexutil.Uint64  `json:"fpRegs"`
	FCSR   uint32                                 `json:"fcsr"`
	VRegs  [riscv.NumVRegisters]hexutil.Bytes     `json:"vregs"`
	VType  hexutil.Uint64                         `json:"vtype"`
	VL     uint64                                 `json:"vl"`
	VStart uint64                                 `json:"vstart"`
	VXSat  bool                                   `json:"vxsat"`
	ICount uint64                                 `json:"icount"`
	Memory *Memory                                `json:"memory"`
}

// Snapshot captures the current architectural state. The memory is shared
// with the instance, not copied; serialize the snapshot before stepping
// further if isolation is needed.
func (s *Simulator) Snapshot() *Snapshot {
	snap := &Snapshot{
		PC:     hexutil.Uint64(s.pc),
		FCSR:   s.fcsr,
		VType:  hexutil.Uint64(s.vtype),
		VL:     s.vl,
		VStart: s.vstart,
		VXSat:  s.vxsat,
		ICount: s.icount,
		Memory: s.mem,
	}
	for i, v := range s.regs {
		snap.Regs[i] = hexutil.Uint64(v)
	}
	for i, v := range s.fpuRegs {
		snap.FPRegs[i] = hexutil.Uint64(v)
	}
	for i := range s.vregs {
		snap.VRegs[i] = append(hexutil.Bytes(nil), s.vregs[i][:]...)
	}
	return snap
}

// Restore overwrites the instance's architectural state with a snapshot.
// The local monitor opens and any reservation in the global monitor is
// dropped, as a restore is indistinguishable from an intervening store.
func (s *Simulator) Restore(snap *Snapshot) {
	s.pc = uint64(snap.PC)
	s.fcsr = snap.FCSR
	s.vtype = uint64(snap.VType)
	s.vl = snap.VL
	s.vstart = snap.VStart
	s.vxsat = snap.VXSat
	s.icount = snap.ICount
	if snap.Memory != nil {
		s.mem = snap.Memory
	}
	for i := range s.regs {
		s.regs[i] = uint64(snap.Regs[i])
	}
	for i := range s.fpuRegs {
		s.fpuRegs[i] = uint64(snap.FPRegs[i])
	}
	for i := range s.vregs {
		copy(s.vregs[i][:], snap.VRegs[i])
	}
	s.local.Clear()
	s.global.NotifyStore(&s.linked)
}
