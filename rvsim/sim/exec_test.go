package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

const testCodeBase = uint64(0x10000)

// retWord is jalr zero, ra, 0: return through ra with no link.
const retWord = uint32(0x00008067)

func rtype(funct7 uint32, rs2, rs1 int, funct3 uint32, rd int, opcode uint32) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func itype(imm uint32, rs1 int, funct3 uint32, rd int, opcode uint32) uint32 {
	return imm<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func loadCode(t *testing.T, s *Simulator, words ...uint32) {
	t.Helper()
	var buf [4]byte
	for i, w := range words {
		buf[0], buf[1], buf[2], buf[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
		s.mem.SetUnaligned(testCodeBase+uint64(i)*4, buf[:])
	}
}

func newTestSim(t *testing.T) *Simulator {
	t.Helper()
	s := NewSimulator(&Config{Monitor: &GlobalMonitor{}})
	t.Cleanup(s.Close)
	return s
}

func TestAddiSequence(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s,
		0x00500093, // addi x1, x0, 5
		0x00308113, // addi x2, x1, 3
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(5), s.Register(1))
	require.Equal(t, uint64(8), s.Register(2))
	require.Equal(t, uint64(3), s.ICount())
}

func TestZeroRegisterIsHardwired(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s,
		0x00500013, // addi x0, x0, 5
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.Register(0))

	s.SetRegister(0, 123)
	require.Equal(t, uint64(0), s.Register(0))
}

func TestDivRemEdgeCases(t *testing.T) {
	minI64 := uint64(1) << 63
	cases := []struct {
		name            string
		funct3          uint32
		rs1, rs2, want  uint64
	}{
		{"div by zero", 4, 42, 0, ^uint64(0)},
		{"divu by zero", 5, 42, 0, ^uint64(0)},
		{"rem by zero", 6, 42, 0, 42},
		{"remu by zero", 7, 42, 0, 42},
		{"div overflow", 4, minI64, ^uint64(0), minI64},
		{"rem overflow", 6, minI64, ^uint64(0), 0},
		{"div plain", 4, ^uint64(0) - 6, 2, ^uint64(0) - 2}, // -7 / 2 = -3
		{"rem plain", 6, ^uint64(0) - 6, 2, ^uint64(0)},     // -7 % 2 = -1
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim(t)
			s.SetRegister(5, tc.rs1)
			s.SetRegister(6, tc.rs2)
			loadCode(t, s,
				rtype(1, 6, 5, tc.funct3, 7, riscv.OpReg),
				retWord,
			)
			_, _, err := s.Call(testCodeBase)
			require.NoError(t, err)
			require.Equal(t, tc.want, s.Register(7))
		})
	}
}

func TestMulHigh(t *testing.T) {
	cases := []struct {
		name           string
		funct3         uint32
		rs1, rs2, want uint64
	}{
		{"mulhu max", 3, ^uint64(0), ^uint64(0), ^uint64(0) - 1},
		{"mulh neg neg", 1, ^uint64(0), ^uint64(0), 0},      // -1 * -1 = 1
		{"mulh neg pos", 1, ^uint64(0), 2, ^uint64(0)},      // -1 * 2 = -2
		{"mulhsu neg pos", 2, ^uint64(0), 2, ^uint64(0)},    // -1 * 2
		{"mulhu big", 3, uint64(1) << 63, 2, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim(t)
			s.SetRegister(5, tc.rs1)
			s.SetRegister(6, tc.rs2)
			loadCode(t, s,
				rtype(1, 6, 5, tc.funct3, 7, riscv.OpReg),
				retWord,
			)
			_, _, err := s.Call(testCodeBase)
			require.NoError(t, err)
			require.Equal(t, tc.want, s.Register(7))
		})
	}
}

func TestWWidthOps(t *testing.T) {
	s := newTestSim(t)
	s.SetRegister(5, 0x00000000_80000000) // becomes negative as int32
	loadCode(t, s,
		itype(0, 5, 0, 6, riscv.OpImm32), // addiw x6, x5, 0
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFFFFFFFF_80000000), s.Register(6))
}

func TestLoadStoreSignExtension(t *testing.T) {
	s := newTestSim(t)
	addr := uint64(0x20000)
	s.SetRegister(5, addr)
	s.SetRegister(6, 0xFF80)
	loadCode(t, s,
		0x00629023,                        // sh x6, 0(x5)
		itype(0, 5, 1, 7, riscv.OpLoad),   // lh x7, 0(x5)
		itype(0, 5, 5, 28, riscv.OpLoad),  // lhu x28, 0(x5)
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFFFFFFFF_FFFFFF80), s.Register(7), "lh sign-extends")
	require.Equal(t, uint64(0xFF80), s.Register(28), "lhu zero-extends")
}

func TestBranchesAndJumps(t *testing.T) {
	s := newTestSim(t)
	s.SetRegister(5, 1)
	s.SetRegister(6, 2)
	loadCode(t, s,
		0x00628463, // beq x5, x6, +8 (not taken)
		0x00500E13, // addi x28, x0, 5
		0x00629463, // bne x5, x6, +8 (taken, skips next)
		0x06300E13, // addi x28, x0, 99 (skipped)
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(5), s.Register(28))
}

func TestLuiAuipc(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s,
		0x123452B7, // lui x5, 0x12345
		0x00000317, // auipc x6, 0
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0x12345000), s.Register(5))
	require.Equal(t, testCodeBase+4, s.Register(6))
}

func TestNullPageAccessFaults(t *testing.T) {
	s := newTestSim(t)
	s.SetRegister(5, 8)
	loadCode(t, s,
		itype(0, 5, 3, 6, riscv.OpLoad), // ld x6, 0(x5) from the null page
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.Error(t, err)
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, riscv.ErrNullPageAccess, vmErr.Code)
}

func TestStrictAlignFaults(t *testing.T) {
	s := NewSimulator(&Config{StrictAlign: true, Monitor: &GlobalMonitor{}})
	defer s.Close()
	s.SetRegister(5, 0x20001)
	loadCode(t, s,
		itype(0, 5, 3, 6, riscv.OpLoad), // ld x6, 0(x5), misaligned
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, riscv.ErrNotAlignedAddr, vmErr.Code)
}

func TestReservedLoadStoreWidths(t *testing.T) {
	t.Run("load funct3 7", func(t *testing.T) {
		s := newTestSim(t)
		s.SetRegister(5, 0x20000)
		loadCode(t, s,
			itype(0, 5, 7, 6, riscv.OpLoad), // no such thing as ldu
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		var vmErr *VMError
		require.ErrorAs(t, err, &vmErr)
		require.Equal(t, riscv.ErrUnknownOpCode, vmErr.Code)
		require.Zero(t, s.Register(6))
	})
	t.Run("store funct3 4", func(t *testing.T) {
		s := newTestSim(t)
		s.SetRegister(5, 0x20000)
		loadCode(t, s,
			rtype(0, 6, 5, 4, 0, riscv.OpStore), // s-type, zero offset
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		var vmErr *VMError
		require.ErrorAs(t, err, &vmErr)
		require.Equal(t, riscv.ErrUnknownOpCode, vmErr.Code)
	})
}

func TestUnknownInstructionIsError(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s, 0xFFFFFFFF)
	err := s.Step()
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, riscv.ErrUnknownOpCode, vmErr.Code)
}

func TestStopAtICount(t *testing.T) {
	s := NewSimulator(&Config{StopAtICount: 2, Monitor: &GlobalMonitor{}})
	defer s.Close()
	loadCode(t, s,
		0x00500093, // addi x1, x0, 5
		0x00308113, // addi x2, x1, 3
		0x00310193, // addi x3, x2, 3
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.ErrorIs(t, err, ErrStopLimit)
	require.Equal(t, uint64(2), s.ICount())

	// resume to completion
	s.SetStopAt(0)
	require.NoError(t, s.Run())
	require.Equal(t, uint64(11), s.Register(3))
}

func TestAtomics(t *testing.T) {
	t.Run("amoadd.d", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		var buf [8]byte
		buf[0] = 40
		s.mem.SetUnaligned(addr, buf[:])
		s.SetRegister(5, addr)
		s.SetRegister(6, 2)
		loadCode(t, s,
			rtype(0x00, 6, 5, 3, 7, riscv.OpAMO), // amoadd.d x7, x6, (x5)
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		require.NoError(t, err)
		require.Equal(t, uint64(40), s.Register(7), "returns the old value")
		var out [8]byte
		s.mem.GetUnaligned(addr, out[:])
		require.Equal(t, byte(42), out[0])
	})

	t.Run("amomax.w sign extension", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		s.mem.SetUnaligned(addr, []byte{0xFF, 0xFF, 0xFF, 0xFF}) // -1 as int32
		s.SetRegister(5, addr)
		s.SetRegister(6, 3)
		loadCode(t, s,
			rtype(0x14<<2, 6, 5, 2, 7, riscv.OpAMO), // amomax.w x7, x6, (x5)
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		require.NoError(t, err)
		require.Equal(t, ^uint64(0), s.Register(7), "old value sign-extended")
		var out [4]byte
		s.mem.GetUnaligned(addr, out[:])
		require.Equal(t, byte(3), out[0])
	})

	t.Run("misaligned amo faults", func(t *testing.T) {
		s := newTestSim(t)
		s.SetRegister(5, 0x20002)
		loadCode(t, s,
			rtype(0x00, 6, 5, 3, 7, riscv.OpAMO),
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		var vmErr *VMError
		require.ErrorAs(t, err, &vmErr)
		require.Equal(t, riscv.ErrNotAlignedAddr, vmErr.Code)
	})
}

func TestCSRRoundTrip(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s,
		itype(uint32(riscv.CSRFCSR), 5, 1, 0, riscv.OpSystem),  // csrrw x0, fcsr, x5
		itype(uint32(riscv.CSRFFlags), 0, 2, 6, riscv.OpSystem), // csrrs x6, fflags, x0
		itype(uint32(riscv.CSRFrm), 0, 2, 7, riscv.OpSystem),    // csrrs x7, frm, x0
		retWord,
	)
	s.SetRegister(5, 0b101_10011) // frm bits 7:5, flag bits 4:0
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0b10011), s.Register(6))
	require.Equal(t, uint64(0b101), s.Register(7))
}
