package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// lrsc assembles lr/sc pairs: lr.d x7, (x5); sc.d x7, x6, (x5).
func lrWord(rd, rs1 int, size uint32) uint32 {
	return rtype(0x02<<2, 0, rs1, size, rd, riscv.OpAMO)
}

func scWord(rd, rs2, rs1 int, size uint32) uint32 {
	return rtype(0x03<<2, rs2, rs1, size, rd, riscv.OpAMO)
}

func TestLoadReservedStoreConditional(t *testing.T) {
	t.Run("paired lr/sc succeeds", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		s.mem.SetUnaligned(addr, []byte{40})
		s.SetRegister(5, addr)
		s.SetRegister(6, 42)
		loadCode(t, s,
			lrWord(7, 5, 3),     // lr.d x7, (x5)
			scWord(28, 6, 5, 3), // sc.d x28, x6, (x5)
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		require.NoError(t, err)
		require.Equal(t, uint64(40), s.Register(7))
		require.Equal(t, uint64(0), s.Register(28), "sc reports success")
		var out [8]byte
		s.mem.GetUnaligned(addr, out[:])
		require.Equal(t, byte(42), out[0])
	})

	t.Run("sc without reservation fails", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		s.SetRegister(5, addr)
		s.SetRegister(6, 42)
		loadCode(t, s,
			scWord(28, 6, 5, 3),
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.Register(28), "sc reports failure")
		var out [8]byte
		s.mem.GetUnaligned(addr, out[:])
		require.Equal(t, byte(0), out[0], "nothing stored")
	})

	t.Run("plain store clears the reservation", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		s.SetRegister(5, addr)
		s.SetRegister(6, 42)
		// sd x6, 64(x5): imm[11:5]=2 in the funct7 slot, imm[4:0]=0 in rd
		sd := uint32(2)<<25 | uint32(6)<<20 | uint32(5)<<15 | 3<<12 | riscv.OpStore
		loadCode(t, s,
			lrWord(7, 5, 3),
			sd,
			scWord(28, 6, 5, 3),
			retWord,
		)
		_, _, err := s.Call(testCodeBase)
		require.NoError(t, err)
		require.Equal(t, uint64(1), s.Register(28), "sc fails after intervening store")
	})

	t.Run("forced failure after repeated successes", func(t *testing.T) {
		s := newTestSim(t)
		addr := uint64(0x20000)
		s.SetRegister(5, addr)
		s.SetRegister(6, 1)
		loadCode(t, s,
			lrWord(7, 5, 3),
			scWord(28, 6, 5, 3),
			retWord,
		)
		results := make([]uint64, 0, maxFailureCounter+1)
		for i := 0; i <= maxFailureCounter; i++ {
			_, _, err := s.Call(testCodeBase)
			require.NoError(t, err)
			results = append(results, s.Register(28))
		}
		for i := 0; i < maxFailureCounter; i++ {
			require.Equal(t, uint64(0), results[i], "success %d", i)
		}
		require.Equal(t, uint64(1), results[maxFailureCounter], "forced spurious failure")
	})
}

func TestGlobalMonitorCrossInstance(t *testing.T) {
	monitor := &GlobalMonitor{}
	a := NewSimulator(&Config{Monitor: monitor})
	defer a.Close()
	b := NewSimulator(&Config{Monitor: monitor})
	defer b.Close()

	addr := uint64(0x20000)
	code := []uint32{
		lrWord(7, 5, 3),
		scWord(28, 6, 5, 3),
		retWord,
	}
	for _, s := range []*Simulator{a, b} {
		loadCode(t, s, code...)
		s.SetRegister(5, addr)
		s.SetRegister(6, 9)
	}

	// Take a reservation on A, then have B write the same line through a
	// plain store: A's pending sc must fail.
	a.SetPC(testCodeBase)
	require.NoError(t, a.Step()) // lr on A
	b.storeMem(addr, 8, 77)
	require.NoError(t, a.Step()) // sc on A
	require.Equal(t, uint64(1), a.Register(28), "reservation lost to other instance's store")
}

func TestLocalMonitorStateMachine(t *testing.T) {
	var m LocalMonitor
	m.NotifyLoadLinked(0x100, TransactionDWord)
	require.True(t, m.NotifyStoreConditional(0x100, TransactionDWord))
	require.False(t, m.NotifyStoreConditional(0x100, TransactionDWord), "reservation consumed")

	m.NotifyLoadLinked(0x100, TransactionDWord)
	require.False(t, m.NotifyStoreConditional(0x100, TransactionWord), "size mismatch")

	m.NotifyLoadLinked(0x100, TransactionWord)
	m.NotifyLoad()
	require.False(t, m.NotifyStoreConditional(0x100, TransactionWord), "cleared by plain load")
}

func TestGlobalMonitorRemove(t *testing.T) {
	g := &GlobalMonitor{}
	var l1, l2 LinkedAddress
	g.NotifyLoadLinked(0x40, &l1)
	g.NotifyLoadLinked(0x80, &l2)
	g.RemoveLinkedAddress(&l1)
	require.False(t, g.NotifyStoreConditional(0x40, &l1), "detached record cannot succeed")
	require.True(t, g.NotifyStoreConditional(0x80, &l2))
}
