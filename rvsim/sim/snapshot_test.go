package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestSim(t)
	loadCode(t, s,
		0x00500093, // addi x1, x0, 5
		0x00308113, // addi x2, x1, 3
		retWord,
	)
	s.SetFPURegisterDouble(3, -1.25)
	s.vregs[2][0] = 0xAB
	_, _, err := s.Call(testCodeBase)
	require.NoError(t, err)

	dat, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(dat, &snap))
	restored := newTestSim(t)
	restored.Restore(&snap)

	require.Equal(t, s.PC(), restored.PC())
	require.Equal(t, uint64(5), restored.Register(1))
	require.Equal(t, uint64(8), restored.Register(2))
	require.Equal(t, -1.25, restored.FPURegisterDouble(3))
	require.Equal(t, byte(0xAB), restored.vregs[2][0])
	require.Equal(t, s.ICount(), restored.ICount())

	var buf [4]byte
	restored.mem.GetUnaligned(testCodeBase, buf[:])
	require.Equal(t, byte(0x93), buf[0], "memory travels with the snapshot")
}

func TestSnapshotMidRunResume(t *testing.T) {
	s := NewSimulator(&Config{StopAtICount: 1, Monitor: &GlobalMonitor{}})
	defer s.Close()
	loadCode(t, s,
		0x00500093,
		0x00308113,
		retWord,
	)
	_, _, err := s.Call(testCodeBase)
	require.ErrorIs(t, err, ErrStopLimit)

	restored := newTestSim(t)
	restored.Restore(s.Snapshot())
	require.NoError(t, restored.Run())
	require.Equal(t, uint64(8), restored.Register(2))
}
