package sim

import (
	"fmt"
	"math"
)

// Per-instruction trace lines, for cross-checking a run against a reference
// implementation. Not a stability-guaranteed format.

type traceType int

const (
	traceInt8 traceType = iota
	traceUint8
	traceInt16
	traceUint16
	traceInt32
	traceUint32
	traceInt64
	traceUint64
	traceFloat
	traceDouble
)

func traceTypeForSize(size uint64, signed bool) traceType {
	switch size {
	case 1:
		if signed {
			return traceInt8
		}
		return traceUint8
	case 2:
		if signed {
			return traceInt16
		}
		return traceUint16
	case 4:
		if signed {
			return traceInt32
		}
		return traceUint32
	default:
		if signed {
			return traceInt64
		}
		return traceUint64
	}
}

func renderTraced(value uint64, t traceType) string {
	switch t {
	case traceInt8:
		return fmt.Sprintf("int8:%d uint8:%d", int8(value), uint8(value))
	case traceUint8:
		return fmt.Sprintf("uint8:%d", uint8(value))
	case traceInt16:
		return fmt.Sprintf("int16:%d uint16:%d", int16(value), uint16(value))
	case traceUint16:
		return fmt.Sprintf("uint16:%d", uint16(value))
	case traceInt32:
		return fmt.Sprintf("int32:%d uint32:%d", int32(value), uint32(value))
	case traceUint32:
		return fmt.Sprintf("uint32:%d", uint32(value))
	case traceFloat:
		return fmt.Sprintf("flt:%e", math.Float32frombits(uint32(value)))
	case traceDouble:
		return fmt.Sprintf("dbl:%e", math.Float64frombits(value))
	default:
		return fmt.Sprintf("int64:%d uint64:%d", int64(value), value)
	}
}

func (s *Simulator) traceRegWr(value uint64) {
	fmt.Fprintf(s.trace, "%016x    (%d)    %s\n", value, s.icount, renderTraced(value, traceInt64))
}

func (s *Simulator) traceFPRegWr(bits uint64, t traceType) {
	fmt.Fprintf(s.trace, "%016x    (%d)    %s\n", bits, s.icount, renderTraced(bits, t))
}

func (s *Simulator) traceMemRd(addr uint64, value uint64, t traceType) {
	fmt.Fprintf(s.trace, "%016x    (%d)    %s <-- [addr: %016x]\n", value, s.icount, renderTraced(value, t), addr)
}

func (s *Simulator) traceMemWr(addr uint64, value uint64, t traceType) {
	fmt.Fprintf(s.trace, "%016x    (%d)    %s --> [addr: %016x]\n", value, s.icount, renderTraced(value, t), addr)
}
