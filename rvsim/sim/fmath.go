package sim

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Bit-pattern plumbing for floats. All reinterpretation goes through
// math.Float*bits so there is no overlapping-storage aliasing anywhere.

const (
	// NaN box: a single-precision value stored in a 64-bit FP register has
	// all upper 32 bits set.
	nanBoxMask = uint64(0xFFFFFFFF) << 32

	quietNaNBits32 = uint32(0x7FC00000)
	quietNaNBits64 = uint64(0x7FF8000000000000)
)

func boxFloat(v float32) uint64 {
	return nanBoxMask | uint64(math.Float32bits(v))
}

func isBoxedFloat(bits uint64) bool {
	return bits&nanBoxMask == nanBoxMask
}

func quietNaN32() float32 { return math.Float32frombits(quietNaNBits32) }
func quietNaN64() float64 { return math.Float64frombits(quietNaNBits64) }

// isSignalingNaN32 reports a NaN with the quiet bit (mantissa MSB) clear.
func isSignalingNaN32(v float32) bool {
	bits := math.Float32bits(v)
	return bits&0x7F800000 == 0x7F800000 && bits&0x007FFFFF != 0 && bits&0x00400000 == 0
}

func isSignalingNaN64(v float64) bool {
	bits := math.Float64bits(v)
	return bits&0x7FF0000000000000 == 0x7FF0000000000000 &&
		bits&0x000FFFFFFFFFFFFF != 0 && bits&0x0008000000000000 == 0
}

type fpval interface {
	~float32 | ~float64
}

func isNaN[F fpval](v F) bool {
	return v != v
}

func isInf[F fpval](v F) bool {
	return !isNaN(v) && (float64(v) > math.MaxFloat64 || float64(v) < -math.MaxFloat64)
}

func signBit[F fpval](v F) bool {
	switch f := any(v).(type) {
	case float32:
		return math.Float32bits(f)&(1<<31) != 0
	default:
		return math.Signbit(float64(v))
	}
}

func isSignalingNaN[F fpval](v F) bool {
	switch f := any(v).(type) {
	case float32:
		return isSignalingNaN32(f)
	default:
		return isSignalingNaN64(float64(v))
	}
}

func quietNaN[F fpval]() F {
	var z F
	switch any(z).(type) {
	case float32:
		return F(quietNaN32())
	default:
		return F(quietNaN64())
	}
}

// IEEE-754 invalid-operation input predicates, checked before falling back
// to the host's native arithmetic.

func isInvalidFAdd[F fpval](a, b F) bool {
	return isInf(a) && isInf(b) && signBit(a) != signBit(b)
}

func isInvalidFSub[F fpval](a, b F) bool {
	return isInf(a) && isInf(b) && signBit(a) == signBit(b)
}

func isInvalidFMul[F fpval](a, b F) bool {
	return (isInf(a) && b == 0) || (a == 0 && isInf(b))
}

func isInvalidFDiv[F fpval](a, b F) bool {
	return (a == 0 && b == 0) || (isInf(a) && isInf(b))
}

func isInvalidFSqrt[F fpval](a F) bool {
	return a < 0
}

// roundFP applies an explicit rounding mode to a floating value, returning
// an integral-valued float. DYN must be resolved by the caller.
func roundFP[F fpval](v F, rmode int) F {
	x := float64(v)
	var rounded float64
	switch rmode {
	case riscv.RNE:
		rounded = math.RoundToEven(x)
	case riscv.RTZ:
		rounded = math.Trunc(x)
	case riscv.RDN:
		rounded = math.Floor(x)
	case riscv.RUP:
		rounded = math.Ceil(x)
	case riscv.RMM:
		rounded = math.Round(x)
	default:
		throw(riscv.ErrIllegalInstruction, "reserved rounding mode %d", rmode)
	}
	return F(rounded)
}

// intBounds describes the destination range of a float-to-int conversion.
type intBounds struct {
	min        float64 // exactly representable
	maxPlusOne float64 // max+1 is a power of two, exactly representable
	minInt     uint64  // bit pattern of the type's minimum
	maxInt     uint64  // bit pattern of the type's maximum
}

var (
	boundsI32 = intBounds{min: math.MinInt32, maxPlusOne: 1 << 31, minInt: 1 << 31, maxInt: math.MaxInt32}
	boundsU32 = intBounds{min: 0, maxPlusOne: 1 << 32, minInt: 0, maxInt: math.MaxUint32}
	boundsI64 = intBounds{min: math.MinInt64, maxPlusOne: 1 << 63, minInt: uint64(1) << 63, maxInt: math.MaxInt64}
	boundsU64 = intBounds{min: 0, maxPlusOne: 1 << 64, minInt: 0, maxInt: math.MaxUint64}
)

// roundF2I converts a float to an integer bit pattern under a rounding mode,
// setting the accrued flags the way hardware does: invalid-operation for
// NaN/infinity/out-of-range (clamping to the destination bounds), inexact
// when rounding changed the value, underflow for tiny nonzero results.
func roundF2I[F fpval](s *Simulator, v F, rmode int, b intBounds) uint64 {
	original := float64(v)
	if isNaN(original) || isInf(original) {
		s.setFFlags(riscv.FlagInvalidOperation)
		if isNaN(original) || original > 0 {
			return b.maxInt
		}
		return b.minInt
	}

	rounded := float64(roundFP(v, rmode))
	if original != rounded {
		s.setFFlags(riscv.FlagInexact)
	}

	if rounded >= b.maxPlusOne {
		s.setFFlags(riscv.FlagOverflow | riscv.FlagInvalidOperation)
		return b.maxInt
	}
	if rounded <= b.min {
		if rounded < b.min {
			s.setFFlags(riscv.FlagOverflow | riscv.FlagInvalidOperation)
		}
		return b.minInt
	}
	if rounded != 0 && rounded < math.SmallestNonzeroFloat64 && rounded > -math.SmallestNonzeroFloat64 {
		s.setFFlags(riscv.FlagUnderflow)
	}
	if rounded < 0 {
		return uint64(int64(rounded))
	}
	return uint64(rounded)
}

// classifyFP computes the FCLASS 10-bit category mask.
func classifyFP[F fpval](v F) uint64 {
	neg := signBit(v)
	switch {
	case isNaN(v):
		if isSignalingNaN(v) {
			return riscv.ClassSignalNaN
		}
		return riscv.ClassQuietNaN
	case isInf(v):
		if neg {
			return riscv.ClassNegInfinity
		}
		return riscv.ClassPosInfinity
	case v == 0:
		if neg {
			return riscv.ClassNegZero
		}
		return riscv.ClassPosZero
	case isSubnormal(v):
		if neg {
			return riscv.ClassNegSubnorm
		}
		return riscv.ClassPosSubnorm
	default:
		if neg {
			return riscv.ClassNegNormal
		}
		return riscv.ClassPosNormal
	}
}

func isSubnormal[F fpval](v F) bool {
	switch f := any(v).(type) {
	case float32:
		bits := math.Float32bits(f)
		return bits&0x7F800000 == 0 && bits&0x007FFFFF != 0
	default:
		bits := math.Float64bits(float64(v))
		return bits&0x7FF0000000000000 == 0 && bits&0x000FFFFFFFFFFFFF != 0
	}
}

type fpCond int

const (
	condLT fpCond = iota
	condLE
	condEQ
	condNE
)

// compareFP implements the NaN-aware comparison predicates. LT/LE are
// signaling compares: any NaN input raises invalid-operation and yields
// false. EQ/NE are quiet: only a signaling NaN raises the flag; with any
// NaN, EQ is false and NE is true.
func compareFP[F fpval](s *Simulator, a, b F, cc fpCond) bool {
	switch cc {
	case condLT, condLE:
		if isNaN(a) || isNaN(b) {
			s.setFFlags(riscv.FlagInvalidOperation)
			return false
		}
		if cc == condLT {
			return a < b
		}
		return a <= b
	case condEQ, condNE:
		if isSignalingNaN(a) || isSignalingNaN(b) {
			s.setFFlags(riscv.FlagInvalidOperation)
		}
		if isNaN(a) || isNaN(b) {
			return cc == condNE
		}
		if cc == condEQ {
			return a == b
		}
		return a != b
	}
	return false
}

type maxMinKind int

const (
	kindMax maxMinKind = iota
	kindMin
)

// fpMaxMin follows IEEE-754 minNum/maxNum: a single NaN operand is ignored
// in favor of the number; two NaNs yield the canonical quiet NaN; equal
// magnitudes of differing sign resolve by sign. Signaling NaN inputs raise
// invalid-operation.
func fpMaxMin[F fpval](s *Simulator, a, b F, kind maxMinKind) F {
	if isSignalingNaN(a) || isSignalingNaN(b) {
		s.setFFlags(riscv.FlagInvalidOperation)
	}
	switch {
	case isNaN(a) && isNaN(b):
		return quietNaN[F]()
	case isNaN(a):
		return b
	case isNaN(b):
		return a
	case a == b: // covers -0.0 vs 0.0
		if kind == kindMax {
			if signBit(b) {
				return a
			}
			return b
		}
		if signBit(b) {
			return b
		}
		return a
	default:
		if (kind == kindMax) == (a > b) {
			return a
		}
		return b
	}
}

// Saturating integer arithmetic for the vector fixed-point instructions.

type signedInt interface {
	int8 | int16 | int32 | int64
}

func maxOf[T signedInt]() T {
	var z T
	switch p := any(&z).(type) {
	case *int8:
		*p = math.MaxInt8
	case *int16:
		*p = math.MaxInt16
	case *int32:
		*p = math.MaxInt32
	case *int64:
		*p = math.MaxInt64
	}
	return z
}

func minOf[T signedInt]() T {
	return ^maxOf[T]()
}

// satAdd clamps on signed overflow and reports whether it saturated.
func satAdd[T signedInt](x, y T) (T, bool) {
	sum := x + y
	if (x >= 0) == (y >= 0) && (sum >= 0) != (x >= 0) {
		if x >= 0 {
			return maxOf[T](), true
		}
		return minOf[T](), true
	}
	return sum, false
}

// satSub clamps on signed overflow and reports whether it saturated.
func satSub[T signedInt](x, y T) (T, bool) {
	diff := x - y
	if (x >= 0) != (y >= 0) && (diff >= 0) != (x >= 0) {
		if x >= 0 {
			return maxOf[T](), true
		}
		return minOf[T](), true
	}
	return diff, false
}

// Wide multiply helpers for MULH/MULHSU/MULHU: widen to 256 bits, multiply,
// take the second 64-bit limb.

func sext64To256(v uint64) *uint256.Int {
	z := new(uint256.Int).SetUint64(v)
	if v&(1<<63) != 0 {
		z[1], z[2], z[3] = ^uint64(0), ^uint64(0), ^uint64(0)
	}
	return z
}

func mulh64(a, b uint64) uint64 {
	z := new(uint256.Int).Mul(sext64To256(a), sext64To256(b))
	return z[1]
}

func mulhsu64(a, b uint64) uint64 {
	z := new(uint256.Int).Mul(sext64To256(a), new(uint256.Int).SetUint64(b))
	return z[1]
}

func mulhu64(a, b uint64) uint64 {
	z := new(uint256.Int).Mul(new(uint256.Int).SetUint64(a), new(uint256.Int).SetUint64(b))
	return z[1]
}

// Signed divide/remainder with the RISC-V defined edge results: divide by
// zero yields -1 (all ones for unsigned) and the dividend for remainder;
// INT_MIN/-1 yields the dividend for divide and 0 for remainder. No traps.

func div64(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	default:
		return a / b
	}
}

func rem64(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	default:
		return a % b
	}
}

func divu64(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remu64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

// sext32 sign-extends the low 32 bits to 64, the W-instruction result rule.
func sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

// signExtend sign-extends from the given bit index (the bit itself is the
// sign bit).
func signExtend(v uint64, bit uint) uint64 {
	mask := uint64(1) << bit
	return (v ^ mask) - mask
}
