package sim

import (
	"math"

	"github.com/jitvm/rvsim/rvsim/riscv"
)

// Vector extension execution, VLEN fixed at 128 bits. Operations run as
// element loops from vstart to vl under the current vtype configuration;
// when masked (vm=0), elements whose v0 mask bit is clear keep their old
// destination value. vstart resets to zero when an instruction completes.

// Element accessors, little-endian within the register bytes.

func (s *Simulator) vElem(reg, i int, sewBytes uint64) uint64 {
	off := uint64(i) * sewBytes
	var v uint64
	for b := uint64(0); b < sewBytes; b++ {
		v |= uint64(s.vregs[reg][off+b]) << (8 * b)
	}
	return v
}

func (s *Simulator) setVElem(reg, i int, sewBytes uint64, v uint64) {
	off := uint64(i) * sewBytes
	for b := uint64(0); b < sewBytes; b++ {
		s.vregs[reg][off+b] = byte(v >> (8 * b))
	}
}

// Mask registers hold one bit per element, packed from bit 0 up.

func (s *Simulator) vMaskBit(reg, i int) bool {
	return s.vregs[reg][i/8]>>(i%8)&1 != 0
}

func (s *Simulator) setVMaskBit(reg, i int, b bool) {
	if b {
		s.vregs[reg][i/8] |= 1 << (i % 8)
	} else {
		s.vregs[reg][i/8] &^= 1 << (i % 8)
	}
}

// active reports whether element i executes under the instruction's mask.
func (s *Simulator) active(instr Instr, i int) bool {
	return instr.VM() || s.vMaskBit(0, i)
}

func sextSew(v uint64, sewBits uint64) uint64 {
	return signExtend(v, uint(sewBits-1))
}

func (s *Simulator) executeVType(instr Instr) {
	switch instr.Opcode() {
	case riscv.OpLoadFP:
		s.executeVLoad(instr)
	case riscv.OpStoreFP:
		s.executeVStore(instr)
	case riscv.OpVector:
		switch instr.Funct3() {
		case riscv.OPCFG:
			s.executeVSet(instr)
		case riscv.OPIVV, riscv.OPIVX, riscv.OPIVI:
			s.executeVInt(instr)
		case riscv.OPMVV, riscv.OPMVX:
			s.executeVMulti(instr)
		case riscv.OPFVV, riscv.OPFVF:
			s.executeVFloat(instr)
		}
	}
}

// vill is the top vtype bit, set when a configuration is unsupported.
const vtypeIll = uint64(1) << 63

// executeVSet handles vsetvli / vsetivli / vsetvl: install a new vtype,
// derive vl from the requested application vector length, and return vl.
// Only LMUL=1 configurations are supported; anything else sets vill.
func (s *Simulator) executeVSet(instr Instr) {
	rd := instr.Rd()
	rs1 := instr.Rs1()

	var newType uint64
	avlFromReg := true
	var avl uint64
	switch {
	case instr&(1<<31) == 0: // vsetvli
		newType = instr.VSetImm()
	case instr&(1<<30) != 0: // vsetivli
		newType = instr.VSetImm()
		avl = instr.Uimm5()
		avlFromReg = false
	default: // vsetvl
		newType = s.Register(instr.Rs2())
	}

	vsew := newType >> 3 & 0x7
	vlmul := newType & 0x7
	if vsew > riscv.E64 || vlmul != 0 {
		s.vtype = vtypeIll
		s.vl = 0
		s.writeReg(rd, 0)
		return
	}
	vlmax := uint64(riscv.VLenBits) / (8 << vsew)

	if avlFromReg {
		switch {
		case rs1 != 0:
			avl = s.Register(rs1)
		case rd != 0:
			avl = ^uint64(0) // request the maximum
		default:
			avl = s.vl // change vtype only, keep vl
		}
	}
	if avl > vlmax {
		avl = vlmax
	}

	s.vtype = newType
	s.vl = avl
	s.vstart = 0
	s.writeReg(rd, avl)
}

func (s *Simulator) checkVConfig() {
	if s.vtype&vtypeIll != 0 {
		throw(riscv.ErrIllegalInstruction, "vector instruction with vill set")
	}
}

// scalarVOperand produces the second operand of a VX/VI-form instruction,
// truncated to the element width. signedImm selects sign- vs zero-extension
// of the 5-bit immediate.
func (s *Simulator) scalarVOperand(instr Instr, signedImm bool) uint64 {
	if instr.Funct3() == riscv.OPIVI {
		if signedImm {
			return instr.Simm5()
		}
		return instr.Uimm5()
	}
	return s.Register(instr.Rs1())
}

// executeVInt runs the OPIVV/OPIVX/OPIVI integer family.
func (s *Simulator) executeVInt(instr Instr) {
	s.checkVConfig()
	sewBits := s.vsewBits()
	sewBytes := sewBits / 8
	sewMask := ^uint64(0) >> (64 - sewBits)
	vd := instr.Vd()
	vs2 := instr.Vs2()
	vv := instr.Funct3() == riscv.OPIVV
	funct6 := instr.Funct6()

	// operand2 reads either the vs1 element or the fixed scalar/immediate.
	scalar := uint64(0)
	if !vv {
		scalar = s.scalarVOperand(instr, funct6 != 0x25 && funct6 != 0x28 && funct6 != 0x29 && funct6 != 0x0C)
	}
	operand2 := func(i int) uint64 {
		if vv {
			return s.vElem(instr.Vs1(), i, sewBytes)
		}
		return scalar & sewMask
	}

	switch funct6 {
	case 0x0C: // vrgather
		src := s.vregs[vs2] // copy, so vd==vs2 reads old values
		vlmax := s.vlmax()
		for i := int(s.vstart); i < int(s.vl); i++ {
			if !s.active(instr, i) {
				continue
			}
			idx := operand2(i)
			var v uint64
			if idx < vlmax {
				off := idx * sewBytes
				for b := uint64(0); b < sewBytes; b++ {
					v |= uint64(src[off+b]) << (8 * b)
				}
			}
			s.setVElem(vd, i, sewBytes, v)
		}
	case 0x17: // vmerge / vmv
		for i := int(s.vstart); i < int(s.vl); i++ {
			if instr.VM() { // vmv.v.v / vmv.v.x / vmv.v.i
				s.setVElem(vd, i, sewBytes, operand2(i))
			} else if s.vMaskBit(0, i) {
				s.setVElem(vd, i, sewBytes, operand2(i))
			} else {
				s.setVElem(vd, i, sewBytes, s.vElem(vs2, i, sewBytes))
			}
		}
	case 0x27: // vmv<nr>r.v: whole-register copy, independent of vl and mask
		if instr.Funct3() != riscv.OPIVI || instr.Uimm5() != 0 {
			throw(riscv.ErrIllegalInstruction, "unsupported whole-register move %#08x", uint32(instr))
		}
		s.vregs[vd] = s.vregs[vs2]
	case 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F: // compares into a mask
		for i := int(s.vstart); i < int(s.vl); i++ {
			if !s.active(instr, i) {
				continue
			}
			a := s.vElem(vs2, i, sewBytes)
			b := operand2(i)
			s.setVMaskBit(vd, i, vCompare(funct6, a, b, sewBits))
		}
	default:
		for i := int(s.vstart); i < int(s.vl); i++ {
			if !s.active(instr, i) {
				continue
			}
			a := s.vElem(vs2, i, sewBytes)
			b := operand2(i)
			s.setVElem(vd, i, sewBytes, s.vIntOp(funct6, a, b, sewBits)&sewMask)
		}
	}
	s.vstart = 0
}

// vIntOp computes one integer lane. a is the vs2 element, b the vs1 element
// or scalar operand.
func (s *Simulator) vIntOp(funct6 uint32, a, b, sewBits uint64) uint64 {
	switch funct6 {
	case 0x00: // vadd
		return a + b
	case 0x02: // vsub
		return a - b
	case 0x03: // vrsub
		return b - a
	case 0x04: // vminu
		if b < a {
			return b
		}
		return a
	case 0x05: // vmin
		if int64(sextSew(b, sewBits)) < int64(sextSew(a, sewBits)) {
			return b
		}
		return a
	case 0x06: // vmaxu
		if b > a {
			return b
		}
		return a
	case 0x07: // vmax
		if int64(sextSew(b, sewBits)) > int64(sextSew(a, sewBits)) {
			return b
		}
		return a
	case 0x09: // vand
		return a & b
	case 0x0A: // vor
		return a | b
	case 0x0B: // vxor
		return a ^ b
	case 0x20: // vsaddu
		r := a + b
		sewMask := ^uint64(0) >> (64 - sewBits)
		if r&^sewMask != 0 || r < a {
			s.vxsat = true
			return sewMask
		}
		return r
	case 0x21: // vsadd
		r, sat := satAddSew(a, b, sewBits)
		if sat {
			s.vxsat = true
		}
		return r
	case 0x22: // vssubu
		if b > a {
			s.vxsat = true
			return 0
		}
		return a - b
	case 0x23: // vssub
		r, sat := satSubSew(a, b, sewBits)
		if sat {
			s.vxsat = true
		}
		return r
	case 0x25: // vsll
		return a << (b & (sewBits - 1))
	case 0x28: // vsrl
		return a >> (b & (sewBits - 1))
	case 0x29: // vsra
		return uint64(int64(sextSew(a, sewBits)) >> (b & (sewBits - 1)))
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported vector integer funct6 %#02x", funct6)
		return 0
	}
}

func satAddSew(a, b, sewBits uint64) (uint64, bool) {
	switch sewBits {
	case 8:
		r, sat := satAdd(int8(a), int8(b))
		return uint64(uint8(r)), sat
	case 16:
		r, sat := satAdd(int16(a), int16(b))
		return uint64(uint16(r)), sat
	case 32:
		r, sat := satAdd(int32(a), int32(b))
		return uint64(uint32(r)), sat
	default:
		r, sat := satAdd(int64(a), int64(b))
		return uint64(r), sat
	}
}

func satSubSew(a, b, sewBits uint64) (uint64, bool) {
	switch sewBits {
	case 8:
		r, sat := satSub(int8(a), int8(b))
		return uint64(uint8(r)), sat
	case 16:
		r, sat := satSub(int16(a), int16(b))
		return uint64(uint16(r)), sat
	case 32:
		r, sat := satSub(int32(a), int32(b))
		return uint64(uint32(r)), sat
	default:
		r, sat := satSub(int64(a), int64(b))
		return uint64(r), sat
	}
}

// vCompare evaluates one mask-producing compare. a is the vs2 element.
func vCompare(funct6 uint32, a, b, sewBits uint64) bool {
	sa := int64(sextSew(a, sewBits))
	sb := int64(sextSew(b, sewBits))
	switch funct6 {
	case 0x18: // vmseq
		return a == b
	case 0x19: // vmsne
		return a != b
	case 0x1A: // vmsltu
		return a < b
	case 0x1B: // vmslt
		return sa < sb
	case 0x1C: // vmsleu
		return a <= b
	case 0x1D: // vmsle
		return sa <= sb
	case 0x1E: // vmsgtu
		return a > b
	default: // vmsgt
		return sa > sb
	}
}

// executeVMulti runs the OPMVV/OPMVX family: reductions and the scalar
// move instructions.
func (s *Simulator) executeVMulti(instr Instr) {
	s.checkVConfig()
	sewBits := s.vsewBits()
	sewBytes := sewBits / 8
	vd := instr.Vd()
	vs2 := instr.Vs2()
	funct6 := instr.Funct6()

	if funct6 == 0x10 {
		if instr.Funct3() == riscv.OPMVV { // vmv.x.s
			s.writeReg(instr.Rd(), sextSew(s.vElem(vs2, 0, sewBytes), sewBits))
		} else if s.vl > 0 { // vmv.s.x
			s.setVElem(vd, 0, sewBytes, s.Register(instr.Rs1()))
		}
		s.vstart = 0
		return
	}
	if funct6 > 0x07 || instr.Funct3() != riscv.OPMVV {
		throw(riscv.ErrUnknownOpCode, "unsupported vector instruction %#08x", uint32(instr))
	}

	// Reductions fold vs2[0..vl-1] into vs1[0], result in vd[0].
	acc := s.vElem(instr.Vs1(), 0, sewBytes)
	for i := int(s.vstart); i < int(s.vl); i++ {
		if !s.active(instr, i) {
			continue
		}
		e := s.vElem(vs2, i, sewBytes)
		switch funct6 {
		case 0x00: // vredsum
			acc += e
		case 0x01: // vredand
			acc &= e
		case 0x02: // vredor
			acc |= e
		case 0x03: // vredxor
			acc ^= e
		case 0x04: // vredminu
			if e < acc {
				acc = e
			}
		case 0x05: // vredmin
			if int64(sextSew(e, sewBits)) < int64(sextSew(acc, sewBits)) {
				acc = e
			}
		case 0x06: // vredmaxu
			if e > acc {
				acc = e
			}
		case 0x07: // vredmax
			if int64(sextSew(e, sewBits)) > int64(sextSew(acc, sewBits)) {
				acc = e
			}
		}
	}
	s.setVElem(vd, 0, sewBytes, acc&(^uint64(0)>>(64-sewBits)))
	s.vstart = 0
}

// executeVFloat runs the OPFVV/OPFVF family on 32- or 64-bit elements,
// with the same invalid-operation screening as the scalar FP unit.
func (s *Simulator) executeVFloat(instr Instr) {
	s.checkVConfig()
	sewBits := s.vsewBits()
	if sewBits != 32 && sewBits != 64 {
		throw(riscv.ErrIllegalInstruction, "vector float at element width %d", sewBits)
	}
	sewBytes := sewBits / 8
	vd := instr.Vd()
	vs2 := instr.Vs2()
	vv := instr.Funct3() == riscv.OPFVV
	funct6 := instr.Funct6()

	for i := int(s.vstart); i < int(s.vl); i++ {
		if !s.active(instr, i) {
			continue
		}
		a := s.vElem(vs2, i, sewBytes)
		var b uint64
		if vv {
			b = s.vElem(instr.Vs1(), i, sewBytes)
		} else if sewBits == 32 {
			b = uint64(math.Float32bits(s.FPURegisterFloat(instr.Rs1())))
		} else {
			b = math.Float64bits(s.FPURegisterDouble(instr.Rs1()))
		}
		var r uint64
		if sewBits == 32 {
			r = uint64(math.Float32bits(s.vFloatOp32(funct6, math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b)))))
		} else {
			r = math.Float64bits(s.vFloatOp64(funct6, math.Float64frombits(a), math.Float64frombits(b)))
		}
		s.setVElem(vd, i, sewBytes, r)
	}
	s.vstart = 0
}

func (s *Simulator) vFloatOp32(funct6 uint32, a, b float32) float32 {
	switch funct6 {
	case 0x00: // vfadd
		return fpAdd(s, a, b)
	case 0x02: // vfsub
		return fpSub(s, a, b)
	case 0x20: // vfdiv
		return fpDiv(s, a, b)
	case 0x24: // vfmul
		return fpMul(s, a, b)
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported vector float funct6 %#02x", funct6)
		return 0
	}
}

func (s *Simulator) vFloatOp64(funct6 uint32, a, b float64) float64 {
	switch funct6 {
	case 0x00:
		return fpAdd(s, a, b)
	case 0x02:
		return fpSub(s, a, b)
	case 0x20:
		return fpDiv(s, a, b)
	case 0x24:
		return fpMul(s, a, b)
	default:
		throw(riscv.ErrUnknownOpCode, "unsupported vector float funct6 %#02x", funct6)
		return 0
	}
}

// Vector memory. Only unit-stride, non-segment loads/stores are supported;
// the element width comes from the instruction, not vtype.

func vMemElemBytes(instr Instr) uint64 {
	switch instr.Funct3() {
	case 0:
		return 1
	case 5:
		return 2
	case 6:
		return 4
	case 7:
		return 8
	default:
		throw(riscv.ErrIllegalInstruction, "unsupported vector memory width %d", instr.Funct3())
		return 0
	}
}

func (s *Simulator) checkVMem(instr Instr) {
	mop := uint32(instr>>26) & 0x3
	nf := uint32(instr>>29) & 0x7
	if mop != 0 || nf != 0 || instr.Rs2() != 0 {
		throw(riscv.ErrIllegalInstruction, "unsupported vector memory addressing %#08x", uint32(instr))
	}
}

func (s *Simulator) executeVLoad(instr Instr) {
	s.checkVConfig()
	s.checkVMem(instr)
	size := vMemElemBytes(instr)
	base := s.Register(instr.Rs1())
	vd := instr.Vd()
	for i := int(s.vstart); i < int(s.vl); i++ {
		if !s.active(instr, i) {
			continue
		}
		s.setVElem(vd, i, size, s.loadMem(base+uint64(i)*size, size, false))
	}
	s.vstart = 0
}

func (s *Simulator) executeVStore(instr Instr) {
	s.checkVConfig()
	s.checkVMem(instr)
	size := vMemElemBytes(instr)
	base := s.Register(instr.Rs1())
	vs3 := instr.Vd() // store data register sits in the vd field
	for i := int(s.vstart); i < int(s.vl); i++ {
		if !s.active(instr, i) {
			continue
		}
		s.storeMem(base+uint64(i)*size, size, s.vElem(vs3, i, size))
	}
	s.vstart = 0
}
