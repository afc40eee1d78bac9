package riscv

// Integer register indices (ABI names).
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegFP   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
	RegS2   = 18
	RegS3   = 19
	RegS4   = 20
	RegS5   = 21
	RegS6   = 22
	RegS7   = 23
	RegS8   = 24
	RegS9   = 25
	RegS10  = 26
	RegS11  = 27
	RegT3   = 28
	RegT4   = 29
	RegT5   = 30
	RegT6   = 31

	NumRegisters    = 32
	NumFPURegisters = 32
	NumVRegisters   = 32
)

// FPU register indices used by the calling convention.
const (
	RegFA0 = 10
	RegFA1 = 11
)

// Base instruction opcodes (bits 6:0 of a 32-bit instruction word).
const (
	OpLoad     = 0x03 // 000_0011
	OpLoadFP   = 0x07 // 000_0111: scalar FP loads + vector unit-stride loads
	OpMiscMem  = 0x0F // 000_1111: FENCE family
	OpImm      = 0x13 // 001_0011
	OpAUIPC    = 0x17 // 001_0111
	OpImm32    = 0x1B // 001_1011
	OpStore    = 0x23 // 010_0011
	OpStoreFP  = 0x27 // 010_0111: scalar FP stores + vector unit-stride stores
	OpAMO      = 0x2F // 010_1111
	OpReg      = 0x33 // 011_0011
	OpLUI      = 0x37 // 011_0111
	OpReg32    = 0x3B // 011_1011
	OpMAdd     = 0x43 // 100_0011
	OpMSub     = 0x47 // 100_0111
	OpNMSub    = 0x4B // 100_1011
	OpNMAdd    = 0x4F // 100_1111
	OpFP       = 0x53 // 101_0011
	OpVector   = 0x57 // 101_0111
	OpBranch   = 0x63 // 110_0011
	OpJALR     = 0x67 // 110_0111
	OpJAL      = 0x6F // 110_1111
	OpSystem   = 0x73 // 111_0011
)

// CSR numbers implemented by the simulator.
const (
	CSRFFlags = 0x001
	CSRFrm    = 0x002
	CSRFCSR   = 0x003
	CSRVStart = 0x008
	CSRVXSat  = 0x009
	CSRVL     = 0xC20
	CSRVType  = 0xC21
	CSRVLenB  = 0xC22
	CSRCycle  = 0xC00
)

// FCSR layout: accrued exception flags in bits 4:0, dynamic rounding
// mode in bits 7:5. The flag bits are sticky.
const (
	FlagInexact          = 1 << 0 // NX
	FlagUnderflow        = 1 << 1 // UF
	FlagOverflow         = 1 << 2 // OF
	FlagDivideByZero     = 1 << 3 // DZ
	FlagInvalidOperation = 1 << 4 // NV

	FCSRFlagsMask = 0x1F
	FCSRFrmShift  = 5
	FCSRFrmMask   = 0x7 << FCSRFrmShift
	FCSRMask      = FCSRFlagsMask | FCSRFrmMask
)

// Rounding modes, as encoded in frm and in instruction rm fields.
const (
	RNE = 0 // round to nearest, ties to even
	RTZ = 1 // round towards zero
	RDN = 2 // round down
	RUP = 3 // round up
	RMM = 4 // round to nearest, ties to max magnitude
	DYN = 7 // use the dynamic mode from frm
)

// FCLASS result bits.
const (
	ClassNegInfinity = 1 << 0
	ClassNegNormal   = 1 << 1
	ClassNegSubnorm  = 1 << 2
	ClassNegZero     = 1 << 3
	ClassPosZero     = 1 << 4
	ClassPosSubnorm  = 1 << 5
	ClassPosNormal   = 1 << 6
	ClassPosInfinity = 1 << 7
	ClassSignalNaN   = 1 << 8
	ClassQuietNaN    = 1 << 9
)

// Vector configuration. VLEN is fixed at 128 bits in this implementation.
const (
	VLenBits  = 128
	VLenBytes = VLenBits / 8
)

// Element width selections (vsew encoding in vtype).
const (
	E8 = iota
	E16
	E32
	E64
)

// Vector funct3 values under OpVector.
const (
	OPIVV = 0
	OPFVV = 1
	OPMVV = 2
	OPIVI = 3
	OPIVX = 4
	OPFVF = 5
	OPMVX = 6
	OPCFG = 7
)

// Diagnostic codes carried by fatal simulator panics.
const (
	ErrUnknownOpCode          = uint64(0xf001c0de)
	ErrUnknownAtomicOperation = uint64(0xf001a70)
	ErrUnknownCSR             = uint64(0xbadc0de0)
	ErrIllegalInstruction     = uint64(0xbadc0de1)
	ErrNullPageAccess         = uint64(0xbad00000)
	ErrNotAlignedAddr         = uint64(0xbad10ad0)
	ErrBadAMOSize             = uint64(0xbada70)
	ErrBadCallTarget          = uint64(0xbadca11)
	ErrBadStackCall           = uint64(0xbad57ac)
	ErrUnknownECall           = uint64(0xbadeca11)
	ErrDebugBreak             = uint64(0x0debdeb0)
)
