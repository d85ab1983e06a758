// Copyright (c) 2020 Tigera, Inc. All rights reserved.
// Copyright (c) 2026 the probeforge authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package asm is an assembler for eBPF bytecode.  A Block accumulates
// logical instructions through primitive methods (Mov64, Load32, Call,
// ...) and named jump labels; Assemble resolves the labels, drops
// unreachable instructions and returns the final instruction sequence.
// Long programs get jump "trampolines" inserted at regular intervals so
// that forward jumps always stay within the 16-bit offset a single
// instruction can encode.
package asm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// InstructionSize is the size of a single encoded instruction slot.
// Wide immediate loads (LoadImm64) occupy two consecutive slots.
const InstructionSize = 8

// Register is one of the eBPF virtual machine's registers.
type Register uint8

const (
	// R0 carries function/helper return values.
	R0 Register = 0
	// R1-R5 carry helper call arguments; R1 holds the program context on
	// entry.
	R1 Register = 1
	R2 Register = 2
	R3 Register = 3
	R4 Register = 4
	R5 Register = 5
	// R6-R9 are callee-saved.
	R6 Register = 6
	R7 Register = 7
	R8 Register = 8
	R9 Register = 9
	// R10 is the read-only frame pointer.
	R10 Register = 10

	// RPseudoMapFD in the source nibble of a LoadImm64 tells the kernel
	// that the immediate is a map file descriptor to be translated to a
	// map pointer at load time.
	RPseudoMapFD Register = 1
)

func (r Register) String() string {
	return fmt.Sprintf("R%d", uint8(r))
}

// OpCode is the first byte of an encoded instruction: 3 bits of
// instruction class with class-specific operation/size/mode bits above.
type OpCode uint8

// Instruction classes.
const (
	OpClassLoadImm  OpCode = 0x00 // BPF_LD
	OpClassLoadReg  OpCode = 0x01 // BPF_LDX
	OpClassStoreImm OpCode = 0x02 // BPF_ST
	OpClassStoreReg OpCode = 0x03 // BPF_STX
	OpClassALU32    OpCode = 0x04 // BPF_ALU
	OpClassJump64   OpCode = 0x05 // BPF_JMP
	OpClassJump32   OpCode = 0x06 // BPF_JMP32
	OpClassALU64    OpCode = 0x07 // BPF_ALU64

	OpClassMask OpCode = 0x07
)

// 64-bit ALU operations.  The xxImm64 forms take the right-hand operand
// from the immediate, the others from the source register.
const (
	AddImm64     OpCode = 0x07
	Add64        OpCode = 0x0f
	SubImm64     OpCode = 0x17
	Sub64        OpCode = 0x1f
	MulImm64     OpCode = 0x27
	Mul64        OpCode = 0x2f
	DivImm64     OpCode = 0x37
	Div64        OpCode = 0x3f
	OrImm64      OpCode = 0x47
	Or64         OpCode = 0x4f
	AndImm64     OpCode = 0x57
	And64        OpCode = 0x5f
	ShiftLImm64  OpCode = 0x67
	ShiftL64     OpCode = 0x6f
	ShiftRImm64  OpCode = 0x77
	ShiftR64     OpCode = 0x7f
	Neg64        OpCode = 0x87
	ModImm64     OpCode = 0x97
	Mod64        OpCode = 0x9f
	XorImm64     OpCode = 0xa7
	Xor64        OpCode = 0xaf
	MovImm64     OpCode = 0xb7
	Mov64        OpCode = 0xbf
	AShiftRImm64 OpCode = 0xc7
	AShiftR64    OpCode = 0xcf
)

// 32-bit ALU operations (upper 32 bits of the destination are zeroed).
// ToLE/ToBE are the endian conversions; their immediate holds the
// operand width in bits (16, 32 or 64).
const (
	AddImm32    OpCode = 0x04
	Add32       OpCode = 0x0c
	SubImm32    OpCode = 0x14
	Sub32       OpCode = 0x1c
	OrImm32     OpCode = 0x44
	Or32        OpCode = 0x4c
	AndImm32    OpCode = 0x54
	And32       OpCode = 0x5c
	ShiftLImm32 OpCode = 0x64
	ShiftRImm32 OpCode = 0x74
	XorImm32    OpCode = 0xa4
	Xor32       OpCode = 0xac
	MovImm32    OpCode = 0xb4
	Mov32       OpCode = 0xbc
	ToLE        OpCode = 0xd4
	ToBE        OpCode = 0xdc
)

// 64-bit jumps.  Conditional forms compare the destination register with
// either the source register or the immediate.
const (
	JumpA        OpCode = 0x05
	JumpEqImm64  OpCode = 0x15
	JumpEq64     OpCode = 0x1d
	JumpGTImm64  OpCode = 0x25
	JumpGT64     OpCode = 0x2d
	JumpGEImm64  OpCode = 0x35
	JumpGE64     OpCode = 0x3d
	JumpSetImm64 OpCode = 0x45
	JumpSet64    OpCode = 0x4d
	JumpNEImm64  OpCode = 0x55
	JumpNE64     OpCode = 0x5d
	Call         OpCode = 0x85
	Exit         OpCode = 0x95
	JumpLTImm64  OpCode = 0xa5
	JumpLT64     OpCode = 0xad
	JumpLEImm64  OpCode = 0xb5
	JumpLE64     OpCode = 0xbd
)

// 32-bit jumps; these compare the low 32 bits only.
const (
	JumpEqImm32 OpCode = 0x16
	JumpEq32    OpCode = 0x1e
	JumpGTImm32 OpCode = 0x26
	JumpGT32    OpCode = 0x2e
	JumpGEImm32 OpCode = 0x36
	JumpGE32    OpCode = 0x3e
	JumpNEImm32 OpCode = 0x56
	JumpNE32    OpCode = 0x5e
	JumpLTImm32 OpCode = 0xa6
	JumpLT32    OpCode = 0xae
	JumpLEImm32 OpCode = 0xb6
	JumpLE32    OpCode = 0xbe
)

// Memory access.  Loads fill the destination register from
// *(src + offset); stores write the source register to *(dst + offset).
// XAdd forms do an atomic add to the memory location.
const (
	LoadImm64    OpCode = 0x18 // Wide immediate load, first slot.
	LoadImm64Pt2 OpCode = 0x00 // Second slot of a wide immediate load.

	Load32 OpCode = 0x61
	Load16 OpCode = 0x69
	Load8  OpCode = 0x71
	Load64 OpCode = 0x79

	Store32 OpCode = 0x63
	Store16 OpCode = 0x6b
	Store8  OpCode = 0x73
	Store64 OpCode = 0x7b

	XAdd32 OpCode = 0xc3
	XAdd64 OpCode = 0xdb
)

var opCodeNames = map[OpCode]string{
	AddImm64:     "AddImm64",
	Add64:        "Add64",
	SubImm64:     "SubImm64",
	Sub64:        "Sub64",
	MulImm64:     "MulImm64",
	Mul64:        "Mul64",
	DivImm64:     "DivImm64",
	Div64:        "Div64",
	OrImm64:      "OrImm64",
	Or64:         "Or64",
	AndImm64:     "AndImm64",
	And64:        "And64",
	ShiftLImm64:  "ShiftLImm64",
	ShiftL64:     "ShiftL64",
	ShiftRImm64:  "ShiftRImm64",
	ShiftR64:     "ShiftR64",
	Neg64:        "Neg64",
	ModImm64:     "ModImm64",
	Mod64:        "Mod64",
	XorImm64:     "XorImm64",
	Xor64:        "Xor64",
	MovImm64:     "MovImm64",
	Mov64:        "Mov64",
	AShiftRImm64: "AShiftRImm64",
	AShiftR64:    "AShiftR64",
	AddImm32:     "AddImm32",
	Add32:        "Add32",
	SubImm32:     "SubImm32",
	Sub32:        "Sub32",
	OrImm32:      "OrImm32",
	Or32:         "Or32",
	AndImm32:     "AndImm32",
	And32:        "And32",
	ShiftLImm32:  "ShiftLImm32",
	ShiftRImm32:  "ShiftRImm32",
	XorImm32:     "XorImm32",
	Xor32:        "Xor32",
	MovImm32:     "MovImm32",
	Mov32:        "Mov32",
	ToLE:         "ToLE",
	ToBE:         "ToBE",
	JumpA:        "JumpA",
	JumpEqImm64:  "JumpEqImm64",
	JumpEq64:     "JumpEq64",
	JumpGTImm64:  "JumpGTImm64",
	JumpGT64:     "JumpGT64",
	JumpGEImm64:  "JumpGEImm64",
	JumpGE64:     "JumpGE64",
	JumpSetImm64: "JumpSetImm64",
	JumpSet64:    "JumpSet64",
	JumpNEImm64:  "JumpNEImm64",
	JumpNE64:     "JumpNE64",
	Call:         "Call",
	Exit:         "Exit",
	JumpLTImm64:  "JumpLTImm64",
	JumpLT64:     "JumpLT64",
	JumpLEImm64:  "JumpLEImm64",
	JumpLE64:     "JumpLE64",
	JumpEqImm32:  "JumpEqImm32",
	JumpEq32:     "JumpEq32",
	JumpGTImm32:  "JumpGTImm32",
	JumpGT32:     "JumpGT32",
	JumpGEImm32:  "JumpGEImm32",
	JumpGE32:     "JumpGE32",
	JumpNEImm32:  "JumpNEImm32",
	JumpNE32:     "JumpNE32",
	JumpLTImm32:  "JumpLTImm32",
	JumpLT32:     "JumpLT32",
	JumpLEImm32:  "JumpLEImm32",
	JumpLE32:     "JumpLE32",
	LoadImm64:    "LoadImm64",
	Load32:       "Load32",
	Load16:       "Load16",
	Load8:        "Load8",
	Load64:       "Load64",
	Store32:      "Store32",
	Store16:      "Store16",
	Store8:       "Store8",
	Store64:      "Store64",
	XAdd32:       "XAdd32",
	XAdd64:       "XAdd64",
}

func (op OpCode) String() string {
	if name, ok := opCodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(%#x)", uint8(op))
}

// Insn is one encoded instruction slot.  Labels and Comments are only
// populated when assembling in debug mode; they are ignored by the
// kernel-facing encoding.
type Insn struct {
	Instruction [InstructionSize]uint8 `json:"inst"`
	Labels      []string               `json:"labels,omitempty"`
	Comments    []string               `json:"comments,omitempty"`
}

// Insns is an ordered instruction sequence.
type Insns []Insn

// MakeInsn encodes one instruction slot from its logical fields.
func MakeInsn(op OpCode, dst, src Register, offset int16, imm int32) Insn {
	insn := Insn{
		Instruction: [InstructionSize]uint8{
			uint8(op),
			uint8(src&0xf)<<4 | uint8(dst&0xf),
		},
	}
	binary.LittleEndian.PutUint16(insn.Instruction[2:4], uint16(offset))
	binary.LittleEndian.PutUint32(insn.Instruction[4:8], uint32(imm))
	return insn
}

// OpCode returns the instruction's opcode byte.
func (n Insn) OpCode() OpCode {
	return OpCode(n.Instruction[0])
}

// Dst returns the destination register field.
func (n Insn) Dst() Register {
	return Register(n.Instruction[1] & 0xf)
}

// Src returns the source register field.
func (n Insn) Src() Register {
	return Register(n.Instruction[1] >> 4)
}

// Off returns the signed 16-bit offset field.
func (n Insn) Off() int16 {
	return int16(binary.LittleEndian.Uint16(n.Instruction[2:4]))
}

// Imm returns the signed 32-bit immediate field.
func (n Insn) Imm() int32 {
	return int32(binary.LittleEndian.Uint32(n.Instruction[4:8]))
}

func (n Insn) setOff(offset int16) Insn {
	binary.LittleEndian.PutUint16(n.Instruction[2:4], uint16(offset))
	return n
}

var noOpInsn = MakeInsn(Mov64, R0, R0, 0, 0)

// IsNoOp returns true if the instruction is the canonical no-op
// (Mov64 R0, R0).
func (n Insn) IsNoOp() bool {
	return n.Instruction == noOpInsn.Instruction
}

func (n Insn) String() string {
	op := n.OpCode()
	switch op {
	case Exit:
		return "Exit"
	case Call:
		return fmt.Sprintf("Call %v", Helper(n.Imm()))
	case JumpA:
		return fmt.Sprintf("JumpA off=%d", n.Off())
	}
	return fmt.Sprintf("%v dst=%v src=%v off=%d imm=%#x", op, n.Dst(), n.Src(), n.Off(), n.Imm())
}

// IsWideImmediate returns true for the first slot of a two-slot wide
// immediate load.
func (n Insn) IsWideImmediate() bool {
	return n.OpCode() == LoadImm64
}

// fallsThrough returns false for instructions after which execution
// never continues at the next instruction.
func (n Insn) fallsThrough() bool {
	switch n.OpCode() {
	case JumpA, Exit:
		return false
	}
	return true
}

// AsBytes flattens the sequence into the byte buffer the kernel expects.
func (ns Insns) AsBytes() []byte {
	out := make([]byte, 0, len(ns)*InstructionSize)
	for _, n := range ns {
		out = append(out, n.Instruction[:]...)
	}
	return out
}

// InsnsFromBytes is the inverse of AsBytes; it rejects buffers that are
// not a whole number of instruction slots.
func InsnsFromBytes(b []byte) (Insns, error) {
	if len(b) == 0 {
		return nil, errors.New("empty instruction stream")
	}
	if len(b)%InstructionSize != 0 {
		return nil, errors.Errorf("instruction stream has %d bytes, not a multiple of %d", len(b), InstructionSize)
	}
	insns := make(Insns, 0, len(b)/InstructionSize)
	for i := 0; i < len(b); i += InstructionSize {
		var insn Insn
		copy(insn.Instruction[:], b[i:i+InstructionSize])
		insns = append(insns, insn)
	}
	return insns, nil
}

// AssemblyError reports a problem with one instruction of a Block; Insn
// is the position of the offending instruction within the sequence.
type AssemblyError struct {
	Insn int
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Insn, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// TrampolineStrideDefault is the interval, in instruction slots, at
// which Assemble inserts jump trampolines.  It is kept well under
// MaxInt16 so a conditional jump anywhere in one interval can always
// reach the next trampoline.
const TrampolineStrideDefault = 25_000

// Block accumulates instructions for assembly.  The zero value is not
// usable; use NewBlock.  Blocks are not safe for concurrent use.
type Block struct {
	insns Insns

	labelsByInsn   map[int][]string
	commentsByInsn map[int][]string
	jumpTargets    map[int]string
	nextLabels     []string
	nextComments   []string

	errs []error

	trampolineStride int
	debug            bool
}

// NewBlock returns an empty Block.  With debug set, comments are
// recorded and the assembled instructions carry their labels and
// comments for dumping.
func NewBlock(debug bool) *Block {
	return &Block{
		labelsByInsn:     map[int][]string{},
		commentsByInsn:   map[int][]string{},
		jumpTargets:      map[int]string{},
		trampolineStride: TrampolineStrideDefault,
		debug:            debug,
	}
}

// ReserveInstructionCapacity pre-allocates space for n instructions.
func (b *Block) ReserveInstructionCapacity(n int) {
	if cap(b.insns) >= n {
		return
	}
	insns := make(Insns, len(b.insns), n)
	copy(insns, b.insns)
	b.insns = insns
}

// LabelNextInsn attaches a jump label to the next instruction added.
func (b *Block) LabelNextInsn(label string) {
	b.nextLabels = append(b.nextLabels, label)
}

// AddComment attaches a free-text comment to the next instruction added.
// Comments are only recorded in debug mode.
func (b *Block) AddComment(comment string) {
	if !b.debug {
		return
	}
	b.nextComments = append(b.nextComments, comment)
}

func (b *Block) add(n Insn) {
	idx := len(b.insns)
	if len(b.nextLabels) > 0 {
		b.labelsByInsn[idx] = b.nextLabels
		b.nextLabels = nil
	}
	if len(b.nextComments) > 0 {
		b.commentsByInsn[idx] = b.nextComments
		b.nextComments = nil
	}
	b.insns = append(b.insns, n)
}

func (b *Block) addWithTarget(n Insn, label string) {
	b.jumpTargets[len(b.insns)] = label
	b.add(n)
}

func (b *Block) recordErr(err error) {
	b.errs = append(b.errs, &AssemblyError{Insn: len(b.insns), Err: err})
}

// checkReg validates a register used as a source or memory base.
func (b *Block) checkReg(r Register) {
	if r > R10 {
		b.recordErr(errors.Errorf("invalid register %v", r))
	}
}

// checkDst validates a register that the instruction writes to; R10 is
// the read-only frame pointer.
func (b *Block) checkDst(r Register) {
	if r == R10 {
		b.recordErr(errors.New("R10 is read-only"))
		return
	}
	b.checkReg(r)
}

// NoOp adds the canonical no-op instruction, Mov64 R0, R0.
func (b *Block) NoOp() {
	b.Mov64(R0, R0)
}

// Mov64 adds dst = src.
func (b *Block) Mov64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Mov64, dst, src, 0, 0))
}

// Mov32 adds dst = src, zeroing the upper 32 bits of dst.
func (b *Block) Mov32(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Mov32, dst, src, 0, 0))
}

// MovImm64 adds dst = imm (sign extended to 64 bits).
func (b *Block) MovImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(MovImm64, dst, 0, 0, imm))
}

// MovImm32 adds dst = imm, zeroing the upper 32 bits of dst.
func (b *Block) MovImm32(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(MovImm32, dst, 0, 0, imm))
}

// Add64 adds dst += src.
func (b *Block) Add64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Add64, dst, src, 0, 0))
}

// AddImm64 adds dst += imm.
func (b *Block) AddImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(AddImm64, dst, 0, 0, imm))
}

// Sub64 adds dst -= src.
func (b *Block) Sub64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Sub64, dst, src, 0, 0))
}

// SubImm64 adds dst -= imm.
func (b *Block) SubImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(SubImm64, dst, 0, 0, imm))
}

// Mul64 adds dst *= src.
func (b *Block) Mul64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Mul64, dst, src, 0, 0))
}

// MulImm64 adds dst *= imm.
func (b *Block) MulImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(MulImm64, dst, 0, 0, imm))
}

// And64 adds dst &= src.
func (b *Block) And64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(And64, dst, src, 0, 0))
}

// AndImm64 adds dst &= imm.
func (b *Block) AndImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(AndImm64, dst, 0, 0, imm))
}

// AndImm32 adds dst &= imm on the low 32 bits, zeroing the upper 32.
func (b *Block) AndImm32(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(AndImm32, dst, 0, 0, imm))
}

// Or64 adds dst |= src.
func (b *Block) Or64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Or64, dst, src, 0, 0))
}

// OrImm64 adds dst |= imm.
func (b *Block) OrImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(OrImm64, dst, 0, 0, imm))
}

// Xor64 adds dst ^= src.
func (b *Block) Xor64(dst, src Register) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Xor64, dst, src, 0, 0))
}

// XorImm64 adds dst ^= imm.
func (b *Block) XorImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(XorImm64, dst, 0, 0, imm))
}

// ShiftLImm64 adds dst <<= imm.
func (b *Block) ShiftLImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(ShiftLImm64, dst, 0, 0, imm))
}

// ShiftRImm64 adds dst >>= imm (logical shift).
func (b *Block) ShiftRImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(ShiftRImm64, dst, 0, 0, imm))
}

// AShiftRImm64 adds dst >>= imm (arithmetic shift).
func (b *Block) AShiftRImm64(dst Register, imm int32) {
	b.checkDst(dst)
	b.add(MakeInsn(AShiftRImm64, dst, 0, 0, imm))
}

// endianWidth validates the operand width of a ToBE/ToLE conversion.
func (b *Block) endianWidth(bits int32) {
	switch bits {
	case 16, 32, 64:
	default:
		b.recordErr(errors.Errorf("invalid endian conversion width %d", bits))
	}
}

// ToBE converts the low bits of dst to big endian; bits must be 16, 32
// or 64.
func (b *Block) ToBE(dst Register, bits int32) {
	b.checkDst(dst)
	b.endianWidth(bits)
	b.add(MakeInsn(ToBE, dst, 0, 0, bits))
}

// ToLE converts the low bits of dst to little endian; bits must be 16,
// 32 or 64.
func (b *Block) ToLE(dst Register, bits int32) {
	b.checkDst(dst)
	b.endianWidth(bits)
	b.add(MakeInsn(ToLE, dst, 0, 0, bits))
}

// LoadImm64 adds dst = imm as a two-slot wide immediate load.
func (b *Block) LoadImm64(dst Register, imm int64) {
	b.checkDst(dst)
	b.add(MakeInsn(LoadImm64, dst, 0, 0, int32(imm)))
	b.add(MakeInsn(LoadImm64Pt2, 0, 0, 0, int32(imm>>32)))
}

// LoadMapFD adds a wide immediate load of a map file descriptor, marked
// so the kernel translates it to the map's address at load time.
func (b *Block) LoadMapFD(dst Register, fd uint32) {
	b.checkDst(dst)
	b.add(MakeInsn(LoadImm64, dst, RPseudoMapFD, 0, int32(fd)))
	b.add(MakeInsn(LoadImm64Pt2, 0, 0, 0, 0))
}

// Load8 adds dst = *(u8 *)(src + offset).
func (b *Block) Load8(dst, src Register, offset int16) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Load8, dst, src, offset, 0))
}

// Load16 adds dst = *(u16 *)(src + offset).
func (b *Block) Load16(dst, src Register, offset int16) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Load16, dst, src, offset, 0))
}

// Load32 adds dst = *(u32 *)(src + offset).
func (b *Block) Load32(dst, src Register, offset int16) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Load32, dst, src, offset, 0))
}

// Load64 adds dst = *(u64 *)(src + offset).
func (b *Block) Load64(dst, src Register, offset int16) {
	b.checkDst(dst)
	b.checkReg(src)
	b.add(MakeInsn(Load64, dst, src, offset, 0))
}

// LoadStack32 adds dst = *(u32 *)(R10 + offset).
func (b *Block) LoadStack32(dst Register, offset int16) {
	b.Load32(dst, R10, offset)
}

// LoadStack64 adds dst = *(u64 *)(R10 + offset).
func (b *Block) LoadStack64(dst Register, offset int16) {
	b.Load64(dst, R10, offset)
}

// Store8 adds *(u8 *)(dst + offset) = src.
func (b *Block) Store8(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(Store8, dst, src, offset, 0))
}

// Store16 adds *(u16 *)(dst + offset) = src.
func (b *Block) Store16(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(Store16, dst, src, offset, 0))
}

// Store32 adds *(u32 *)(dst + offset) = src.
func (b *Block) Store32(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(Store32, dst, src, offset, 0))
}

// Store64 adds *(u64 *)(dst + offset) = src.
func (b *Block) Store64(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(Store64, dst, src, offset, 0))
}

// StoreStack8 adds *(u8 *)(R10 + offset) = src.
func (b *Block) StoreStack8(src Register, offset int16) {
	b.Store8(R10, src, offset)
}

// StoreStack16 adds *(u16 *)(R10 + offset) = src.
func (b *Block) StoreStack16(src Register, offset int16) {
	b.Store16(R10, src, offset)
}

// StoreStack32 adds *(u32 *)(R10 + offset) = src.
func (b *Block) StoreStack32(src Register, offset int16) {
	b.Store32(R10, src, offset)
}

// StoreStack64 adds *(u64 *)(R10 + offset) = src.
func (b *Block) StoreStack64(src Register, offset int16) {
	b.Store64(R10, src, offset)
}

// XAdd32 adds an atomic *(u32 *)(dst + offset) += src.
func (b *Block) XAdd32(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(XAdd32, dst, src, offset, 0))
}

// XAdd64 adds an atomic *(u64 *)(dst + offset) += src.
func (b *Block) XAdd64(dst, src Register, offset int16) {
	b.checkReg(dst)
	b.checkReg(src)
	b.add(MakeInsn(XAdd64, dst, src, offset, 0))
}

// Call adds a call to the given kernel helper.  The helper reads its
// arguments from R1-R5 and leaves its result in R0.
func (b *Block) Call(helper Helper) {
	b.add(MakeInsn(Call, 0, 0, 0, int32(helper)))
}

// Exit adds the program exit instruction; R0 holds the program's return
// value.
func (b *Block) Exit() {
	b.add(MakeInsn(Exit, 0, 0, 0, 0))
}

// Jump adds an unconditional jump to the given label.
func (b *Block) Jump(label string) {
	b.addWithTarget(MakeInsn(JumpA, 0, 0, 0, 0), label)
}

// JumpEq64 jumps to label if ra == rb.
func (b *Block) JumpEq64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpEq64, ra, rb, 0, 0), label)
}

// JumpNE64 jumps to label if ra != rb.
func (b *Block) JumpNE64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpNE64, ra, rb, 0, 0), label)
}

// JumpGE64 jumps to label if ra >= rb (unsigned).
func (b *Block) JumpGE64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpGE64, ra, rb, 0, 0), label)
}

// JumpGT64 jumps to label if ra > rb (unsigned).
func (b *Block) JumpGT64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpGT64, ra, rb, 0, 0), label)
}

// JumpLE64 jumps to label if ra <= rb (unsigned).
func (b *Block) JumpLE64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpLE64, ra, rb, 0, 0), label)
}

// JumpLT64 jumps to label if ra < rb (unsigned).
func (b *Block) JumpLT64(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpLT64, ra, rb, 0, 0), label)
}

// JumpEq32 jumps to label if the low 32 bits of ra and rb are equal.
func (b *Block) JumpEq32(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpEq32, ra, rb, 0, 0), label)
}

// JumpNE32 jumps to label if the low 32 bits of ra and rb differ.
func (b *Block) JumpNE32(ra, rb Register, label string) {
	b.checkReg(ra)
	b.checkReg(rb)
	b.addWithTarget(MakeInsn(JumpNE32, ra, rb, 0, 0), label)
}

// JumpEqImm64 jumps to label if ra == imm.
func (b *Block) JumpEqImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpEqImm64, ra, 0, 0, imm), label)
}

// JumpNEImm64 jumps to label if ra != imm.
func (b *Block) JumpNEImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpNEImm64, ra, 0, 0, imm), label)
}

// JumpGEImm64 jumps to label if ra >= imm (unsigned).
func (b *Block) JumpGEImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpGEImm64, ra, 0, 0, imm), label)
}

// JumpGTImm64 jumps to label if ra > imm (unsigned).
func (b *Block) JumpGTImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpGTImm64, ra, 0, 0, imm), label)
}

// JumpLEImm64 jumps to label if ra <= imm (unsigned).
func (b *Block) JumpLEImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpLEImm64, ra, 0, 0, imm), label)
}

// JumpLTImm64 jumps to label if ra < imm (unsigned).
func (b *Block) JumpLTImm64(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpLTImm64, ra, 0, 0, imm), label)
}

// JumpEqImm32 jumps to label if the low 32 bits of ra equal imm.
func (b *Block) JumpEqImm32(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpEqImm32, ra, 0, 0, imm), label)
}

// JumpNEImm32 jumps to label if the low 32 bits of ra differ from imm.
func (b *Block) JumpNEImm32(ra Register, imm int32, label string) {
	b.checkReg(ra)
	b.addWithTarget(MakeInsn(JumpNEImm32, ra, 0, 0, imm), label)
}

// Assemble resolves labels, skips unreachable instructions, inserts
// jump trampolines where needed and returns the final sequence.  The
// Block is left unchanged and may be extended and assembled again.
func (b *Block) Assemble() (Insns, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	out := make(Insns, 0, len(b.insns))
	labelAddr := map[string]int{}
	// pending maps each unresolved label to the addresses of emitted
	// jumps that need patching once the label is bound.
	pending := map[string][]int{}
	// jumpTargetsSeen tracks labels referenced by emitted jumps; an
	// unreachable instruction carrying such a label is live after all.
	jumpTargetsSeen := map[string]bool{}
	reachable := true
	nextTrampoline := b.trampolineStride

	for idx := 0; idx < len(b.insns); idx++ {
		insn := b.insns[idx]
		labels := b.labelsByInsn[idx]

		if !reachable {
			for _, l := range labels {
				if jumpTargetsSeen[l] {
					reachable = true
					break
				}
			}
			if !reachable {
				if insn.IsWideImmediate() {
					idx++ // skip the second slot too
				}
				continue
			}
		}

		for _, l := range labels {
			if _, ok := labelAddr[l]; ok {
				return nil, &AssemblyError{Insn: idx, Err: errors.Errorf("duplicate label %q", l)}
			}
			labelAddr[l] = len(out)
			for _, origin := range pending[l] {
				var err error
				out[origin], err = patchJump(out[origin], origin, len(out))
				if err != nil {
					return nil, &AssemblyError{Insn: origin, Err: err}
				}
			}
			delete(pending, l)
		}

		if len(out) >= nextTrampoline && len(pending) > 0 {
			out = emitTrampoline(out, pending)
			for nextTrampoline <= len(out) {
				nextTrampoline += b.trampolineStride
			}
		}

		addr := len(out)
		if label, ok := b.jumpTargets[idx]; ok {
			jumpTargetsSeen[label] = true
			if target, bound := labelAddr[label]; bound {
				offset := target - addr - 1
				if offset == -1 {
					return nil, &AssemblyError{Insn: idx, Err: errors.Errorf("jump to self via label %q", label)}
				}
				if offset < math.MinInt16 {
					return nil, &AssemblyError{Insn: idx,
						Err: errors.Errorf("backwards jump to label %q out of range: %d", label, offset)}
				}
				insn = insn.setOff(int16(offset))
			} else {
				pending[label] = append(pending[label], addr)
			}
		}
		out = append(out, insn)
		if b.debug {
			if comments := b.commentsByInsn[idx]; len(comments) > 0 {
				out[addr].Comments = comments
			}
		}
		if insn.IsWideImmediate() {
			idx++
			if idx >= len(b.insns) {
				return nil, &AssemblyError{Insn: idx - 1, Err: errors.New("wide immediate load missing its second slot")}
			}
			out = append(out, b.insns[idx])
		}

		reachable = insn.fallsThrough()
	}

	if len(pending) > 0 {
		labels := make([]string, 0, len(pending))
		for l := range pending {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		return nil, &AssemblyError{Insn: pending[labels[0]][0],
			Err: errors.Errorf("jump to undefined label %q", labels[0])}
	}

	if b.debug {
		annotateLabels(out, labelAddr)
	}
	return out, nil
}

// patchJump rewrites the offset of the jump at origin to target the
// given address.
func patchJump(insn Insn, origin, target int) (Insn, error) {
	offset := target - origin - 1
	if offset > math.MaxInt16 {
		return insn, errors.Errorf("forward jump out of range: %d", offset)
	}
	return insn.setOff(int16(offset)), nil
}

// emitTrampoline appends a jump trampoline: an unconditional jump over
// one jump slot per unresolved label (sorted for determinism).  Jumps
// already emitted are re-pointed at their label's slot and the slot
// becomes the label's sole pending jump.
func emitTrampoline(out Insns, pending map[string][]int) Insns {
	labels := make([]string, 0, len(pending))
	for l := range pending {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out = append(out, MakeInsn(JumpA, 0, 0, int16(len(labels)), 0))
	for _, l := range labels {
		slot := len(out)
		for _, origin := range pending[l] {
			// Distances within and between trampoline intervals are
			// bounded well below MaxInt16, so this patch cannot fail.
			out[origin], _ = patchJump(out[origin], origin, slot)
		}
		pending[l] = []int{slot}
		out = append(out, MakeInsn(JumpA, 0, 0, 0, 0))
	}
	return out
}

// annotateLabels copies bound labels onto the assembled instructions
// for debug dumps.
func annotateLabels(out Insns, labelAddr map[string]int) {
	for label, addr := range labelAddr {
		if addr < len(out) {
			out[addr].Labels = append(out[addr].Labels, label)
		}
	}
	for addr := range out {
		sort.Strings(out[addr].Labels)
	}
}
