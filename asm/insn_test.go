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

package asm

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
)

func TestInsnFieldRoundTrip(t *testing.T) {
	RegisterTestingT(t)

	for _, tc := range []struct {
		op     OpCode
		dst    Register
		src    Register
		offset int16
		imm    int32
	}{
		{Mov64, R6, R1, 0, 0},
		{MovImm64, R1, 0, 0, 0x1eadbeef},
		{AddImm64, R2, 0, 0, -28},
		{Store32, R10, R1, -28, 0},
		{Load64, R2, R1, 112, 0},
		{JumpLE64, R1, R2, 2, 0},
		{JumpEqImm64, R0, 0, -7, -1},
		{Call, 0, 0, 0, int32(HelperRedirectMap)},
		{XAdd64, R1, R2, 16, 0},
		{ToBE, R3, 0, 0, 16},
		{Exit, 0, 0, 0, 0},
	} {
		insn := MakeInsn(tc.op, tc.dst, tc.src, tc.offset, tc.imm)
		Expect(insn.OpCode()).To(Equal(tc.op), "opcode of %v", insn)
		Expect(insn.Dst()).To(Equal(tc.dst), "dst of %v", insn)
		Expect(insn.Src()).To(Equal(tc.src), "src of %v", insn)
		Expect(insn.Off()).To(Equal(tc.offset), "offset of %v", insn)
		Expect(insn.Imm()).To(Equal(tc.imm), "imm of %v", insn)
	}
}

func TestInsnEncodingsDistinct(t *testing.T) {
	RegisterTestingT(t)

	seen := map[[insnSize]uint8]string{}
	for _, insn := range []Insn{
		MakeInsn(Mov64, R1, R2, 0, 0),
		MakeInsn(Mov64, R2, R1, 0, 0),
		MakeInsn(Mov32, R1, R2, 0, 0),
		MakeInsn(MovImm64, R1, 0, 0, 1),
		MakeInsn(MovImm64, R1, 0, 0, 2),
		MakeInsn(Load32, R1, R2, 4, 0),
		MakeInsn(Load32, R1, R2, 8, 0),
		MakeInsn(Store32, R1, R2, 4, 0),
		MakeInsn(JumpEq64, R1, R2, 1, 0),
		MakeInsn(JumpEq32, R1, R2, 1, 0),
	} {
		str := insn.String()
		prev, dup := seen[insn.Instruction]
		Expect(dup).To(BeFalse(), "%s collides with %s", str, prev)
		seen[insn.Instruction] = str
	}
}

func buildSample() *Block {
	b := NewBlock(false)
	b.Mov64(R6, R1)
	b.LoadMapFD(R1, 42)
	b.MovImm64(R2, 0)
	b.StoreStack32(R2, -8)
	b.Mov64(R2, R10)
	b.AddImm64(R2, -8)
	b.Call(HelperMapLookupElem)
	b.JumpEqImm64(R0, 0, "miss")
	b.Load64(R3, R0, 0)
	b.LabelNextInsn("miss")
	b.MovImm64(R0, 0)
	b.Exit()
	return b
}

func TestAssembleDeterministic(t *testing.T) {
	RegisterTestingT(t)

	first, err := buildSample().Assemble()
	Expect(err).NotTo(HaveOccurred())
	second, err := buildSample().Assemble()
	Expect(err).NotTo(HaveOccurred())
	Expect(second.AsBytes()).To(Equal(first.AsBytes()))

	// Re-assembling the same block must also be stable.
	b := buildSample()
	first, err = b.Assemble()
	Expect(err).NotTo(HaveOccurred())
	second, err = b.Assemble()
	Expect(err).NotTo(HaveOccurred())
	Expect(second).To(Equal(first))
}

func TestAssembledSize(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.Mov64(R6, R1)        // ordinary
	b.LoadImm64(R1, 1<<40) // wide
	b.LoadMapFD(R2, 13)    // wide
	b.AddImm64(R1, 1)      // ordinary
	b.MovImm64(R0, 0)      // ordinary
	b.Exit()               // ordinary
	insns, err := b.Assemble()
	Expect(err).NotTo(HaveOccurred())

	const ordinary, wide = 4, 2
	Expect(insns).To(HaveLen(ordinary + 2*wide))
	Expect(insns.AsBytes()).To(HaveLen(8*ordinary + 16*wide))
}

func TestWideImmediateEncoding(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.LoadImm64(R3, 0x1122334455667788)
	b.LoadMapFD(R1, 9)
	Expect(b.insns).To(HaveLen(4))

	Expect(b.insns[0].OpCode()).To(Equal(LoadImm64))
	Expect(b.insns[0].Imm()).To(Equal(int32(0x55667788)))
	Expect(b.insns[1].OpCode()).To(Equal(LoadImm64Pt2))
	Expect(b.insns[1].Imm()).To(Equal(int32(0x11223344)))

	Expect(b.insns[2].Src()).To(Equal(RPseudoMapFD))
	Expect(b.insns[2].Imm()).To(Equal(int32(9)))
	Expect(b.insns[3].Instruction).To(Equal([insnSize]uint8{}))
}

func TestWriteToR10Rejected(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.Mov64(R6, R1)
	b.Mov64(R10, R1)
	b.Exit()
	_, err := b.Assemble()
	Expect(err).To(HaveOccurred())

	var asmErr *AssemblyError
	Expect(errors.As(err, &asmErr)).To(BeTrue())
	Expect(asmErr.Insn).To(Equal(1))
}

func TestInvalidRegisterRejected(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.Mov64(R1, 11)
	_, err := b.Assemble()
	Expect(err).To(HaveOccurred())

	b = NewBlock(false)
	b.ToBE(R1, 24)
	_, err = b.Assemble()
	Expect(err).To(HaveOccurred())
}

func TestUndefinedLabel(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.JumpEqImm64(R0, 0, "nowhere")
	b.Exit()
	_, err := b.Assemble()
	Expect(err).To(HaveOccurred())
	Expect(err.Error()).To(ContainSubstring("nowhere"))
}

func TestDuplicateLabel(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(false)
	b.Jump("end")
	b.LabelNextInsn("end")
	b.NoOp()
	b.LabelNextInsn("end")
	b.Exit()
	_, err := b.Assemble()
	Expect(err).To(HaveOccurred())
}

func TestDebugAnnotations(t *testing.T) {
	RegisterTestingT(t)

	b := NewBlock(true)
	b.AddComment("save context")
	b.Mov64(R6, R1)
	b.JumpEqImm64(R0, 0, "out")
	b.LabelNextInsn("out")
	b.MovImm64(R0, 0)
	b.Exit()

	insns, err := b.Assemble()
	Expect(err).NotTo(HaveOccurred())
	Expect(insns[0].Comments).To(Equal([]string{"save context"}))
	Expect(insns[2].Labels).To(Equal([]string{"out"}))

	// Without debug the assembled output carries no annotations.
	b = NewBlock(false)
	b.AddComment("save context")
	b.Mov64(R6, R1)
	b.LabelNextInsn("out")
	b.Exit()
	insns, err = b.Assemble()
	Expect(err).NotTo(HaveOccurred())
	for _, insn := range insns {
		Expect(insn.Comments).To(BeEmpty())
		Expect(insn.Labels).To(BeEmpty())
	}
}
