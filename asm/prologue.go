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
	"github.com/pkg/errors"

	"github.com/probeforge/ebpf/arch"
)

// ErrReservedRegister is returned when a composite builder is asked to
// write to R10 (the frame pointer) or R1 (which holds the program
// context that the builder is still reading from).
var ErrReservedRegister = errors.New("destination register is reserved")

// Offsets of the packet pointers within struct xdp_md; both fields are
// 32-bit.
const (
	xdpMDData    = 0
	xdpMDDataEnd = 4
)

// checkProbeDst rejects destinations a prologue builder must not write:
// the builders read the context out of R1, and R10 is never writable.
func checkProbeDst(r Register) error {
	switch {
	case r == R1 || r == R10:
		return errors.Wrapf(ErrReservedRegister, "%v", r)
	case r > R10:
		return errors.Errorf("invalid register %v", r)
	}
	return nil
}

// LoadKprobeArgs emits a kprobe prologue loading the probed function's
// arguments 0..len(dsts)-1 into the given registers.  R1 must still
// hold the register-save structure the kernel passed in.  On error
// (reserved destination, or more arguments than the architecture
// exposes) nothing is emitted.
func (b *Block) LoadKprobeArgs(a *arch.Arch, dsts []Register) error {
	offsets, err := kprobeArgOffsets(a, dsts)
	if err != nil {
		return err
	}
	for i, dst := range dsts {
		b.Load64(dst, R1, offsets[i])
	}
	return nil
}

// LoadKprobeArgsAndContext is LoadKprobeArgs but first saves the
// register-save structure pointer from R1 into ctxDst, then loads the
// arguments relative to ctxDst.  Useful when the program needs the raw
// context later (e.g. to read further registers) but must free up R1
// for helper calls.
func (b *Block) LoadKprobeArgsAndContext(a *arch.Arch, ctxDst Register, dsts []Register) error {
	if err := checkProbeDst(ctxDst); err != nil {
		return err
	}
	for _, dst := range dsts {
		if dst == ctxDst {
			return errors.Errorf("argument destination %v would clobber the saved context", dst)
		}
	}
	offsets, err := kprobeArgOffsets(a, dsts)
	if err != nil {
		return err
	}
	b.Mov64(ctxDst, R1)
	for i, dst := range dsts {
		b.Load64(dst, ctxDst, offsets[i])
	}
	return nil
}

// LoadKprobeReturn emits a kretprobe prologue loading the probed
// function's return value into dst.  R1 must still hold the
// register-save structure.
func (b *Block) LoadKprobeReturn(a *arch.Arch, dst Register) error {
	if err := checkProbeDst(dst); err != nil {
		return err
	}
	b.Load64(dst, R1, a.RetOffset())
	return nil
}

// kprobeArgOffsets validates the destinations and resolves all argument
// offsets up front so a failure emits no partial prologue.
func kprobeArgOffsets(a *arch.Arch, dsts []Register) ([]int16, error) {
	offsets := make([]int16, len(dsts))
	for i, dst := range dsts {
		if err := checkProbeDst(dst); err != nil {
			return nil, err
		}
		offset, err := a.ArgOffset(i)
		if err != nil {
			return nil, err
		}
		offsets[i] = offset
	}
	return offsets, nil
}

// LoadXDPPointers emits an XDP prologue loading the packet start and
// end pointers from the xdp_md context in R1.
func (b *Block) LoadXDPPointers(data, dataEnd Register) error {
	if err := checkProbeDst(data); err != nil {
		return err
	}
	if err := checkProbeDst(dataEnd); err != nil {
		return err
	}
	if data == dataEnd {
		return errors.Errorf("data and data_end destinations are both %v", data)
	}
	b.Load32(data, R1, xdpMDData)
	b.Load32(dataEnd, R1, xdpMDDataEnd)
	return nil
}

// Redirect emits a bpf_redirect call sending the packet out of the
// given interface.  The helper's return lands in R0.
func (b *Block) Redirect(ifindex, flags int32) {
	b.MovImm64(R1, ifindex)
	b.MovImm64(R2, flags)
	b.Call(HelperRedirect)
}

// RedirectViaMap emits a bpf_redirect_map call routing the packet via
// the entry at key in the given DEVMAP/CPUMAP/XSKMAP.
func (b *Block) RedirectViaMap(fd uint32, key, flags int32) {
	b.LoadMapFD(R1, fd)
	b.MovImm64(R2, key)
	b.MovImm64(R3, flags)
	b.Call(HelperRedirectMap)
}
