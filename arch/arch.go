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

// Package arch maps logical function-argument positions onto the byte
// offsets of each CPU architecture's register-save structure, the struct a
// kprobe'd eBPF program receives as its context.  The tables follow the
// kernel's pt_regs/user_pt_regs layouts and libbpf's PT_REGS_PARM
// conventions; they are static data, resolved once at process start.
package arch

import (
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrOutOfRange is returned when an argument index is not available on the
// requested architecture.
var ErrOutOfRange = errors.New("argument index out of range")

// Arch describes one supported CPU architecture.  Values are immutable;
// they are safe for unsynchronized concurrent use.
type Arch struct {
	name   string
	goArch string

	argOffsets []int16
	argNames   []string
	retOffset  int16
	retName    string
	spOffset   int16
	spName     string
	fpOffset   int16
	fpName     string
	hasFP      bool
}

// Name returns the kernel name of the architecture, e.g. "x86_64".
func (a *Arch) Name() string {
	return a.name
}

// GOARCH returns the Go toolchain name of the architecture, e.g. "amd64".
func (a *Arch) GOARCH() string {
	return a.goArch
}

func (a *Arch) String() string {
	return a.name
}

// NumArgs returns how many function arguments the architecture passes in
// registers saved in the register-save structure.
func (a *Arch) NumArgs() int {
	return len(a.argOffsets)
}

// ArgOffset returns the byte offset of logical argument i (0-based) within
// the register-save structure, or ErrOutOfRange if the architecture does
// not expose argument i.
func (a *Arch) ArgOffset(i int) (int16, error) {
	if i < 0 || i >= len(a.argOffsets) {
		return 0, errors.Wrapf(ErrOutOfRange, "%s exposes %d arguments, requested index %d",
			a.name, len(a.argOffsets), i)
	}
	return a.argOffsets[i], nil
}

// ArgName returns the conventional name of the register holding logical
// argument i, or "" if out of range.
func (a *Arch) ArgName(i int) string {
	if i < 0 || i >= len(a.argNames) {
		return ""
	}
	return a.argNames[i]
}

// RetOffset returns the byte offset of the return-value register within the
// register-save structure (what a kretprobe reads).
func (a *Arch) RetOffset() int16 {
	return a.retOffset
}

// RetName returns the conventional name of the return-value register.
func (a *Arch) RetName() string {
	return a.retName
}

// SPOffset returns the byte offset of the saved stack pointer.
func (a *Arch) SPOffset() int16 {
	return a.spOffset
}

// SPName returns the conventional name of the stack-pointer register.
func (a *Arch) SPName() string {
	return a.spName
}

// FPOffset returns the byte offset of the saved frame pointer.  The second
// return is false on architectures whose BPF calling convention does not
// expose one (ppc64le).
func (a *Arch) FPOffset() (int16, bool) {
	return a.fpOffset, a.hasFP
}

// FPName returns the conventional name of the frame-pointer register, or
// "" when the architecture does not expose one.
func (a *Arch) FPName() string {
	return a.fpName
}

var (
	// x8664 reflects arch/x86 struct pt_regs.  The struct stores registers
	// in push order (r15 first), so the argument registers sit towards the
	// end.
	x8664 = &Arch{
		name:   "x86_64",
		goArch: "amd64",
		argOffsets: []int16{
			112, // rdi
			104, // rsi
			96,  // rdx
			88,  // rcx
			72,  // r8
			64,  // r9
		},
		argNames:  []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"},
		retOffset: 80, // rax
		retName:   "rax",
		spOffset:  152, // rsp
		spName:    "rsp",
		fpOffset:  32, // rbp
		fpName:    "rbp",
		hasFP:     true,
	}

	// arm64 reflects arch/arm64 struct user_pt_regs: regs[31], then sp, pc
	// and pstate.  Arguments are x0-x7 at the very start.
	arm64 = &Arch{
		name:   "arm64",
		goArch: "arm64",
		argOffsets: []int16{
			0,  // x0
			8,  // x1
			16, // x2
			24, // x3
			32, // x4
			40, // x5
			48, // x6
			56, // x7
		},
		argNames:  []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"},
		retOffset: 0, // x0
		retName:   "x0",
		spOffset:  248,
		spName:    "sp",
		fpOffset:  232, // x29
		fpName:    "x29",
		hasFP:     true,
	}

	// s390x reflects arch/s390 user_pt_regs: args[1], the 16-byte PSW, then
	// gprs[16] starting at offset 24.  Arguments are r2-r6; only five are
	// passed in registers.
	s390x = &Arch{
		name:   "s390x",
		goArch: "s390x",
		argOffsets: []int16{
			40, // gprs[2]
			48, // gprs[3]
			56, // gprs[4]
			64, // gprs[5]
			72, // gprs[6]
		},
		argNames:  []string{"r2", "r3", "r4", "r5", "r6"},
		retOffset: 40, // gprs[2]
		retName:   "r2",
		spOffset:  144, // gprs[15]
		spName:    "r15",
		fpOffset:  112, // gprs[11]
		fpName:    "r11",
		hasFP:     true,
	}

	// ppc64le reflects arch/powerpc struct user_pt_regs: gpr[32] first.
	// Arguments are gpr3-gpr10.  The ABI reserves no frame-pointer slot
	// that BPF can rely on, so none is exposed.
	ppc64le = &Arch{
		name:   "ppc64le",
		goArch: "ppc64le",
		argOffsets: []int16{
			24, // gpr[3]
			32, // gpr[4]
			40, // gpr[5]
			48, // gpr[6]
			56, // gpr[7]
			64, // gpr[8]
			72, // gpr[9]
			80, // gpr[10]
		},
		argNames:  []string{"r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"},
		retOffset: 24, // gpr[3]
		retName:   "r3",
		spOffset:  8, // gpr[1]
		spName:    "r1",
		hasFP:     false,
	}

	// riscv64 reflects arch/riscv struct user_regs_struct: pc first, then
	// ra, sp, gp, tp, t0-t2, s0, s1 and the argument registers a0-a7.
	riscv64 = &Arch{
		name:   "riscv64",
		goArch: "riscv64",
		argOffsets: []int16{
			80,  // a0
			88,  // a1
			96,  // a2
			104, // a3
			112, // a4
			120, // a5
			128, // a6
			136, // a7
		},
		argNames:  []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"},
		retOffset: 80, // a0
		retName:   "a0",
		spOffset:  16,
		spName:    "sp",
		fpOffset:  64, // s0
		fpName:    "s0",
		hasFP:     true,
	}

	all = []*Arch{x8664, arm64, s390x, ppc64le, riscv64}

	byName   = map[string]*Arch{}
	byGoArch = map[string]*Arch{}

	current *Arch
)

func init() {
	for _, a := range all {
		byName[a.name] = a
		byGoArch[a.goArch] = a
	}
	current = byGoArch[runtime.GOARCH]
}

// Current returns the architecture this process is running on.  It panics
// if the process architecture is not one the toolkit supports; nothing
// useful can be assembled on such a platform.
func Current() *Arch {
	if current == nil {
		log.WithField("goarch", runtime.GOARCH).Panic("Unsupported architecture")
	}
	return current
}

// Supported reports whether the process architecture is in the registry,
// for callers that want to probe instead of panicking.
func Supported() bool {
	return current != nil
}

// ByName looks up an architecture by its kernel name ("x86_64", "arm64",
// "s390x", "ppc64le", "riscv64").
func ByName(name string) (*Arch, bool) {
	a, ok := byName[name]
	return a, ok
}

// All returns the supported architectures in a stable order.
func All() []*Arch {
	out := make([]*Arch, len(all))
	copy(out, all)
	return out
}
