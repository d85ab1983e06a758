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

// Package prog loads assembled eBPF programs into the kernel and runs them
// under BPF_PROG_TEST_RUN.  A loaded program owns its FD and releases it
// exactly once, mirroring the maps package.
package prog

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/asm"
)

// Type identifies a kernel program type (BPF_PROG_TYPE_*).
type Type uint32

const (
	TypeUnspec        Type = unix.BPF_PROG_TYPE_UNSPEC
	TypeSocketFilter  Type = unix.BPF_PROG_TYPE_SOCKET_FILTER
	TypeKprobe        Type = unix.BPF_PROG_TYPE_KPROBE
	TypeSchedCls      Type = unix.BPF_PROG_TYPE_SCHED_CLS
	TypeSchedAct      Type = unix.BPF_PROG_TYPE_SCHED_ACT
	TypeTracepoint    Type = unix.BPF_PROG_TYPE_TRACEPOINT
	TypeXDP           Type = unix.BPF_PROG_TYPE_XDP
	TypePerfEvent     Type = unix.BPF_PROG_TYPE_PERF_EVENT
	TypeRawTracepoint Type = unix.BPF_PROG_TYPE_RAW_TRACEPOINT
)

var typeNames = map[Type]string{
	TypeUnspec:        "unspec",
	TypeSocketFilter:  "socket_filter",
	TypeKprobe:        "kprobe",
	TypeSchedCls:      "sched_cls",
	TypeSchedAct:      "sched_act",
	TypeTracepoint:    "tracepoint",
	TypeXDP:           "xdp",
	TypePerfEvent:     "perf_event",
	TypeRawTracepoint: "raw_tracepoint",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type#%d", uint32(t))
}

// ParseType maps a type name such as "xdp" back to its Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnspec, errors.Errorf("unknown program type %q", name)
}

// Program is a loaded eBPF program.  The FD is released exactly once by
// Close; a second Close and any TestRun after Close fail with
// ebpf.ErrClosed.
type Program struct {
	name   string
	typ    Type
	fd     ebpf.ProgFD
	closed atomic.Bool
}

// Load assembles nothing itself: it takes the output of asm.Block.Assemble
// and hands it to the kernel.  Verifier rejections come back as a
// *ebpf.VerifierError carrying the diagnostic log.
func Load(insns asm.Insns, name, license string, typ Type) (*Program, error) {
	if len(insns) == 0 {
		return nil, &ebpf.ValidationError{Op: "prog_load", Detail: "no instructions"}
	}
	if _, ok := typeNames[typ]; !ok {
		return nil, &ebpf.ValidationError{Op: "prog_load",
			Detail: fmt.Sprintf("unknown program type %d", uint32(typ))}
	}
	if len(name) >= unix.BPF_OBJ_NAME_LEN {
		return nil, &ebpf.ValidationError{Op: "prog_load",
			Detail: fmt.Sprintf("program name %q too long, max %d bytes", name, unix.BPF_OBJ_NAME_LEN-1)}
	}

	fd, err := ebpf.LoadBPFProgram(uint32(typ), insns.AsBytes(), name, license)
	if err != nil {
		return nil, errors.Wrapf(err, "loading program %s", name)
	}
	log.WithFields(log.Fields{
		"name":  name,
		"type":  typ,
		"insns": len(insns),
		"fd":    fd,
	}).Debug("Loaded BPF program")
	return &Program{name: name, typ: typ, fd: fd}, nil
}

func (p *Program) Name() string {
	return p.name
}

func (p *Program) Type() Type {
	return p.typ
}

// FD returns the program's file descriptor; only meaningful while the
// program is open.
func (p *Program) FD() ebpf.ProgFD {
	return p.fd
}

// TestResult is the outcome of one TestRun.
type TestResult struct {
	ReturnCode int32
	// Duration is the average time one repetition took inside the kernel.
	Duration time.Duration
	// DataOut is the packet/context data as the program left it.
	DataOut []byte
}

// TestRun executes the program against dataIn without attaching it
// anywhere, repeating it repeat times (0 means once) and averaging the
// duration.  Program types that the kernel cannot test-run surface a
// SyscallError classified ClassNotSupported.
func (p *Program) TestRun(dataIn []byte, repeat int) (TestResult, error) {
	if p.closed.Load() {
		return TestResult{}, ebpf.ErrClosed
	}
	if repeat < 0 {
		return TestResult{}, &ebpf.ValidationError{Op: "prog_test_run", Detail: "repeat must be >= 0"}
	}
	res, err := ebpf.RunBPFProgram(p.fd, dataIn, repeat)
	if err != nil {
		return TestResult{}, err
	}
	return TestResult{
		ReturnCode: res.RC,
		Duration:   res.Duration,
		DataOut:    res.DataOut,
	}, nil
}

// Close releases the program's FD.  Only the first call releases; later
// calls report ebpf.ErrClosed.
func (p *Program) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ebpf.ErrClosed
	}
	log.WithField("name", p.name).Debug("Closing BPF program")
	return p.fd.Close()
}
