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

package ebpf

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when an operation is attempted on a map or program
// whose descriptor has already been released, including a second release of
// the same descriptor.
var ErrClosed = errors.New("use of closed descriptor")

// ENOTSUPP is a kernel-internal errno that leaks out of the bpf() syscall on
// older kernels for unsupported map types and commands.  It has no symbolic
// name in the libc headers.
const ENOTSUPP = unix.Errno(524)

// ValidationError reports a request that was rejected before any kernel
// interaction took place: a bad operand, a size mismatch, an out-of-range
// field.  It always indicates a defect in the calling code and is never
// worth retrying.
type ValidationError struct {
	Op     string
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Detail
}

// Class is a coarse classification of the errno carried by a SyscallError,
// for callers that want to branch on the failure mode without matching raw
// errno values.
type Class int

const (
	ClassOther Class = iota
	// ClassPermission covers EPERM/EACCES; typically missing CAP_BPF or
	// CAP_SYS_ADMIN, or an RLIMIT_MEMLOCK that is too low on older kernels.
	ClassPermission
	// ClassNotFound covers ENOENT: no such key, no such object ID.
	ClassNotFound
	// ClassExists covers EEXIST, e.g. an update with BPF_NOEXIST for a key
	// that is already present.
	ClassExists
	// ClassTooBig covers E2BIG: a full (non-evicting) map on update, or too
	// many entries/instructions on create/load.
	ClassTooBig
	// ClassNoMemory covers ENOMEM.
	ClassNoMemory
	// ClassInvalid covers EINVAL: a malformed attribute the validation layer
	// did not catch, or a flags combination the map type rejects.
	ClassInvalid
	// ClassNotSupported covers ENOTSUPP/EOPNOTSUPP/ENOSYS: the running
	// kernel does not support the requested command or map type.
	ClassNotSupported
	// ClassTransient covers EAGAIN/EINTR/EBUSY; the caller may retry.
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassPermission:
		return "permission"
	case ClassNotFound:
		return "not-found"
	case ClassExists:
		return "exists"
	case ClassTooBig:
		return "too-big"
	case ClassNoMemory:
		return "no-memory"
	case ClassInvalid:
		return "invalid"
	case ClassNotSupported:
		return "not-supported"
	case ClassTransient:
		return "transient"
	}
	return "other"
}

// SyscallError is a failure reported by the kernel for a bpf(2) command.  It
// carries the raw errno plus an optional detail string for conditions where
// the command gives the errno a more specific meaning (for example E2BIG on
// map updates means the map is full).
type SyscallError struct {
	Op     string
	Errno  unix.Errno
	Detail string
}

func (e *SyscallError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("bpf(%s): %v (%s)", e.Op, e.Errno, e.Detail)
	}
	return fmt.Sprintf("bpf(%s): %v", e.Op, e.Errno)
}

func (e *SyscallError) Unwrap() error {
	return e.Errno
}

// Class classifies the carried errno.
func (e *SyscallError) Class() Class {
	switch e.Errno {
	case unix.EPERM, unix.EACCES:
		return ClassPermission
	case unix.ENOENT:
		return ClassNotFound
	case unix.EEXIST:
		return ClassExists
	case unix.E2BIG:
		return ClassTooBig
	case unix.ENOMEM:
		return ClassNoMemory
	case unix.EINVAL:
		return ClassInvalid
	case ENOTSUPP, unix.EOPNOTSUPP, unix.ENOSYS:
		return ClassNotSupported
	case unix.EAGAIN, unix.EINTR, unix.EBUSY:
		return ClassTransient
	}
	return ClassOther
}

// VerifierError is the SyscallError specialization for program loads that
// the kernel verifier rejected.  Log holds the verifier's diagnostic output;
// it is not included in Error() because it routinely runs to thousands of
// lines.
type VerifierError struct {
	Errno unix.Errno
	Log   string
}

func (e *VerifierError) Error() string {
	return fmt.Sprintf("program rejected by verifier: %v", e.Errno)
}

func (e *VerifierError) Unwrap() error {
	return &SyscallError{Op: "prog_load", Errno: e.Errno}
}

// IsNotExists reports whether err is a kernel not-found condition (ENOENT),
// such as a map lookup miss or a delete of an absent key.
func IsNotExists(err error) bool {
	var sc *SyscallError
	if errors.As(err, &sc) {
		return sc.Errno == unix.ENOENT
	}
	return errors.Is(err, unix.ENOENT)
}
