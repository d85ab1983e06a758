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

package ebpf_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
)

func TestSyscallErrorClass(t *testing.T) {
	RegisterTestingT(t)

	for _, tc := range []struct {
		errno unix.Errno
		class ebpf.Class
	}{
		{unix.EPERM, ebpf.ClassPermission},
		{unix.EACCES, ebpf.ClassPermission},
		{unix.ENOENT, ebpf.ClassNotFound},
		{unix.EEXIST, ebpf.ClassExists},
		{unix.E2BIG, ebpf.ClassTooBig},
		{unix.ENOMEM, ebpf.ClassNoMemory},
		{unix.EINVAL, ebpf.ClassInvalid},
		{ebpf.ENOTSUPP, ebpf.ClassNotSupported},
		{unix.EOPNOTSUPP, ebpf.ClassNotSupported},
		{unix.ENOSYS, ebpf.ClassNotSupported},
		{unix.EAGAIN, ebpf.ClassTransient},
		{unix.EINTR, ebpf.ClassTransient},
		{unix.EBUSY, ebpf.ClassTransient},
		{unix.EIO, ebpf.ClassOther},
	} {
		err := &ebpf.SyscallError{Op: "map_update_elem", Errno: tc.errno}
		Expect(err.Class()).To(Equal(tc.class), "errno %d", tc.errno)
	}
}

func TestClassString(t *testing.T) {
	RegisterTestingT(t)

	Expect(ebpf.ClassNotFound.String()).To(Equal("not-found"))
	Expect(ebpf.ClassNotSupported.String()).To(Equal("not-supported"))
	Expect(ebpf.Class(42).String()).To(Equal("other"))
}

func TestSyscallErrorMessage(t *testing.T) {
	RegisterTestingT(t)

	err := &ebpf.SyscallError{Op: "map_create", Errno: unix.EPERM}
	Expect(err.Error()).To(Equal("bpf(map_create): operation not permitted"))

	err = &ebpf.SyscallError{Op: "map_update_elem", Errno: unix.E2BIG, Detail: "map is full"}
	Expect(err.Error()).To(Equal("bpf(map_update_elem): argument list too long (map is full)"))
}

func TestSyscallErrorUnwrap(t *testing.T) {
	RegisterTestingT(t)

	base := &ebpf.SyscallError{Op: "map_lookup_elem", Errno: unix.ENOENT}
	wrapped := fmt.Errorf("getting map entry: %w", base)

	Expect(errors.Is(wrapped, unix.ENOENT)).To(BeTrue())

	var sc *ebpf.SyscallError
	Expect(errors.As(wrapped, &sc)).To(BeTrue())
	Expect(sc.Op).To(Equal("map_lookup_elem"))
	Expect(sc.Class()).To(Equal(ebpf.ClassNotFound))
}

func TestIsNotExists(t *testing.T) {
	RegisterTestingT(t)

	Expect(ebpf.IsNotExists(nil)).To(BeFalse())
	Expect(ebpf.IsNotExists(&ebpf.SyscallError{Op: "map_delete_elem", Errno: unix.ENOENT})).To(BeTrue())
	Expect(ebpf.IsNotExists(fmt.Errorf("deleting entry: %w",
		&ebpf.SyscallError{Op: "map_delete_elem", Errno: unix.ENOENT}))).To(BeTrue())
	// The mock map reports misses with the raw errno.
	Expect(ebpf.IsNotExists(unix.ENOENT)).To(BeTrue())
	Expect(ebpf.IsNotExists(&ebpf.SyscallError{Op: "map_create", Errno: unix.EPERM})).To(BeFalse())
	Expect(ebpf.IsNotExists(ebpf.ErrClosed)).To(BeFalse())
}

func TestVerifierError(t *testing.T) {
	RegisterTestingT(t)

	verr := &ebpf.VerifierError{Errno: unix.EACCES, Log: "R1 invalid mem access 'inv'"}

	// The log can run to thousands of lines; it stays out of the message.
	Expect(verr.Error()).NotTo(ContainSubstring("R1"))

	// It still unwraps to, and classifies as, the prog_load failure it is.
	var sc *ebpf.SyscallError
	Expect(errors.As(verr, &sc)).To(BeTrue())
	Expect(sc.Op).To(Equal("prog_load"))
	Expect(sc.Class()).To(Equal(ebpf.ClassPermission))
}

func TestValidationErrorMessage(t *testing.T) {
	RegisterTestingT(t)

	err := &ebpf.ValidationError{Op: "map_create", Detail: "key size must be >0"}
	Expect(err.Error()).To(Equal("map_create: key size must be >0"))
}

func TestErrClosedSurvivesWrapping(t *testing.T) {
	RegisterTestingT(t)

	wrapped := fmt.Errorf("closing map: %w", ebpf.ErrClosed)
	Expect(errors.Is(wrapped, ebpf.ErrClosed)).To(BeTrue())
}
