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
	"golang.org/x/sys/unix"
)

// MapFD is a file descriptor for a kernel eBPF map.  Ownership and
// exactly-once release semantics live in the maps package; MapFD itself is
// the raw handle.
type MapFD uint32

// ProgFD is a file descriptor for a loaded eBPF program.
type ProgFD uint32

// Close releases the underlying kernel descriptor.
func (fd MapFD) Close() error {
	return unix.Close(int(fd))
}

// Close releases the underlying kernel descriptor.
func (fd ProgFD) Close() error {
	return unix.Close(int(fd))
}
