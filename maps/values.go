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

package maps

import (
	"encoding/binary"
	"fmt"
)

// U32 is a 4-byte little-endian key or value, the shape of array-family
// map indexes.
type U32 uint32

func (x U32) AsBytes() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(x))
	return b
}

func U32FromBytes(b []byte) U32 {
	return U32(binary.LittleEndian.Uint32(b))
}

// U64 is an 8-byte little-endian key or value.
type U64 uint64

func (x U64) AsBytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(x))
	return b
}

func U64FromBytes(b []byte) U64 {
	return U64(binary.LittleEndian.Uint64(b))
}

const (
	CPUMapValueSize = 8
	DevMapValueSize = 8
)

// CPUMapValue is the value format of a cpumap entry, mirroring the
// kernel's struct bpf_cpumap_val: the size of the per-CPU queue packets
// are bounced through, and optionally the FD of an XDP program to run on
// them once they arrive on the target CPU.  ProgFD zero means no program.
type CPUMapValue struct {
	QueueSize uint32
	ProgFD    uint32
}

func (v CPUMapValue) AsBytes() []byte {
	b := make([]byte, CPUMapValueSize)
	binary.LittleEndian.PutUint32(b[0:4], v.QueueSize)
	binary.LittleEndian.PutUint32(b[4:8], v.ProgFD)
	return b
}

func CPUMapValueFromBytes(b []byte) CPUMapValue {
	return CPUMapValue{
		QueueSize: binary.LittleEndian.Uint32(b[0:4]),
		ProgFD:    binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (v CPUMapValue) String() string {
	if v.ProgFD == 0 {
		return fmt.Sprintf("qsize=%d", v.QueueSize)
	}
	return fmt.Sprintf("qsize=%d prog=%d", v.QueueSize, v.ProgFD)
}

// DevMapValue is the value format of devmap and devmap_hash entries,
// mirroring the kernel's struct bpf_devmap_val: the target interface index
// and optionally the FD of an XDP program to run on the packet as it
// egresses.  ProgFD zero means no program.
type DevMapValue struct {
	IfIndex uint32
	ProgFD  uint32
}

func (v DevMapValue) AsBytes() []byte {
	b := make([]byte, DevMapValueSize)
	binary.LittleEndian.PutUint32(b[0:4], v.IfIndex)
	binary.LittleEndian.PutUint32(b[4:8], v.ProgFD)
	return b
}

func DevMapValueFromBytes(b []byte) DevMapValue {
	return DevMapValue{
		IfIndex: binary.LittleEndian.Uint32(b[0:4]),
		ProgFD:  binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (v DevMapValue) String() string {
	if v.ProgFD == 0 {
		return fmt.Sprintf("ifindex=%d", v.IfIndex)
	}
	return fmt.Sprintf("ifindex=%d prog=%d", v.IfIndex, v.ProgFD)
}
