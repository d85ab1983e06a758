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

package maps_test

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/maps"
	"github.com/probeforge/ebpf/mock"
)

var lifecycleParams = maps.MapParameters{
	Type:       maps.TypeHash,
	KeySize:    4,
	ValueSize:  4,
	MaxEntries: 10,
	Name:       "test_lifecycle",
}

func TestMapParametersValidate(t *testing.T) {
	RegisterTestingT(t)

	Expect(lifecycleParams.Validate()).To(Succeed())

	for _, tc := range []struct {
		name   string
		params maps.MapParameters
	}{
		{"unknown type", maps.MapParameters{Type: maps.Type(999), KeySize: 4, ValueSize: 4, MaxEntries: 1}},
		{"zero key size", maps.MapParameters{Type: maps.TypeHash, ValueSize: 4, MaxEntries: 1}},
		{"zero value size", maps.MapParameters{Type: maps.TypeHash, KeySize: 4, MaxEntries: 1}},
		{"zero max entries", maps.MapParameters{Type: maps.TypeHash, KeySize: 4, ValueSize: 4}},
		{"array with non-index key", maps.MapParameters{Type: maps.TypeArray, KeySize: 8, ValueSize: 4, MaxEntries: 1}},
		{"cpumap with non-index key", maps.MapParameters{Type: maps.TypeCPUMap, KeySize: 2, ValueSize: 8, MaxEntries: 1}},
		{"name too long", maps.MapParameters{Type: maps.TypeHash, KeySize: 4, ValueSize: 4, MaxEntries: 1,
			Name: "abcdefghijklmnop" /* 16 bytes */}},
	} {
		err := tc.params.Validate()
		Expect(err).To(HaveOccurred(), tc.name)
		var ve *ebpf.ValidationError
		Expect(errors.As(err, &ve)).To(BeTrue(), tc.name)
	}

	// 15 bytes is the longest name the kernel accepts.
	ok := lifecycleParams
	ok.Name = "abcdefghijklmno"
	Expect(ok.Validate()).To(Succeed())
}

func TestCreateValidatesBeforeSyscall(t *testing.T) {
	RegisterTestingT(t)

	// No privileges needed: validation fails before any bpf() call.
	_, err := maps.Create(maps.MapParameters{Type: maps.TypeHash})
	var ve *ebpf.ValidationError
	Expect(errors.As(err, &ve)).To(BeTrue())

	_, err = maps.NewIterator(0, 0, 4, 10)
	Expect(errors.As(err, &ve)).To(BeTrue())
}

func TestTypeNames(t *testing.T) {
	RegisterTestingT(t)

	Expect(maps.TypeHash.String()).To(Equal("hash"))
	Expect(maps.TypeLRUPerCPUHash.String()).To(Equal("lru_percpu_hash"))
	Expect(maps.Type(99).String()).To(Equal("type#99"))

	parsed, err := maps.ParseType("devmap_hash")
	Expect(err).NotTo(HaveOccurred())
	Expect(parsed).To(Equal(maps.TypeDevMapHash))

	_, err = maps.ParseType("no-such-type")
	Expect(err).To(HaveOccurred())
}

func TestTypeIsPerCPU(t *testing.T) {
	RegisterTestingT(t)

	Expect(maps.TypePerCPUHash.IsPerCPU()).To(BeTrue())
	Expect(maps.TypePerCPUArray.IsPerCPU()).To(BeTrue())
	Expect(maps.TypeLRUPerCPUHash.IsPerCPU()).To(BeTrue())
	Expect(maps.TypeHash.IsPerCPU()).To(BeFalse())
	Expect(maps.TypeLRUHash.IsPerCPU()).To(BeFalse())
}

// TestTypedMapLifecycle runs the canonical create/update/lookup/delete
// sequence against the in-memory map; the same sequence runs against a real
// kernel map in TestPlainMapKernelLifecycle.
func TestTypedMapLifecycle(t *testing.T) {
	RegisterTestingT(t)

	mockMap := mock.NewMockMap(lifecycleParams)
	tm := maps.NewTypedMap(mockMap, maps.U32FromBytes, maps.U32FromBytes)

	Expect(tm.Update(1, 100)).To(Succeed())
	Expect(tm.Update(2, 200)).To(Succeed())
	Expect(tm.Update(3, 300)).To(Succeed())

	v, found, err := tm.Lookup(2)
	Expect(err).NotTo(HaveOccurred())
	Expect(found).To(BeTrue())
	Expect(v).To(Equal(maps.U32(200)))

	Expect(tm.Delete(2)).To(Succeed())

	_, found, err = tm.Lookup(2)
	Expect(err).NotTo(HaveOccurred(), "lookup of an absent key should not be an error")
	Expect(found).To(BeFalse())

	contents, err := tm.Load()
	Expect(err).NotTo(HaveOccurred())
	Expect(contents).To(Equal(map[maps.U32]maps.U32{1: 100, 3: 300}))
}

func TestTypedMapDeleteAbsent(t *testing.T) {
	RegisterTestingT(t)

	mockMap := mock.NewMockMap(lifecycleParams)
	tm := maps.NewTypedMap(mockMap, maps.U32FromBytes, maps.U32FromBytes)

	err := tm.Delete(42)
	Expect(err).To(HaveOccurred(), "delete of an absent key surfaces the kernel's error")
	Expect(ebpf.IsNotExists(err)).To(BeTrue())

	Expect(tm.DeleteIfExists(42)).To(Succeed())
}

func TestTypedMapEntriesDelete(t *testing.T) {
	RegisterTestingT(t)

	mockMap := mock.NewMockMap(lifecycleParams)
	tm := maps.NewTypedMap(mockMap, maps.U32FromBytes, maps.U32FromBytes)

	Expect(tm.Update(1, 100)).To(Succeed())
	Expect(tm.Update(2, 200)).To(Succeed())

	err := tm.Entries(func(k, v maps.U32) maps.IteratorAction {
		Expect(v).To(Equal(k * 100))
		if k == 1 {
			return maps.IterDelete
		}
		return maps.IterNone
	})
	Expect(err).NotTo(HaveOccurred())

	Expect(mockMap.ContainsKey(maps.U32(1).AsBytes())).To(BeFalse())
	Expect(mockMap.ContainsKey(maps.U32(2).AsBytes())).To(BeTrue())
}

func TestTypedMapUpdateFlags(t *testing.T) {
	RegisterTestingT(t)

	mockMap := mock.NewMockMap(lifecycleParams)
	tm := maps.NewTypedMap(mockMap, maps.U32FromBytes, maps.U32FromBytes)

	Expect(tm.UpdateWithFlags(1, 100, unix.BPF_NOEXIST)).To(Succeed())
	err := tm.UpdateWithFlags(1, 101, unix.BPF_NOEXIST)
	Expect(errors.Is(err, unix.EEXIST)).To(BeTrue())

	Expect(tm.UpdateWithFlags(1, 102, unix.BPF_EXIST)).To(Succeed())
	err = tm.UpdateWithFlags(2, 200, unix.BPF_EXIST)
	Expect(ebpf.IsNotExists(err)).To(BeTrue())
}

// TestMapReleaseExactlyOnce checks the descriptor lifecycle rules on the
// mock map; the kernel-backed equivalent is in TestPlainMapKernelLifecycle.
func TestMapReleaseExactlyOnce(t *testing.T) {
	RegisterTestingT(t)

	m := mock.NewMockMap(lifecycleParams)
	k := maps.U32(1).AsBytes()
	v := maps.U32(100).AsBytes()
	Expect(m.Update(k, v)).To(Succeed())

	Expect(m.Close()).To(Succeed())
	Expect(m.Close()).To(MatchError(ebpf.ErrClosed))

	Expect(m.Update(k, v)).To(MatchError(ebpf.ErrClosed))
	_, err := m.Get(k)
	Expect(err).To(MatchError(ebpf.ErrClosed))
	Expect(m.Delete(k)).To(MatchError(ebpf.ErrClosed))
	Expect(m.Iter(func(k, v []byte) maps.IteratorAction { return maps.IterNone })).To(MatchError(ebpf.ErrClosed))
}

func TestU32U64Codecs(t *testing.T) {
	RegisterTestingT(t)

	Expect(maps.U32(0x01020304).AsBytes()).To(Equal([]byte{4, 3, 2, 1}))
	Expect(maps.U32FromBytes([]byte{4, 3, 2, 1})).To(Equal(maps.U32(0x01020304)))

	Expect(maps.U64(0x0102030405060708).AsBytes()).To(Equal([]byte{8, 7, 6, 5, 4, 3, 2, 1}))
	Expect(maps.U64FromBytes([]byte{8, 7, 6, 5, 4, 3, 2, 1})).To(Equal(maps.U64(0x0102030405060708)))
}

func TestCPUMapValueContract(t *testing.T) {
	RegisterTestingT(t)

	v := maps.CPUMapValue{QueueSize: 192, ProgFD: 17}
	b := v.AsBytes()
	Expect(b).To(HaveLen(maps.CPUMapValueSize))
	Expect(b).To(Equal([]byte{192, 0, 0, 0, 17, 0, 0, 0}))
	Expect(maps.CPUMapValueFromBytes(b)).To(Equal(v))
	Expect(v.String()).To(Equal("qsize=192 prog=17"))

	noProg := maps.CPUMapValue{QueueSize: 64}
	Expect(noProg.AsBytes()).To(Equal([]byte{64, 0, 0, 0, 0, 0, 0, 0}))
	Expect(noProg.String()).To(Equal("qsize=64"))
}

func TestDevMapValueContract(t *testing.T) {
	RegisterTestingT(t)

	v := maps.DevMapValue{IfIndex: 2, ProgFD: 9}
	b := v.AsBytes()
	Expect(b).To(HaveLen(maps.DevMapValueSize))
	Expect(b).To(Equal([]byte{2, 0, 0, 0, 9, 0, 0, 0}))
	Expect(maps.DevMapValueFromBytes(b)).To(Equal(v))
	Expect(v.String()).To(Equal("ifindex=2 prog=9"))
	Expect(maps.DevMapValue{IfIndex: 3}.String()).To(Equal("ifindex=3"))
}
