// Copyright (c) 2019-2025 Tigera, Inc. All rights reserved.
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

// Package maps manages kernel eBPF maps: creation from validated
// parameters, byte-level update/get/delete, iteration via the kernel's
// get-next-key primitive, and a typed wrapper layer that converts keys and
// values to and from their serialised forms.  A map descriptor is released
// exactly once; operations on a released descriptor fail with
// ebpf.ErrClosed.
package maps

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
)

// Type identifies a kernel map type (BPF_MAP_TYPE_*).
type Type uint32

const (
	TypeUnspec         Type = unix.BPF_MAP_TYPE_UNSPEC
	TypeHash           Type = unix.BPF_MAP_TYPE_HASH
	TypeArray          Type = unix.BPF_MAP_TYPE_ARRAY
	TypeProgArray      Type = unix.BPF_MAP_TYPE_PROG_ARRAY
	TypePerfEventArray Type = unix.BPF_MAP_TYPE_PERF_EVENT_ARRAY
	TypePerCPUHash     Type = unix.BPF_MAP_TYPE_PERCPU_HASH
	TypePerCPUArray    Type = unix.BPF_MAP_TYPE_PERCPU_ARRAY
	TypeLRUHash        Type = unix.BPF_MAP_TYPE_LRU_HASH
	TypeLRUPerCPUHash  Type = unix.BPF_MAP_TYPE_LRU_PERCPU_HASH
	TypeLPMTrie        Type = unix.BPF_MAP_TYPE_LPM_TRIE
	TypeDevMap         Type = unix.BPF_MAP_TYPE_DEVMAP
	TypeDevMapHash     Type = unix.BPF_MAP_TYPE_DEVMAP_HASH
	TypeCPUMap         Type = unix.BPF_MAP_TYPE_CPUMAP
	TypeXSKMap         Type = unix.BPF_MAP_TYPE_XSKMAP
	TypeRingBuf        Type = unix.BPF_MAP_TYPE_RINGBUF
)

var typeNames = map[Type]string{
	TypeUnspec:         "unspec",
	TypeHash:           "hash",
	TypeArray:          "array",
	TypeProgArray:      "prog_array",
	TypePerfEventArray: "perf_event_array",
	TypePerCPUHash:     "percpu_hash",
	TypePerCPUArray:    "percpu_array",
	TypeLRUHash:        "lru_hash",
	TypeLRUPerCPUHash:  "lru_percpu_hash",
	TypeLPMTrie:        "lpm_trie",
	TypeDevMap:         "devmap",
	TypeDevMapHash:     "devmap_hash",
	TypeCPUMap:         "cpumap",
	TypeXSKMap:         "xskmap",
	TypeRingBuf:        "ringbuf",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type#%d", uint32(t))
}

// ParseType maps a type name such as "percpu_hash" back to its Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnspec, errors.Errorf("unknown map type %q", name)
}

// IsPerCPU reports whether values of this map type are stored per possible
// CPU, making the userspace-visible value size the declared value size
// multiplied by the number of possible CPUs.
func (t Type) IsPerCPU() bool {
	switch t {
	case TypePerCPUHash, TypePerCPUArray, TypeLRUPerCPUHash:
		return true
	}
	return false
}

// isArrayKeyed reports whether the kernel requires this map type to be
// keyed by a dense 4-byte index.
func (t Type) isArrayKeyed() bool {
	switch t {
	case TypeArray, TypePerCPUArray, TypeProgArray, TypePerfEventArray,
		TypeDevMap, TypeCPUMap, TypeXSKMap:
		return true
	}
	return false
}

// MapParameters describes a map to be created.
type MapParameters struct {
	Type       Type
	KeySize    int
	ValueSize  int
	MaxEntries int
	Flags      uint32
	Name       string
}

// Validate rejects combinations that the kernel would refuse anyway, before
// any syscall is made.
func (p MapParameters) Validate() error {
	if _, ok := typeNames[p.Type]; !ok {
		return &ebpf.ValidationError{Op: "map_create", Detail: fmt.Sprintf("unknown map type %d", uint32(p.Type))}
	}
	if p.KeySize <= 0 {
		return &ebpf.ValidationError{Op: "map_create", Detail: "key size must be >0"}
	}
	if p.ValueSize <= 0 {
		return &ebpf.ValidationError{Op: "map_create", Detail: "value size must be >0"}
	}
	if p.MaxEntries <= 0 {
		return &ebpf.ValidationError{Op: "map_create", Detail: "max entries must be >0"}
	}
	if p.Type.isArrayKeyed() && p.KeySize != 4 {
		return &ebpf.ValidationError{Op: "map_create",
			Detail: fmt.Sprintf("%v maps require a 4-byte index key, not %d bytes", p.Type, p.KeySize)}
	}
	if len(p.Name) >= unix.BPF_OBJ_NAME_LEN {
		return &ebpf.ValidationError{Op: "map_create",
			Detail: fmt.Sprintf("map name %q too long, max %d bytes", p.Name, unix.BPF_OBJ_NAME_LEN-1)}
	}
	return nil
}

// IteratorAction is returned by the callback passed to Map.Iter to tell the
// iterator what to do with the entry it just saw.
type IteratorAction string

const (
	IterNone   IteratorAction = ""
	IterDelete IteratorAction = "delete"
)

// IterCallback is called for each entry of the map; k and v are only valid
// during the call, take a copy to retain them.
type IterCallback func(k, v []byte) IteratorAction

// AsBytes is the serialisation half of a map key or value codec.
type AsBytes interface {
	AsBytes() []byte
}

type Key interface {
	comparable
	AsBytes
}

type Value interface {
	comparable
	AsBytes
}

// Map is the generic interface of a key/value eBPF map at the byte level.
// PlainMap backs it with a kernel map; mock.Map backs it with an in-memory
// store for unprivileged tests.
type Map interface {
	GetName() string
	Params() MapParameters
	// MapFD returns the file descriptor of the map; only meaningful while
	// the map is open.
	MapFD() ebpf.MapFD

	Update(k, v []byte) error
	UpdateWithFlags(k, v []byte, flags int) error
	// Get returns the value stored under k.  A miss is reported as an error
	// carrying ENOENT; test with ebpf.IsNotExists.
	Get(k []byte) ([]byte, error)
	// Delete removes k, surfacing the kernel's ENOENT unchanged if the key
	// was absent.
	Delete(k []byte) error
	DeleteIfExists(k []byte) error
	Iter(IterCallback) error
	// Size returns the maximum number of entries the map can hold.
	Size() int
	Close() error
}

// PlainMap is a Map backed by a kernel map FD that it owns.  The FD is
// released exactly once by Close; a second Close and any operation after
// Close fail with ebpf.ErrClosed without touching the kernel.
type PlainMap struct {
	params MapParameters
	fd     ebpf.MapFD
	perCPU bool
	closed atomic.Bool
}

var _ Map = (*PlainMap)(nil)

// Create makes a new kernel map from the given parameters.
func Create(params MapParameters) (*PlainMap, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	fd, err := ebpf.CreateMap(uint32(params.Type), uint32(params.KeySize), uint32(params.ValueSize),
		uint32(params.MaxEntries), params.Flags, params.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "creating map %s", params.Name)
	}
	log.WithFields(log.Fields{
		"name": params.Name,
		"type": params.Type,
		"fd":   fd,
	}).Debug("Created BPF map")
	return &PlainMap{
		params: params,
		fd:     fd,
		perCPU: params.Type.IsPerCPU(),
	}, nil
}

// WithMap creates a map, hands it to fn and releases it when fn returns,
// whether or not fn fails.
func WithMap(params MapParameters, fn func(m Map) error) (err error) {
	m, err := Create(params)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := m.Close()
		if err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// OpenByID opens an existing map by its kernel-wide ID, recovering its
// parameters from the kernel.  The returned map owns the new FD.
func OpenByID(id int) (*PlainMap, error) {
	fd, err := ebpf.GetMapFDByID(id)
	if err != nil {
		return nil, errors.Wrapf(err, "opening map ID %d", id)
	}
	info, err := ebpf.GetMapInfo(fd)
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "reading info for map ID %d", id)
	}
	params := MapParameters{
		Type:       Type(info.Type),
		KeySize:    info.KeySize,
		ValueSize:  info.ValueSize,
		MaxEntries: info.MaxEntries,
		Flags:      uint32(info.Flags),
		Name:       info.Name,
	}
	log.WithFields(log.Fields{
		"id":   id,
		"name": params.Name,
		"type": params.Type,
	}).Debug("Opened BPF map by ID")
	return &PlainMap{
		params: params,
		fd:     fd,
		perCPU: params.Type.IsPerCPU(),
	}, nil
}

func (b *PlainMap) GetName() string {
	return b.params.Name
}

func (b *PlainMap) Params() MapParameters {
	return b.params
}

func (b *PlainMap) MapFD() ebpf.MapFD {
	return b.fd
}

func (b *PlainMap) Size() int {
	return b.params.MaxEntries
}

// valueLen is the length of a value as seen from userspace; for per-CPU
// maps that is the declared value size for every possible CPU.
func (b *PlainMap) valueLen() int {
	if b.perCPU {
		return b.params.ValueSize * ebpf.NumPossibleCPUs()
	}
	return b.params.ValueSize
}

func (b *PlainMap) checkKey(op string, k []byte) error {
	if len(k) != b.params.KeySize {
		return &ebpf.ValidationError{Op: op,
			Detail: fmt.Sprintf("key has length %d, expected %d", len(k), b.params.KeySize)}
	}
	return nil
}

func (b *PlainMap) Update(k, v []byte) error {
	return b.UpdateWithFlags(k, v, unix.BPF_ANY)
}

func (b *PlainMap) UpdateWithFlags(k, v []byte, flags int) error {
	if b.closed.Load() {
		return ebpf.ErrClosed
	}
	if err := b.checkKey("map_update_elem", k); err != nil {
		return err
	}
	if b.perCPU {
		// Per-CPU maps need a buffer of value size * num CPUs.
		if len(v) < b.valueLen() {
			return &ebpf.ValidationError{Op: "map_update_elem",
				Detail: "not enough data for per-cpu map entry"}
		}
	} else if len(v) != b.params.ValueSize {
		return &ebpf.ValidationError{Op: "map_update_elem",
			Detail: fmt.Sprintf("value has length %d, expected %d", len(v), b.params.ValueSize)}
	}
	return ebpf.UpdateMapEntryWithFlags(b.fd, k, v, flags)
}

func (b *PlainMap) Get(k []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, ebpf.ErrClosed
	}
	if err := b.checkKey("map_lookup_elem", k); err != nil {
		return nil, err
	}
	return ebpf.GetMapEntry(b.fd, k, b.valueLen())
}

func (b *PlainMap) Delete(k []byte) error {
	if b.closed.Load() {
		return ebpf.ErrClosed
	}
	if err := b.checkKey("map_delete_elem", k); err != nil {
		return err
	}
	return ebpf.DeleteMapEntry(b.fd, k)
}

func (b *PlainMap) DeleteIfExists(k []byte) error {
	if b.closed.Load() {
		return ebpf.ErrClosed
	}
	if err := b.checkKey("map_delete_elem", k); err != nil {
		return err
	}
	return ebpf.DeleteMapEntryIfExists(b.fd, k)
}

// Iter visits every entry of the map.  The callback may return IterDelete
// to remove the entry it was shown; the iterator fetches the next key
// before doing the deletion so the iteration position is not lost.
func (b *PlainMap) Iter(f IterCallback) error {
	if b.closed.Load() {
		return ebpf.ErrClosed
	}
	it, err := NewIterator(b.fd, b.params.KeySize, b.valueLen(), b.params.MaxEntries)
	if err != nil {
		return errors.Wrap(err, "failed to create BPF map iterator")
	}

	keyToDelete := make([]byte, b.params.KeySize)
	var action IteratorAction
	for {
		k, v, err := it.Next()

		if action == IterDelete {
			// The previous iteration asked us to delete its key; do that
			// now before we check for the end of the iteration.
			if err := ebpf.DeleteMapEntryIfExists(b.fd, keyToDelete); err != nil {
				return errors.Wrap(err, "failed to delete map entry")
			}
		}

		if err != nil {
			if errors.Is(err, ErrIterationFinished) {
				return nil
			}
			return errors.Wrap(err, "iterating the map failed")
		}

		action = f(k, v)

		if action == IterDelete {
			// k will become invalid once we call Next again, take a copy.
			copy(keyToDelete, k)
		}
	}
}

// Close releases the map's FD.  Only the first call releases; later calls
// report ebpf.ErrClosed.
func (b *PlainMap) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ebpf.ErrClosed
	}
	log.WithField("name", b.params.Name).Debug("Closing BPF map")
	return b.fd.Close()
}
