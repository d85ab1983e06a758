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
	"runtime"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// The structs below mirror the corresponding members of union bpf_attr.  The
// kernel only requires the attribute size passed to bpf(2) to cover the
// fields the command actually reads, so each struct stops at the last field
// we use.  Fields that hold userspace pointers are uint64 regardless of
// platform, matching __aligned_u64 in the kernel header.

type mapCreateAttr struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
	innerMapFD uint32
	numaNode   uint32
	mapName    [unix.BPF_OBJ_NAME_LEN]byte
}

type mapElemAttr struct {
	mapFD uint32
	_     uint32 // padding; key is __aligned_u64
	key   uint64
	value uint64 // also next_key for BPF_MAP_GET_NEXT_KEY
	flags uint64
}

type progLoadAttr struct {
	progType    uint32
	insnCnt     uint32
	insns       uint64
	license     uint64
	logLevel    uint32
	logSize     uint32
	logBuf      uint64
	kernVersion uint32
	progFlags   uint32
	progName    [unix.BPF_OBJ_NAME_LEN]byte
}

type progTestRunAttr struct {
	progFD      uint32
	retval      uint32
	dataSizeIn  uint32
	dataSizeOut uint32
	dataIn      uint64
	dataOut     uint64
	repeat      uint32
	duration    uint32
}

type getFDByIDAttr struct {
	id        uint32
	nextID    uint32
	openFlags uint32
}

type objGetInfoByFDAttr struct {
	bpfFD   uint32
	infoLen uint32
	info    uint64
}

// mapInfo is the prefix of struct bpf_map_info that every kernel with
// BPF_OBJ_GET_INFO_BY_FD fills in.
type mapInfo struct {
	mapType    uint32
	id         uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
	name       [unix.BPF_OBJ_NAME_LEN]byte
}

func bpfCall(op string, cmd int, attr unsafe.Pointer, size uintptr) (uintptr, error) {
	r1, _, errno := unix.Syscall(unix.SYS_BPF, uintptr(cmd), uintptr(attr), size)
	if errno != 0 {
		return r1, &SyscallError{Op: op, Errno: errno}
	}
	return r1, nil
}

func ptrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// CreateMap issues BPF_MAP_CREATE.  The name is truncated to the 15 bytes
// the kernel accepts (BPF_OBJ_NAME_LEN minus the terminator).
func CreateMap(mapType, keySize, valueSize, maxEntries, flags uint32, name string) (MapFD, error) {
	log.WithFields(log.Fields{
		"type":       mapType,
		"keySize":    keySize,
		"valueSize":  valueSize,
		"maxEntries": maxEntries,
		"name":       name,
	}).Debug("CreateMap")

	attr := mapCreateAttr{
		mapType:    mapType,
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: maxEntries,
		mapFlags:   flags,
	}
	copy(attr.mapName[:unix.BPF_OBJ_NAME_LEN-1], name)

	fd, err := bpfCall("map_create", unix.BPF_MAP_CREATE, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return 0, err
	}
	return MapFD(fd), nil
}

// UpdateMapEntry writes v under k, creating or replacing the entry.
func UpdateMapEntry(mapFD MapFD, k, v []byte) error {
	return UpdateMapEntryWithFlags(mapFD, k, v, unix.BPF_ANY)
}

// UpdateMapEntryWithFlags writes v under k subject to flags (unix.BPF_ANY,
// unix.BPF_NOEXIST or unix.BPF_EXIST).
func UpdateMapEntryWithFlags(mapFD MapFD, k, v []byte, flags int) error {
	log.Debugf("UpdateMapEntry(%v, %v, %v)", mapFD, k, v)

	if err := checkMapIfDebug(mapFD, len(k), len(v)); err != nil {
		return err
	}

	attr := mapElemAttr{
		mapFD: uint32(mapFD),
		key:   ptrOf(k),
		value: ptrOf(v),
		flags: uint64(flags),
	}
	_, err := bpfCall("map_update_elem", unix.BPF_MAP_UPDATE_ELEM, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(k)
	runtime.KeepAlive(v)
	if sc, ok := err.(*SyscallError); ok && sc.Errno == unix.E2BIG {
		sc.Detail = "map is full"
	}
	return err
}

// GetMapEntry looks up k and returns the value, which has the given size.
// A miss surfaces as a SyscallError carrying ENOENT; callers should test
// with IsNotExists rather than matching message text.
func GetMapEntry(mapFD MapFD, k []byte, valueSize int) ([]byte, error) {
	log.Debugf("GetMapEntry(%v, %v, %v)", mapFD, k, valueSize)

	if err := checkMapIfDebug(mapFD, len(k), valueSize); err != nil {
		return nil, err
	}

	val := make([]byte, valueSize)
	attr := mapElemAttr{
		mapFD: uint32(mapFD),
		key:   ptrOf(k),
		value: ptrOf(val),
	}
	_, err := bpfCall("map_lookup_elem", unix.BPF_MAP_LOOKUP_ELEM, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(k)
	runtime.KeepAlive(val)
	if err != nil {
		return nil, err
	}
	return val, nil
}

// DeleteMapEntry removes k.  Deleting an absent key surfaces the kernel's
// ENOENT unchanged (wrapped as a SyscallError).
func DeleteMapEntry(mapFD MapFD, k []byte) error {
	log.Debugf("DeleteMapEntry(%v, %v)", mapFD, k)

	if err := checkMapIfDebug(mapFD, len(k), -1); err != nil {
		return err
	}

	attr := mapElemAttr{
		mapFD: uint32(mapFD),
		key:   ptrOf(k),
	}
	_, err := bpfCall("map_delete_elem", unix.BPF_MAP_DELETE_ELEM, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(k)
	return err
}

// DeleteMapEntryIfExists removes k, treating an already-absent key as
// success.
func DeleteMapEntryIfExists(mapFD MapFD, k []byte) error {
	err := DeleteMapEntry(mapFD, k)
	if IsNotExists(err) {
		// Delete failed because entry did not exist.
		err = nil
	}
	return err
}

// GetMapNextKey returns the key that follows k in the kernel's iteration
// order.  A nil k asks for the first key.  The end of the map surfaces as a
// SyscallError carrying ENOENT.
func GetMapNextKey(mapFD MapFD, k []byte, keySize int) ([]byte, error) {
	if err := checkMapIfDebug(mapFD, keySize, -1); err != nil {
		return nil, err
	}

	next := make([]byte, keySize)
	attr := mapElemAttr{
		mapFD: uint32(mapFD),
		key:   ptrOf(k),
		value: ptrOf(next),
	}
	_, err := bpfCall("map_get_next_key", unix.BPF_MAP_GET_NEXT_KEY, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(k)
	runtime.KeepAlive(next)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// GetMapFDByID opens the map with the given kernel ID, returning a new FD
// that the caller owns.
func GetMapFDByID(mapID int) (MapFD, error) {
	log.Debugf("GetMapFDByID(%v)", mapID)

	attr := getFDByIDAttr{id: uint32(mapID)}
	fd, err := bpfCall("map_get_fd_by_id", unix.BPF_MAP_GET_FD_BY_ID, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return 0, err
	}
	return MapFD(fd), nil
}

// MapInfo is the subset of the kernel's map metadata that the toolkit uses.
type MapInfo struct {
	Type       int
	KeySize    int
	ValueSize  int
	MaxEntries int
	Flags      int
	Id         int
	Name       string
}

// GetMapInfo queries the kernel for metadata about an open map FD.
func GetMapInfo(fd MapFD) (*MapInfo, error) {
	var info mapInfo
	attr := objGetInfoByFDAttr{
		bpfFD:   uint32(fd),
		infoLen: uint32(unsafe.Sizeof(info)),
		info:    uint64(uintptr(unsafe.Pointer(&info))),
	}
	_, err := bpfCall("obj_get_info_by_fd", unix.BPF_OBJ_GET_INFO_BY_FD, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(&info)
	if err != nil {
		return nil, err
	}
	name := info.name[:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return &MapInfo{
		Type:       int(info.mapType),
		KeySize:    int(info.keySize),
		ValueSize:  int(info.valueSize),
		MaxEntries: int(info.maxEntries),
		Flags:      int(info.mapFlags),
		Id:         int(info.id),
		Name:       string(name),
	}, nil
}

func checkMapIfDebug(mapFD MapFD, keySize, valueSize int) error {
	if log.GetLevel() < log.DebugLevel {
		return nil
	}
	mapInfo, err := GetMapInfo(mapFD)
	if err != nil {
		log.WithError(err).Error("Failed to read map information")
		return err
	}
	log.WithField("fd", mapFD).WithField("mapInfo", mapInfo).Debug("Map metadata")
	if keySize > 0 && keySize != mapInfo.KeySize {
		log.WithField("mapInfo", mapInfo).WithField("keyLen", keySize).Panic("Incorrect key length")
	}
	switch mapInfo.Type {
	case unix.BPF_MAP_TYPE_PERCPU_HASH, unix.BPF_MAP_TYPE_PERCPU_ARRAY, unix.BPF_MAP_TYPE_LRU_PERCPU_HASH:
		// The accessible size of a per-CPU map value is the value size
		// multiplied by the number of possible CPUs.
		if valueSize >= 0 && valueSize != mapInfo.ValueSize*NumPossibleCPUs() {
			log.WithField("mapInfo", mapInfo).WithField("valueLen", valueSize).Panic("Incorrect value length for per-CPU map")
		}
	default:
		if valueSize >= 0 && valueSize != mapInfo.ValueSize {
			log.WithField("mapInfo", mapInfo).WithField("valueLen", valueSize).Panic("Incorrect value length")
		}
	}
	return nil
}

// verifierLogSize is the buffer handed to the kernel for the verifier's
// diagnostic output when a load fails.
const verifierLogSize = 256 * 1024

// LoadBPFProgram issues BPF_PROG_LOAD for an already-encoded instruction
// stream.  On verifier rejection the load is retried once with a log buffer
// and the result is a VerifierError carrying the diagnostic text.
func LoadBPFProgram(progType uint32, insns []byte, name, license string) (ProgFD, error) {
	if len(insns) == 0 || len(insns)%8 != 0 {
		return 0, &ValidationError{Op: "prog_load", Detail: "instruction buffer length must be a non-zero multiple of 8"}
	}

	lic := make([]byte, len(license)+1)
	copy(lic, license)

	attr := progLoadAttr{
		progType: progType,
		insnCnt:  uint32(len(insns) / 8),
		insns:    ptrOf(insns),
		license:  ptrOf(lic),
	}
	copy(attr.progName[:unix.BPF_OBJ_NAME_LEN-1], name)

	fd, err := bpfCall("prog_load", unix.BPF_PROG_LOAD, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(insns)
	runtime.KeepAlive(lic)
	if err == nil {
		return ProgFD(fd), nil
	}
	sc, ok := err.(*SyscallError)
	if !ok {
		return 0, err
	}

	// Retry with a log buffer so the verifier tells us why.
	logBuf := make([]byte, verifierLogSize)
	attr.logBuf = ptrOf(logBuf)
	attr.logSize = uint32(len(logBuf))
	attr.logLevel = 1

	fd, err = bpfCall("prog_load", unix.BPF_PROG_LOAD, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(insns)
	runtime.KeepAlive(lic)
	runtime.KeepAlive(logBuf)
	if err == nil {
		// The failure was transient; keep the successful load.
		return ProgFD(fd), nil
	}
	if sc2, ok := err.(*SyscallError); ok {
		logEnd := 0
		for logEnd < len(logBuf) && logBuf[logEnd] != 0 {
			logEnd++
		}
		return 0, &VerifierError{Errno: sc2.Errno, Log: string(logBuf[:logEnd])}
	}
	return 0, sc
}

// ProgResult is the outcome of one BPF_PROG_TEST_RUN invocation.
type ProgResult struct {
	RC       int32
	Duration time.Duration
	DataOut  []byte
}

// RunBPFProgram runs a loaded program against dataIn without attaching it
// anywhere, repeating it repeat times and reporting the average duration.
// Not every program type supports test runs; unsupported ones surface a
// SyscallError classified ClassNotSupported.
func RunBPFProgram(fd ProgFD, dataIn []byte, repeat int) (ProgResult, error) {
	// The kernel rejects output buffers smaller than the input can grow to;
	// XDP test runs may prepend up to 256 bytes of headroom.
	dataOut := make([]byte, len(dataIn)+256)

	attr := progTestRunAttr{
		progFD:      uint32(fd),
		dataSizeIn:  uint32(len(dataIn)),
		dataSizeOut: uint32(len(dataOut)),
		dataIn:      ptrOf(dataIn),
		dataOut:     ptrOf(dataOut),
		repeat:      uint32(repeat),
	}
	_, err := bpfCall("prog_test_run", unix.BPF_PROG_TEST_RUN, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(dataIn)
	runtime.KeepAlive(dataOut)
	if err != nil {
		return ProgResult{}, err
	}
	n := int(attr.dataSizeOut)
	if n > len(dataOut) {
		n = len(dataOut)
	}
	return ProgResult{
		RC:       int32(attr.retval),
		Duration: time.Duration(attr.duration),
		DataOut:  dataOut[:n],
	}, nil
}
