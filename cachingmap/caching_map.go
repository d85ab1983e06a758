// Copyright (c) 2021 Tigera, Inc. All rights reserved.
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

// Package cachingmap adds a desired-state reconciliation layer on top of a
// maps.Map: callers describe the entries they want, and an Apply call
// issues the minimal set of kernel updates and deletions to get there.
package cachingmap

import (
	"fmt"
	"log"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/maps"
)

// CachingMap provides a caching layer around a maps.Map; when one of the
// Apply methods is called, it applies a minimal set of changes to the
// kernel map to bring it into sync with the desired state.  Updating the
// desired state in and of itself has no effect on the kernel.
//
// CachingMap will load a cache of the kernel state on the first Apply call,
// or the cache can be loaded explicitly by calling LoadCacheFromKernel().
// This allows client code to inspect the cache with IterKernelCache and
// GetKernelCache.
type CachingMap struct {
	kernelMap maps.Map
	params    maps.MapParameters

	// desiredState stores the complete set of key/value pairs that we
	// _want_ to be in the kernel map.  Calling ApplyAllChanges attempts to
	// bring the kernel into sync.
	//
	// For occupancy's sake we may want to drop this copy and instead
	// maintain the invariant:
	// desiredState = kernelCache - pendingDeletions + pendingUpdates.
	desiredState *ByteArrayToByteArrayMap

	kernelCache      *ByteArrayToByteArrayMap
	pendingUpdates   *ByteArrayToByteArrayMap
	pendingDeletions *ByteArrayToByteArrayMap
}

func New(kernelMap maps.Map) *CachingMap {
	params := kernelMap.Params()
	return &CachingMap{
		kernelMap:    kernelMap,
		params:       params,
		desiredState: NewByteArrayToByteArrayMap(params.KeySize, params.ValueSize),
	}
}

// LoadCacheFromKernel reads the contents of the kernel map into the cache,
// allowing it to be queried with GetKernelCache and IterKernelCache.
func (c *CachingMap) LoadCacheFromKernel() error {
	logrus.WithField("name", c.params.Name).Debug("Loading cache of kernel map state.")
	c.initCache()
	err := c.kernelMap.Iter(func(k, v []byte) maps.IteratorAction {
		c.kernelCache.Set(k, v)
		return maps.IterNone
	})
	if err != nil {
		logrus.WithError(err).WithField("name", c.params.Name).Warn("Failed to load cache of BPF map")
		c.clearCache()
		return err
	}
	logrus.WithField("name", c.params.Name).WithField("count", c.kernelCache.Len()).Info(
		"Loaded cache of BPF map")
	c.recalculatePendingOperations()
	return nil
}

func (c *CachingMap) initCache() {
	c.kernelCache = NewByteArrayToByteArrayMap(c.params.KeySize, c.params.ValueSize)
	c.pendingUpdates = NewByteArrayToByteArrayMap(c.params.KeySize, c.params.ValueSize)
	c.pendingDeletions = NewByteArrayToByteArrayMap(c.params.KeySize, c.params.ValueSize)
}

func (c *CachingMap) clearCache() {
	logrus.WithField("name", c.params.Name).Debug("Clearing cache of BPF map")
	c.kernelCache = nil
	c.pendingDeletions = nil
	c.pendingUpdates = nil
}

// recalculatePendingOperations compares the kernel cache against the
// desired state and adds entries to pendingUpdates/pendingDeletions that
// would bring the kernel into sync.
func (c *CachingMap) recalculatePendingOperations() {
	debug := logrus.GetLevel() >= logrus.DebugLevel

	// Look for any discrepancies and queue up updates.
	c.desiredState.Iter(func(k, desiredVal []byte) {
		actualVal := c.kernelCache.Get(k)
		if slicesEqual(actualVal, desiredVal) {
			return
		}
		c.pendingUpdates.Set(k, desiredVal)
	})

	// Scan for any kernel keys that are not in the desired map at all and
	// queue up deletions.
	c.kernelCache.Iter(func(k, actualVal []byte) {
		desiredVal := c.desiredState.Get(k)
		if debug {
			logrus.WithFields(logrus.Fields{
				"k":        k,
				"v":        actualVal,
				"expected": desiredVal,
			}).Debug("Checking cache against desired")
		}
		if desiredVal == nil {
			c.pendingDeletions.Set(k, actualVal)
			return
		}
	})

	logrus.WithFields(logrus.Fields{
		"cached":         c.kernelCache.Len(),
		"pendingDels":    c.pendingDeletions.Len(),
		"pendingUpdates": c.pendingUpdates.Len(),
		"name":           c.params.Name,
	}).Info("Recalculated pending operations")
}

// SetDesired sets the desired state of the given key to the given value.
// This is an in-memory operation, it doesn't actually touch the kernel.
func (c *CachingMap) SetDesired(k, v []byte) {
	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.WithFields(logrus.Fields{"name": c.params.Name, "k": k, "v": v}).Debug("SetDesired")
	}
	c.desiredState.Set(k, v)
	if c.kernelCache == nil {
		logrus.Debug("SetDesired: initial sync pending.")
		return // Initial sync is pending, we're not tracking deltas yet.
	}
	c.pendingDeletions.Delete(k)

	// Check if we think we need to update the kernel as a result.
	currentVal := c.kernelCache.Get(k)
	if slicesEqual(currentVal, v) {
		// Kernel already agrees with the new value so clear any pending update.
		logrus.Debug("SetDesired: Key in kernel already, ignoring.")
		c.pendingUpdates.Delete(k)
		return
	}
	c.pendingUpdates.Set(k, v)
}

// GetDesired returns the desired (latest) value.
func (c *CachingMap) GetDesired(k []byte) []byte {
	return c.desiredState.Get(k)
}

// DeleteDesired deletes the given key from the desired state of the kernel
// map.  This is an in-memory operation, it doesn't actually touch the
// kernel.
func (c *CachingMap) DeleteDesired(k []byte) {
	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.WithFields(logrus.Fields{"name": c.params.Name, "k": k}).Debug("DeleteDesired")
	}
	c.desiredState.Delete(k)
	if c.kernelCache == nil {
		logrus.Debug("DeleteDesired: initial sync pending.")
		return // Initial sync is pending, we're not tracking deltas yet.
	}
	c.pendingUpdates.Delete(k)

	// Check if we need to update the kernel.
	currentVal := c.kernelCache.Get(k)
	if currentVal == nil {
		// We don't think this value is in the kernel so clear any pending delete.
		logrus.Debug("DeleteDesired: Key not in kernel, ignoring.")
		c.pendingDeletions.Delete(k)
		return
	}
	c.pendingDeletions.Set(k, currentVal)
}

// DeleteAllDesired deletes all entries from the in-memory desired state of
// the map.  It doesn't actually touch the kernel.
func (c *CachingMap) DeleteAllDesired() {
	logrus.WithField("name", c.params.Name).Debug("DeleteAll")
	c.desiredState.Iter(func(k, v []byte) {
		c.DeleteDesired(k)
	})
}

// IterKernelCache iterates over the cache of the kernel map.  The cache
// must have previously been loaded with a successful call to
// LoadCacheFromKernel() or one of the Apply methods.
func (c *CachingMap) IterKernelCache(f func(k, v []byte)) {
	c.kernelCache.Iter(f)
}

// GetKernelCache gets a single value from the cache of the kernel map.  The
// cache must have previously been loaded with a successful call to
// LoadCacheFromKernel() or one of the Apply methods.
func (c *CachingMap) GetKernelCache(k []byte) []byte {
	return c.kernelCache.Get(k)
}

// ApplyAllChanges attempts to bring the kernel map into sync with the
// desired state.
func (c *CachingMap) ApplyAllChanges() error {
	var errs ErrSlice
	err := c.ApplyDeletionsOnly()
	if err != nil {
		errs = append(errs, err)
	}
	err = c.ApplyUpdatesOnly()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *CachingMap) maybeLoadCache() error {
	if c.kernelCache == nil {
		err := c.LoadCacheFromKernel()
		if err != nil {
			return err
		}
	}
	return nil
}

// ApplyUpdatesOnly applies any pending adds/updates to the kernel map.  It
// doesn't delete any keys that are no longer wanted.
func (c *CachingMap) ApplyUpdatesOnly() error {
	logrus.WithField("name", c.params.Name).Debug("Applying updates to BPF map.")
	err := c.maybeLoadCache()
	if err != nil {
		return err
	}
	var errs ErrSlice
	c.pendingUpdates.Iter(func(k, v []byte) {
		err := c.kernelMap.Update(k, v)
		if err != nil {
			logrus.WithError(err).Warn("Error while updating BPF map")
			errs = append(errs, err)
		} else {
			c.pendingUpdates.Delete(k)
			c.kernelCache.Set(k, v)
		}
	})
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ApplyDeletionsOnly applies any pending deletions to the kernel map.  It
// doesn't add or update any keys that are new/changed.
func (c *CachingMap) ApplyDeletionsOnly() error {
	logrus.WithField("name", c.params.Name).Debug("Applying deletions to BPF map.")
	err := c.maybeLoadCache()
	if err != nil {
		return err
	}
	var errs ErrSlice
	c.pendingDeletions.Iter(func(k, v []byte) {
		err := c.kernelMap.Delete(k)
		if err != nil && !ebpf.IsNotExists(err) {
			logrus.WithError(err).Warn("Error while deleting from BPF map")
			errs = append(errs, err)
		} else {
			c.pendingDeletions.Delete(k)
			c.kernelCache.Delete(k)
		}
	})
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func slicesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if b[i] != v {
			return false
		}
	}
	return true
}

type ErrSlice []error

func (e ErrSlice) Error() string {
	return fmt.Sprintf("multiple errors while updating the kernel map (%d)", len(e))
}

// ByteArrayToByteArrayMap uses reflection to implement a map from a fixed
// size array of bytes to a fixed size array of bytes where the key and
// value sizes are set at map creation time.  It exposes an API that uses
// slices for Get/Set/Delete, making it much more convenient to interact
// with.  All operations panic if passed a slice of incorrect size.
type ByteArrayToByteArrayMap struct {
	keySize   int
	valueSize int
	keyType   reflect.Type
	valueType reflect.Type

	m reflect.Value // map[[keySize]byte][valueSize]byte

	// key and value that we reuse when reading/writing the map.  Since the
	// map uses value types (not pointers), we can reuse the same key/value
	// to read/write the map and the map will save the actual key/value
	// internally rather than sharing storage with our reflect.Value.
	key        reflect.Value
	value      reflect.Value
	keySlice   []byte // Slice backed by key
	valueSlice []byte // Slice backed by value
}

func NewByteArrayToByteArrayMap(keySize, valueSize int) *ByteArrayToByteArrayMap {
	// Effectively make(map[[keySize]byte][valueSize]byte)
	keyType := reflect.ArrayOf(keySize, reflect.TypeOf(byte(0)))
	valueType := reflect.ArrayOf(valueSize, reflect.TypeOf(byte(0)))
	mapType := reflect.MapOf(keyType, valueType)
	mapVal := reflect.MakeMap(mapType)

	key := reflect.New(keyType).Elem()
	value := reflect.New(valueType).Elem()
	return &ByteArrayToByteArrayMap{
		keySize:    keySize,
		valueSize:  valueSize,
		keyType:    keyType,
		valueType:  valueType,
		m:          mapVal,
		key:        key,
		value:      value,
		keySlice:   key.Slice(0, keySize).Interface().([]byte),
		valueSlice: value.Slice(0, valueSize).Interface().([]byte),
	}
}

func (b *ByteArrayToByteArrayMap) Set(k, v []byte) {
	if len(k) != b.keySize {
		log.Panic("ByteArrayToByteArrayMap.Set() called with incorrect key length")
	}
	if len(v) != b.valueSize {
		log.Panic("ByteArrayToByteArrayMap.Set() called with incorrect value length")
	}

	copy(b.keySlice, k)
	copy(b.valueSlice, v)
	b.m.SetMapIndex(b.key, b.value)
}

func (b *ByteArrayToByteArrayMap) Get(k []byte) []byte {
	if len(k) != b.keySize {
		log.Panic("ByteArrayToByteArrayMap.Get() called with incorrect key length")
	}

	copy(b.keySlice, k)
	valVal := b.m.MapIndex(b.key)
	if !valVal.IsValid() {
		return nil
	}
	valSlice := make([]byte, b.valueSize)
	reflect.Copy(reflect.ValueOf(valSlice), valVal)
	return valSlice
}

func (b *ByteArrayToByteArrayMap) Delete(k []byte) {
	if len(k) != b.keySize {
		log.Panic("ByteArrayToByteArrayMap.Delete() called with incorrect key length")
	}

	copy(b.keySlice, k)
	var zeroVal reflect.Value
	b.m.SetMapIndex(b.key, zeroVal)
}

// Iter iterates over the map, passing each key/value to the given func as a
// slice.  For performance, the slice is reused between iterations and
// should not be retained.  As with a normal map, it is safe to delete from
// the map during iteration.
func (b *ByteArrayToByteArrayMap) Iter(f func(k, v []byte)) {
	iter := b.m.MapRange()
	// Since it's valid for a user to call Get/Set while we're iterating,
	// make sure we have our own values for key/value to avoid aliasing.
	key := reflect.New(b.keyType).Elem()
	val := reflect.New(b.valueType).Elem()
	keySlice := key.Slice(0, b.keySize).Interface().([]byte)
	valSlice := val.Slice(0, b.valueSize).Interface().([]byte)
	for iter.Next() {
		reflect.Copy(key, iter.Key())
		reflect.Copy(val, iter.Value())
		f(keySlice, valSlice)
	}
}

func (b *ByteArrayToByteArrayMap) Len() int {
	return b.m.Len()
}
