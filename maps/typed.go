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

package maps

import (
	"github.com/probeforge/ebpf"
)

// TypedMap wraps an untyped Map with codecs that convert between typed
// keys/values and their serialised forms.  Keys and values serialise with
// AsBytes; the two constructor funcs deserialise.
type TypedMap[K Key, V Value] struct {
	untypedMap   Map
	kConstructor func([]byte) K
	vConstructor func([]byte) V
}

func NewTypedMap[K Key, V Value](m Map, kConstructor func([]byte) K, vConstructor func([]byte) V) *TypedMap[K, V] {
	return &TypedMap[K, V]{
		untypedMap:   m,
		kConstructor: kConstructor,
		vConstructor: vConstructor,
	}
}

func (m *TypedMap[K, V]) Update(k K, v V) error {
	return m.untypedMap.Update(k.AsBytes(), v.AsBytes())
}

func (m *TypedMap[K, V]) UpdateWithFlags(k K, v V, flags int) error {
	return m.untypedMap.UpdateWithFlags(k.AsBytes(), v.AsBytes(), flags)
}

// Lookup returns the value stored under k.  An absent key is a valid
// outcome, reported as found == false with a nil error; the error return is
// reserved for genuine failures.
func (m *TypedMap[K, V]) Lookup(k K) (V, bool, error) {
	var zero V
	bs, err := m.untypedMap.Get(k.AsBytes())
	if err != nil {
		if ebpf.IsNotExists(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return m.vConstructor(bs), true, nil
}

// Delete removes k, surfacing the underlying ENOENT unchanged if the key
// was absent.
func (m *TypedMap[K, V]) Delete(k K) error {
	return m.untypedMap.Delete(k.AsBytes())
}

func (m *TypedMap[K, V]) DeleteIfExists(k K) error {
	return m.untypedMap.DeleteIfExists(k.AsBytes())
}

// Entries visits every entry of the map with decoded keys and values.  The
// callback may return IterDelete to remove the entry it was shown.
func (m *TypedMap[K, V]) Entries(f func(k K, v V) IteratorAction) error {
	return m.untypedMap.Iter(func(kb, vb []byte) IteratorAction {
		return f(m.kConstructor(kb), m.vConstructor(vb))
	})
}

// Load reads the whole map into an ordinary Go map.
func (m *TypedMap[K, V]) Load() (map[K]V, error) {
	memMap := make(map[K]V)
	err := m.untypedMap.Iter(func(kb, vb []byte) IteratorAction {
		memMap[m.kConstructor(kb)] = m.vConstructor(vb)
		return IterNone
	})
	if err != nil {
		return nil, err
	}
	return memMap, nil
}
