// Copyright (c) 2023 Tigera, Inc. All rights reserved.
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
	"github.com/pkg/errors"

	"github.com/probeforge/ebpf"
)

// ErrIterationFinished is returned by Iterator.Next once the whole map has
// been visited.
var ErrIterationFinished = errors.New("iteration finished")

// ErrVisitedTooManyKeys is returned by Iterator.Next if the iteration
// visits many more keys than the map can hold.  That can happen if the map
// is mutated heavily while it is being iterated, which makes the kernel's
// get-next-key primitive restart from the beginning.
var ErrVisitedTooManyKeys = errors.New("visited 10x the max size of the map keys")

// Iterator walks a map one entry at a time using the kernel's get-next-key
// and lookup commands.  It offers no snapshot isolation: entries added or
// removed during the walk may or may not be seen, matching the kernel's own
// guarantee (none).  A fresh Iterator starts the walk over from the
// beginning.
type Iterator struct {
	mapFD      ebpf.MapFD
	keySize    int
	valueSize  int
	maxEntries int

	// current is the key that the previous Next returned, nil before the
	// first call.
	current    []byte
	numVisited int
}

func NewIterator(mapFD ebpf.MapFD, keySize, valueSize, maxEntries int) (*Iterator, error) {
	if keySize <= 0 || valueSize <= 0 {
		return nil, &ebpf.ValidationError{Op: "map_get_next_key",
			Detail: "key and value sizes must be >0"}
	}
	return &Iterator{
		mapFD:      mapFD,
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: maxEntries,
	}, nil
}

// Next returns the next key and value, in the kernel's own order.  The
// returned slices are freshly allocated on each call.  The end of the map
// is reported as ErrIterationFinished.
func (it *Iterator) Next() ([]byte, []byte, error) {
	for {
		k, err := ebpf.GetMapNextKey(it.mapFD, it.current, it.keySize)
		if err != nil {
			if ebpf.IsNotExists(err) {
				return nil, nil, ErrIterationFinished
			}
			return nil, nil, err
		}
		it.current = k

		it.numVisited++
		if it.numVisited > it.maxEntries*10 {
			return nil, nil, ErrVisitedTooManyKeys
		}

		v, err := ebpf.GetMapEntry(it.mapFD, k, it.valueSize)
		if ebpf.IsNotExists(err) {
			// The entry was deleted between the next-key call and the
			// lookup; continue the walk from its key.
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return k, v, nil
	}
}
