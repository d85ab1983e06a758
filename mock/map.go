// Copyright (c) 2020-2022 Tigera, Inc. All rights reserved.
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

// Package mock provides an in-memory maps.Map for tests that cannot (or
// should not) touch the kernel.
package mock

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/probeforge/ebpf"
	"github.com/probeforge/ebpf/maps"
)

// Map implements maps.Map on an in-memory store.  It counts operations,
// mimics the kernel's errno behaviour for misses and update flags, and can
// be told to fail on demand via the *Err fields.
type Map struct {
	maps.MapParameters
	logCxt *logrus.Entry

	Contents map[string]string

	UpdateCount int
	GetCount    int
	DeleteCount int
	IterCount   int
	CloseCount  int

	IterErr   error
	UpdateErr error
	DeleteErr error

	Closed bool
}

var _ maps.Map = (*Map)(nil)

func NewMockMap(params maps.MapParameters) *Map {
	if params.KeySize <= 0 {
		logrus.WithField("params", params).Panic("KeySize should be >0")
	}
	if params.ValueSize <= 0 {
		logrus.WithField("params", params).Panic("ValueSize should be >0")
	}
	m := &Map{
		MapParameters: params,
		logCxt: logrus.WithFields(logrus.Fields{
			"name":      params.Name,
			"mapType":   params.Type,
			"keySize":   params.KeySize,
			"valueSize": params.ValueSize,
		}),
		Contents: map[string]string{},
	}
	return m
}

func (m *Map) GetName() string {
	return m.Name
}

func (m *Map) Params() maps.MapParameters {
	return m.MapParameters
}

func (m *Map) MapFD() ebpf.MapFD {
	panic("implement me")
}

func (m *Map) Size() int {
	return m.MaxEntries
}

func (m *Map) Update(k, v []byte) error {
	return m.UpdateWithFlags(k, v, unix.BPF_ANY)
}

func (m *Map) UpdateWithFlags(k, v []byte, flags int) error {
	m.UpdateCount++
	if m.Closed {
		return ebpf.ErrClosed
	}
	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	if len(k) != m.KeySize {
		m.logCxt.Panicf("Key had wrong size (%d)", len(k))
	}
	if len(v) != m.ValueSize {
		m.logCxt.Panicf("Value had wrong size (%d)", len(v))
	}

	_, exists := m.Contents[string(k)]
	if flags&unix.BPF_NOEXIST != 0 && exists {
		return unix.EEXIST
	}
	if flags&unix.BPF_EXIST != 0 && !exists {
		return unix.ENOENT
	}
	m.Contents[string(k)] = string(v)

	return nil
}

func (m *Map) Get(k []byte) ([]byte, error) {
	m.GetCount++
	if m.Closed {
		return nil, ebpf.ErrClosed
	}

	vstr, ok := m.Contents[string(k)]
	if !ok {
		return nil, unix.ENOENT
	}
	return []byte(vstr), nil
}

func (m *Map) Delete(k []byte) error {
	m.DeleteCount++
	if m.Closed {
		return ebpf.ErrClosed
	}
	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	if len(k) != m.KeySize {
		m.logCxt.Panicf("Key had wrong size (%d)", len(k))
	}
	if _, ok := m.Contents[string(k)]; !ok {
		return unix.ENOENT
	}
	delete(m.Contents, string(k))
	return nil
}

func (m *Map) DeleteIfExists(k []byte) error {
	err := m.Delete(k)
	if ebpf.IsNotExists(err) {
		err = nil
	}
	return err
}

func (m *Map) Iter(f maps.IterCallback) error {
	m.IterCount++
	if m.Closed {
		return ebpf.ErrClosed
	}
	if m.IterErr != nil {
		return m.IterErr
	}

	for kstr, vstr := range m.Contents {
		action := f([]byte(kstr), []byte(vstr))
		if action == maps.IterDelete {
			delete(m.Contents, kstr)
		}
	}
	return nil
}

func (m *Map) Close() error {
	m.CloseCount++
	if m.Closed {
		return ebpf.ErrClosed
	}
	m.logCxt.Info("Close called")
	m.Closed = true
	return nil
}

func (m *Map) OpCount() int {
	return m.UpdateCount + m.IterCount + m.GetCount + m.DeleteCount
}

func (m *Map) ContainsKey(k []byte) bool {
	_, ok := m.Contents[string(k)]
	return ok
}
