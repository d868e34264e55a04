// Copyright 2024 The Nebulacore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"bytes"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/peterbourgon/diskv/v3"
)

// bloomExpectedKeys and bloomFalsePositiveRate size the probabilistic
// existence filter fronting Get: generous enough for a single
// partition's key space without forcing a resize under normal growth.
const (
	bloomExpectedKeys      = 1 << 20
	bloomFalsePositiveRate = 0.01
)

// diskvEngine is an on-disk Engine atop peterbourgon/diskv, used so a
// partition's state machine survives process restarts. Keys are
// hex-encoded since diskv keys must be filesystem-safe strings; an
// in-memory sorted key index is kept alongside so Scan/RemoveRange can
// honor the ordered-range contract diskv itself does not provide. A
// bits-and-blooms/bloom filter fronts Get so a miss on a key that was
// never written avoids touching disk at all; the filter only ever grows
// (removal cannot unset a bloom bit), so it can yield false positives
// but never false negatives.
type diskvEngine struct {
	mu     sync.RWMutex
	d      *diskv.Diskv
	keys   map[string][]byte // hex(key) -> raw key, for ordered iteration
	filter *bloom.BloomFilter
}

// NewDiskvEngine opens (or creates) an on-disk engine rooted at dir.
func NewDiskvEngine(dir string) Engine {
	d := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    func(s string) []string { return []string{} },
		CacheSizeMax: 64 * 1024 * 1024,
	})
	e := &diskvEngine{
		d:      d,
		keys:   make(map[string][]byte),
		filter: bloom.NewWithEstimates(bloomExpectedKeys, bloomFalsePositiveRate),
	}
	for k := range d.Keys(nil) {
		raw, err := hex.DecodeString(k)
		if err == nil {
			e.keys[k] = raw
			e.filter.Add(raw)
		}
	}
	return e
}

func encodeDiskvKey(key []byte) string {
	return hex.EncodeToString(key)
}

func (e *diskvEngine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putLocked(key, value)
}

func (e *diskvEngine) putLocked(key, value []byte) error {
	k := encodeDiskvKey(key)
	if err := e.d.Write(k, value); err != nil {
		return err
	}
	e.keys[k] = append([]byte{}, key...)
	e.filter.Add(key)
	return nil
}

func (e *diskvEngine) MultiPut(kvs []KVPair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, kv := range kvs {
		if err := e.putLocked(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *diskvEngine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.filter.Test(key) {
		return nil, false, nil
	}
	v, err := e.d.Read(encodeDiskvKey(key))
	if err != nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (e *diskvEngine) MultiRemove(keys [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range keys {
		k := encodeDiskvKey(key)
		if err := e.d.Erase(k); err != nil {
			return err
		}
		delete(e.keys, k)
	}
	return nil
}

func (e *diskvEngine) sortedKeysLocked() [][]byte {
	out := make([][]byte, 0, len(e.keys))
	for _, raw := range e.keys {
		out = append(out, raw)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func (e *diskvEngine) RemoveRange(start, end []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, raw := range e.sortedKeysLocked() {
		if bytes.Compare(raw, start) >= 0 && (end == nil || bytes.Compare(raw, end) < 0) {
			k := encodeDiskvKey(raw)
			if err := e.d.Erase(k); err != nil {
				return err
			}
			delete(e.keys, k)
		}
	}
	return nil
}

type diskvIterator struct {
	e     *diskvEngine
	items [][]byte
	pos   int
}

func (it *diskvIterator) Next() (key, value []byte, ok bool) {
	for it.pos < len(it.items) {
		raw := it.items[it.pos]
		it.pos++
		v, found, _ := it.e.Get(raw)
		if found {
			return raw, v, true
		}
	}
	return nil, nil, false
}

func (it *diskvIterator) Close() {}

func (e *diskvEngine) Scan(start, end []byte) Iterator {
	e.mu.RLock()
	all := e.sortedKeysLocked()
	e.mu.RUnlock()
	var items [][]byte
	for _, raw := range all {
		if bytes.Compare(raw, start) >= 0 && (end == nil || bytes.Compare(raw, end) < 0) {
			items = append(items, raw)
		}
	}
	return &diskvIterator{e: e, items: items}
}

func (e *diskvEngine) Snapshot() (Snapshot, error) {
	e.mu.RLock()
	all := e.sortedKeysLocked()
	e.mu.RUnlock()
	items := make([]KVPair, 0, len(all))
	for _, raw := range all {
		v, found, _ := e.Get(raw)
		if found {
			items = append(items, KVPair{Key: raw, Value: v})
		}
	}
	return &diskvSnapshot{items: items}, nil
}

type diskvSnapshot struct {
	items []KVPair
	pos   int
}

func (s *diskvSnapshot) Next() (key, value []byte, ok bool) {
	if s.pos >= len(s.items) {
		return nil, nil, false
	}
	cur := s.items[s.pos]
	s.pos++
	return cur.Key, cur.Value, true
}

func (s *diskvSnapshot) Release() {}

func (e *diskvEngine) Close() error { return nil }
