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

// Package kvstore implements the replicated KV store: a pluggable
// storage Engine driven by a per-partition raft state machine.
package kvstore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
)

// KVPair is one key/value entry, used for multi-put batches and scan
// results alike.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Iterator walks a scan range in key order; restartable from a bookmark
// by re-opening Scan with the last returned key as the new start.
type Iterator interface {
	Next() (key, value []byte, ok bool)
	Close()
}

// Engine is the pluggable storage layer underneath the raft state
// machine: a black box providing put/get/scan/remove/removeRange/
// snapshot, with the consensus layer stacked on top.
type Engine interface {
	Put(key, value []byte) error
	MultiPut(kvs []KVPair) error
	Get(key []byte) ([]byte, bool, error)
	MultiRemove(keys [][]byte) error
	RemoveRange(start, end []byte) error
	Scan(start, end []byte) Iterator
	Snapshot() (Snapshot, error)
	Close() error
}

// Snapshot is a consistent point-in-time view used by the raft FSM's
// Snapshot/ApplySnapshot pair.
type Snapshot interface {
	Next() (key, value []byte, ok bool)
	Release()
}

// btreeItem adapts a key/value pair to google/btree's ordering contract.
type btreeItem struct {
	key, value []byte
}

func (a btreeItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(btreeItem).key) < 0
}

// btreeEngine is an in-memory Engine atop google/btree, used for tests
// and single-node development where durability across restarts does not
// matter.
type btreeEngine struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewBTreeEngine returns an in-memory, ordered Engine.
func NewBTreeEngine() Engine {
	return &btreeEngine{tree: btree.New(32)}
}

func (e *btreeEngine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tree.ReplaceOrInsert(btreeItem{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	return nil
}

func (e *btreeEngine) MultiPut(kvs []KVPair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, kv := range kvs {
		e.tree.ReplaceOrInsert(btreeItem{key: append([]byte{}, kv.Key...), value: append([]byte{}, kv.Value...)})
	}
	return nil
}

func (e *btreeEngine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	item := e.tree.Get(btreeItem{key: key})
	if item == nil {
		return nil, false, nil
	}
	return item.(btreeItem).value, true, nil
}

func (e *btreeEngine) MultiRemove(keys [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range keys {
		e.tree.Delete(btreeItem{key: k})
	}
	return nil
}

func (e *btreeEngine) RemoveRange(start, end []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var toDelete []btree.Item
	e.tree.AscendRange(btreeItem{key: start}, btreeItem{key: end}, func(item btree.Item) bool {
		toDelete = append(toDelete, item)
		return true
	})
	for _, item := range toDelete {
		e.tree.Delete(item)
	}
	return nil
}

type btreeIterator struct {
	items []btreeItem
	pos   int
}

func (it *btreeIterator) Next() (key, value []byte, ok bool) {
	if it.pos >= len(it.items) {
		return nil, nil, false
	}
	cur := it.items[it.pos]
	it.pos++
	return cur.key, cur.value, true
}

func (it *btreeIterator) Close() {}

func (e *btreeEngine) Scan(start, end []byte) Iterator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var items []btreeItem
	if end == nil {
		e.tree.AscendGreaterOrEqual(btreeItem{key: start}, func(item btree.Item) bool {
			items = append(items, item.(btreeItem))
			return true
		})
	} else {
		e.tree.AscendRange(btreeItem{key: start}, btreeItem{key: end}, func(item btree.Item) bool {
			items = append(items, item.(btreeItem))
			return true
		})
	}
	return &btreeIterator{items: items}
}

type btreeSnapshot struct {
	items []btreeItem
	pos   int
}

func (s *btreeSnapshot) Next() (key, value []byte, ok bool) {
	if s.pos >= len(s.items) {
		return nil, nil, false
	}
	cur := s.items[s.pos]
	s.pos++
	return cur.key, cur.value, true
}

func (s *btreeSnapshot) Release() {}

func (e *btreeEngine) Snapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	items := make([]btreeItem, 0, e.tree.Len())
	e.tree.Ascend(func(item btree.Item) bool {
		it := item.(btreeItem)
		items = append(items, btreeItem{key: append([]byte{}, it.key...), value: append([]byte{}, it.value...)})
		return true
	})
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].key, items[j].key) < 0 })
	return &btreeSnapshot{items: items}, nil
}

func (e *btreeEngine) Close() error { return nil }
