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
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/raftstore"
	"github.com/nebula-contrib/nebulacore/util/log"
)

// partLeaderGauge reports 1 for (space,part) labels this replica currently
// believes it leads, 0 otherwise, so an operator dashboard can see
// leadership spread across a process without polling PartLeader.
var partLeaderGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "nebulacore_kvstore_part_is_leader",
	Help: "1 if this replica believes it leads (space,part), 0 otherwise.",
}, []string{"space", "part"})

func init() {
	prometheus.MustRegister(partLeaderGauge)
}

// partKey is the composite (space, part) coordinate used to look up a
// Partition Manager entry or a raft-backed partition.
type partKey struct {
	space proto.SpaceId
	part  proto.PartId
}

// raftPartition is the subset of *raftstore.Partition the store needs;
// narrowing it to an interface lets tests inject a fake without spinning
// up a real raft group.
type raftPartition interface {
	Submit(cmd []byte) (interface{}, error)
	IsLeader() bool
	LeaderAddr() (proto.HostAddr, bool)
}

// partEntry is one Partition Manager record: the partition's replica
// set plus the raft handle and fsm once the partition has been created.
type partEntry struct {
	peers     []proto.HostAddr
	partition raftPartition
	fsm       *partitionFsm
}

// Manager maps (space, part) to its ordered replica list behind an
// RWMutex. Lookups never block; updates are totally ordered per
// (space, part) since they hold the write lock for the whole mutation.
type Manager struct {
	mu    sync.RWMutex
	parts map[partKey]*partEntry
}

// NewManager returns an empty Partition Manager.
func NewManager() *Manager {
	return &Manager{parts: make(map[partKey]*partEntry)}
}

// Parts lists the known partition ids for a space.
func (m *Manager) Parts(space proto.SpaceId) []proto.PartId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []proto.PartId
	for k := range m.parts {
		if k.space == space {
			out = append(out, k.part)
		}
	}
	return out
}

// Peers returns the replica set for (space, part), or PartNotFound.
func (m *Manager) Peers(space proto.SpaceId, part proto.PartId) ([]proto.HostAddr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.parts[partKey{space, part}]
	if !ok {
		return nil, ErrPartNotFound
	}
	return e.peers, nil
}

// AddPart idempotently registers (space, part) with the given replica
// set; used by the meta service to seed (0,0) at boot and by schema
// operators to add partitions to a new space.
func (m *Manager) AddPart(space proto.SpaceId, part proto.PartId, peers []proto.HostAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := partKey{space, part}
	if _, ok := m.parts[k]; ok {
		return
	}
	m.parts[k] = &partEntry{peers: peers}
}

// Store is the replicated KV store: one raft-backed partition per
// (space, part) on top of the partition Manager.
type Store struct {
	mgr         *Manager
	rs          *raftstore.RaftStore
	nodeID      uint64
	checkLeader bool // read-on-follower toggle; off for the meta daemon

	mu sync.RWMutex
	// entries mirrors mgr's registrations once a local raft group has
	// actually been started for them.
	entries map[partKey]*partEntry
}

// NewStore wires a Partition Manager to a RaftStore.
func NewStore(mgr *Manager, rs *raftstore.RaftStore, nodeID uint64, checkLeader bool) *Store {
	return &Store{mgr: mgr, rs: rs, nodeID: nodeID, checkLeader: checkLeader, entries: make(map[partKey]*partEntry)}
}

// StartPartition creates the local raft group for (space, part) using
// the given engine and peer-to-nodeID mapping, and registers it with the
// Partition Manager.
func (s *Store) StartPartition(space proto.SpaceId, part proto.PartId, engine Engine, peers []proto.HostAddr, raftPeers []raftstore.Peer) error {
	fsm := newPartitionFsm(engine)
	rp, err := s.rs.CreatePartition(space, part, raftPeers, fsm)
	if err != nil {
		return err
	}
	s.mgr.AddPart(space, part, peers)
	s.mu.Lock()
	s.entries[partKey{space, part}] = &partEntry{peers: peers, partition: rp, fsm: fsm}
	s.mu.Unlock()
	return nil
}

// StartTestPartition registers a partition backed directly by engine and
// a caller-supplied raftPartition fake, for unit tests that exercise
// Store without a live raft group.
func (s *Store) StartTestPartition(space proto.SpaceId, part proto.PartId, engine Engine, fakePartition raftPartition, peers []proto.HostAddr) {
	fsm := newPartitionFsm(engine)
	s.mgr.AddPart(space, part, peers)
	s.mu.Lock()
	s.entries[partKey{space, part}] = &partEntry{peers: peers, partition: fakePartition, fsm: fsm}
	s.mu.Unlock()
}

func (s *Store) entry(space proto.SpaceId, part proto.PartId) (*partEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[partKey{space, part}]
	return e, ok
}

// AsyncCallback receives the result of one async KV operation.
type AsyncCallback func(code proto.KVCode)

// AsyncMultiPut atomically commits a batch of puts within one partition.
func (s *Store) AsyncMultiPut(space proto.SpaceId, part proto.PartId, kvs []KVPair, cb AsyncCallback) {
	s.submitAsync(space, part, &raftCmd{Op: cmdMultiPut, KVs: kvs}, cb)
}

// AsyncMultiRemove removes a set of keys atomically within one partition.
func (s *Store) AsyncMultiRemove(space proto.SpaceId, part proto.PartId, keys [][]byte, cb AsyncCallback) {
	s.submitAsync(space, part, &raftCmd{Op: cmdMultiRemove, Keys: keys}, cb)
}

// AsyncRemoveRange removes the half-open range [start, end).
func (s *Store) AsyncRemoveRange(space proto.SpaceId, part proto.PartId, start, end []byte, cb AsyncCallback) {
	s.submitAsync(space, part, &raftCmd{Op: cmdRemoveRange, Start: start, End: end}, cb)
}

func (s *Store) submitAsync(space proto.SpaceId, part proto.PartId, cmd *raftCmd, cb AsyncCallback) {
	e, ok := s.entry(space, part)
	if !ok {
		go cb(proto.KVPartNotFound)
		return
	}
	go func() {
		data, err := cmd.Marshal()
		if err != nil {
			log.LogErrorf("kvstore: marshal command: %v", err)
			cb(proto.KVUnknown)
			return
		}
		if _, err := e.partition.Submit(data); err != nil {
			if !e.partition.IsLeader() {
				cb(proto.KVLeaderChanged)
				return
			}
			cb(proto.KVConsensusError)
			return
		}
		cb(proto.KVSucceeded)
	}()
}

// Get reads a single key. With checkLeader on (storage daemons), reads
// are refused on a follower so a stale replica never serves them; with
// it off (the meta daemon), followers serve reads subject to staleness.
func (s *Store) Get(space proto.SpaceId, part proto.PartId, key []byte) ([]byte, bool, error) {
	e, ok := s.entry(space, part)
	if !ok {
		return nil, false, ErrPartNotFound
	}
	if s.checkLeader && !e.partition.IsLeader() {
		return nil, false, ErrNotLeader
	}
	return e.fsm.engine.Get(key)
}

// Scan returns an iterator over [start, end) (end == nil means
// open-ended), subject to the same checkLeader gate as Get.
func (s *Store) Scan(space proto.SpaceId, part proto.PartId, start, end []byte) (Iterator, error) {
	e, ok := s.entry(space, part)
	if !ok {
		return nil, ErrPartNotFound
	}
	if s.checkLeader && !e.partition.IsLeader() {
		return nil, ErrNotLeader
	}
	return e.fsm.engine.Scan(start, end), nil
}

// PartLeader returns the current leader address. If this replica is not
// the leader, it reports the leader it currently believes the partition
// has (via the raft group's LeaderTerm), so a caller that hit
// LeaderChanged can redirect without blindly re-polling; the zero
// address means the partition has no leader yet.
func (s *Store) PartLeader(space proto.SpaceId, part proto.PartId) (proto.HostAddr, error) {
	e, ok := s.entry(space, part)
	if !ok {
		return proto.HostAddr{}, ErrPartNotFound
	}
	gauge := partLeaderGauge.WithLabelValues(fmt.Sprintf("%d", space), fmt.Sprintf("%d", part))
	if !e.partition.IsLeader() {
		gauge.Set(0)
		if addr, ok := e.partition.LeaderAddr(); ok {
			return addr, nil
		}
		return proto.HostAddr{}, nil
	}
	gauge.Set(1)
	if addr, ok := e.partition.LeaderAddr(); ok {
		return addr, nil
	}
	for _, addr := range e.peers {
		if addr.Host != "" {
			return addr, nil
		}
	}
	return proto.HostAddr{}, nil
}
