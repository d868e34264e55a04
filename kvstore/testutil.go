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
	"sync/atomic"

	"github.com/nebula-contrib/nebulacore/proto"
)

// LoopbackPartition is a raftPartition fake that applies commands
// directly to an in-process fsm instead of going through a real raft
// group; it reports itself as leader unless SetLeader(false) is called.
// Exported so other packages'
// tests can exercise Store without a live raft cluster.
type LoopbackPartition struct {
	fsm    *partitionFsm
	index  uint64
	leader bool
}

// NewLoopbackPartition builds a single-node fake bound to engine, leader
// from the start, for use with Store.StartTestPartition.
func NewLoopbackPartition(engine Engine) *LoopbackPartition {
	return &LoopbackPartition{fsm: newPartitionFsm(engine), leader: true}
}

// Submit replays cmd against the bound engine synchronously, mirroring
// what a single-node raft group would do once the entry commits.
func (p *LoopbackPartition) Submit(cmd []byte) (interface{}, error) {
	idx := atomic.AddUint64(&p.index, 1)
	return p.fsm.Apply(cmd, idx)
}

// IsLeader reports the fake's leadership state: true unless SetLeader
// has set it false.
func (p *LoopbackPartition) IsLeader() bool { return p.leader }

// SetLeader flips the fake's leadership state, for exercising the
// LeaderChanged path.
func (p *LoopbackPartition) SetLeader(v bool) { p.leader = v }

// LeaderAddr always reports unknown: this single-node fake has no peer
// set to resolve a foreign leader id against.
func (p *LoopbackPartition) LeaderAddr() (proto.HostAddr, bool) { return proto.HostAddr{}, false }

// NewTestStore builds a Store with no RaftStore attached, suitable only
// for tests that register partitions via StartTestPartition.
func NewTestStore(mgr *Manager) *Store {
	return &Store{mgr: mgr, entries: make(map[partKey]*partEntry)}
}
