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
	"encoding/json"
	"sync/atomic"

	"github.com/tiglabs/raft"
	raftproto "github.com/tiglabs/raft/proto"

	"github.com/nebula-contrib/nebulacore/util/log"
)

// cmdOp is the opcode of a raft-logged command applied to the engine.
type cmdOp uint8

const (
	cmdPut cmdOp = iota
	cmdMultiPut
	cmdMultiRemove
	cmdRemoveRange
)

// raftCmd is the unit committed through raft and replayed by Apply; kvs
// carries either a single pair (cmdPut), a batch (cmdMultiPut), or the
// key list / range bounds for the remove variants.
type raftCmd struct {
	Op    cmdOp    `json:"op"`
	KVs   []KVPair `json:"kvs,omitempty"`
	Keys  [][]byte `json:"keys,omitempty"`
	Start []byte   `json:"start,omitempty"`
	End   []byte   `json:"end,omitempty"`
}

func (c *raftCmd) Marshal() ([]byte, error) { return json.Marshal(c) }
func (c *raftCmd) Unmarshal(b []byte) error { return json.Unmarshal(b, c) }

// leaderChangeHandler is invoked (off the raft goroutine's critical path)
// whenever this partition's leader changes.
type leaderChangeHandler func(leader uint64)

// partitionFsm adapts an Engine to the raft.StateMachine interface:
// one small switch over a logged opcode, an applied-index watermark,
// and a pass-through leader-change callback.
type partitionFsm struct {
	engine  Engine
	applied uint64

	leaderChangeHandler leaderChangeHandler
}

func newPartitionFsm(engine Engine) *partitionFsm {
	return &partitionFsm{engine: engine}
}

func (f *partitionFsm) registerLeaderChangeHandler(h leaderChangeHandler) {
	f.leaderChangeHandler = h
}

// Apply implements raft.StateMachine.
func (f *partitionFsm) Apply(command []byte, index uint64) (interface{}, error) {
	cmd := &raftCmd{}
	if err := cmd.Unmarshal(command); err != nil {
		log.LogErrorf("kvstore: unmarshal raft command at index %d: %v", index, err)
		return nil, err
	}
	var err error
	switch cmd.Op {
	case cmdPut:
		if len(cmd.KVs) == 1 {
			err = f.engine.Put(cmd.KVs[0].Key, cmd.KVs[0].Value)
		}
	case cmdMultiPut:
		err = f.engine.MultiPut(cmd.KVs)
	case cmdMultiRemove:
		err = f.engine.MultiRemove(cmd.Keys)
	case cmdRemoveRange:
		err = f.engine.RemoveRange(cmd.Start, cmd.End)
	}
	if err != nil {
		log.LogErrorf("kvstore: apply index %d op %d failed: %v", index, cmd.Op, err)
		return nil, err
	}
	atomic.StoreUint64(&f.applied, index)
	return nil, nil
}

// ApplyMemberChange implements raft.StateMachine; this layer has no
// membership-side effects of its own, so it is a pass-through.
func (f *partitionFsm) ApplyMemberChange(confChange *raftproto.ConfChange, index uint64) (interface{}, error) {
	return nil, nil
}

// Snapshot implements raft.StateMachine.
func (f *partitionFsm) Snapshot() (raftproto.Snapshot, error) {
	snap, err := f.engine.Snapshot()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{snap: snap, applied: atomic.LoadUint64(&f.applied)}, nil
}

// ApplySnapshot implements raft.StateMachine.
func (f *partitionFsm) ApplySnapshot(peers []raftproto.Peer, iter raftproto.SnapIterator) error {
	for {
		data, err := iter.Next()
		if err != nil {
			break
		}
		kv := KVPair{}
		if err := json.Unmarshal(data, &kv); err != nil {
			return err
		}
		if err := f.engine.Put(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// HandleFatalEvent implements raft.StateMachine.
func (f *partitionFsm) HandleFatalEvent(err *raft.FatalError) {
	log.LogErrorf("kvstore: fatal raft event: %v", err.Err)
	panic(err.Err)
}

// HandleLeaderChange implements raft.StateMachine.
func (f *partitionFsm) HandleLeaderChange(leader uint64) {
	if f.leaderChangeHandler != nil {
		f.leaderChangeHandler(leader)
	}
}

type fsmSnapshot struct {
	snap    Snapshot
	applied uint64
}

func (s *fsmSnapshot) Next() ([]byte, error) {
	key, value, ok := s.snap.Next()
	if !ok {
		return nil, errSnapshotDone
	}
	return json.Marshal(KVPair{Key: key, Value: value})
}

func (s *fsmSnapshot) ApplyIndex() uint64 { return s.applied }

func (s *fsmSnapshot) Close() {
	s.snap.Release()
}

var errSnapshotDone = &snapshotDoneErr{}

type snapshotDoneErr struct{}

func (*snapshotDoneErr) Error() string { return "EOF" }
