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

// Package raftstore wraps github.com/tiglabs/raft into the
// per-partition consensus primitive underneath the KV store: one raft
// group per (space, part), addressed by a small integer group id
// rather than a pointer.
package raftstore

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/tiglabs/raft"
	raftproto "github.com/tiglabs/raft/proto"
	"github.com/tiglabs/raft/storage/wal"

	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/util/errors"
	"github.com/nebula-contrib/nebulacore/util/log"
)

// GroupID derives the raft group identifier for a (space, part) pair.
// Spreading space into the high bits keeps groups from different spaces
// from colliding while staying a plain uint64 the tiglabs/raft library
// expects.
func GroupID(space proto.SpaceId, part proto.PartId) uint64 {
	return uint64(space)<<32 | uint64(part)
}

// Peer is one replica's raft identity: its numeric node id plus the
// network address used to dial it.
type Peer struct {
	NodeID uint64
	Addr   proto.HostAddr
}

// RaftStore owns the shared raft.RaftServer and the partitions created
// on top of it: one server per process, one raft group per partition.
type RaftStore struct {
	nodeID  uint64
	walPath string
	server  *raft.RaftServer

	mu         sync.RWMutex
	partitions map[uint64]*Partition
}

// Config carries the listen addresses the embedded raft.RaftServer binds
// and the directory raft write-ahead logs are kept under.
type Config struct {
	NodeID        uint64
	WalPath       string
	HeartbeatPort int
	ReplicatePort int
}

// NewRaftStore boots the shared raft.RaftServer for this process.
func NewRaftStore(cfg *Config) (*RaftStore, error) {
	rc := raft.DefaultConfig()
	rc.NodeID = cfg.NodeID
	rc.HeartbeatAddr = fmt.Sprintf(":%d", cfg.HeartbeatPort)
	rc.ReplicateAddr = fmt.Sprintf(":%d", cfg.ReplicatePort)
	server, err := raft.NewRaftServer(rc)
	if err != nil {
		return nil, errors.Trace(err, "raftstore: start raft server")
	}
	return &RaftStore{
		nodeID:     cfg.NodeID,
		walPath:    cfg.WalPath,
		server:     server,
		partitions: make(map[uint64]*Partition),
	}, nil
}

// CreatePartition starts (or rejoins) the raft group for (space, part)
// with the given FSM and peer set. Idempotent: calling it again for an
// already-known group returns the existing Partition.
func (rs *RaftStore) CreatePartition(space proto.SpaceId, part proto.PartId, peers []Peer, fsm raft.StateMachine) (*Partition, error) {
	gid := GroupID(space, part)

	rs.mu.Lock()
	if p, ok := rs.partitions[gid]; ok {
		rs.mu.Unlock()
		return p, nil
	}
	rs.mu.Unlock()

	raftPeers := make([]raftproto.Peer, 0, len(peers))
	for _, p := range peers {
		raftPeers = append(raftPeers, raftproto.Peer{ID: p.NodeID})
	}
	walDir := path.Join(rs.walPath, strconv.FormatUint(gid, 10))
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, errors.Trace(err, "raftstore: create wal dir %s", walDir)
	}
	st, err := wal.NewStorage(walDir, &wal.Config{})
	if err != nil {
		return nil, errors.Trace(err, "raftstore: open wal storage %s", walDir)
	}
	rconf := &raft.RaftConfig{
		ID:           gid,
		Peers:        raftPeers,
		Storage:      st,
		StateMachine: fsm,
		Applied:      0,
	}
	if err := rs.server.CreateRaft(rconf); err != nil {
		return nil, errors.Trace(err, "raftstore: create raft group %d", gid)
	}

	part2 := &Partition{
		space:  space,
		part:   part,
		gid:    gid,
		server: rs.server,
		peers:  peers,
	}
	rs.mu.Lock()
	rs.partitions[gid] = part2
	rs.mu.Unlock()
	log.LogInfof("raftstore: created partition space=%d part=%d gid=%d peers=%d", space, part, gid, len(peers))
	return part2, nil
}

// Partition returns the previously-created Partition for (space, part),
// or nil if none exists yet.
func (rs *RaftStore) Partition(space proto.SpaceId, part proto.PartId) *Partition {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.partitions[GroupID(space, part)]
}

// Stop tears down every raft group owned by this store.
func (rs *RaftStore) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for gid := range rs.partitions {
		rs.server.RemoveRaft(gid)
	}
	rs.partitions = make(map[uint64]*Partition)
}

// Partition is a handle to one raft group, exposing the subset of
// tiglabs/raft's surface the KV store and cluster-identity logic need:
// submit, leadership, and applied-index queries.
type Partition struct {
	space  proto.SpaceId
	part   proto.PartId
	gid    uint64
	server *raft.RaftServer
	peers  []Peer
}

// Submit proposes a command to the raft log and blocks until it commits
// (or fails); the KV store layers its own async callback on top of this.
func (p *Partition) Submit(cmd []byte) (interface{}, error) {
	future := p.server.Submit(p.gid, cmd)
	resp, err := future.Response()
	if err != nil {
		return nil, errors.Trace(err, "raftstore: submit gid=%d", p.gid)
	}
	return resp, nil
}

// IsLeader reports whether this node currently believes itself leader of
// the partition.
func (p *Partition) IsLeader() bool {
	return p.server.IsLeader(p.gid)
}

// LeaderTerm returns the node id this replica currently believes leads
// the partition (0 if the group has no leader yet) and the raft term of
// that belief.
func (p *Partition) LeaderTerm() (leader, term uint64) {
	return p.server.LeaderTerm(p.gid)
}

// LeaderAddr resolves the current suspected leader's HostAddr by looking
// up LeaderTerm's node id in the partition's peer set. It returns false
// if the group has no leader yet or the leader id isn't among the known
// peers.
func (p *Partition) LeaderAddr() (proto.HostAddr, bool) {
	leaderID, _ := p.LeaderTerm()
	if leaderID == 0 {
		return proto.HostAddr{}, false
	}
	for _, peer := range p.peers {
		if peer.NodeID == leaderID {
			return peer.Addr, true
		}
	}
	return proto.HostAddr{}, false
}

// AppliedIndex returns the last raft log index applied to this group's
// state machine.
func (p *Partition) AppliedIndex() uint64 {
	return p.server.AppliedIndex(p.gid)
}

// Peers returns the replica set this partition was created with.
func (p *Partition) Peers() []Peer {
	return p.peers
}

// TryToLeader asks the raft group to elect this node leader.
func (p *Partition) TryToLeader() error {
	future := p.server.TryToLeader(p.gid)
	_, err := future.Response()
	return err
}
