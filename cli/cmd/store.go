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

package cmd

import (
	"path/filepath"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/meta"
	"github.com/nebula-contrib/nebulacore/proto"
)

// embedded bundles the handles nebulactl needs to act against a local,
// single-node meta partition: no raft peers, no network — the
// partition is always its own (only) leader.
type embedded struct {
	store   *kvstore.Store
	svc     *meta.Service
	cluster *meta.ClusterIdentity
}

// openEmbedded mounts (or creates) a meta partition rooted at dataPath,
// on top of the on-disk diskv engine so state survives between
// invocations of the tool.
func openEmbedded(dataPath string) *embedded {
	engine := kvstore.NewDiskvEngine(filepath.Join(dataPath, "meta"))
	mgr := kvstore.NewManager()
	store := kvstore.NewTestStore(mgr)
	loopback := kvstore.NewLoopbackPartition(engine)
	selfAddr := proto.HostAddr{Host: "embedded", Port: 0}
	store.StartTestPartition(proto.MetaSpaceId, proto.MetaPartId, engine, loopback, []proto.HostAddr{selfAddr})

	isLeader := func() bool { return true }
	svc := meta.NewService(store, isLeader)
	cluster := meta.NewClusterIdentity(store, []string{selfAddr.String()}, isLeader)
	return &embedded{store: store, svc: svc, cluster: cluster}
}
