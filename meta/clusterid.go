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

// Package meta implements cluster identity and the metadata service:
// the well-known (space=0, part=0) partition that every daemon
// bootstraps against before serving any other RPC.
package meta

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/util/log"
)

// clusterIDReady flips to 1 once Bootstrap resolves a non-zero cluster id,
// so an operator can tell a replica stuck waiting on leader election or a
// follower's backoff loop apart from one that has never started.
var clusterIDReady = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "nebulacore_meta_cluster_id_ready",
	Help: "1 once this replica has resolved a non-zero cluster id, 0 until then.",
})

func init() {
	prometheus.MustRegister(clusterIDReady)
}

// clusterIDKey is the reserved key the cluster id is persisted under, per
// the data model's __meta_cluster_id_key__.
const clusterIDKey = "__meta_cluster_id_key__"

// ClusterIdentity is the race-to-write bootstrap of a non-zero 64-bit
// cluster id through the meta partition: gate on the partition electing
// a leader, then read, derive, or wait.
type ClusterIdentity struct {
	store      *kvstore.Store
	isLeaderFn func() bool
	peers      []string // canonical sorted "host:port" list, for id derivation
}

// NewClusterIdentity wires the identity bootstrap to a store and the
// caller's sorted peer list.
func NewClusterIdentity(store *kvstore.Store, peers []string, isLeaderFn func() bool) *ClusterIdentity {
	sorted := append([]string{}, peers...)
	sort.Strings(sorted)
	return &ClusterIdentity{store: store, peers: sorted, isLeaderFn: isLeaderFn}
}

// Bootstrap waits for the meta partition to elect a leader, then follows
// the read/derive/write protocol in the data model section: a follower
// never writes the key, a leader never rewrites it once present.
func (c *ClusterIdentity) Bootstrap() (uint64, error) {
	for {
		leader, err := c.store.PartLeader(proto.MetaSpaceId, proto.MetaPartId)
		if err == nil && !leader.IsZero() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	for {
		raw, ok, err := c.store.Get(proto.MetaSpaceId, proto.MetaPartId, []byte(clusterIDKey))
		if err != nil {
			return 0, err
		}
		if ok {
			id := decodeClusterID(raw)
			log.LogInfof("meta: adopted existing cluster id %d", id)
			clusterIDReady.Set(1)
			return id, nil
		}

		if c.isLeaderFn() {
			id := deriveClusterID(c.peers)
			encoded := encodeClusterID(id)
			done := make(chan proto.KVCode, 1)
			c.store.AsyncMultiPut(proto.MetaSpaceId, proto.MetaPartId,
				[]kvstore.KVPair{{Key: []byte(clusterIDKey), Value: encoded}},
				func(code proto.KVCode) { done <- code })
			code := <-done
			if code != proto.KVSucceeded {
				log.LogErrorf("meta: failed to persist cluster id, code=%v", code)
				return 0, ErrClusterIDWriteFailed
			}
			log.LogInfof("meta: leader minted cluster id %d", id)
			clusterIDReady.Set(1)
			return id, nil
		}

		// Follower: re-read with a fixed backoff until the leader's write
		// becomes visible.
		time.Sleep(time.Second)
	}
}

// deriveClusterID derives a non-zero 64-bit id from the canonical,
// sorted meta-peer list, salted so an empty or single-node cluster
// still yields a nonzero value.
func deriveClusterID(sortedPeers []string) uint64 {
	h := xxhash.New()
	h.Write([]byte("nebulacore-cluster-id-salt"))
	h.Write([]byte(strings.Join(sortedPeers, ",")))
	id := h.Sum64()
	if id == 0 {
		id = 1
	}
	return id
}

func encodeClusterID(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

func decodeClusterID(raw []byte) uint64 {
	id, _ := strconv.ParseUint(string(raw), 10, 64)
	return id
}
