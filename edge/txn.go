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

// Package edge implements the atomic edge writer and its backing
// transaction manager: the local (out-edge) write and the remote
// (in-edge) write commit together, or neither is visible.
package edge

import (
	"fmt"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/util/log"
)

// chainCommitLatency tracks how long a chain's local+remote+record commit
// takes end to end, split by outcome so a climbing failure bucket shows up
// before the breaker trips.
var chainCommitLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "nebulacore_edge_chain_commit_seconds",
	Help:    "Latency of AddSamePartEdges chain commits, by outcome.",
	Buckets: prometheus.DefBuckets,
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(chainCommitLatency)
}

// Chain is the (local_part, remote_part) pair a two-sided edge write is
// routed through.
type Chain struct {
	Local  proto.PartId
	Remote proto.PartId
}

// TxnManager commits a chain's local and remote batches as one logical
// transaction: it writes the local batch, then the remote batch, then
// a transaction record; the local batch is removed again when the remote
// write fails.
type TxnManager struct {
	store *kvstore.Store
}

// NewTxnManager wires the transaction manager to the replicated store.
func NewTxnManager(store *kvstore.Store) *TxnManager {
	return &TxnManager{store: store}
}

// remoteCommandName breaks the circuit per remote partition: a partition
// whose raft group is partitioned away from the rest of the cluster
// shouldn't let every chain routed through it pile up waiting on the same
// dead remote write.
func remoteCommandName(remote proto.PartId) string {
	return fmt.Sprintf("edge.remote-write.part-%d", remote)
}

func init() {
	hystrix.DefaultTimeout = 5000
	hystrix.DefaultMaxConcurrent = 256
	hystrix.DefaultErrorPercentThreshold = 50
	hystrix.DefaultVolumeThreshold = 20
	hystrix.DefaultSleepWindow = 2000
}

// txRecordPrefix is where committed transaction ids are recorded. Each
// AddSamePartEdges call mints a fresh id, and the records are not read
// back by AddSamePartEdges.
const txRecordPrefix = "__txn__/"

// AddSamePartEdges commits kvs (out-edges, in local) and remote kvs
// (in-edges, in remote) as one transaction, plus any secondary index
// entries (indexKVs) within the same commit. On any failure it returns
// the failing KV code without partially finalizing success.
func (m *TxnManager) AddSamePartEdges(space proto.SpaceId, chain Chain, localKVs, remoteKVs, indexKVs []kvstore.KVPair) proto.KVCode {
	start := time.Now()
	txID := xid.New().String()

	localDone := make(chan proto.KVCode, 1)
	allLocal := append(append([]kvstore.KVPair{}, localKVs...), indexKVs...)
	m.store.AsyncMultiPut(space, chain.Local, allLocal, func(c proto.KVCode) { localDone <- c })
	if code := <-localDone; code != proto.KVSucceeded {
		log.LogErrorf("edge: local write failed chain=%+v code=%v", chain, code)
		chainCommitLatency.WithLabelValues("local_failed").Observe(time.Since(start).Seconds())
		return code
	}

	var remoteCode proto.KVCode
	hystrixErr := hystrix.Do(remoteCommandName(chain.Remote), func() error {
		remoteDone := make(chan proto.KVCode, 1)
		m.store.AsyncMultiPut(space, chain.Remote, remoteKVs, func(c proto.KVCode) { remoteDone <- c })
		remoteCode = <-remoteDone
		if remoteCode != proto.KVSucceeded {
			return fmt.Errorf("remote write failed: %v", remoteCode)
		}
		return nil
	}, nil)
	if hystrixErr != nil {
		if remoteCode == proto.KVSucceeded {
			// Tripped by the breaker itself (open circuit or timeout)
			// rather than a reported KV failure; the remote side's
			// actual state is unknown, so treat it the same as any
			// other remote failure and roll back the local half.
			remoteCode = proto.KVUnknown
		}
		log.LogErrorf("edge: remote write failed chain=%+v err=%v; rolling back local side", chain, hystrixErr)
		m.rollbackLocal(space, chain.Local, localKVs, indexKVs)
		chainCommitLatency.WithLabelValues("remote_failed").Observe(time.Since(start).Seconds())
		return remoteCode
	}

	recordDone := make(chan proto.KVCode, 1)
	recordKey := []byte(txRecordPrefix + txID)
	m.store.AsyncMultiPut(space, chain.Local, []kvstore.KVPair{{Key: recordKey, Value: []byte("committed")}}, func(c proto.KVCode) { recordDone <- c })
	<-recordDone // a lost commit-record write does not undo an already-durable edge

	chainCommitLatency.WithLabelValues("succeeded").Observe(time.Since(start).Seconds())
	return proto.KVSucceeded
}

// rollbackLocal removes the local side of a chain whose remote write
// failed, restoring the "neither side visible" half of the invariant.
func (m *TxnManager) rollbackLocal(space proto.SpaceId, local proto.PartId, localKVs, indexKVs []kvstore.KVPair) {
	keys := make([][]byte, 0, len(localKVs)+len(indexKVs))
	for _, kv := range localKVs {
		keys = append(keys, kv.Key)
	}
	for _, kv := range indexKVs {
		keys = append(keys, kv.Key)
	}
	done := make(chan proto.KVCode, 1)
	m.store.AsyncMultiRemove(space, local, keys, func(c proto.KVCode) { done <- c })
	if code := <-done; code != proto.KVSucceeded {
		log.LogErrorf("edge: rollback of local side failed, space=%d part=%d code=%v", space, local, code)
	}
}
