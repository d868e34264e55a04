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

// Command storaged is the storage daemon: it owns the data partitions
// of every space it is assigned, and serves the lookup planner, the
// base processor and the atomic edge writer over an HTTP surface.
// Process wiring mirrors cmd/metad's Start/doStart/Shutdown shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/nebula-contrib/nebulacore/cmd/common"
	"github.com/nebula-contrib/nebulacore/edge"
	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/planner"
	"github.com/nebula-contrib/nebulacore/processor"
	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/raftstore"
	"github.com/nebula-contrib/nebulacore/util/config"
	"github.com/nebula-contrib/nebulacore/util/log"
	"github.com/nebula-contrib/nebulacore/util/pool"
)

const moduleName = "storaged"

// shutdownTimeout bounds how long the HTTP admin server waits for
// in-flight requests to drain before Shutdown forces the listener closed.
const shutdownTimeout = 5 * time.Second

// Config keys read from the JSON config file, mirrored from cmd/metad.
const (
	cfgKeyLocalIP          = "localIP"
	cfgKeyHeartbeatPort    = "heartbeatPort"
	cfgKeyReplicatePort    = "replicatePort"
	cfgKeyHTTPPort         = "httpPort"
	cfgKeyDataPath         = "dataPath"
	cfgKeyNodeID           = "nodeID"
	cfgKeyNumIOThreads     = "numIOThreads"
	cfgKeyNumWorkerThreads = "numWorkerThreads"
	cfgKeyAdminWorkers     = "adminWorkers"
	cfgKeyAdminRatePerSec  = "adminRatePerSec"
	cfgKeySpaceID          = "spaceID"
	cfgKeyVidLen           = "vidLen"
	cfgKeyPartPeers        = "partPeers" // []interface{} of "host:port" per local partition, index == partID-1
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "storaged: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "storaged",
		Short: "Storage daemon: partitioned KV store, lookup planner, and atomic edge writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "storaged.json", "Path to the JSON configuration file")
	return cmd
}

func runDaemon(configFile string) error {
	if err := log.InitLog("/tmp/storaged", moduleName, log.InfoLevel, 10, 3, 7); err != nil {
		return err
	}
	defer log.LogFlush()

	if _, err := maxprocs.Set(maxprocs.Logger(log.LogInfof)); err != nil {
		log.LogWarnf("storaged: automaxprocs: %v", err)
	}

	cfg, err := config.LoadConfigFile(configFile)
	if err != nil {
		return fmt.Errorf("storaged: load config: %w", err)
	}

	d := &storaged{}
	if err := d.control.Start(d, cfg, doStart); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		d.control.Shutdown(d, doShutdown)
	}()

	d.control.Sync()
	return nil
}

// registry is storaged's local cache of the schema/index/vid-len facts
// the meta service owns. The daemon does not poll metad; operators seed
// it directly through the /schema and /index admin endpoints below.
type registry struct {
	mu       sync.RWMutex
	spaceID  proto.SpaceId
	vidLen   int
	numParts uint32
	schemas  map[proto.SchemaId]*proto.Schema
	indexes  map[proto.IndexId]*proto.IndexItem
}

func newRegistry(space proto.SpaceId, vidLen int, numParts uint32) *registry {
	return &registry{
		spaceID:  space,
		vidLen:   vidLen,
		numParts: numParts,
		schemas:  make(map[proto.SchemaId]*proto.Schema),
		indexes:  make(map[proto.IndexId]*proto.IndexItem),
	}
}

func (r *registry) VidLen(space proto.SpaceId) (int, bool) {
	if space != r.spaceID {
		return 0, false
	}
	return r.vidLen, true
}

// PartOf hashes a vertex id to a 1-based partition id within the space,
// mirroring the meta package's salted xxhash use for deriving stable
// identifiers from opaque byte strings.
func (r *registry) PartOf(space proto.SpaceId, vid proto.VertexId) (proto.PartId, bool) {
	if space != r.spaceID || r.numParts == 0 {
		return 0, false
	}
	h := xxhash.Sum64(vid)
	return proto.PartId(h%uint64(r.numParts)) + 1, true
}

func (r *registry) Schema(id proto.SchemaId) (*proto.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

func (r *registry) PutSchema(s *proto.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Id] = s
}

func (r *registry) Index(id proto.IndexId) (*proto.IndexItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.indexes[id]
	return it, ok
}

func (r *registry) Indexes(space proto.SpaceId) []*proto.IndexItem {
	if space != r.spaceID {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*proto.IndexItem, 0, len(r.indexes))
	for _, it := range r.indexes {
		out = append(out, it)
	}
	return out
}

func (r *registry) PutIndex(it *proto.IndexItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[it.IndexId] = it
}

// storaged is the process-wide daemon state, one instance per process.
type storaged struct {
	control common.Control

	cfg *config.Config

	rs     *raftstore.RaftStore
	mgr    *kvstore.Manager
	store  *kvstore.Store
	reg    *registry
	codec  proto.RowCodec
	txn    *edge.TxnManager
	writer *edge.Writer

	ioPool     *pool.WorkerPool
	workerPool *pool.WorkerPool
	adminPool  *pool.AdminPool

	httpServer *http.Server
}

func doStart(s common.Server, cfg *config.Config) error {
	d, ok := s.(*storaged)
	if !ok {
		return fmt.Errorf("storaged: invalid server type")
	}
	d.cfg = cfg

	nodeID := uint64(cfg.GetInt64(cfgKeyNodeID))
	if nodeID == 0 {
		nodeID = 1
	}
	heartbeatPort := int(cfg.GetInt64(cfgKeyHeartbeatPort))
	replicatePort := int(cfg.GetInt64(cfgKeyReplicatePort))

	dataPath := cfg.GetString(cfgKeyDataPath)
	if dataPath == "" {
		return fmt.Errorf("storaged: %s is required", cfgKeyDataPath)
	}

	rs, err := raftstore.NewRaftStore(&raftstore.Config{
		NodeID:        nodeID,
		WalPath:       filepath.Join(dataPath, "raft"),
		HeartbeatPort: heartbeatPort,
		ReplicatePort: replicatePort,
	})
	if err != nil {
		return fmt.Errorf("storaged: start raft store: %w", err)
	}
	d.rs = rs

	d.mgr = kvstore.NewManager()
	// checkLeader stays on for storaged: unlike metad, storage daemons do
	// not serve follower reads by default.
	d.store = kvstore.NewStore(d.mgr, rs, nodeID, true)

	spaceID := proto.SpaceId(cfg.GetInt64(cfgKeySpaceID))
	vidLen := int(cfg.GetInt64(cfgKeyVidLen))
	if vidLen <= 0 {
		vidLen = 8
	}

	partPeerAddrs := cfg.GetStringSlice(cfgKeyPartPeers)
	if len(partPeerAddrs) == 0 {
		return fmt.Errorf("storaged: %s must list at least one partition's peers", cfgKeyPartPeers)
	}
	d.reg = newRegistry(spaceID, vidLen, uint32(len(partPeerAddrs)))

	for i, addrList := range partPeerAddrs {
		partID := proto.PartId(i + 1)
		peers, raftPeers, err := parsePeers(strings.Split(addrList, ","))
		if err != nil {
			return fmt.Errorf("storaged: parse partPeers[%d]: %w", i, err)
		}
		engine := kvstore.NewDiskvEngine(filepath.Join(dataPath, fmt.Sprintf("part-%d", partID)))
		if err := d.store.StartPartition(spaceID, partID, engine, peers, raftPeers); err != nil {
			return fmt.Errorf("storaged: start partition %d: %w", partID, err)
		}
	}

	d.codec = proto.NewRowCodec()
	d.txn = edge.NewTxnManager(d.store)
	d.writer = edge.NewWriter(d.txn, d.reg.VidLen, d.reg.PartOf, d.reg.Schema, d.reg.Indexes, d.codec)

	numIO := int(cfg.GetInt64(cfgKeyNumIOThreads))
	if numIO <= 0 {
		numIO = 16
	}
	numWorker := int(cfg.GetInt64(cfgKeyNumWorkerThreads))
	if numWorker <= 0 {
		numWorker = 32
	}
	d.ioPool = pool.New(numIO, numIO*8)
	d.workerPool = pool.New(numWorker, numWorker*8)

	adminWorkers := int(cfg.GetInt64(cfgKeyAdminWorkers))
	if adminWorkers <= 0 {
		adminWorkers = 8
	}
	adminRate := cfg.GetFloat(cfgKeyAdminRatePerSec)
	if adminRate <= 0 {
		adminRate = 200
	}
	d.adminPool = pool.NewAdminPool(adminWorkers, adminWorkers*4, adminRate, adminWorkers*2)

	httpPort := int(cfg.GetInt64(cfgKeyHTTPPort))
	if httpPort == 0 {
		httpPort = 44500
	}
	d.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: d.buildRouter()}
	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogErrorf("storaged: http server: %v", err)
		}
	}()

	return nil
}

func (d *storaged) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/addEdgesAtomic", d.handleAddEdgesAtomic).Methods(http.MethodPost)
	r.HandleFunc("/updateVertex", d.handleUpdateVertex).Methods(http.MethodPost)
	r.HandleFunc("/lookupIndex", d.handleLookupIndex).Methods(http.MethodPost)
	r.HandleFunc("/partLeader", d.handlePartLeader).Methods(http.MethodGet)
	r.HandleFunc("/schema", d.handlePutSchema).Methods(http.MethodPost)
	r.HandleFunc("/index", d.handlePutIndex).Methods(http.MethodPost)
	return r
}

// handleAddEdgesAtomic runs the edge writer on the I/O pool: decoding
// the request body is cheap, but the writer's encode+commit work
// belongs off the HTTP goroutine.
func (d *storaged) handleAddEdgesAtomic(w http.ResponseWriter, r *http.Request) {
	var req proto.AddEdgesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respCh := make(chan *proto.ExecResponse, 1)
	if err := d.ioPool.Submit(func() {
		respCh <- d.writer.AddEdgesAtomic(&req)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := <-respCh
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleUpdateVertex fans an UpdateVertexRequest out across its
// partitions through the base processor: one AsyncMultiPut per
// partition, joined by the processor's callingNum latch, with the
// response listing only the partitions that failed.
func (d *storaged) handleUpdateVertex(w http.ResponseWriter, r *http.Request) {
	var req proto.UpdateVertexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Parts) == 0 {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&proto.UpdateResponse{})
		return
	}

	respCh := make(chan *proto.UpdateResponse, 1)
	resolver := func(part proto.PartId) (proto.HostAddr, bool) {
		addr, err := d.store.PartLeader(req.SpaceId, part)
		return addr, err == nil && !addr.IsZero()
	}
	proc := processor.New("updateVertex", len(req.Parts), resolver, func(results []proto.PartitionResult) {
		respCh <- &proto.UpdateResponse{Results: results}
	})

	for part, updates := range req.Parts {
		part, updates := part, updates
		kvs := make([]kvstore.KVPair, 0, len(updates))
		faultCode := proto.Succeeded
		for _, u := range updates {
			schema, ok := d.reg.Schema(u.TagId)
			if !ok {
				faultCode = proto.SchemaNotFound
				break
			}
			encoded, fault, err := d.codec.Encode(schema, u.Props)
			if err != nil {
				faultCode = proto.TranslateTagFault(fault)
				break
			}
			kvs = append(kvs, kvstore.KVPair{Key: proto.EncodeVertexKey(part, u.Vid, u.TagId), Value: encoded})
		}
		if faultCode != proto.Succeeded {
			proc.PushResultCode(part, faultCode)
			continue
		}
		proc.LogPartitionEvent(part, "dispatched")
		if err := d.ioPool.Submit(func() {
			d.store.AsyncMultiPut(req.SpaceId, part, kvs, func(code proto.KVCode) {
				proc.HandleAsync(part, code)
			})
		}); err != nil {
			proc.HandleLost(part)
		}
	}

	resp := <-respCh
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleLookupIndex compiles the request into a plan on the worker pool
// (CPU-bound planning work) and returns the plan's node shape and fixed
// column order. Pulling rows through the plan is the execution phase
// the planner hands off to, so this handler's response is the compiled
// plan, not materialized rows.
func (d *storaged) handleLookupIndex(w http.ResponseWriter, r *http.Request) {
	var req proto.LookupIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	type planResp struct {
		Columns []string           `json:"columns"`
		Nodes   []planner.NodeKind `json:"nodes"`
		Error   string             `json:"error,omitempty"`
	}
	respCh := make(chan planResp, 1)
	if err := d.workerPool.Submit(func() {
		plan, err := planner.Build(&req, d.reg.Index, d.reg.Schema)
		if err != nil {
			respCh <- planResp{Error: err.Error()}
			return
		}
		kinds := make([]planner.NodeKind, len(plan.Nodes))
		for i, n := range plan.Nodes {
			kinds[i] = n.Kind
		}
		respCh <- planResp{Columns: plan.Columns, Nodes: kinds}
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := <-respCh
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != "" {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (d *storaged) handlePartLeader(w http.ResponseWriter, r *http.Request) {
	spaceID := d.reg.spaceID
	partID, err := strconv.Atoi(r.URL.Query().Get("part"))
	if err != nil {
		http.Error(w, "part query param required", http.StatusBadRequest)
		return
	}
	leader, err := d.store.PartLeader(spaceID, proto.PartId(partID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(leader)
}

// handlePutSchema and handlePutIndex seed the registry an operator (or a
// future meta-client poller) pushes schema/index definitions through,
// standing in for a live sync from metad's Meta Service.
func (d *storaged) handlePutSchema(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	if err := d.adminPool.Submit(r.Context(), func() {
		defer close(done)
		var schema proto.Schema
		if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.reg.PutSchema(&schema)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	<-done
}

func (d *storaged) handlePutIndex(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	if err := d.adminPool.Submit(r.Context(), func() {
		defer close(done)
		var item proto.IndexItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.reg.PutIndex(&item)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	<-done
}

func doShutdown(s common.Server) {
	d, ok := s.(*storaged)
	if !ok {
		return
	}
	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = d.httpServer.Shutdown(ctx)
	}
	if d.adminPool != nil {
		d.adminPool.Close()
	}
	if d.ioPool != nil {
		d.ioPool.Close()
	}
	if d.workerPool != nil {
		d.workerPool.Close()
	}
	if d.rs != nil {
		d.rs.Stop()
	}
}

func (d *storaged) Shutdown() { doShutdown(d) }
func (d *storaged) Sync()     { d.control.Sync() }

func parsePeers(addrs []string) ([]proto.HostAddr, []raftstore.Peer, error) {
	hostAddrs := make([]proto.HostAddr, 0, len(addrs))
	raftPeers := make([]raftstore.Peer, 0, len(addrs))
	for i, addr := range addrs {
		host, portStr, ok := strings.Cut(addr, ":")
		port, err := strconv.Atoi(portStr)
		if !ok || err != nil {
			return nil, nil, fmt.Errorf("invalid peer address %q", addr)
		}
		hostAddrs = append(hostAddrs, proto.HostAddr{Host: host, Port: uint16(port)})
		raftPeers = append(raftPeers, raftstore.Peer{NodeID: uint64(i + 1), Addr: proto.HostAddr{Host: host, Port: uint16(port)}})
	}
	return hostAddrs, raftPeers, nil
}
