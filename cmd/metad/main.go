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

// Command metad is the meta daemon: it owns the well-known (space=0,
// part=0) partition and serves cluster identity and the schema/index/
// host/user metadata service over an HTTP admin surface.
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
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jacobsa/daemonize"
	"github.com/samsarahq/thunder/graphql"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/nebula-contrib/nebulacore/cmd/common"
	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/meta"
	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/raftstore"
	"github.com/nebula-contrib/nebulacore/util/config"
	"github.com/nebula-contrib/nebulacore/util/log"
	"github.com/nebula-contrib/nebulacore/util/pool"
)

// cliFlags is the meta daemon's operator-facing flag set. A flag the
// operator actually passed on the command line overrides the config
// file; an untouched flag only fills gaps the config file left open,
// via config.SetIfAbsent.
type cliFlags struct {
	localIP          string
	port             int64
	reusePort        bool
	dataPath         string
	metaServerAddrs  string
	numIOThreads     int64
	numWorkerThreads int64
	httpThreadNum    int64
	pidFile          string
	daemonize        bool
	upgradeMetaData  bool
}

const moduleName = "metad"

// shutdownTimeout bounds how long the HTTP admin server waits for
// in-flight requests to drain before Shutdown forces the listener closed.
const shutdownTimeout = 5 * time.Second

// Config keys read from the JSON config file.
const (
	cfgKeyLocalIP          = "localIP"
	cfgKeyHeartbeatPort    = "heartbeatPort"
	cfgKeyReplicatePort    = "replicatePort"
	cfgKeyHTTPPort         = "httpPort" // the "port" flag
	cfgKeyReusePort        = "reusePort"
	cfgKeyDataPath         = "dataPath"
	cfgKeyMetaServerAddrs  = "metaServerAddrs" // []interface{} of "host:port" strings
	cfgKeyNodeID           = "nodeID"
	cfgKeyNumIOThreads     = "numIOThreads"
	cfgKeyNumWorkerThreads = "numWorkerThreads"
	cfgKeyAdminWorkers     = "adminWorkers" // the "meta_http_thread_num" flag
	cfgKeyAdminRatePerSec  = "adminRatePerSec"
	cfgKeyPidFile          = "pidFile"
	cfgKeyDaemonize        = "daemonize"
	cfgKeyUpgradeMetaData  = "upgradeMetaData"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "metad: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var foreground bool
	var flags cliFlags
	cmd := &cobra.Command{
		Use:   "metad",
		Short: "Meta daemon: cluster identity and schema/index/host/user metadata service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile, flags, foreground, cmd)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "metad.json", "Path to the JSON configuration file")
	cmd.Flags().StringVar(&flags.localIP, "local_ip", "", "Bind address; empty means use hostname")
	cmd.Flags().Int64Var(&flags.port, "port", 45500, "RPC listen port")
	cmd.Flags().BoolVar(&flags.reusePort, "reuse_port", true, "SO_REUSEPORT on the listen socket")
	cmd.Flags().StringVar(&flags.dataPath, "data_path", "", "Root data directory")
	cmd.Flags().StringVar(&flags.metaServerAddrs, "meta_server_addrs", "", "Comma-separated host:port list; empty means single-node")
	cmd.Flags().Int64Var(&flags.numIOThreads, "num_io_threads", 16, "I/O pool size")
	cmd.Flags().Int64Var(&flags.numWorkerThreads, "num_worker_threads", 32, "Worker pool size")
	cmd.Flags().Int64Var(&flags.httpThreadNum, "meta_http_thread_num", 3, "HTTP admin pool size")
	cmd.Flags().StringVar(&flags.pidFile, "pid_file", "pids/nebula-metad.pid", "PID file path")
	cmd.Flags().BoolVar(&flags.daemonize, "daemonize", true, "Fork into background")
	cmd.Flags().BoolVar(&flags.upgradeMetaData, "upgrade_meta_data", false, "Run the v1->v2 schema upgrade on start")
	// foreground is internal plumbing, not an operator flag: it is how
	// the forked child (re-invoked by startDaemon) tells this process
	// not to fork again.
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of forking (internal)")
	_ = cmd.Flags().MarkHidden("foreground")
	return cmd
}

// startDaemon re-execs the current binary with --foreground placed
// before the original arguments and blocks until the child signals its startup outcome back over the
// pipe daemonize.Run sets up.
func startDaemon() error {
	cmdPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("startDaemon: cannot get absolute command path: %w", err)
	}
	args := append([]string{"--foreground"}, os.Args[1:]...)
	if err := daemonize.Run(cmdPath, args, os.Environ(), os.Stdout); err != nil {
		return fmt.Errorf("startDaemon: %w", err)
	}
	return nil
}

func runDaemon(configFile string, flags cliFlags, foreground bool, cmd *cobra.Command) error {
	if flags.daemonize && !foreground {
		if err := startDaemon(); err != nil {
			return err
		}
		return nil
	}

	if err := log.InitLog("/tmp/metad", moduleName, log.InfoLevel, 10, 3, 7); err != nil {
		return err
	}
	defer log.LogFlush()

	// automaxprocs reads the container's cgroup CPU quota so GOMAXPROCS
	// reflects the actual allotment rather than the host's full core
	// count.
	if _, err := maxprocs.Set(maxprocs.Logger(log.LogInfof)); err != nil {
		log.LogWarnf("metad: automaxprocs: %v", err)
	}

	cfg, err := config.LoadConfigFile(configFile)
	if err != nil {
		_ = daemonize.SignalOutcome(err)
		return fmt.Errorf("metad: load config: %w", err)
	}
	mergeFlags(cfg, flags, cmd)

	if err := writePidFile(cfg.GetString(cfgKeyPidFile)); err != nil {
		_ = daemonize.SignalOutcome(err)
		return fmt.Errorf("metad: pid file: %w", err)
	}

	d := &metad{}
	if err := d.control.Start(d, cfg, doStart); err != nil {
		_ = daemonize.SignalOutcome(err)
		return err
	}
	_ = daemonize.SignalOutcome(nil)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		d.control.Shutdown(d, doShutdown)
	}()

	d.control.Sync()
	return nil
}

// mergeFlags copies every CLI flag into cfg, so the rest of doStart
// keeps reading plain cfg.GetXxx(key). A flag the operator actually
// typed wins over the config file; an untouched flag only supplies a
// default for a key the config file left unset.
func mergeFlags(cfg *config.Config, flags cliFlags, cmd *cobra.Command) {
	set := func(key, name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			cfg.Set(key, value)
			return
		}
		cfg.SetIfAbsent(key, value)
	}
	set(cfgKeyLocalIP, "local_ip", flags.localIP)
	set(cfgKeyHTTPPort, "port", flags.port)
	set(cfgKeyReusePort, "reuse_port", flags.reusePort)
	set(cfgKeyDataPath, "data_path", flags.dataPath)
	if flags.metaServerAddrs != "" {
		parts := strings.Split(flags.metaServerAddrs, ",")
		asSlice := make([]interface{}, len(parts))
		for i, p := range parts {
			asSlice[i] = p
		}
		set(cfgKeyMetaServerAddrs, "meta_server_addrs", asSlice)
	}
	set(cfgKeyNumIOThreads, "num_io_threads", flags.numIOThreads)
	set(cfgKeyNumWorkerThreads, "num_worker_threads", flags.numWorkerThreads)
	set(cfgKeyAdminWorkers, "meta_http_thread_num", flags.httpThreadNum)
	set(cfgKeyPidFile, "pid_file", flags.pidFile)
	set(cfgKeyDaemonize, "daemonize", flags.daemonize)
	set(cfgKeyUpgradeMetaData, "upgrade_meta_data", flags.upgradeMetaData)
}

// writePidFile records the running process id at path, creating parent
// directories as needed; an empty path disables the pid file.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// metad is the process-wide daemon state, one instance per process.
type metad struct {
	control common.Control

	cfg *config.Config

	rs      *raftstore.RaftStore
	mgr     *kvstore.Manager
	store   *kvstore.Store
	ci      *meta.ClusterIdentity
	svc     *meta.Service
	cluster *meta.ClusterService

	httpServer *http.Server
	ioPool     *pool.WorkerPool
	workerPool *pool.WorkerPool
	adminPool  *pool.AdminPool
}

func doStart(s common.Server, cfg *config.Config) error {
	d, ok := s.(*metad)
	if !ok {
		return fmt.Errorf("metad: invalid server type")
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
		return fmt.Errorf("metad: %s is required", cfgKeyDataPath)
	}

	rs, err := raftstore.NewRaftStore(&raftstore.Config{
		NodeID:        nodeID,
		WalPath:       filepath.Join(dataPath, "raft"),
		HeartbeatPort: heartbeatPort,
		ReplicatePort: replicatePort,
	})
	if err != nil {
		return fmt.Errorf("metad: start raft store: %w", err)
	}
	d.rs = rs

	d.mgr = kvstore.NewManager()
	d.store = kvstore.NewStore(d.mgr, rs, nodeID, false)

	engine := kvstore.NewDiskvEngine(filepath.Join(dataPath, "meta"))

	metaAddrs := cfg.GetStringSlice(cfgKeyMetaServerAddrs)
	if len(metaAddrs) == 0 {
		// Single-node: this replica is the whole replica set.
		localIP := cfg.GetString(cfgKeyLocalIP)
		if localIP == "" {
			if hn, herr := os.Hostname(); herr == nil {
				localIP = hn
			} else {
				localIP = "127.0.0.1"
			}
		}
		metaAddrs = []string{fmt.Sprintf("%s:%d", localIP, cfg.GetInt64(cfgKeyHTTPPort))}
	}
	peers, raftPeers, err := parsePeers(metaAddrs)
	if err != nil {
		return fmt.Errorf("metad: parse %s: %w", cfgKeyMetaServerAddrs, err)
	}
	if err := d.store.StartPartition(proto.MetaSpaceId, proto.MetaPartId, engine, peers, raftPeers); err != nil {
		return fmt.Errorf("metad: start meta partition: %w", err)
	}

	d.ci = meta.NewClusterIdentity(d.store, metaAddrs, func() bool { return d.isLeader() })
	if _, err := d.ci.Bootstrap(); err != nil {
		return fmt.Errorf("metad: cluster identity bootstrap: %w", err)
	}

	d.svc = meta.NewService(d.store, func() bool { return d.isLeader() })
	if err := d.svc.BootstrapRootUser(); err != nil {
		log.LogWarnf("metad: bootstrap root user: %v", err)
	}
	d.cluster = meta.NewClusterService(d.svc)

	numIOThreads := int(cfg.GetInt64(cfgKeyNumIOThreads))
	if numIOThreads <= 0 {
		numIOThreads = 16
	}
	d.ioPool = pool.New(numIOThreads, numIOThreads*8)

	numWorkerThreads := int(cfg.GetInt64(cfgKeyNumWorkerThreads))
	if numWorkerThreads <= 0 {
		numWorkerThreads = 32
	}
	d.workerPool = pool.New(numWorkerThreads, numWorkerThreads*8)

	adminWorkers := int(cfg.GetInt64(cfgKeyAdminWorkers))
	if adminWorkers <= 0 {
		adminWorkers = 3
	}
	adminRate := cfg.GetFloat(cfgKeyAdminRatePerSec)
	if adminRate <= 0 {
		adminRate = 200
	}
	d.adminPool = pool.NewAdminPool(adminWorkers, adminWorkers*4, adminRate, adminWorkers*2)

	// The v1->v2 schema upgrade must run on the leader before the HTTP
	// server starts accepting RPCs; routed through workerPool since it
	// is CPU/JSON-bound the same way row encode/decode is.
	if cfg.GetBool(cfgKeyUpgradeMetaData) {
		done := make(chan error, 1)
		if err := d.workerPool.Submit(func() { done <- d.svc.UpgradeAllSchemas() }); err != nil {
			return fmt.Errorf("metad: submit schema upgrade: %w", err)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("metad: upgrade schemas: %w", err)
		}
	}

	if !cfg.GetBool(cfgKeyReusePort) {
		log.LogWarnf("metad: reuse_port=false requested, but this daemon always binds a single plain listener")
	}
	httpPort := int(cfg.GetInt64(cfgKeyHTTPPort))
	if httpPort == 0 {
		httpPort = 45500
	}
	d.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: d.buildRouter()}
	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogErrorf("metad: http server: %v", err)
		}
	}()

	return nil
}

func (d *metad) isLeader() bool {
	p := d.rs.Partition(proto.MetaSpaceId, proto.MetaPartId)
	return p != nil && p.IsLeader()
}

// buildRouter wires the HTTP admin surface. GraphQL (the read-only
// host/user count view) is rate-limited admin traffic and runs on adminPool, sized
// from meta_http_thread_num. /hosts and /heartbeat are plain network
// callbacks against the KV store and run on ioPool instead, via
// TrySubmit so a saturated queue fails fast with 503 rather than piling
// up behind a slow store operation.
func (d *metad) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.Handle("/graphql", d.adminHandler(graphql.HTTPHandler(d.cluster.Schema())))
	r.HandleFunc("/hosts", d.handleListHosts).Methods(http.MethodGet)
	r.HandleFunc("/heartbeat", d.handleHeartbeat).Methods(http.MethodPost)
	return r
}

// adminHandler routes h through adminPool's rate limiter so GraphQL
// queries are throttled the same way as any other admin-pool submission.
func (d *metad) adminHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		err := d.adminPool.Submit(r.Context(), func() {
			defer close(done)
			h.ServeHTTP(w, r)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		<-done
	})
}

func (d *metad) handleListHosts(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	err := d.ioPool.TrySubmit(func() {
		defer close(done)
		hosts, statuses, err := d.svc.ListHosts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type hostView struct {
			Addr   string `json:"addr"`
			Status string `json:"status"`
		}
		out := make([]hostView, len(hosts))
		for i, h := range hosts {
			out[i] = hostView{Addr: h.Addr.String(), Status: statuses[i].String()}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	<-done
}

func (d *metad) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	host, portStr, ok := strings.Cut(addr, ":")
	port, perr := strconv.Atoi(portStr)
	if !ok || perr != nil {
		http.Error(w, "addr must be host:port", http.StatusBadRequest)
		return
	}
	done := make(chan struct{})
	err := d.ioPool.TrySubmit(func() {
		defer close(done)
		if err := d.svc.Heartbeat(proto.HostAddr{Host: host, Port: uint16(port)}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	<-done
}

func doShutdown(s common.Server) {
	d, ok := s.(*metad)
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
	if d.cfg != nil {
		if path := d.cfg.GetString(cfgKeyPidFile); path != "" {
			_ = os.Remove(path)
		}
	}
}

func (d *metad) Shutdown() { doShutdown(d) }
func (d *metad) Sync()     { d.control.Sync() }

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
