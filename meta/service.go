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

package meta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ping/ping"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
	"github.com/nebula-contrib/nebulacore/util/log"
)

// schemaCacheSize bounds the decoded-schema LRU: generous enough that a
// space with a modest number of live schema versions never evicts a
// version still being read from, while bounding memory under a runaway
// client that requests many distinct (space, id, version) triples.
const schemaCacheSize = 4096

const (
	schemaPrefix = "__schema__/"
	indexPrefix  = "__index__/"
	hostPrefix   = "__host__/"
	userPrefix   = "__user__/"

	rootUserName = "root"

	// heartbeatTimeout is the fixed window after which a host with no
	// refreshed heartbeat is given an active probe before being reported
	// Offline by ListHosts.
	heartbeatTimeout = 15 * time.Second

	// pingTimeout bounds the active probe so one unreachable host never
	// stalls ListHosts for the rest of the fleet.
	pingTimeout = 2 * time.Second

	currentSchemaVersion = 2
	legacySchemaVersion  = 1
)

var hostsOnlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "nebulacore_hosts_online",
	Help: "Number of storage hosts considered online by the meta service.",
})

func init() {
	prometheus.MustRegister(hostsOnlineGauge)
}

// User is a meta-service account record. AccessKey lets gateway-style
// callers look an account up without knowing its name; the root-user
// bootstrap is the single write path that indirection later reads from.
type User struct {
	Name      string `json:"name"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	IsRoot    bool   `json:"is_root"`
}

// HostRecord tracks a storage host's liveness via heartbeat tokens.
type HostRecord struct {
	Addr          proto.HostAddr `json:"addr"`
	HeartbeatTok  string         `json:"heartbeat_token"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
}

// Status is the liveness classification ListHosts computes from
// LastHeartbeat against the fixed timeout.
type Status uint8

const (
	Online Status = iota
	Offline
)

func (s Status) String() string {
	if s == Online {
		return "Online"
	}
	return "Offline"
}

// HostProber actively checks whether a host is still reachable, used as
// a second opinion before a host with a stale heartbeat is declared
// Offline: a delayed heartbeat under load looks the same as a dead
// process until something actually reaches out to it.
type HostProber func(host string) bool

// defaultHostProber sends a single unprivileged ICMP echo via go-ping.
// SetPrivileged(false) uses a UDP datagram socket so this runs without
// CAP_NET_RAW; a host is considered reachable only if a reply arrives
// within pingTimeout.
func defaultHostProber(host string) bool {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// storedSchema is the persisted envelope for one schema version, keyed
// by space/id/version so multiple versions coexist (schemas are
// immutable per version; new versions append).
type storedSchema struct {
	Schema   proto.Schema `json:"schema"`
	IsEdge   bool         `json:"is_edge"`
	Upgraded bool         `json:"upgraded"`
}

// Service is the meta service: schema/index/host/user CRUD atop the
// meta partition's key prefixes, plus the root-user bootstrap and
// v1->v2 schema upgrade that run on the leader.
type Service struct {
	store    *kvstore.Store
	isLeader func() bool

	// schemaCache holds decoded *proto.Schema values keyed by
	// schemaKey(...), so a hot (space, id, version) triple skips the
	// JSON unmarshal on every GetSchema call. PutSchema invalidates the
	// corresponding entry so a cache hit never serves a stale version.
	schemaCache *lru.Cache

	prober HostProber
}

// NewService wires the meta service to the replicated store.
func NewService(store *kvstore.Store, isLeader func() bool) *Service {
	cache, err := lru.New(schemaCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// schemaCacheSize never is.
		panic(err)
	}
	return &Service{store: store, isLeader: isLeader, schemaCache: cache, prober: defaultHostProber}
}

func schemaKey(space proto.SpaceId, id proto.SchemaId, version uint64) []byte {
	return []byte(fmt.Sprintf("%s%d/%d/%d", schemaPrefix, space, id, version))
}

func indexKey(space proto.SpaceId, id proto.IndexId) []byte {
	return []byte(fmt.Sprintf("%s%d/%d", indexPrefix, space, id))
}

func hostKey(addr proto.HostAddr) []byte {
	return []byte(hostPrefix + addr.String())
}

func userKey(name string) []byte {
	return []byte(userPrefix + name)
}

func (s *Service) putMeta(key, value []byte) error {
	done := make(chan proto.KVCode, 1)
	s.store.AsyncMultiPut(proto.MetaSpaceId, proto.MetaPartId, []kvstore.KVPair{{Key: key, Value: value}}, func(c proto.KVCode) { done <- c })
	if code := <-done; code != proto.KVSucceeded {
		return fmt.Errorf("meta: put failed, code=%v", proto.TranslateKVCode(code))
	}
	return nil
}

// PutSchema persists a new schema version as an ordinary replicated
// write; callers are expected to route writes to the leader.
func (s *Service) PutSchema(space proto.SpaceId, schema *proto.Schema, isEdge bool) error {
	rec := storedSchema{Schema: *schema, IsEdge: isEdge, Upgraded: true}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := schemaKey(space, schema.Id, schema.Version)
	if err := s.putMeta(key, data); err != nil {
		return err
	}
	s.schemaCache.Remove(string(key))
	return nil
}

// GetSchema reads back a specific schema version, serving from
// schemaCache when the version has already been decoded once.
func (s *Service) GetSchema(space proto.SpaceId, id proto.SchemaId, version uint64) (*proto.Schema, error) {
	key := schemaKey(space, id, version)
	if cached, ok := s.schemaCache.Get(string(key)); ok {
		return cached.(*proto.Schema), nil
	}

	raw, ok, err := s.store.Get(proto.MetaSpaceId, proto.MetaPartId, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSchemaNotFound
	}
	var rec storedSchema
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	s.schemaCache.Add(string(key), &rec.Schema)
	return &rec.Schema, nil
}

// PutIndex persists an index descriptor.
func (s *Service) PutIndex(space proto.SpaceId, item *proto.IndexItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.putMeta(indexKey(space, item.IndexId), data)
}

// GetIndex reads back an index descriptor.
func (s *Service) GetIndex(space proto.SpaceId, id proto.IndexId) (*proto.IndexItem, error) {
	raw, ok, err := s.store.Get(proto.MetaSpaceId, proto.MetaPartId, indexKey(space, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIndexNotFound
	}
	var item proto.IndexItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// BootstrapRootUser installs the default root user exactly once. Only
// the leader acts; followers no-op.
func (s *Service) BootstrapRootUser() error {
	if !s.isLeader() {
		return nil
	}
	_, ok, err := s.store.Get(proto.MetaSpaceId, proto.MetaPartId, userKey(rootUserName))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	root := User{
		Name:      rootUserName,
		AccessKey: uuid.NewString(),
		SecretKey: uuid.NewString(),
		IsRoot:    true,
	}
	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	if err := s.putMeta(userKey(rootUserName), data); err != nil {
		return err
	}
	log.LogInfof("meta: bootstrapped root user with access key %s", root.AccessKey)
	return nil
}

// UpgradeSchemas rewrites every legacy schema version into the current
// format. Idempotent: a schema already at currentSchemaVersion's shape
// (Upgraded == true) is left untouched, so running this twice is a
// no-op, matching the v1->v2 upgrade contract.
func (s *Service) UpgradeSchemas(space proto.SpaceId, ids []proto.SchemaId) error {
	if !s.isLeader() {
		return nil
	}
	for _, id := range ids {
		raw, ok, err := s.store.Get(proto.MetaSpaceId, proto.MetaPartId, schemaKey(space, id, legacySchemaVersion))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var rec storedSchema
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.Upgraded {
			continue
		}
		rec.Schema.Version = currentSchemaVersion
		rec.Upgraded = true
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := s.putMeta(schemaKey(space, id, currentSchemaVersion), data); err != nil {
			return err
		}
		// Mark the legacy record so the next pass skips it outright.
		rec.Schema.Version = legacySchemaVersion
		legacyData, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := s.putMeta(schemaKey(space, id, legacySchemaVersion), legacyData); err != nil {
			return err
		}
		log.LogInfof("meta: upgraded schema space=%d id=%d to v%d", space, id, currentSchemaVersion)
	}
	return nil
}

// UpgradeAllSchemas discovers every (space, id) pair that still has a
// legacySchemaVersion record and upgrades it via UpgradeSchemas. It scans
// the schema key prefix directly rather than requiring a caller to
// already know which schemas exist, so it can run unattended at daemon
// startup behind the upgrade_meta_data flag, before the HTTP server
// starts accepting RPCs.
func (s *Service) UpgradeAllSchemas() error {
	if !s.isLeader() {
		return nil
	}
	it, err := s.store.Scan(proto.MetaSpaceId, proto.MetaPartId, []byte(schemaPrefix), nil)
	if err != nil {
		return err
	}
	defer it.Close()

	bySpace := make(map[proto.SpaceId][]proto.SchemaId)
	for {
		key, _, ok := it.Next()
		if !ok {
			break
		}
		if !strings.HasPrefix(string(key), schemaPrefix) {
			break
		}
		parts := strings.Split(strings.TrimPrefix(string(key), schemaPrefix), "/")
		if len(parts) != 3 {
			continue
		}
		spaceN, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		idN, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		versionN, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil || versionN != legacySchemaVersion {
			continue
		}
		space := proto.SpaceId(spaceN)
		bySpace[space] = append(bySpace[space], proto.SchemaId(idN))
	}

	for space, ids := range bySpace {
		if err := s.UpgradeSchemas(space, ids); err != nil {
			return err
		}
	}
	return nil
}

// GetUser loads a user record by name.
func (s *Service) GetUser(name string) (*User, error) {
	raw, ok, err := s.store.Get(proto.MetaSpaceId, proto.MetaPartId, userKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByAccessKey resolves a user through the access-key indirection:
// a prefix scan over the user records, since accounts are few and the
// call sits on the admin path, not the data path.
func (s *Service) GetUserByAccessKey(accessKey string) (*User, error) {
	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].AccessKey == accessKey {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// ListUsers returns every account record under the user prefix.
func (s *Service) ListUsers() ([]User, error) {
	it, err := s.store.Scan(proto.MetaSpaceId, proto.MetaPartId, []byte(userPrefix), []byte(userPrefix+"\xff"))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var users []User
	for {
		_, v, ok := it.Next()
		if !ok {
			break
		}
		var u User
		if err := json.Unmarshal(v, &u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Heartbeat mints (or refreshes) a host's liveness token and records the
// current time as its last heartbeat.
func (s *Service) Heartbeat(addr proto.HostAddr) error {
	rec := HostRecord{Addr: addr, HeartbeatTok: uuid.NewString(), LastHeartbeat: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.putMeta(hostKey(addr), data)
}

// ListHosts returns every known host annotated with its Online/Offline
// status computed against heartbeatTimeout, and updates the
// hosts_online gauge.
func (s *Service) ListHosts() ([]HostRecord, []Status, error) {
	it, err := s.store.Scan(proto.MetaSpaceId, proto.MetaPartId, []byte(hostPrefix), []byte(hostPrefix+"\xff"))
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	var hosts []HostRecord
	var statuses []Status
	online := 0
	now := time.Now()
	for {
		_, v, ok := it.Next()
		if !ok {
			break
		}
		var rec HostRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		st := Offline
		if now.Sub(rec.LastHeartbeat) < heartbeatTimeout {
			st = Online
		} else if s.prober != nil && s.prober(rec.Addr.Host) {
			st = Online
		}
		if st == Online {
			online++
		}
		hosts = append(hosts, rec)
		statuses = append(statuses, st)
	}
	hostsOnlineGauge.Set(float64(online))
	return hosts, statuses, nil
}
