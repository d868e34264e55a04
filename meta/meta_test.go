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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
)

func newTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	mgr := kvstore.NewManager()
	store := kvstore.NewTestStore(mgr)
	engine := kvstore.NewBTreeEngine()
	fake := kvstore.NewLoopbackPartition(engine)
	store.StartTestPartition(proto.MetaSpaceId, proto.MetaPartId, engine, fake, []proto.HostAddr{{Host: "127.0.0.1", Port: 45500}})
	return store
}

func TestClusterIdentityStableAcrossCalls(t *testing.T) {
	store := newTestStore(t)
	ci := NewClusterIdentity(store, []string{"h1:1", "h2:2", "h3:3"}, func() bool { return true })

	id1, err := ci.Bootstrap()
	require.NoError(t, err)
	require.NotZero(t, id1)

	// A second bootstrap call (e.g. after a restart) must observe the
	// same id rather than rewriting it.
	id2, err := ci.Bootstrap()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestClusterIdentityFollowerNeverWrites(t *testing.T) {
	store := newTestStore(t)
	leaderCi := NewClusterIdentity(store, []string{"h1:1"}, func() bool { return true })
	id, err := leaderCi.Bootstrap()
	require.NoError(t, err)

	followerCi := NewClusterIdentity(store, []string{"h1:1"}, func() bool { return false })
	followerID, err := followerCi.Bootstrap()
	require.NoError(t, err)
	require.Equal(t, id, followerID)
}

func TestBootstrapRootUserIdempotent(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, func() bool { return true })

	require.NoError(t, svc.BootstrapRootUser())
	require.NoError(t, svc.BootstrapRootUser())

	raw, ok, err := store.Get(proto.MetaSpaceId, proto.MetaPartId, userKey(rootUserName))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, raw)

	root, err := svc.GetUser(rootUserName)
	require.NoError(t, err)
	require.True(t, root.IsRoot)

	byKey, err := svc.GetUserByAccessKey(root.AccessKey)
	require.NoError(t, err)
	require.Equal(t, root.Name, byKey.Name)

	users, err := svc.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestUpgradeSchemasIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, func() bool { return true })

	legacy := storedSchema{Schema: proto.Schema{Id: 7, Version: legacySchemaVersion, Columns: []proto.ColumnDef{{Name: "c1", Type: proto.TypeInt64}}}}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, svc.putMeta(schemaKey(0, 7, legacySchemaVersion), data))

	require.NoError(t, svc.UpgradeSchemas(0, []proto.SchemaId{7}))
	upgraded, err := svc.GetSchema(0, 7, currentSchemaVersion)
	require.NoError(t, err)
	require.Equal(t, uint64(currentSchemaVersion), upgraded.Version)

	// Running it again must be a no-op: no panic, same result.
	require.NoError(t, svc.UpgradeSchemas(0, []proto.SchemaId{7}))
	upgraded2, err := svc.GetSchema(0, 7, currentSchemaVersion)
	require.NoError(t, err)
	require.Equal(t, upgraded.Version, upgraded2.Version)
}

func TestGetSchemaCacheServesUpdatedVersionAfterPut(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, func() bool { return true })

	s1 := &proto.Schema{Id: 9, Version: 1, Columns: []proto.ColumnDef{{Name: "c1", Type: proto.TypeInt64}}}
	require.NoError(t, svc.PutSchema(0, s1, false))
	got, err := svc.GetSchema(0, 9, 1)
	require.NoError(t, err)
	require.Equal(t, s1.Columns, got.Columns)

	// A second Put against the same (space, id, version) must not leave
	// the cache serving the first decode.
	s1Updated := &proto.Schema{Id: 9, Version: 1, Columns: []proto.ColumnDef{{Name: "c1", Type: proto.TypeInt64}, {Name: "c2", Type: proto.TypeString}}}
	require.NoError(t, svc.PutSchema(0, s1Updated, false))
	got2, err := svc.GetSchema(0, 9, 1)
	require.NoError(t, err)
	require.Len(t, got2.Columns, 2)
}

func TestListHostsLivenessClassification(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, func() bool { return true })

	require.NoError(t, svc.Heartbeat(proto.HostAddr{Host: "10.0.0.1", Port: 9000}))
	hosts, statuses, err := svc.ListHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	require.Equal(t, Online, statuses[0])
}
