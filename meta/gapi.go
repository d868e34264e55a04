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
	"context"

	"github.com/samsarahq/thunder/graphql"
	"github.com/samsarahq/thunder/graphql/schemabuilder"
)

// ClusterView is the read-only snapshot exposed through the GraphQL
// admin surface: host and user counts, computed on demand from the meta
// partition rather than cached, since this is a low-traffic operator view.
type ClusterView struct{}

// ClusterService builds the GraphQL schema for the read-only cluster
// view, trimmed to the subset this core owns: no job-manager fields,
// since those belong to external collaborators.
type ClusterService struct {
	svc *Service
}

// NewClusterService wires the GraphQL view to the meta service.
func NewClusterService(svc *Service) *ClusterService {
	return &ClusterService{svc: svc}
}

// Schema builds and returns the GraphQL schema for this view.
func (s *ClusterService) Schema() *graphql.Schema {
	schema := schemabuilder.NewSchema()
	s.registerObject(schema)
	s.registerQuery(schema)
	return schema.MustBuild()
}

func (s *ClusterService) registerObject(schema *schemabuilder.Schema) {
	object := schema.Object("ClusterView", ClusterView{})

	object.FieldFunc("hostCount", func(ctx context.Context, args struct{}) (int32, error) {
		hosts, _, err := s.svc.ListHosts()
		if err != nil {
			return 0, err
		}
		return int32(len(hosts)), nil
	})

	object.FieldFunc("hostsOnline", func(ctx context.Context, args struct{}) (int32, error) {
		_, statuses, err := s.svc.ListHosts()
		if err != nil {
			return 0, err
		}
		n := int32(0)
		for _, st := range statuses {
			if st == Online {
				n++
			}
		}
		return n, nil
	})

	object.FieldFunc("userCount", func(ctx context.Context, args struct{}) (int32, error) {
		users, err := s.svc.ListUsers()
		if err != nil {
			return 0, err
		}
		return int32(len(users)), nil
	})
}

func (s *ClusterService) registerQuery(schema *schemabuilder.Schema) {
	query := schema.Query()
	query.FieldFunc("cluster", func(ctx context.Context) (ClusterView, error) {
		return ClusterView{}, nil
	})
}
