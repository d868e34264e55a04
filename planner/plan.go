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

// Package planner compiles a LookupIndexRequest into a tree of
// execution nodes. Nodes are modeled as a slice of owned nodes
// addressed by integer index rather than pointers, mirroring how
// raftstore partitions are addressed by small integer ids.
package planner

import (
	"errors"

	"github.com/nebula-contrib/nebulacore/proto"
)

// NodeKind is the type of one plan node.
type NodeKind uint8

const (
	NodeIndexScan NodeKind = iota
	NodeIndexEdge
	NodeIndexVertex
	NodeIndexFilter
	NodeIndexOutput
	NodeAggregate
)

func (k NodeKind) String() string {
	switch k {
	case NodeIndexScan:
		return "IndexScan"
	case NodeIndexEdge:
		return "IndexEdge"
	case NodeIndexVertex:
		return "IndexVertex"
	case NodeIndexFilter:
		return "IndexFilter"
	case NodeIndexOutput:
		return "IndexOutput"
	case NodeAggregate:
		return "Aggregate"
	default:
		return "Unknown"
	}
}

// Node is one node of the plan tree: its kind, the query context it
// serves, and its dependencies as integer indices into Plan.Nodes rather
// than pointers. Nodes describe the plan's shape only; they have no
// row-producing method.
type Node struct {
	Kind    NodeKind
	Context *proto.IndexQueryContext
	Deps    []int // indices of nodes this node pulls from
}

// ScanInfo is the per-index bookkeeping key-decoders downstream need:
// the indexed column/type list, how many variable-length (string)
// segments the key carries, and whether a null-bitmap suffix is present.
type ScanInfo struct {
	IndexId        proto.IndexId
	Columns        []proto.ColumnDef
	VColNum        int
	HasNullableCol bool
}

// Plan is the compiled output for one LookupIndexRequest: one owned
// slice holding every context's nodes, all feeding a single terminal
// AggregateNode, plus one ScanInfo per context in request order.
type Plan struct {
	Nodes       []Node
	AggregateID int
	Columns     []string
	ScanInfos   []ScanInfo
}

var (
	// ErrIndexNotFound is returned when no index matches a context's
	// index id within the given space.
	ErrIndexNotFound = errors.New("planner: index not found")
	// ErrSchemaNotFound is returned when needData is true but the
	// referenced tag/edge schema is missing.
	ErrSchemaNotFound = errors.New("planner: schema not found")
	// ErrInvalidOperation is returned for structurally invalid requests,
	// e.g. empty contexts.
	ErrInvalidOperation = errors.New("planner: invalid operation, empty contexts")
)

// IndexLookup resolves an index id to its descriptor. SchemaLookup
// resolves a schema id to its descriptor (needed only when needData).
// Both are external collaborators supplied by the caller (the meta
// service / schema manager), kept as functions here for testability.
type IndexLookup func(indexID proto.IndexId) (*proto.IndexItem, bool)
type SchemaLookup func(schemaID proto.SchemaId) (*proto.Schema, bool)

// Build compiles req into a Plan, selecting one of the four sub-plan
// shapes per context based on needData/needFilter, per the design table:
//
//	needData needFilter  shape
//	F        F           IndexScan -> IndexOutput
//	T        F           IndexScan -> IndexEdge/IndexVertex -> IndexOutput
//	F        T           IndexScan -> IndexFilter -> IndexOutput
//	T        T           IndexScan -> IndexEdge/IndexVertex -> IndexFilter -> IndexOutput
func Build(req *proto.LookupIndexRequest, lookupIndex IndexLookup, lookupSchema SchemaLookup) (*Plan, error) {
	if len(req.Indices.Contexts) == 0 {
		return nil, ErrInvalidOperation
	}

	plan := &Plan{Columns: outputColumns(req.Indices.IsEdge, req.ReturnColumns)}
	var outputIDs []int

	for i := range req.Indices.Contexts {
		ctx := &req.Indices.Contexts[i]
		idx, ok := lookupIndex(ctx.IndexId)
		if !ok {
			return nil, ErrIndexNotFound
		}
		plan.ScanInfos = append(plan.ScanInfos, ScanInfo{
			IndexId:        idx.IndexId,
			Columns:        idx.Fields,
			VColNum:        idx.VColNum(),
			HasNullableCol: idx.HasNullableCol(),
		})

		needData := false
		for _, col := range req.ReturnColumns {
			if indexColumnIndex(idx, col) < 0 && !isReservedColumn(col) {
				needData = true
				break
			}
		}
		needFilter := ctx.Filter != nil

		if needData {
			if _, ok := lookupSchema(req.Indices.TagOrEdgeId); !ok {
				return nil, ErrSchemaNotFound
			}
		}

		scanID := plan.addNode(Node{Kind: NodeIndexScan, Context: ctx})
		cur := scanID

		if needData {
			fetchKind := NodeIndexVertex
			if req.Indices.IsEdge {
				fetchKind = NodeIndexEdge
			}
			cur = plan.addNode(Node{Kind: fetchKind, Context: ctx, Deps: []int{cur}})
		}
		if needFilter {
			cur = plan.addNode(Node{Kind: NodeIndexFilter, Context: ctx, Deps: []int{cur}})
		}
		outID := plan.addNode(Node{Kind: NodeIndexOutput, Context: ctx, Deps: []int{cur}})
		outputIDs = append(outputIDs, outID)
	}

	aggID := plan.addNode(Node{Kind: NodeAggregate, Deps: outputIDs})
	plan.AggregateID = aggID
	return plan, nil
}

func (p *Plan) addNode(n Node) int {
	p.Nodes = append(p.Nodes, n)
	return len(p.Nodes) - 1
}

func indexColumnIndex(idx *proto.IndexItem, name string) int {
	for i, f := range idx.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func isReservedColumn(name string) bool {
	switch name {
	case "_src", "_ranking", "_dst", "_vid":
		return true
	default:
		return false
	}
}

// outputColumns fixes the result column order: for edges
// _src,_ranking,_dst,<yield>; for vertices _vid,<yield>.
func outputColumns(isEdge bool, yield []string) []string {
	var cols []string
	if isEdge {
		cols = append(cols, "_src", "_ranking", "_dst")
	} else {
		cols = append(cols, "_vid")
	}
	return append(cols, yield...)
}
