// Package proto defines the wire-level data model shared by metad and
// storaged: host/space/partition identifiers, tag and edge schemas,
// index descriptors, the row codec contract, and the request/response
// shapes the processor and edge writer operate on.
package proto

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// SpaceId identifies a logical graph database.
type SpaceId uint32

// PartId identifies a partition within a space.
type PartId uint32

// MetaSpaceId and MetaPartId are the well-known coordinates of the meta
// partition: schemas, indexes, hosts and users all live here.
const (
	MetaSpaceId SpaceId = 0
	MetaPartId  PartId  = 0
)

// HostAddr is a replica's network identity. Equality is structural.
type HostAddr struct {
	Host string
	Port uint16
}

func (h HostAddr) String() string {
	if h.Host == "" && h.Port == 0 {
		return ""
	}
	return h.Host + ":" + strconv.Itoa(int(h.Port))
}

// IsZero reports whether h is the zero address returned by partLeader
// before a partition has ever elected a leader.
func (h HostAddr) IsZero() bool {
	return h.Host == "" && h.Port == 0
}

// MarshalJSON renders the host as "host:port", matching how leader hints
// cross the wire in a PartitionResult.
func (h HostAddr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses the "host:port" form MarshalJSON renders.
func (h *HostAddr) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil || s == "" {
		*h = HostAddr{}
		return err
	}
	i := strings.LastIndexByte(s, ':')
	port, perr := strconv.ParseUint(s[i+1:], 10, 16)
	if i < 0 || perr != nil {
		return fmt.Errorf("proto: invalid host address %q", s)
	}
	*h = HostAddr{Host: s[:i], Port: uint16(port)}
	return nil
}

// ColumnType is the closed set of property types a ColumnDef may carry.
type ColumnType uint8

const (
	TypeInt64 ColumnType = iota
	TypeFloat
	TypeBool
	TypeString
	TypeDate
	TypeDateTime
	TypeList
)

// Size returns the fixed encoded width of fixed-width types, or -1 for
// variable-length types (String, List) whose width the planner must
// track separately via vColNum-style bookkeeping.
func (t ColumnType) Size() int {
	switch t {
	case TypeInt64, TypeDateTime:
		return 8
	case TypeFloat:
		return 8
	case TypeBool:
		return 1
	case TypeDate:
		return 4
	default:
		return -1
	}
}

func (t ColumnType) IsVariableLength() bool {
	return t.Size() < 0
}

// ColumnDef describes one property of a tag or edge schema.
type ColumnDef struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  *Value
}

// SchemaId identifies a tag or edge type. Edge types are signed: a
// positive id is the out-edge living in the source vertex's partition,
// its negation is the in-edge living in the destination vertex's
// partition.
type SchemaId int32

// Schema is one immutable version of a tag or edge's column list.
type Schema struct {
	Id      SchemaId
	Version uint64
	Columns []ColumnDef
}

// ColumnIndex returns the position of name in the schema, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IndexId identifies a secondary index.
type IndexId uint32

// IndexItem describes a secondary index: an ordered field prefix encoded
// into the index key, plus the bookkeeping the planner needs to decode it
// (variable-length column count, nullable-column presence).
type IndexItem struct {
	IndexId  IndexId
	SchemaId SchemaId
	IsEdge   bool
	Fields   []ColumnDef
}

// VColNum returns the count of variable-length (string-like) fields in
// the index prefix; decoding the key requires knowing their positions.
func (it *IndexItem) VColNum() int {
	n := 0
	for _, f := range it.Fields {
		if f.Type.IsVariableLength() {
			n++
		}
	}
	return n
}

// HasNullableCol reports whether any indexed column is nullable, which
// means a null-bitmap suffix follows the fixed prefix in the index key.
func (it *IndexItem) HasNullableCol() bool {
	for _, f := range it.Fields {
		if f.Nullable {
			return true
		}
	}
	return false
}

// Value is a dynamically-typed property value, tagged by the ColumnType
// it was produced for.
type Value struct {
	Type ColumnType
	I    int64
	F    float64
	B    bool
	S    string
	L    []Value
}

// VertexId is the raw, fixed-length vertex identifier. Its length is
// fixed per space and resolved once by the edge writer.
type VertexId []byte

// EdgeKey is the composite key identifying one side of an edge.
// EdgeType carries the sign: positive for the out-edge (stored in the
// source partition), negative for the in-edge (stored in the
// destination partition).
type EdgeKey struct {
	Src      VertexId
	EdgeType SchemaId
	Rank     int64
	Dst      VertexId
}

// Reversed returns the paired key for the opposite side of the edge:
// src/dst swap and the edge type sign flips.
func (k EdgeKey) Reversed() EdgeKey {
	return EdgeKey{Src: k.Dst, EdgeType: -k.EdgeType, Rank: k.Rank, Dst: k.Src}
}

// EncodeKey renders (part, key) as a composite byte key ordered so that
// scans over a single partition and vertex stay contiguous:
// part(4) | src | edgeType(4, signed) | rank(8) | dst.
func EncodeKey(part PartId, k EdgeKey) []byte {
	buf := make([]byte, 0, 4+len(k.Src)+4+8+len(k.Dst))
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], uint32(part))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, k.Src...)
	binary.BigEndian.PutUint32(tmp[:4], uint32(int32(k.EdgeType)))
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint64(tmp[:8], uint64(k.Rank))
	buf = append(buf, tmp[:8]...)
	buf = append(buf, k.Dst...)
	return buf
}

// EncodeVertexKey renders (part, vid, tagId) as a composite byte key:
// part(4) | vid | tagId(4, signed), mirroring EncodeKey's layout so
// vertex and edge rows within the same partition sort predictably.
func EncodeVertexKey(part PartId, vid VertexId, tagId SchemaId) []byte {
	buf := make([]byte, 0, 4+len(vid)+4)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(part))
	buf = append(buf, tmp[:]...)
	buf = append(buf, vid...)
	binary.BigEndian.PutUint32(tmp[:], uint32(int32(tagId)))
	buf = append(buf, tmp[:]...)
	return buf
}

// NewEdge is one edge in an AddEdgesRequest: the key plus its encoded-or-
// raw property values (encoding happens against edge_schema(|edge_type|)
// during request processing).
type NewEdge struct {
	Key   EdgeKey
	Props map[string]Value
}

// AddEdgesRequest groups new edges by the local partition they are
// submitted against; the writer resolves each edge's remote partition
// from its destination vertex.
type AddEdgesRequest struct {
	SpaceId   SpaceId
	PropNames []string
	Parts     map[PartId][]NewEdge
}

func (r *AddEdgesRequest) String() string {
	n := 0
	for _, es := range r.Parts {
		n += len(es)
	}
	return fmt.Sprintf("AddEdgesRequest{space=%d parts=%d edges=%d}", r.SpaceId, len(r.Parts), n)
}

// VertexUpdate names one vertex to mutate and the tag properties to set,
// keyed by the partition the vertex's row lives in.
type VertexUpdate struct {
	Vid   VertexId
	TagId SchemaId
	Props map[string]Value
}

// UpdateVertexRequest groups vertex updates by partition, the same shape
// AddEdgesRequest uses, so both fan out through the base processor.
type UpdateVertexRequest struct {
	SpaceId SpaceId
	Parts   map[PartId][]VertexUpdate
}

// UpdateResponse is the base-processor response shape for updateVertex:
// an empty Results list means every partition succeeded.
type UpdateResponse struct {
	Results []PartitionResult
}
