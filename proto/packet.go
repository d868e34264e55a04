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

package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/xid"

	"github.com/nebula-contrib/nebulacore/util/buf"
)

// OpCode identifies the operation carried by a Packet.
type OpCode uint8

const (
	OpAddEdgesAtomic OpCode = iota + 1
	OpLookupIndex
	OpUpdateVertex
	OpHeartbeat
	OpPartLeaderQuery
	OpSnapshotApply
	OpClusterIdSync
)

func (op OpCode) String() string {
	switch op {
	case OpAddEdgesAtomic:
		return "AddEdgesAtomic"
	case OpLookupIndex:
		return "LookupIndex"
	case OpUpdateVertex:
		return "UpdateVertex"
	case OpHeartbeat:
		return "Heartbeat"
	case OpPartLeaderQuery:
		return "PartLeaderQuery"
	case OpSnapshotApply:
		return "SnapshotApply"
	case OpClusterIdSync:
		return "ClusterIdSync"
	default:
		return fmt.Sprintf("OpCode(%d)", op)
	}
}

// Packet is the binary frame exchanged between daemons and the CLI:
// a fixed header (opcode, result code, request id) followed by an
// opaque body the caller marshals/unmarshals itself.
type Packet struct {
	Opcode     OpCode
	ReqID      string
	ResultCode ErrorCode
	Data       []byte
}

// NewPacket allocates a request packet with a fresh globally-unique id.
func NewPacket(op OpCode, data []byte) *Packet {
	return &Packet{
		Opcode: op,
		ReqID:  GenerateRequestID(),
		Data:   data,
	}
}

// GenerateRequestID mints a sortable, globally-unique request id.
func GenerateRequestID() string {
	return xid.New().String()
}

// WriteTo serializes the packet header and body onto w: opcode(1) |
// resultCode(1) | reqID length(1) + reqID | body length(4) | body.
func (p *Packet) WriteTo(w io.Writer) (int, error) {
	idBytes := []byte(p.ReqID)
	header := make([]byte, 0, buf.HeaderSize)
	header = append(header, byte(p.Opcode), byte(p.ResultCode), byte(len(idBytes)))
	header = append(header, idBytes...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.Data)))
	header = append(header, lenBuf[:]...)
	n, err := w.Write(header)
	if err != nil {
		return n, err
	}
	m, err := w.Write(p.Data)
	return n + m, err
}

// ReadFrom parses a packet previously written by WriteTo.
func ReadFrom(r io.Reader) (*Packet, error) {
	fixed := make([]byte, 3)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, err
	}
	p := &Packet{Opcode: OpCode(fixed[0]), ResultCode: ErrorCode(fixed[1])}
	idLen := int(fixed[2])
	idBytes := make([]byte, idLen)
	if idLen > 0 {
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, err
		}
	}
	p.ReqID = string(idBytes)
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	p.Data = body
	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{op=%s id=%s code=%s bodyLen=%d}", p.Opcode, p.ReqID, p.ResultCode, len(p.Data))
}
