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

	"github.com/bits-and-blooms/bitset"
)

// EncodeIndexKey renders values (one per idx.Fields, in order; a nil
// entry means the column is null) into the composite index-key prefix
// the lookup planner's IndexScan node walks: fixed-width columns
// inline, string columns length-prefixed, followed by a null-bitmap
// suffix when idx.HasNullableCol() (per the data model's index key
// shape).
func EncodeIndexKey(idx *IndexItem, values []*Value) ([]byte, error) {
	if len(values) != len(idx.Fields) {
		return nil, fmt.Errorf("proto: index %d expects %d values, got %d", idx.IndexId, len(idx.Fields), len(values))
	}

	var bits *bitset.BitSet
	if idx.HasNullableCol() {
		bits = bitset.New(uint(len(idx.Fields)))
	}

	buf := make([]byte, 0, 32)
	for i, f := range idx.Fields {
		v := values[i]
		if v == nil {
			if !f.Nullable {
				return nil, fmt.Errorf("proto: index field %q is not nullable", f.Name)
			}
			bits.Set(uint(i))
			continue
		}
		encoded, _, err := encodeValue(*v)
		if err != nil {
			return nil, fmt.Errorf("proto: encode index field %q: %w", f.Name, err)
		}
		buf = append(buf, encoded...)
	}

	if bits != nil {
		bitBytes := bits.Bytes()
		for _, word := range bitBytes {
			var w [8]byte
			binary.BigEndian.PutUint64(w[:], word)
			buf = append(buf, w[:]...)
		}
		var bitLen [4]byte
		binary.BigEndian.PutUint32(bitLen[:], uint32(len(bitBytes)*64))
		buf = append(buf, bitLen[:]...)
	}
	return buf, nil
}

// DecodeIndexKey is the inverse of EncodeIndexKey: it walks the fixed and
// variable-length fields in idx.Fields order and recovers the null-bitmap
// suffix when idx.HasNullableCol(), reporting which columns were null.
func DecodeIndexKey(idx *IndexItem, raw []byte) ([]*Value, error) {
	values := make([]*Value, len(idx.Fields))

	off := 0
	var bits *bitset.BitSet
	if idx.HasNullableCol() {
		bits = decodeNullBitmapTrailer(&raw)
	}

	for i, f := range idx.Fields {
		if bits != nil && bits.Test(uint(i)) {
			continue
		}
		v, n, err := decodeValue(f.Type, raw[off:])
		if err != nil {
			return nil, fmt.Errorf("proto: decode index field %q: %w", f.Name, err)
		}
		values[i] = &v
		off += n
	}
	return values, nil
}

// decodeNullBitmapTrailer splits the trailing null-bitmap off *raw (the
// inverse of the suffix EncodeIndexKey appends) and returns the decoded
// bitset; *raw is left holding only the fixed/variable-length prefix.
func decodeNullBitmapTrailer(raw *[]byte) *bitset.BitSet {
	data := *raw
	if len(data) < 4 {
		return bitset.New(0)
	}
	bitLen := binary.BigEndian.Uint32(data[len(data)-4:])
	nWords := int((bitLen + 63) / 64)
	trailerLen := 4 + nWords*8
	if trailerLen > len(data) {
		return bitset.New(0)
	}
	trailer := data[len(data)-trailerLen : len(data)-4]
	words := make([]uint64, nWords)
	for i := 0; i < nWords; i++ {
		words[i] = binary.BigEndian.Uint64(trailer[i*8 : i*8+8])
	}
	*raw = data[:len(data)-trailerLen]
	return bitset.From(words)
}
