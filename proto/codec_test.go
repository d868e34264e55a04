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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowCodecRoundTrip(t *testing.T) {
	schema := &Schema{
		Id:      1,
		Version: 1,
		Columns: []ColumnDef{
			{Name: "age", Type: TypeInt64},
			{Name: "score", Type: TypeFloat},
			{Name: "active", Type: TypeBool},
			{Name: "name", Type: TypeString},
			{Name: "joined", Type: TypeDate},
			{Name: "tags", Type: TypeList},
		},
	}
	props := map[string]Value{
		"age":    {Type: TypeInt64, I: -3},
		"score":  {Type: TypeFloat, F: 2.5},
		"active": {Type: TypeBool, B: true},
		"name":   {Type: TypeString, S: "alice"},
		"joined": {Type: TypeDate, I: 20240101},
		"tags":   {Type: TypeList, L: []Value{{Type: TypeInt64, I: 1}, {Type: TypeInt64, I: 2}}},
	}

	codec := NewRowCodec()
	raw, fault, err := codec.Encode(schema, props)
	require.NoError(t, err)
	require.Zero(t, fault)

	got, err := codec.Decode(schema, raw)
	require.NoError(t, err)
	require.Equal(t, props, got)
}

func TestRowCodecNullableColumnOmitted(t *testing.T) {
	schema := &Schema{Columns: []ColumnDef{
		{Name: "c1", Type: TypeInt64},
		{Name: "c2", Type: TypeString, Nullable: true},
	}}
	props := map[string]Value{"c1": {Type: TypeInt64, I: 1}}

	codec := NewRowCodec()
	raw, _, err := codec.Encode(schema, props)
	require.NoError(t, err)

	got, err := codec.Decode(schema, raw)
	require.NoError(t, err)
	require.Equal(t, props, got)
}

func TestRowCodecFaults(t *testing.T) {
	schema := &Schema{Columns: []ColumnDef{{Name: "c1", Type: TypeInt64}}}
	codec := NewRowCodec()

	_, fault, err := codec.Encode(schema, map[string]Value{})
	require.Error(t, err)
	require.Equal(t, FaultFieldUnset, fault)

	_, fault, err = codec.Encode(schema, map[string]Value{"c1": {Type: TypeString, S: "x"}})
	require.Error(t, err)
	require.Equal(t, FaultTypeMismatch, fault)

	_, fault, err = codec.Encode(schema, map[string]Value{
		"c1":  {Type: TypeInt64, I: 1},
		"bad": {Type: TypeInt64, I: 2},
	})
	require.Error(t, err)
	require.Equal(t, FaultUnknownField, fault)
}
