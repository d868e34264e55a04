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

func TestEncodeDecodeIndexKeyNoNulls(t *testing.T) {
	idx := &IndexItem{
		IndexId: 1,
		Fields: []ColumnDef{
			{Name: "c1", Type: TypeInt64},
			{Name: "name", Type: TypeString},
		},
	}
	require.Equal(t, 1, idx.VColNum())
	require.False(t, idx.HasNullableCol())

	c1 := Value{Type: TypeInt64, I: 42}
	name := Value{Type: TypeString, S: "alice"}
	raw, err := EncodeIndexKey(idx, []*Value{&c1, &name})
	require.NoError(t, err)

	got, err := DecodeIndexKey(idx, raw)
	require.NoError(t, err)
	require.Equal(t, c1, *got[0])
	require.Equal(t, name, *got[1])
}

func TestEncodeDecodeIndexKeyWithNullableCol(t *testing.T) {
	idx := &IndexItem{
		IndexId: 2,
		Fields: []ColumnDef{
			{Name: "c1", Type: TypeInt64},
			{Name: "c2", Type: TypeInt64, Nullable: true},
		},
	}
	require.True(t, idx.HasNullableCol())

	c1 := Value{Type: TypeInt64, I: 7}
	raw, err := EncodeIndexKey(idx, []*Value{&c1, nil})
	require.NoError(t, err)

	got, err := DecodeIndexKey(idx, raw)
	require.NoError(t, err)
	require.Equal(t, c1, *got[0])
	require.Nil(t, got[1])
}

func TestEncodeIndexKeyRejectsNullOnNonNullable(t *testing.T) {
	idx := &IndexItem{
		IndexId: 3,
		Fields:  []ColumnDef{{Name: "c1", Type: TypeInt64}},
	}
	_, err := EncodeIndexKey(idx, []*Value{nil})
	require.Error(t, err)
}
