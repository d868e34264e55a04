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

import "errors"

// ErrClusterIDWriteFailed is a fatal boot error: the leader could not
// persist the freshly-derived cluster id and refuses to start.
var ErrClusterIDWriteFailed = errors.New("meta: failed to persist cluster id")

// ErrRootUserExists reports an already-installed root user. BootstrapRootUser
// does not return it: a repeated bootstrap finds the record and returns nil.
var ErrRootUserExists = errors.New("meta: root user already exists")

// ErrSchemaNotFound, ErrIndexNotFound and ErrUserNotFound surface
// missing meta records.
var (
	ErrSchemaNotFound = errors.New("meta: schema not found")
	ErrIndexNotFound  = errors.New("meta: index not found")
	ErrUserNotFound   = errors.New("meta: user not found")
)
