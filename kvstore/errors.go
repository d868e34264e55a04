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

package kvstore

import "errors"

// ErrPartNotFound is returned by any Manager/Store lookup against an
// unknown (space, part) pair.
var ErrPartNotFound = errors.New("kvstore: partition not found")

// ErrNotLeader is returned by reads on a follower replica when the
// store's check_leader toggle is on; callers redirect to the leader
// reported by PartLeader.
var ErrNotLeader = errors.New("kvstore: replica is not the partition leader")
