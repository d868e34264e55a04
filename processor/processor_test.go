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

package processor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebula-contrib/nebulacore/proto"
)

func TestOnFinishedCalledExactlyOnceFullSuccess(t *testing.T) {
	var calls int
	var mu sync.Mutex
	var got []proto.PartitionResult

	p := New("TestOnFinishedCalledExactlyOnceFullSuccess", 3, nil, func(results []proto.PartitionResult) {
		mu.Lock()
		calls++
		got = results
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, part := range []proto.PartId{1, 2, 3} {
		wg.Add(1)
		go func(part proto.PartId) {
			defer wg.Done()
			p.HandleAsync(part, proto.KVSucceeded)
		}(part)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
	require.Empty(t, got)
}

func TestFailuresReportedIndividually(t *testing.T) {
	done := make(chan []proto.PartitionResult, 1)
	p := New("TestFailuresReportedIndividually", 2, nil, func(results []proto.PartitionResult) { done <- results })

	p.HandleAsync(1, proto.KVSucceeded)
	p.HandleAsync(2, proto.KVSpaceNotFound)

	results := <-done
	require.Len(t, results, 1)
	require.Equal(t, proto.PartId(2), results[0].PartId)
	require.Equal(t, proto.SpaceNotFound, results[0].Code)
}

func TestLeaderChangedAttachesLeaderHint(t *testing.T) {
	leaderAddr := proto.HostAddr{Host: "10.0.0.7", Port: 9000}
	resolver := func(part proto.PartId) (proto.HostAddr, bool) {
		if part == 7 {
			return leaderAddr, true
		}
		return proto.HostAddr{}, false
	}
	done := make(chan []proto.PartitionResult, 1)
	p := New("TestLeaderChangedAttachesLeaderHint", 1, resolver, func(results []proto.PartitionResult) { done <- results })

	p.HandleAsync(7, proto.KVLeaderChanged)
	results := <-done
	require.Len(t, results, 1)
	require.Equal(t, proto.LeaderChanged, results[0].Code)
	require.NotNil(t, results[0].Leader)
	require.Equal(t, leaderAddr, *results[0].Leader)
}

func TestPushResultCodeCarriesEncoderFault(t *testing.T) {
	done := make(chan []proto.PartitionResult, 1)
	p := New("TestPushResultCodeCarriesEncoderFault", 2, nil, func(results []proto.PartitionResult) { done <- results })

	p.PushResultCode(1, proto.TranslateTagFault(proto.FaultUnknownField))
	p.HandleAsync(2, proto.KVSucceeded)

	results := <-done
	require.Len(t, results, 1)
	require.Equal(t, proto.TagPropNotFound, results[0].Code)
}

func TestLostFutureReportsUnknown(t *testing.T) {
	done := make(chan []proto.PartitionResult, 1)
	p := New("TestLostFutureReportsUnknown", 1, nil, func(results []proto.PartitionResult) { done <- results })
	p.HandleLost(4)
	results := <-done
	require.Len(t, results, 1)
	require.Equal(t, proto.Unknown, results[0].Code)
}
