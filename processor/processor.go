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

// Package processor implements the async fan-out shared by every RPC
// that dispatches work across partitions: a completion latch over a
// known fan-out count, armed once per per-partition callback.
package processor

import (
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/nebula-contrib/nebulacore/proto"
)

// LeaderResolver supplies the current suspected leader for a partition
// when a dispatch comes back LeaderChanged.
type LeaderResolver func(part proto.PartId) (proto.HostAddr, bool)

// Processor is a single in-flight RPC's fan-out state: a completion
// latch (callingNum) over a known set of partitions, and the mutex
// guarding the accumulated failure list.
//
// Invariants: onFinished is called exactly once, after the last
// per-partition callback resolves. Succeeded partitions are never
// reported individually — an empty Results list means full success.
type Processor struct {
	mu         sync.Mutex
	callingNum int
	results    []proto.PartitionResult
	resolver   LeaderResolver
	onFinished func(results []proto.PartitionResult)
	finished   bool

	span opentracing.Span
}

// New creates a Processor that will fan out over exactly n partitions
// and invoke onFinished exactly once all n have reported in. opName
// names the root span opentracing.GlobalTracer() starts for the whole
// fan-out; each per-partition dispatch should log against it via
// LogPartitionEvent so a trace backend can show the slowest partition
// in an RPC at a glance.
func New(opName string, n int, resolver LeaderResolver, onFinished func([]proto.PartitionResult)) *Processor {
	span := opentracing.GlobalTracer().StartSpan(opName)
	span.SetTag("fan_out.partitions", n)
	return &Processor{callingNum: n, resolver: resolver, onFinished: onFinished, span: span}
}

// LogPartitionEvent attaches a per-partition event to the fan-out's root
// span, e.g. "dispatched" when the async op is submitted.
func (p *Processor) LogPartitionEvent(part proto.PartId, event string) {
	p.span.LogKV("part", part, "event", event)
}

// HandleAsync is the completion callback registered against each
// partition's dispatched operation. It translates the KV result code,
// attaches a leader hint on LeaderChanged, and — once every partition
// has reported — calls onFinished exactly once.
func (p *Processor) HandleAsync(part proto.PartId, code proto.KVCode) {
	errCode := proto.TranslateKVCode(code)
	var leader *proto.HostAddr
	if errCode == proto.LeaderChanged && p.resolver != nil {
		if addr, ok := p.resolver(part); ok {
			leader = &addr
		}
	}
	p.push(part, errCode, leader)
}

// PushResultCode records an already-translated failure for a partition
// that never reached the KV store — e.g. a row-encoder fault mapped
// through the encoder-fault table — and arms the completion latch the
// same way HandleAsync does.
func (p *Processor) PushResultCode(part proto.PartId, code proto.ErrorCode) {
	p.push(part, code, nil)
}

// HandleLost records an Unknown failure for a partition whose callback
// future was dropped (e.g. the channel it was waiting on closed), per
// the "a lost future is reported as Unknown" contract.
func (p *Processor) HandleLost(part proto.PartId) {
	p.HandleAsync(part, proto.KVUnknown)
}

func (p *Processor) push(part proto.PartId, code proto.ErrorCode, leader *proto.HostAddr) {
	p.mu.Lock()
	if code != proto.Succeeded {
		p.results = append(p.results, proto.PartitionResult{Code: code, PartId: part, Leader: leader})
		p.span.LogKV("part", part, "event", "failed", "code", code.String())
	}
	p.callingNum--
	done := p.callingNum == 0
	var finalResults []proto.PartitionResult
	if done {
		if p.finished {
			p.mu.Unlock()
			return
		}
		p.finished = true
		finalResults = p.results
	}
	p.mu.Unlock()

	if done {
		p.span.SetTag("fan_out.failures", len(finalResults))
		p.span.Finish()
		p.onFinished(finalResults)
	}
}
