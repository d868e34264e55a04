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

// Package common holds the small amount of scaffolding shared by every
// daemon binary (metad, storaged): the Start/Shutdown/Sync lifecycle
// that keeps main() itself to a few lines.
package common

import (
	"sync"

	"github.com/nebula-contrib/nebulacore/util/config"
)

// Server is the subset of a daemon's own type that Control drives.
type Server interface {
	Shutdown()
	Sync()
}

// state is the lifecycle phase a Control moves a Server through exactly
// once; Start/Shutdown outside of the expected transition are no-ops
// rather than errors, since a double-Shutdown from both a signal handler
// and an admin endpoint is a real possibility.
type state uint32

const (
	stateStandby state = iota
	stateRunning
	stateShutdown
)

// Control serializes a Server's lifecycle transitions behind a mutex.
// stopped is closed exactly once, by Shutdown, so Sync can block main()
// until a signal handler (or an admin endpoint) asks the process to
// exit.
type Control struct {
	mu      sync.Mutex
	state   state
	stopped chan struct{}
}

// Start runs doStart exactly once (a later call while already running
// or shut down is a no-op returning nil) and marks the Control running
// on success.
func (c *Control) Start(s Server, cfg *config.Config, doStart func(Server, *config.Config) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateStandby {
		return nil
	}
	if err := doStart(s, cfg); err != nil {
		return err
	}
	c.state = stateRunning
	c.stopped = make(chan struct{})
	return nil
}

// Shutdown runs doShutdown exactly once, even if called concurrently
// from a signal handler and an admin endpoint.
func (c *Control) Shutdown(s Server, doShutdown func(Server)) {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateShutdown
	stopped := c.stopped
	c.mu.Unlock()

	doShutdown(s)
	close(stopped)
}

// Sync blocks the calling goroutine (main()) until Shutdown completes.
func (c *Control) Sync() {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped == nil {
		return
	}
	<-stopped
}
