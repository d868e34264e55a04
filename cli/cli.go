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

// Command nebulactl is the operator CLI onto an embedded meta
// partition: a standalone -v flag checked before the cobra command
// tree ever runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nebula-contrib/nebulacore/cli/cmd"
	"github.com/nebula-contrib/nebulacore/util/log"
)

var (
	CommitID   string
	BranchName string
	BuildTime  string
)

var showVersion = flag.Bool("v", false, "Show client version")

func main() {
	flag.Parse()
	if err := log.InitLog("/tmp/nebulactl", "nebulactl", log.InfoLevel, 10, 3, 7); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.LogFlush()

	if *showVersion {
		fmt.Printf("nebulactl branch=%s commit=%s built=%s\n", BranchName, CommitID, BuildTime)
		return
	}

	if err := cmd.NewRootCmd().Execute(); err != nil {
		log.LogFlush()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
