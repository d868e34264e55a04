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

// Package cmd is nebulactl's command tree: an operator's view onto a
// single embedded meta partition, grouped by resource and operation.
// It talks directly to the meta and kvstore packages rather than over
// a wire client; the RPC transport is an external collaborator.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Resource/operation names for the "nebulactl <resource> <op>" shape.
const (
	CliResourceConfig  = "config"
	CliResourceSchema  = "schema"
	CliResourceHost    = "host"
	CliResourceCluster = "cluster"

	CliOpSet       = "set"
	CliOpInfo      = "info"
	CliOpGet       = "get"
	CliOpPut       = "put"
	CliOpList      = "list"
	CliOpHeartbeat = "heartbeat"
	CliOpBootstrap = "bootstrap"
)

func stdout(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(os.Stdout, format, a...)
}

func stderr(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format, a...)
}

var (
	colorOK   = color.New(color.FgGreen).SprintFunc()
	colorBad  = color.New(color.FgRed).SprintFunc()
	colorInfo = color.New(color.FgCyan).SprintFunc()
)

// NewRootCmd builds nebulactl's command tree, rooted at a single
// persistent --data-path flag that the cluster, schema and host commands
// resolve an embedded store against.
func NewRootCmd() *cobra.Command {
	var dataPath string
	root := &cobra.Command{
		Use:   "nebulactl",
		Short: "Command-line operator tool for a nebulacore meta partition",
	}
	root.PersistentFlags().StringVar(&dataPath, "data-path", "./nebulactl-data", "Root directory of the embedded meta partition")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newClusterCmd(&dataPath))
	root.AddCommand(newSchemaCmd(&dataPath))
	root.AddCommand(newHostCmd(&dataPath))
	return root
}
