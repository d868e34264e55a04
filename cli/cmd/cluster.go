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

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	cmdClusterShort   = "Inspect or bootstrap the embedded meta partition's cluster identity"
	cmdBootstrapShort = "Bootstrap (or read back) the cluster id"
)

func newClusterCmd(dataPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CliResourceCluster,
		Short: cmdClusterShort,
	}
	cmd.AddCommand(newClusterBootstrapCmd(dataPath))
	return cmd
}

func newClusterBootstrapCmd(dataPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   CliOpBootstrap,
		Short: cmdBootstrapShort,
		Run: func(cmd *cobra.Command, args []string) {
			e := openEmbedded(*dataPath)
			id, err := e.cluster.Bootstrap()
			if err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			stdout("cluster_id: %s\n", colorOK(id))
			if err := e.svc.BootstrapRootUser(); err != nil {
				stderr("Error: bootstrapping root user: %v\n", err)
				os.Exit(1)
			}
			stdout("root user bootstrapped\n")
		},
	}
}
