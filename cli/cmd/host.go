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

	"github.com/nebula-contrib/nebulacore/meta"
	"github.com/nebula-contrib/nebulacore/proto"
)

const (
	cmdHostShort          = "Manage storage host liveness on the embedded meta partition"
	cmdHostHeartbeatShort = "Record a heartbeat for a storage host"
	cmdHostListShort      = "List known hosts and their Online/Offline status"
)

func newHostCmd(dataPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CliResourceHost,
		Short: cmdHostShort,
	}
	cmd.AddCommand(newHostHeartbeatCmd(dataPath))
	cmd.AddCommand(newHostListCmd(dataPath))
	return cmd
}

func newHostHeartbeatCmd(dataPath *string) *cobra.Command {
	var host string
	var port uint16
	cmd := &cobra.Command{
		Use:   CliOpHeartbeat,
		Short: cmdHostHeartbeatShort,
		Run: func(cmd *cobra.Command, args []string) {
			e := openEmbedded(*dataPath)
			addr := proto.HostAddr{Host: host, Port: port}
			if err := e.svc.Heartbeat(addr); err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			stdout("%s\n", colorOK("heartbeat recorded for "+addr.String()))
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Storage host address")
	cmd.Flags().Uint16Var(&port, "port", 0, "Storage host RPC port")
	return cmd
}

func newHostListCmd(dataPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   CliOpList,
		Short: cmdHostListShort,
		Run: func(cmd *cobra.Command, args []string) {
			e := openEmbedded(*dataPath)
			hosts, statuses, err := e.svc.ListHosts()
			if err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			for i, h := range hosts {
				label := colorOK(statuses[i].String())
				if statuses[i] == meta.Offline {
					label = colorBad(statuses[i].String())
				}
				stdout("%-24s %s  last_heartbeat=%s\n", h.Addr.String(), label, h.LastHeartbeat.Format("2006-01-02T15:04:05Z07:00"))
			}
		},
	}
}
