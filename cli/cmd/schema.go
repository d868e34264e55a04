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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebula-contrib/nebulacore/proto"
)

const (
	cmdSchemaShort    = "Manage tag/edge schemas on the embedded meta partition"
	cmdSchemaGetShort = "Fetch one schema version"
	cmdSchemaPutShort = "Store a schema version, given as JSON"
)

func newSchemaCmd(dataPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CliResourceSchema,
		Short: cmdSchemaShort,
	}
	cmd.AddCommand(newSchemaGetCmd(dataPath))
	cmd.AddCommand(newSchemaPutCmd(dataPath))
	return cmd
}

func newSchemaGetCmd(dataPath *string) *cobra.Command {
	var space uint32
	var id int32
	var version uint64
	cmd := &cobra.Command{
		Use:   CliOpGet,
		Short: cmdSchemaGetShort,
		Run: func(cmd *cobra.Command, args []string) {
			e := openEmbedded(*dataPath)
			schema, err := e.svc.GetSchema(proto.SpaceId(space), proto.SchemaId(id), version)
			if err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(schema, "", "  ")
			stdout("%s\n", out)
		},
	}
	cmd.Flags().Uint32Var(&space, "space", 0, "Space id")
	cmd.Flags().Int32Var(&id, "id", 0, "Schema id")
	cmd.Flags().Uint64Var(&version, "version", 0, "Schema version")
	return cmd
}

func newSchemaPutCmd(dataPath *string) *cobra.Command {
	var space uint32
	var isEdge bool
	var schemaJSON string
	cmd := &cobra.Command{
		Use:   CliOpPut,
		Short: cmdSchemaPutShort,
		Run: func(cmd *cobra.Command, args []string) {
			var schema proto.Schema
			if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
				stderr("Error: invalid --json: %v\n", err)
				os.Exit(1)
			}
			e := openEmbedded(*dataPath)
			if err := e.svc.PutSchema(proto.SpaceId(space), &schema, isEdge); err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			stdout("%s\n", colorOK("schema stored"))
		},
	}
	cmd.Flags().Uint32Var(&space, "space", 0, "Space id")
	cmd.Flags().BoolVar(&isEdge, "edge", false, "Schema describes an edge type rather than a tag")
	cmd.Flags().StringVar(&schemaJSON, "json", "", "Schema, as JSON matching proto.Schema")
	return cmd
}
