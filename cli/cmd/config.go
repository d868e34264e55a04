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
	"io/ioutil"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	validator "gopkg.in/go-playground/validator.v9"
)

const (
	cmdConfigShort = "Manage nebulactl's persistent config file"
)

var (
	defaultHomeDir, _ = os.UserHomeDir()
	defaultConfigName = ".nebulactl.json"
	defaultConfigPath = path.Join(defaultHomeDir, defaultConfigName)
	defaultConfigData = []byte(`
{
  "metaServerAddrs": [
    "127.0.0.1:45500"
  ],
  "dataPath": "./nebulactl-data",
  "httpProfPort": 45600
}
`)
	cfgValidator = validator.New()
)

// Config is nebulactl's persistent, validated configuration: a meta-peer
// list, a data path and an admin HTTP port. Only "config set" and
// "config info" read it; the cluster, schema and host commands take
// their store location from the --data-path flag instead.
type Config struct {
	MetaServerAddrs []string `json:"metaServerAddrs" validate:"required,min=1,dive,required"`
	DataPath        string   `json:"dataPath" validate:"required"`
	HTTPProfPort    uint16   `json:"httpProfPort" validate:"required"`
}

func newConfigCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   CliResourceConfig,
		Short: cmdConfigShort,
	}
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigInfoCmd())
	return cmd
}

const (
	cmdConfigSetShort  = "Set values in the config file"
	cmdConfigInfoShort = "Show the config file and the embedded data path's on-disk size"
)

func newConfigSetCmd() *cobra.Command {
	var optMetaAddr string
	var optDataPath string
	var optHTTPProfPort uint16
	var cmd = &cobra.Command{
		Use:   CliOpSet,
		Short: cmdConfigSetShort,
		Long:  `Set nebulactl's config file`,
		Run: func(cmd *cobra.Command, args []string) {
			if optMetaAddr == "" && optDataPath == "" && optHTTPProfPort == 0 {
				stdout("No changes have been set. Input 'nebulactl config set -h' for help.\n")
				return
			}
			config, err := LoadConfig()
			if err != nil {
				stderr("Error: load config file failed: %v\n", err)
				os.Exit(1)
			}
			if optMetaAddr != "" {
				config.MetaServerAddrs = []string{optMetaAddr}
			}
			if optDataPath != "" {
				config.DataPath = optDataPath
			}
			if optHTTPProfPort > 0 {
				config.HTTPProfPort = optHTTPProfPort
			}
			if err := cfgValidator.Struct(config); err != nil {
				stderr("Error: invalid config: %v\n", err)
				os.Exit(1)
			}
			if _, err := setConfig(config); err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			stdout("%s\n", colorOK("Config has been set successfully"))
		},
	}
	cmd.Flags().StringVar(&optMetaAddr, "addr", "", "Specify meta server address [{HOST}:{PORT}]")
	cmd.Flags().StringVar(&optDataPath, "data-path", "", "Specify default embedded data path")
	cmd.Flags().Uint16Var(&optHTTPProfPort, "http-prof-port", 0, "Specify the admin HTTP port")
	return cmd
}

func newConfigInfoCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   CliOpInfo,
		Short: cmdConfigInfoShort,
		Run: func(cmd *cobra.Command, args []string) {
			config, err := LoadConfig()
			if err != nil {
				stderr("Error: %v\n", err)
				os.Exit(1)
			}
			stdout("Meta server addrs:\n  %v\n", config.MetaServerAddrs)
			stdout("Data path:\n  %s\n", config.DataPath)
			stdout("HTTP prof port:\n  %d\n", config.HTTPProfPort)
			if size, modTime, err := dirSize(config.DataPath); err == nil {
				stdout("On-disk size:\n  %s (as of %s)\n", humanize.Bytes(size), humanize.Time(modTime))
			}
		},
	}
	return cmd
}

func setConfig(config *Config) (*Config, error) {
	configData, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	if err := ioutil.WriteFile(defaultConfigPath, configData, 0600); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfig reads nebulactl's config file, seeding it with
// defaultConfigData on first run.
func LoadConfig() (*Config, error) {
	configData, err := ioutil.ReadFile(defaultConfigPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if os.IsNotExist(err) {
		if err := ioutil.WriteFile(defaultConfigPath, defaultConfigData, 0600); err != nil {
			return nil, err
		}
		configData = defaultConfigData
	}
	config := &Config{}
	if err := json.Unmarshal(configData, config); err != nil {
		return nil, err
	}
	return config, nil
}

// dirSize sums file sizes under path and returns the newest mtime seen,
// for the human-readable "on-disk size" line in "config info".
func dirSize(path string) (uint64, time.Time, error) {
	entries, err := ioutil.ReadDir(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	var total uint64
	var newest time.Time
	for _, e := range entries {
		if e.ModTime().After(newest) {
			newest = e.ModTime()
		}
		if e.IsDir() {
			sub, subTime, err := dirSize(path + string(os.PathSeparator) + e.Name())
			if err == nil {
				total += sub
				if subTime.After(newest) {
					newest = subTime
				}
			}
			continue
		}
		total += uint64(e.Size())
	}
	return total, newest, nil
}
