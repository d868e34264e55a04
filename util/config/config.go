// Package config loads the JSON configuration file shared by metad and
// storaged and exposes the typed GetXxx accessors used across the daemon.
package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config is a flat, JSON-backed key/value configuration.
type Config struct {
	data map[string]interface{}
}

// LoadConfigFile reads and parses the JSON file at path.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{data: make(map[string]interface{})}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConfig builds a Config from an in-memory map, mainly for tests.
func NewConfig(data map[string]interface{}) *Config {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Config{data: data}
}

// SetIfAbsent stores value under key unless the config file already set
// it, so a CLI flag's default never clobbers an operator's config-file
// override.
func (c *Config) SetIfAbsent(key string, value interface{}) {
	if _, ok := c.data[key]; ok {
		return
	}
	c.data[key] = value
}

// Set unconditionally stores value under key, for a CLI flag the
// operator explicitly passed (it must win over the config file).
func (c *Config) Set(key string, value interface{}) {
	c.data[key] = value
}

func (c *Config) GetString(key string) string {
	v, ok := c.data[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c *Config) GetInt64(key string) int64 {
	v, ok := c.data[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func (c *Config) GetFloat(key string) float64 {
	v, ok := c.data[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func (c *Config) GetBool(key string) bool {
	v, ok := c.data[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// GetSlice returns a raw []interface{} for array-valued keys (peer
// lists, bootstrap addresses).
func (c *Config) GetSlice(key string) []interface{} {
	v, ok := c.data[key]
	if !ok {
		return nil
	}
	s, _ := v.([]interface{})
	return s
}

// GetStringSlice is a convenience wrapper over GetSlice for the common case
// of a list of strings (peer addresses, bootstrap hosts).
func (c *Config) GetStringSlice(key string) []string {
	raw := c.GetSlice(key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
