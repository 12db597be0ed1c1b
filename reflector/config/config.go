// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the top-level configuration for cmd/reflector,
// loaded from YAML with gopkg.in/validator.v2 struct tags, matching the
// teacher's configuration/config.go conventions.
package config

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"github.com/feitianyiren/prism/metrics"
	"github.com/feitianyiren/prism/reflector/listener"
)

// FakeRedis is the sentinel "redis server" value selecting the
// in-memory fakeindex/MemStore backends instead of Redis.
const FakeRedis = "fake"

// Config is cmd/reflector's full configuration, corresponding to §6's
// documented options.
type Config struct {
	Listen string `yaml:"listen"`

	Hosts       []string `yaml:"hosts" validate:"nonzero"`
	MaxBlobs    int      `yaml:"max_blobs"`
	BlobDir     string   `yaml:"blob_directory" validate:"nonzero"`
	Workers     int      `yaml:"workers"`
	RedisServer string   `yaml:"redis_server"`

	EnqueueOnStartup bool `yaml:"enqueue_on_startup"`
	Verbose          bool `yaml:"verbose"`

	Metrics metrics.Config `yaml:"metrics"`

	// Debug is the address for the ambient debug/status HTTP endpoint
	// (§6's supplemented debug page). Empty disables it.
	Debug string `yaml:"debug"`
}

// applyDefaults fills in §6's documented defaults for any field left
// at its zero value.
func (c Config) applyDefaults() Config {
	if c.Listen == "" {
		c.Listen = "localhost"
	}
	if len(c.Hosts) == 0 {
		c.Hosts = []string{"jack.lbry.tech"}
	}
	if c.MaxBlobs == 0 {
		c.MaxBlobs = 480000
	}
	if c.BlobDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.BlobDir = filepath.Join(home, ".prism")
		} else {
			c.BlobDir = ".prism"
		}
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.RedisServer == "" {
		c.RedisServer = "localhost"
	}
	return c
}

// IsFakeBackend reports whether RedisServer selects the in-memory test
// double instead of a real Redis server.
func (c Config) IsFakeBackend() bool {
	return c.RedisServer == FakeRedis
}

// ListenerConfig derives reflector/listener.Config from the single
// "listen" option: a bare host defaults to listener.DefaultPort, an
// "addr:port" pair keeps its explicit port.
func (c Config) ListenerConfig() listener.Config {
	addr, portStr, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return listener.Config{Addr: c.Listen, Port: listener.DefaultPort}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return listener.Config{Addr: c.Listen, Port: listener.DefaultPort}
	}
	return listener.Config{Addr: addr, Port: port}
}

// Load reads and validates YAML configuration from path, applying
// §6's defaults to any field left unset.
func Load(path string) (Config, error) {
	var c Config
	// enqueue_on_startup defaults to true, so its zero value must be
	// distinguished from an explicit "false" before unmarshaling.
	c.EnqueueOnStartup = true

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %s", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %s", err)
	}
	c = c.applyDefaults()
	if err := validator.Validate(c); err != nil {
		return Config{}, fmt.Errorf("validate config: %s", err)
	}
	return c, nil
}
