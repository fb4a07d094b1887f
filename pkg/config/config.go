// Copyright 2025 UMH Systems GmbH
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

// Package config loads the installation's configuration from a YAML file
// with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"
)

// DisplayConfig drives the display screen's slot cycle.
type DisplayConfig struct {
	// HoldSeconds is how long each note stays on screen.
	HoldSeconds float64 `yaml:"holdSeconds"`
	// TransitionSeconds is the cross-fade between two notes.
	TransitionSeconds float64 `yaml:"transitionSeconds"`
	// BorrowTimeoutSeconds bounds the wait for the wall's borrow reply.
	// Zero means one transition.
	BorrowTimeoutSeconds float64 `yaml:"borrowTimeoutSeconds"`
	// IdlePoolSize is how many recent notes to rotate through when the
	// wall does not answer.
	IdlePoolSize int `yaml:"idlePoolSize"`
}

// WallConfig drives the live wall.
type WallConfig struct {
	// PoolSize is the number of slots on the wall.
	PoolSize int `yaml:"poolSize"`
	// ViewportWidth and ViewportHeight are the initial canvas dimensions.
	ViewportWidth  float64 `yaml:"viewportWidth"`
	ViewportHeight float64 `yaml:"viewportHeight"`
}

// RedisConfig locates the shared store and sync channel.
type RedisConfig struct {
	Address        string `yaml:"address"`
	Password       string `yaml:"password"`
	Database       int    `yaml:"database"`
	ChannelName    string `yaml:"channelName"`
	KeyPrefix      string `yaml:"keyPrefix"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
}

// Config is the whole installation's configuration.
type Config struct {
	Display DisplayConfig `yaml:"display"`
	Wall    WallConfig    `yaml:"wall"`
	Redis   RedisConfig   `yaml:"redis"`

	// MetricsAddress serves Prometheus metrics and health probes.
	MetricsAddress string `yaml:"metricsAddress"`
	// APIAddress serves the submission and wall-state HTTP API.
	APIAddress string `yaml:"apiAddress"`
}

// DefaultConfig returns the installation defaults: a 15 second slot split
// into 13.5s hold and 1.5s transition, nine wall slots, local Redis.
func DefaultConfig() Config {
	return Config{
		Display: DisplayConfig{
			HoldSeconds:       13.5,
			TransitionSeconds: 1.5,
			IdlePoolSize:      20,
		},
		Wall: WallConfig{
			PoolSize:       20,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		Redis: RedisConfig{
			Address:        "localhost:6379",
			ChannelName:    "willmusic-screen-sync",
			KeyPrefix:      "willmusic",
			PollIntervalMs: 2000,
		},
		MetricsAddress: ":9090",
		APIAddress:     ":8080",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; the defaults and
// environment stand alone.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Redis.Address, err = env.GetAsString("REDIS_ADDRESS", false, c.Redis.Address); err != nil {
		return err
	}
	if c.Redis.Password, err = env.GetAsString("REDIS_PASSWORD", false, c.Redis.Password); err != nil {
		return err
	}
	if c.Redis.Database, err = env.GetAsInt("REDIS_DATABASE", false, c.Redis.Database); err != nil {
		return err
	}
	if c.Redis.ChannelName, err = env.GetAsString("SYNC_CHANNEL_NAME", false, c.Redis.ChannelName); err != nil {
		return err
	}
	if c.MetricsAddress, err = env.GetAsString("METRICS_ADDRESS", false, c.MetricsAddress); err != nil {
		return err
	}
	if c.APIAddress, err = env.GetAsString("API_ADDRESS", false, c.APIAddress); err != nil {
		return err
	}
	if c.Wall.PoolSize, err = env.GetAsInt("WALL_POOL_SIZE", false, c.Wall.PoolSize); err != nil {
		return err
	}
	if c.Display.HoldSeconds, err = env.GetAsFloat64("DISPLAY_HOLD_SECONDS", false, c.Display.HoldSeconds); err != nil {
		return err
	}
	if c.Display.TransitionSeconds, err = env.GetAsFloat64("DISPLAY_TRANSITION_SECONDS", false, c.Display.TransitionSeconds); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Display.HoldSeconds <= 0 {
		return fmt.Errorf("display.holdSeconds must be positive, got %v", c.Display.HoldSeconds)
	}
	if c.Display.TransitionSeconds <= 0 {
		return fmt.Errorf("display.transitionSeconds must be positive, got %v", c.Display.TransitionSeconds)
	}
	if c.Display.BorrowTimeoutSeconds < 0 {
		return fmt.Errorf("display.borrowTimeoutSeconds must not be negative, got %v", c.Display.BorrowTimeoutSeconds)
	}
	if c.Wall.PoolSize <= 0 {
		return fmt.Errorf("wall.poolSize must be positive, got %d", c.Wall.PoolSize)
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty")
	}
	return nil
}

// Hold returns the on-screen time per note.
func (c *DisplayConfig) Hold() time.Duration {
	return time.Duration(c.HoldSeconds * float64(time.Second))
}

// Transition returns the cross-fade duration.
func (c *DisplayConfig) Transition() time.Duration {
	return time.Duration(c.TransitionSeconds * float64(time.Second))
}

// BorrowTimeout returns the borrow reply deadline, defaulting to one
// transition.
func (c *DisplayConfig) BorrowTimeout() time.Duration {
	if c.BorrowTimeoutSeconds <= 0 {
		return c.Transition()
	}
	return time.Duration(c.BorrowTimeoutSeconds * float64(time.Second))
}

// SlotDuration returns hold plus transition, the full cycle per note.
func (c *DisplayConfig) SlotDuration() time.Duration {
	return c.Hold() + c.Transition()
}

// PollInterval returns the store polling cadence.
func (c *RedisConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
