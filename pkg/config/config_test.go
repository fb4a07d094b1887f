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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFormAFifteenSecondSlot(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 13500*time.Millisecond, cfg.Display.Hold())
	assert.Equal(t, 1500*time.Millisecond, cfg.Display.Transition())
	assert.Equal(t, 15*time.Second, cfg.Display.SlotDuration())
	assert.Equal(t, cfg.Display.Transition(), cfg.Display.BorrowTimeout())
	assert.Equal(t, 20, cfg.Wall.PoolSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Wall.PoolSize, cfg.Wall.PoolSize)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
display:
  holdSeconds: 5
  transitionSeconds: 1
wall:
  poolSize: 4
redis:
  address: redis.example:6379
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Display.Hold())
	assert.Equal(t, 4, cfg.Wall.PoolSize)
	assert.Equal(t, "redis.example:6379", cfg.Redis.Address)
	// Untouched values keep their defaults.
	assert.Equal(t, "willmusic-screen-sync", cfg.Redis.ChannelName)
	assert.Equal(t, 20, cfg.Display.IdlePoolSize)
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	t.Setenv("WALL_POOL_SIZE", "12")
	t.Setenv("REDIS_ADDRESS", "env.example:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Wall.PoolSize)
	assert.Equal(t, "env.example:6379", cfg.Redis.Address)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Display.HoldSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Wall.PoolSize = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Redis.Address = ""
	assert.Error(t, cfg.Validate())
}
