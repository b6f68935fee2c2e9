// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 10, cfg.MaxConcurrentSessions)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, 86400, cfg.SessionTTLSeconds)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listenAddr: \":9090\"\nredis:\n  host: redis.internal\n  port: 6380\nmaxConcurrentSessions: 4\n",
	), 0o644))

	t.Setenv("MAX_CONCURRENT_SESSIONS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults; environment overrides the file.
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 7, cfg.MaxConcurrentSessions)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero sessions", func(c *Config) { c.MaxConcurrentSessions = 0 }, false},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, false},
		{"stale below heartbeat", func(c *Config) { c.StaleThreshold = c.HeartbeatInterval }, false},
		{"zero ttl", func(c *Config) { c.SessionTTLSeconds = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("AM_TEST_STR", "value")
	assert.Equal(t, "value", ParseString("AM_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", ParseString("AM_TEST_UNSET", "fallback"))

	t.Setenv("AM_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("AM_TEST_INT", 1))
	t.Setenv("AM_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 1, ParseInt("AM_TEST_INT_BAD", 1))

	t.Setenv("AM_TEST_BOOL", "true")
	assert.True(t, ParseBool("AM_TEST_BOOL", false))
	t.Setenv("AM_TEST_BOOL_BAD", "maybe")
	assert.False(t, ParseBool("AM_TEST_BOOL_BAD", false))

	// The daemon reads its pretty-console knob through ParseBool.
	t.Setenv("LOG_PRETTY", "1")
	assert.True(t, ParseBool("LOG_PRETTY", false))

	t.Setenv("AM_TEST_MS", "1500")
	assert.Equal(t, 1500*time.Millisecond, ParseMillis("AM_TEST_MS", time.Second))
	t.Setenv("AM_TEST_MS_NEG", "-5")
	assert.Equal(t, time.Second, ParseMillis("AM_TEST_MS_NEG", time.Second))
}
