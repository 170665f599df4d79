// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/helper/pointer"
	"github.com/hashicorp/muster/structs/config"
	"github.com/stretchr/testify/require"
)

func TestConfig_Merge(t *testing.T) {
	ci.Parallel(t)

	c0 := &Config{}

	c1 := &Config{
		BindAddr:        "127.0.0.1:4650",
		LogLevel:        "INFO",
		LogJson:         false,
		EnableDebug:     false,
		EventBufferSize: pointer.Of(100),
		HTTPAPIResponseHeaders: map[string]string{
			"Access-Control-Allow-Origin": "*",
		},
		Gate: &config.GateConfig{
			Enabled:               pointer.Of(false),
			ReadyThresholdPercent: pointer.Of(60),
			GateTimeout:           pointer.Of("5m"),
		},
		Ban: &config.BanConfig{
			Enabled:              pointer.Of(false),
			BanPatterns:          []string{"banned"},
			RemoveBannedAccounts: pointer.Of(true),
			ReplacementDelayMin:  pointer.Of("1s"),
			ReplacementDelayMax:  pointer.Of("5s"),
		},
		Captcha: &config.CaptchaConfig{
			Enabled:    pointer.Of(false),
			MaxEntries: pointer.Of(5000),
			HashMethod: pointer.Of("average"),
		},
		Telemetry: &Telemetry{
			StatsiteAddr:       "127.0.0.1:8125",
			CollectionInterval: "1s",
			collectionInterval: 1 * time.Second,
		},
	}

	c2 := &Config{
		BindAddr:        "0.0.0.0:4651",
		LogLevel:        "DEBUG",
		LogJson:         true,
		EnableDebug:     true,
		EventBufferSize: pointer.Of(250),
		HTTPAPIResponseHeaders: map[string]string{
			"X-Custom": "yes",
		},
		Gate: &config.GateConfig{
			Enabled:               pointer.Of(true),
			ReadyThresholdPercent: pointer.Of(80),
		},
		Ban: &config.BanConfig{
			Enabled:     pointer.Of(true),
			BanPatterns: []string{"blacklisted", "go away"},
		},
		Captcha: &config.CaptchaConfig{
			Enabled:    pointer.Of(true),
			HashMethod: pointer.Of("exact"),
		},
		Telemetry: &Telemetry{
			StatsdAddr:         "127.0.0.1:8126",
			DisableHostname:    true,
			CollectionInterval: "10s",
			collectionInterval: 10 * time.Second,
		},
	}

	result := c0.Merge(c1)
	result = result.Merge(c2)

	require.Equal(t, "0.0.0.0:4651", result.BindAddr)
	require.Equal(t, "DEBUG", result.LogLevel)
	require.True(t, result.LogJson)
	require.True(t, result.EnableDebug)
	require.Equal(t, 250, *result.EventBufferSize)
	require.Equal(t, map[string]string{"X-Custom": "yes"}, result.HTTPAPIResponseHeaders)

	// Gate fields merge field-wise, the timeout survives from c1.
	require.True(t, *result.Gate.Enabled)
	require.Equal(t, 80, *result.Gate.ReadyThresholdPercent)
	require.Equal(t, "5m", *result.Gate.GateTimeout)

	// Ban patterns replace wholesale, booleans merge field-wise.
	require.True(t, *result.Ban.Enabled)
	require.Equal(t, []string{"blacklisted", "go away"}, result.Ban.BanPatterns)
	require.True(t, *result.Ban.RemoveBannedAccounts)
	require.Equal(t, "1s", *result.Ban.ReplacementDelayMin)

	require.True(t, *result.Captcha.Enabled)
	require.Equal(t, 5000, *result.Captcha.MaxEntries)
	require.Equal(t, "exact", *result.Captcha.HashMethod)

	// Telemetry addresses accumulate across the two configs.
	require.Equal(t, "127.0.0.1:8125", result.Telemetry.StatsiteAddr)
	require.Equal(t, "127.0.0.1:8126", result.Telemetry.StatsdAddr)
	require.True(t, result.Telemetry.DisableHostname)
	require.Equal(t, 10*time.Second, result.Telemetry.collectionInterval)
}

func TestConfig_Copy(t *testing.T) {
	ci.Parallel(t)

	orig := DevConfig()
	orig.HTTPAPIResponseHeaders = map[string]string{"X-Frame-Options": "DENY"}

	dup := orig.Copy()
	require.Equal(t, orig, dup)

	// Mutating the copy must leave the original alone.
	dup.BindAddr = "10.0.0.1:1"
	dup.HTTPAPIResponseHeaders["X-Frame-Options"] = "SAMEORIGIN"
	*dup.Gate.ReadyThresholdPercent = 99
	*dup.EventBufferSize = 1

	require.Equal(t, "127.0.0.1:4650", orig.BindAddr)
	require.Equal(t, "DENY", orig.HTTPAPIResponseHeaders["X-Frame-Options"])
	require.Equal(t, 60, *orig.Gate.ReadyThresholdPercent)
	require.Equal(t, 100, *orig.EventBufferSize)
}

func TestConfig_Validate(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing bind addr",
			mutate:  func(c *Config) { c.BindAddr = "" },
			wantErr: "bind_addr must be set",
		},
		{
			name:    "bind addr without port",
			mutate:  func(c *Config) { c.BindAddr = "127.0.0.1" },
			wantErr: "bind_addr must be a host:port pair",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "LOUD" },
			wantErr: "log_level must be one of",
		},
		{
			name:    "negative event buffer",
			mutate:  func(c *Config) { c.EventBufferSize = pointer.Of(-1) },
			wantErr: "event_buffer_size must be >= 0",
		},
		{
			name:    "gate threshold out of range",
			mutate:  func(c *Config) { c.Gate.ReadyThresholdPercent = pointer.Of(101) },
			wantErr: "gate block invalid",
		},
		{
			name:    "gate timeout below minimum",
			mutate:  func(c *Config) { c.Gate.GateTimeout = pointer.Of("5s") },
			wantErr: "gate block invalid",
		},
		{
			name:    "ban delay inverted",
			mutate: func(c *Config) {
				c.Ban.ReplacementDelayMin = pointer.Of("10s")
				c.Ban.ReplacementDelayMax = pointer.Of("2s")
			},
			wantErr: "ban block invalid",
		},
		{
			name:    "captcha bad hash method",
			mutate:  func(c *Config) { c.Captcha.HashMethod = pointer.Of("fuzzy") },
			wantErr: "captcha block invalid",
		},
		{
			name: "telemetry interval unset",
			mutate: func(c *Config) {
				c.Telemetry.collectionInterval = 0
			},
			wantErr: "telemetry.collection_interval must be a positive duration",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)

			err := c.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestConfig_DevConfig(t *testing.T) {
	ci.Parallel(t)

	c := DevConfig()
	require.NoError(t, c.Validate())
	require.True(t, c.DevMode)
	require.True(t, c.EnableDebug)
	require.Equal(t, "DEBUG", c.LogLevel)
	require.True(t, *c.Gate.Enabled)
	require.True(t, *c.Ban.Enabled)
	require.True(t, *c.Captcha.Enabled)
}

func TestConfig_LoadConfig(t *testing.T) {
	ci.Parallel(t)

	// Fails if the target doesn't exist
	if _, err := LoadConfig("/unicorns/leprechauns"); err == nil {
		t.Fatalf("expected error, got nothing")
	}

	fh, err := os.CreateTemp("", "muster")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	defer os.Remove(fh.Name())

	if _, err := fh.WriteString(`bind_addr = "10.1.1.1:4650"`); err != nil {
		t.Fatalf("err: %s", err)
	}

	// Works on a config file
	config, err := LoadConfig(fh.Name())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if config.BindAddr != "10.1.1.1:4650" {
		t.Fatalf("bad: %#v", config)
	}

	expectedConfigFiles := []string{fh.Name()}
	if !reflect.DeepEqual(config.Files, expectedConfigFiles) {
		t.Errorf("Loaded configs don't match\nExpected\n%+vGot\n%+v\n",
			expectedConfigFiles, config.Files)
	}
}

func TestConfig_LoadConfigDir(t *testing.T) {
	ci.Parallel(t)

	// Fails if the dir doesn't exist.
	if _, err := LoadConfigDir("/unicorns/leprechauns"); err == nil {
		t.Fatalf("expected error, got nothing")
	}

	dir := t.TempDir()

	// Returns empty config on empty dir
	config, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if config == nil {
		t.Fatalf("should not be nil")
	}

	file1 := filepath.Join(dir, "conf1.hcl")
	err = os.WriteFile(file1, []byte(`log_level = "WARN"`), 0600)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	file2 := filepath.Join(dir, "conf2.hcl")
	err = os.WriteFile(file2, []byte(`bind_addr = "10.2.2.2:4650"`), 0600)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	// Ignores non-hcl/json files and editor droppings
	file3 := filepath.Join(dir, "conf3.hcl~")
	err = os.WriteFile(file3, []byte(`log_level = "garbage`), 0600)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	file4 := filepath.Join(dir, "README.md")
	err = os.WriteFile(file4, []byte(`not config`), 0600)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	// Loads and merges the two valid files in alphabetical order
	config, err = LoadConfigDir(dir)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	if config.LogLevel != "WARN" || config.BindAddr != "10.2.2.2:4650" {
		t.Fatalf("bad: %#v", config)
	}

	expectedConfigFiles := []string{file1, file2}
	if !reflect.DeepEqual(config.Files, expectedConfigFiles) {
		t.Errorf("Loaded configs don't match\nExpected\n%+vGot\n%+v\n",
			expectedConfigFiles, config.Files)
	}
}

func TestIsTemporaryFile(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		expect bool
	}{
		{"config.hcl~", true},
		{".#config.hcl", true},
		{"#config.hcl#", true},
		{"config.hcl", false},
		{"config.json", false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.expect, isTemporaryFile(tc.name), tc.name)
	}
}
