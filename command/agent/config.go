// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/muster/helper/pointer"
	"github.com/hashicorp/muster/structs/config"
	"github.com/hashicorp/muster/version"
)

// Config is the configuration for the Muster agent.
type Config struct {
	// BindAddr is the host:port pair the agent HTTP API listens on.
	BindAddr string `hcl:"bind_addr"`

	// LogLevel is the level of the logs to put out
	LogLevel string `hcl:"log_level"`

	// LogJson enables log output in a JSON format
	LogJson bool `hcl:"log_json"`

	// EnableDebug is used to enable debugging HTTP endpoints
	EnableDebug bool `hcl:"enable_debug"`

	// HTTPAPIResponseHeaders allows configuring the agent to set arbitrary
	// headers on API responses
	HTTPAPIResponseHeaders map[string]string `hcl:"http_api_response_headers"`

	// EventBufferSize is the number of events the in-process broker keeps
	// buffered for replay to slow subscribers.
	EventBufferSize *int `hcl:"event_buffer_size"`

	// Gate is the default gate configuration applied to sessions that do
	// not carry their own. Sessions may override any field.
	Gate *config.GateConfig `hcl:"gate"`

	// Ban is the default disconnect classification configuration applied to
	// sessions that do not carry their own.
	Ban *config.BanConfig `hcl:"ban"`

	// Captcha configures the agent wide challenge answer cache.
	Captcha *config.CaptchaConfig `hcl:"captcha"`

	// Telemetry is used to configure sending telemetry
	Telemetry *Telemetry `hcl:"telemetry"`

	// DevMode is set by the -dev CLI flag.
	DevMode bool `hcl:"-"`

	// Version information is set at compilation time
	Version *version.VersionInfo `hcl:"-"`

	// List of config files that have been loaded (in order)
	Files []string `hcl:"-"`

	// ExtraKeysHCL is used by hcl to surface unexpected keys
	ExtraKeysHCL []string `hcl:",unusedKeys" json:"-"`
}

// Telemetry is the telemetry configuration for the agent.
type Telemetry struct {
	StatsiteAddr       string `hcl:"statsite_address"`
	StatsdAddr         string `hcl:"statsd_address"`
	DisableHostname    bool   `hcl:"disable_hostname"`
	CollectionInterval string `hcl:"collection_interval"`

	collectionInterval time.Duration `hcl:"-"`
}

// Copy returns a deep copy of the telemetry block.
func (t *Telemetry) Copy() *Telemetry {
	if t == nil {
		return nil
	}
	nt := *t
	return &nt
}

// Merge is used to merge two telemetry configs together, with the b fields
// taking precedence where set.
func (t *Telemetry) Merge(b *Telemetry) *Telemetry {
	result := *t

	if b.StatsiteAddr != "" {
		result.StatsiteAddr = b.StatsiteAddr
	}
	if b.StatsdAddr != "" {
		result.StatsdAddr = b.StatsdAddr
	}
	if b.DisableHostname {
		result.DisableHostname = true
	}
	if b.CollectionInterval != "" {
		result.CollectionInterval = b.CollectionInterval
	}
	if b.collectionInterval != 0 {
		result.collectionInterval = b.collectionInterval
	}
	return &result
}

// DevConfig is a Config that is used for dev mode of Muster. Every subsystem
// is switched on so a single binary exercises the full surface.
func DevConfig() *Config {
	conf := DefaultConfig()
	conf.LogLevel = "DEBUG"
	conf.DevMode = true
	conf.EnableDebug = true
	conf.Gate.Enabled = pointer.Of(true)
	conf.Ban.Enabled = pointer.Of(true)
	conf.Captcha.Enabled = pointer.Of(true)
	return conf
}

// DefaultConfig is the baseline configuration for Muster.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:        "127.0.0.1:4650",
		LogLevel:        "INFO",
		EventBufferSize: pointer.Of(100),
		Gate:            config.DefaultGateConfig(),
		Ban:             config.DefaultBanConfig(),
		Captcha:         config.DefaultCaptchaConfig(),
		Telemetry: &Telemetry{
			CollectionInterval: "1s",
			collectionInterval: 1 * time.Second,
		},
		Version: version.GetVersion(),
	}
}

// Copy returns a deep copy safe for concurrent readers.
func (c *Config) Copy() *Config {
	if c == nil {
		return nil
	}
	nc := *c
	nc.EventBufferSize = pointer.Copy(c.EventBufferSize)
	nc.HTTPAPIResponseHeaders = maps.Clone(c.HTTPAPIResponseHeaders)
	nc.Gate = c.Gate.Copy()
	nc.Ban = c.Ban.Copy()
	nc.Captcha = c.Captcha.Copy()
	nc.Telemetry = c.Telemetry.Copy()
	nc.Version = c.Version.Copy()
	nc.Files = slices.Clone(c.Files)
	nc.ExtraKeysHCL = slices.Clone(c.ExtraKeysHCL)
	return &nc
}

// Merge merges two configurations.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b == nil {
		return &result
	}

	if b.BindAddr != "" {
		result.BindAddr = b.BindAddr
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJson {
		result.LogJson = true
	}
	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.DevMode {
		result.DevMode = true
	}
	if b.EventBufferSize != nil {
		result.EventBufferSize = pointer.Copy(b.EventBufferSize)
	}
	if len(b.HTTPAPIResponseHeaders) > 0 {
		result.HTTPAPIResponseHeaders = b.HTTPAPIResponseHeaders
	}

	result.Gate = result.Gate.Merge(b.Gate)
	result.Ban = result.Ban.Merge(b.Ban)
	result.Captcha = result.Captcha.Merge(b.Captcha)

	// Apply the telemetry config
	if result.Telemetry == nil && b.Telemetry != nil {
		telemetry := *b.Telemetry
		result.Telemetry = &telemetry
	} else if b.Telemetry != nil {
		result.Telemetry = result.Telemetry.Merge(b.Telemetry)
	}

	// Merge config files lists
	result.Files = append(result.Files, b.Files...)

	return &result
}

// Validate returns an error if the agent configuration is not a runnable
// whole. It expects to be called on a config that has been merged on top of
// DefaultConfig so every block is fully populated.
func (c *Config) Validate() error {
	var mErr multierror.Error

	if c.BindAddr == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("bind_addr must be set"))
	} else if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("bind_addr must be a host:port pair: %v", err))
	}

	if !isLogLevelValid(c.LogLevel) {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("log_level must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), c.LogLevel))
	}

	if c.EventBufferSize != nil && *c.EventBufferSize < 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("event_buffer_size must be >= 0 but found %d", *c.EventBufferSize))
	}

	if err := c.Gate.Validate(); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("gate block invalid: %v", err))
	}
	if err := c.Ban.Validate(); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("ban block invalid: %v", err))
	}
	if err := c.Captcha.Validate(); err != nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("captcha block invalid: %v", err))
	}

	if c.Telemetry != nil && c.Telemetry.collectionInterval <= 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("telemetry.collection_interval must be a positive duration"))
	}

	return mErr.ErrorOrNil()
}

var validLogLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

func isLogLevelValid(level string) bool {
	return slices.Contains(validLogLevels, level)
}

// LoadConfig loads the configuration at the given path, regardless if its a
// file or directory.
func LoadConfig(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return LoadConfigDir(path)
	}

	cleaned := filepath.Clean(path)
	config, err := ParseConfigFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("Error loading %s: %s", cleaned, err)
	}

	config.Files = append(config.Files, cleaned)
	return config, nil
}

// LoadConfigDir loads all the configurations in the given directory in
// alphabetical order.
func LoadConfigDir(dir string) (*Config, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf(
			"configuration path must be a directory: %s", dir)
	}

	var files []string
	err = nil
	for err != io.EOF {
		var fis []os.FileInfo
		fis, err = f.Readdir(128)
		if err != nil && err != io.EOF {
			return nil, err
		}

		for _, fi := range fis {
			// Ignore directories
			if fi.IsDir() {
				continue
			}

			// Only care about files that are valid to load.
			name := fi.Name()
			skip := true
			if strings.HasSuffix(name, ".hcl") {
				skip = false
			} else if strings.HasSuffix(name, ".json") {
				skip = false
			}
			if skip || isTemporaryFile(name) {
				continue
			}

			path := filepath.Join(dir, name)
			files = append(files, path)
		}
	}

	// Fast-path if we have no files
	if len(files) == 0 {
		return &Config{}, nil
	}

	sort.Strings(files)

	var result *Config
	for _, f := range files {
		config, err := ParseConfigFile(f)
		if err != nil {
			return nil, fmt.Errorf("Error loading %s: %s", f, err)
		}
		config.Files = append(config.Files, f)

		if result == nil {
			result = config
		} else {
			result = result.Merge(config)
		}
	}

	return result, nil
}

// isTemporaryFile returns true or false depending on whether the
// provided file name is a temporary file for the following editors:
// emacs or vim.
func isTemporaryFile(name string) bool {
	return strings.HasSuffix(name, "~") || // vim
		strings.HasPrefix(name, ".#") || // emacs
		(strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")) // emacs
}
