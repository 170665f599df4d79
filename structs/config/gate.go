// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/muster/helper/pointer"
)

const (
	// GateTimeoutMin and GateTimeoutMax bound the configurable gate_timeout
	// value. Waiting less than 30 seconds defeats the point of batching and
	// waiting more than an hour just hides stuck sessions.
	GateTimeoutMin = 30 * time.Second
	GateTimeoutMax = 1 * time.Hour
)

// GateConfig is the configuration specific to the Gate block. It controls
// whether session workers rendezvous behind a threshold gate before engaging
// their targets.
type GateConfig struct {
	// Enabled turns threshold gating on. When disabled workers pass the gate
	// immediately. Defaults to false.
	Enabled *bool `hcl:"enabled"`

	// ReadyThresholdPercent is the percentage of expected workers that must
	// report ready before the gate opens. Must be within [1, 100]. Defaults
	// to 60.
	ReadyThresholdPercent *int `hcl:"ready_threshold_percent"`

	// GateTimeout is the maximum duration a worker blocks on the gate before
	// it is released anyway. Must be within [30s, 1h]. Defaults to 5m.
	GateTimeout *string `hcl:"gate_timeout"`
}

func (g *GateConfig) Copy() *GateConfig {
	if g == nil {
		return nil
	}
	return &GateConfig{
		Enabled:               pointer.Copy(g.Enabled),
		ReadyThresholdPercent: pointer.Copy(g.ReadyThresholdPercent),
		GateTimeout:           pointer.Copy(g.GateTimeout),
	}
}

func (g *GateConfig) Merge(o *GateConfig) *GateConfig {
	switch {
	case g == nil:
		return o.Copy()
	case o == nil:
		return g.Copy()
	default:
		return &GateConfig{
			Enabled:               pointer.Merge(g.Enabled, o.Enabled),
			ReadyThresholdPercent: pointer.Merge(g.ReadyThresholdPercent, o.ReadyThresholdPercent),
			GateTimeout:           pointer.Merge(g.GateTimeout, o.GateTimeout),
		}
	}
}

func (g *GateConfig) Equal(o *GateConfig) bool {
	if g == nil || o == nil {
		return g == o
	}
	switch {
	case !pointer.Eq(g.Enabled, o.Enabled):
		return false
	case !pointer.Eq(g.ReadyThresholdPercent, o.ReadyThresholdPercent):
		return false
	case !pointer.Eq(g.GateTimeout, o.GateTimeout):
		return false
	}
	return true
}

func (g *GateConfig) Validate() error {
	if g == nil {
		return fmt.Errorf("gate must not be nil")
	}

	if g.Enabled == nil {
		return fmt.Errorf("enabled must be set")
	}

	if g.ReadyThresholdPercent == nil {
		return fmt.Errorf("ready_threshold_percent must be set")
	}
	if v := *g.ReadyThresholdPercent; v < 1 || v > 100 {
		return fmt.Errorf("ready_threshold_percent must be within [1, 100] but found %d", v)
	}

	if g.GateTimeout == nil {
		return fmt.Errorf("gate_timeout must be set")
	}
	if v, err := time.ParseDuration(*g.GateTimeout); err != nil {
		return fmt.Errorf("gate_timeout not a valid duration: %w", err)
	} else if v < GateTimeoutMin || v > GateTimeoutMax {
		return fmt.Errorf("gate_timeout must be within [%s, %s] but found %s", GateTimeoutMin, GateTimeoutMax, v)
	}

	return nil
}

func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		// Gating is opt-in. Most sessions want workers connecting as soon as
		// they are provisioned.
		Enabled: pointer.Of(false),

		// Open once 60% of the expected workers report ready.
		ReadyThresholdPercent: pointer.Of(60),

		// Give stragglers five minutes before releasing everyone regardless.
		GateTimeout: pointer.Of("5m"),
	}
}
