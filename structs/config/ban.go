// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/muster/helper/pointer"
)

// BanConfig is the configuration specific to the Ban block. It controls how
// disconnect messages are classified into account bans and address bans, and
// whether banned accounts are rotated out of the pool.
type BanConfig struct {
	// Enabled turns classification of disconnect messages on. Defaults to
	// false.
	Enabled *bool `hcl:"enabled"`

	// BanPatterns are case-insensitive regular expressions matched against a
	// disconnect message to detect an account ban. A pattern that fails to
	// compile is matched as a literal substring instead.
	BanPatterns []string `hcl:"ban_patterns"`

	// AddressBanPatterns are case-insensitive regular expressions matched
	// against a disconnect message to detect an address level ban. These are
	// checked before BanPatterns and win on overlap. A pattern that fails to
	// compile is matched as a literal substring instead.
	AddressBanPatterns []string `hcl:"address_ban_patterns"`

	// RemoveBannedAccounts removes an account from the session pool once it
	// is classified as banned. Defaults to true.
	RemoveBannedAccounts *bool `hcl:"remove_banned_accounts"`

	// ReplacementDelayMin and ReplacementDelayMax bound the randomized delay
	// before a replacement account is activated. Defaults to 1s and 5s.
	ReplacementDelayMin *string `hcl:"replacement_delay_min"`
	ReplacementDelayMax *string `hcl:"replacement_delay_max"`
}

func (b *BanConfig) Copy() *BanConfig {
	if b == nil {
		return nil
	}
	return &BanConfig{
		Enabled:              pointer.Copy(b.Enabled),
		BanPatterns:          slices.Clone(b.BanPatterns),
		AddressBanPatterns:   slices.Clone(b.AddressBanPatterns),
		RemoveBannedAccounts: pointer.Copy(b.RemoveBannedAccounts),
		ReplacementDelayMin:  pointer.Copy(b.ReplacementDelayMin),
		ReplacementDelayMax:  pointer.Copy(b.ReplacementDelayMax),
	}
}

func (b *BanConfig) Merge(o *BanConfig) *BanConfig {
	switch {
	case b == nil:
		return o.Copy()
	case o == nil:
		return b.Copy()
	default:
		result := &BanConfig{
			Enabled:              pointer.Merge(b.Enabled, o.Enabled),
			BanPatterns:          slices.Clone(b.BanPatterns),
			AddressBanPatterns:   slices.Clone(b.AddressBanPatterns),
			RemoveBannedAccounts: pointer.Merge(b.RemoveBannedAccounts, o.RemoveBannedAccounts),
			ReplacementDelayMin:  pointer.Merge(b.ReplacementDelayMin, o.ReplacementDelayMin),
			ReplacementDelayMax:  pointer.Merge(b.ReplacementDelayMax, o.ReplacementDelayMax),
		}
		if len(o.BanPatterns) != 0 {
			result.BanPatterns = slices.Clone(o.BanPatterns)
		}
		if len(o.AddressBanPatterns) != 0 {
			result.AddressBanPatterns = slices.Clone(o.AddressBanPatterns)
		}
		return result
	}
}

func (b *BanConfig) Equal(o *BanConfig) bool {
	if b == nil || o == nil {
		return b == o
	}
	switch {
	case !pointer.Eq(b.Enabled, o.Enabled):
		return false
	case !slices.Equal(b.BanPatterns, o.BanPatterns):
		return false
	case !slices.Equal(b.AddressBanPatterns, o.AddressBanPatterns):
		return false
	case !pointer.Eq(b.RemoveBannedAccounts, o.RemoveBannedAccounts):
		return false
	case !pointer.Eq(b.ReplacementDelayMin, o.ReplacementDelayMin):
		return false
	case !pointer.Eq(b.ReplacementDelayMax, o.ReplacementDelayMax):
		return false
	}
	return true
}

func (b *BanConfig) Validate() error {
	if b == nil {
		return fmt.Errorf("ban must not be nil")
	}

	if b.Enabled == nil {
		return fmt.Errorf("enabled must be set")
	}

	// Patterns that fail to compile degrade to substring matching, so only
	// reject patterns that cannot match anything at all.
	for _, p := range b.BanPatterns {
		if p == "" {
			return fmt.Errorf("ban_patterns must not contain empty patterns")
		}
	}
	for _, p := range b.AddressBanPatterns {
		if p == "" {
			return fmt.Errorf("address_ban_patterns must not contain empty patterns")
		}
	}

	if b.RemoveBannedAccounts == nil {
		return fmt.Errorf("remove_banned_accounts must be set")
	}

	if b.ReplacementDelayMin == nil {
		return fmt.Errorf("replacement_delay_min must be set")
	}
	minDelay, err := time.ParseDuration(*b.ReplacementDelayMin)
	if err != nil {
		return fmt.Errorf("replacement_delay_min not a valid duration: %w", err)
	}
	if minDelay < 0 {
		return fmt.Errorf("replacement_delay_min must be >= 0 but found %s", minDelay)
	}

	if b.ReplacementDelayMax == nil {
		return fmt.Errorf("replacement_delay_max must be set")
	}
	maxDelay, err := time.ParseDuration(*b.ReplacementDelayMax)
	if err != nil {
		return fmt.Errorf("replacement_delay_max not a valid duration: %w", err)
	}
	if maxDelay < minDelay {
		return fmt.Errorf("replacement_delay_max must be >= replacement_delay_min but found %s < %s", maxDelay, minDelay)
	}

	return nil
}

func DefaultBanConfig() *BanConfig {
	return &BanConfig{
		// Classification is opt-in alongside gating.
		Enabled: pointer.Of(false),

		// Account level phrases commonly returned by servers on kick.
		BanPatterns: []string{
			"banned",
			"permanently banned",
			"temporarily banned",
			"you have been banned",
			"ban.*appeal",
			"blacklisted",
			"you are banned",
		},

		// Address level phrases, checked before the account patterns.
		AddressBanPatterns: []string{
			"ip.*banned",
			"your ip",
			"ip address.*banned",
			"connection.*blocked",
			"too many connections",
			"rate.*limit",
			"vpn.*detected",
			"proxy.*detected",
		},

		// Rotate banned accounts out of the pool so replacements engage.
		RemoveBannedAccounts: pointer.Of(true),

		// Stagger replacement activation to avoid a reconnection stampede.
		ReplacementDelayMin: pointer.Of("1s"),
		ReplacementDelayMax: pointer.Of("5s"),
	}
}
