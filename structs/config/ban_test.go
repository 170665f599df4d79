// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"testing"

	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/helper/pointer"
	"github.com/stretchr/testify/require"
)

func TestBanConfig_Copy(t *testing.T) {
	ci.Parallel(t)

	a := DefaultBanConfig()
	b := a.Copy()
	require.Equal(t, a, b)
	require.True(t, a.Equal(b))

	// Mutating the copy must not leak into the source.
	b.Enabled = pointer.Of(true)
	b.BanPatterns[0] = "different"
	require.NotEqual(t, a, b)
	require.Equal(t, "banned", a.BanPatterns[0])
}

func TestBanConfig_Merge(t *testing.T) {
	ci.Parallel(t)

	testCases := []struct {
		name     string
		source   *BanConfig
		other    *BanConfig
		expected *BanConfig
	}{
		{
			name: "other patterns replace source patterns",
			source: &BanConfig{
				Enabled:     pointer.Of(false),
				BanPatterns: []string{"banned"},
			},
			other: &BanConfig{
				Enabled:     pointer.Of(true),
				BanPatterns: []string{"exiled", "shunned"},
			},
			expected: &BanConfig{
				Enabled:     pointer.Of(true),
				BanPatterns: []string{"exiled", "shunned"},
			},
		},
		{
			name: "empty other patterns keep source patterns",
			source: &BanConfig{
				Enabled:            pointer.Of(false),
				BanPatterns:        []string{"banned"},
				AddressBanPatterns: []string{"your ip"},
			},
			other: &BanConfig{
				Enabled: pointer.Of(true),
			},
			expected: &BanConfig{
				Enabled:            pointer.Of(true),
				BanPatterns:        []string{"banned"},
				AddressBanPatterns: []string{"your ip"},
			},
		},
		{
			name:   "null source",
			source: nil,
			other: &BanConfig{
				Enabled: pointer.Of(true),
			},
			expected: &BanConfig{
				Enabled: pointer.Of(true),
			},
		},
		{
			name: "null other",
			source: &BanConfig{
				Enabled: pointer.Of(false),
			},
			other: nil,
			expected: &BanConfig{
				Enabled: pointer.Of(false),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.source.Merge(tc.other)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestBanConfig_Validate(t *testing.T) {
	ci.Parallel(t)

	testCases := []struct {
		name          string
		config        func(*BanConfig)
		expectedError string
	}{
		{
			name:          "default config is valid",
			config:        nil,
			expectedError: "",
		},
		{
			name: "missing enabled",
			config: func(b *BanConfig) {
				b.Enabled = nil
			},
			expectedError: "enabled must be set",
		},
		{
			name: "empty ban pattern",
			config: func(b *BanConfig) {
				b.BanPatterns = append(b.BanPatterns, "")
			},
			expectedError: "ban_patterns must not contain empty patterns",
		},
		{
			name: "empty address ban pattern",
			config: func(b *BanConfig) {
				b.AddressBanPatterns = []string{""}
			},
			expectedError: "address_ban_patterns must not contain empty patterns",
		},
		{
			name: "invalid regex is allowed",
			config: func(b *BanConfig) {
				b.BanPatterns = []string{"banned [forever"}
			},
			expectedError: "",
		},
		{
			name: "missing remove banned accounts",
			config: func(b *BanConfig) {
				b.RemoveBannedAccounts = nil
			},
			expectedError: "remove_banned_accounts must be set",
		},
		{
			name: "replacement delay min invalid",
			config: func(b *BanConfig) {
				b.ReplacementDelayMin = pointer.Of("soon")
			},
			expectedError: "replacement_delay_min not a valid duration",
		},
		{
			name: "replacement delay min negative",
			config: func(b *BanConfig) {
				b.ReplacementDelayMin = pointer.Of("-1s")
			},
			expectedError: "replacement_delay_min must be >= 0",
		},
		{
			name: "replacement delay max below min",
			config: func(b *BanConfig) {
				b.ReplacementDelayMin = pointer.Of("10s")
				b.ReplacementDelayMax = pointer.Of("2s")
			},
			expectedError: "replacement_delay_max must be >= replacement_delay_min",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := DefaultBanConfig()
			if tc.config != nil {
				tc.config(b)
			}

			err := b.Validate()
			if tc.expectedError == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.expectedError)
			}
		})
	}
}
