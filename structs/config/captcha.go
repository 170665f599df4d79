// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"

	"github.com/hashicorp/muster/helper/pointer"
)

const (
	// CaptchaCacheEntriesMax caps max_entries. Anything larger holds more
	// image fingerprints than a fleet can plausibly encounter.
	CaptchaCacheEntriesMax = 100000

	// CaptchaHashMethodAverage fingerprints challenge images with an 8x8
	// average hash so visually similar images share an answer.
	CaptchaHashMethodAverage = "average"

	// CaptchaHashMethodExact fingerprints challenge images with an MD5 sum
	// so only byte-identical images share an answer.
	CaptchaHashMethodExact = "exact"
)

// CaptchaConfig is the configuration specific to the Captcha block. It
// controls the per-target cache of solved challenge images.
type CaptchaConfig struct {
	// Enabled turns answer caching on. Defaults to false.
	Enabled *bool `hcl:"enabled"`

	// MaxEntries is the maximum number of answers cached per target. Zero
	// disables the bound. Must be within [0, 100000]. Defaults to 5000.
	MaxEntries *int `hcl:"max_entries"`

	// HashMethod selects how challenge images are fingerprinted, either
	// "average" or "exact". Defaults to "average".
	HashMethod *string `hcl:"hash_method"`
}

func (c *CaptchaConfig) Copy() *CaptchaConfig {
	if c == nil {
		return nil
	}
	return &CaptchaConfig{
		Enabled:    pointer.Copy(c.Enabled),
		MaxEntries: pointer.Copy(c.MaxEntries),
		HashMethod: pointer.Copy(c.HashMethod),
	}
}

func (c *CaptchaConfig) Merge(o *CaptchaConfig) *CaptchaConfig {
	switch {
	case c == nil:
		return o.Copy()
	case o == nil:
		return c.Copy()
	default:
		return &CaptchaConfig{
			Enabled:    pointer.Merge(c.Enabled, o.Enabled),
			MaxEntries: pointer.Merge(c.MaxEntries, o.MaxEntries),
			HashMethod: pointer.Merge(c.HashMethod, o.HashMethod),
		}
	}
}

func (c *CaptchaConfig) Equal(o *CaptchaConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	switch {
	case !pointer.Eq(c.Enabled, o.Enabled):
		return false
	case !pointer.Eq(c.MaxEntries, o.MaxEntries):
		return false
	case !pointer.Eq(c.HashMethod, o.HashMethod):
		return false
	}
	return true
}

func (c *CaptchaConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("captcha must not be nil")
	}

	if c.Enabled == nil {
		return fmt.Errorf("enabled must be set")
	}

	if c.MaxEntries == nil {
		return fmt.Errorf("max_entries must be set")
	}
	if v := *c.MaxEntries; v < 0 || v > CaptchaCacheEntriesMax {
		return fmt.Errorf("max_entries must be within [0, %d] but found %d", CaptchaCacheEntriesMax, v)
	}

	if c.HashMethod == nil {
		return fmt.Errorf("hash_method must be set")
	}
	switch *c.HashMethod {
	case CaptchaHashMethodAverage, CaptchaHashMethodExact:
	default:
		return fmt.Errorf("hash_method must be %q or %q but found %q",
			CaptchaHashMethodAverage, CaptchaHashMethodExact, *c.HashMethod)
	}

	return nil
}

func DefaultCaptchaConfig() *CaptchaConfig {
	return &CaptchaConfig{
		// Caching is opt-in.
		Enabled: pointer.Of(false),

		// Plenty for a fleet while bounding memory use.
		MaxEntries: pointer.Of(5000),

		// Perceptual matching tolerates recompressed challenge images.
		HashMethod: pointer.Of(CaptchaHashMethodAverage),
	}
}
