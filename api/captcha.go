// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"errors"
	"net/url"
)

// Captcha is used to query the challenge answer cache endpoints.
type Captcha struct {
	client *Client
}

// Captcha returns a new handle on the challenge answer cache.
func (c *Client) Captcha() *Captcha {
	return &Captcha{client: c}
}

// Store caches the answer for a challenge. The request carries either the
// raw challenge image, fingerprinted by the agent, or a precomputed
// fingerprint.
func (c *Captcha) Store(req *CaptchaStoreRequest, w *WriteOptions) (*CaptchaStoreResponse, error) {
	if req == nil {
		return nil, errors.New("missing store request")
	}
	var resp CaptchaStoreResponse
	if err := c.client.write("/v1/captcha", req, &resp, w); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Lookup resolves a challenge against the cache. A miss is not an error;
// check Found on the response.
func (c *Captcha) Lookup(req *CaptchaLookupRequest, w *WriteOptions) (*CaptchaLookupResponse, error) {
	if req == nil {
		return nil, errors.New("missing lookup request")
	}
	var resp CaptchaLookupResponse
	if err := c.client.write("/v1/captcha/lookup", req, &resp, w); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns cache statistics for the whole cache and per target.
func (c *Captcha) Stats(q *QueryOptions) (*CaptchaStatsResponse, error) {
	var resp CaptchaStatsResponse
	if err := c.client.query("/v1/captcha/stats", &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TargetStats returns cache statistics for a single target.
func (c *Captcha) TargetStats(target string, q *QueryOptions) (*CaptchaStats, error) {
	if target == "" {
		return nil, errors.New("missing target")
	}
	var resp CaptchaStats
	if err := c.client.query("/v1/captcha/stats?target="+url.QueryEscape(target), &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear drops the cached answers for one target, or for every target when
// target is empty.
func (c *Captcha) Clear(target string, w *WriteOptions) error {
	path := "/v1/captcha"
	if target != "" {
		path += "?target=" + url.QueryEscape(target)
	}
	return c.client.delete(path, nil, w)
}

// CaptchaStoreRequest caches the answer for a challenge image. Image holds
// the raw image bytes, base64 in JSON form; alternatively the caller may
// supply a precomputed Fingerprint.
type CaptchaStoreRequest struct {
	Target      string
	Image       []byte
	Fingerprint string
	Answer      string
}

// CaptchaStoreResponse is returned when a challenge answer was cached.
type CaptchaStoreResponse struct {
	Target      string
	Fingerprint string
}

// CaptchaLookupRequest queries the challenge answer cache.
type CaptchaLookupRequest struct {
	Target      string
	Image       []byte
	Fingerprint string
}

// CaptchaLookupResponse is the result of a cache lookup.
type CaptchaLookupResponse struct {
	Target      string
	Fingerprint string
	Answer      string
	Found       bool
}

// CaptchaStats summarizes one target's challenge answer cache.
type CaptchaStats struct {
	Target string
	Size   int
	Hits   uint64
	Misses uint64

	// HitRate is the fraction of lookups that hit, in [0, 1].
	HitRate float64
}

// CaptchaStatsResponse aggregates cache statistics across targets.
type CaptchaStatsResponse struct {
	Total   *CaptchaStats   `json:"total"`
	Targets []*CaptchaStats `json:"targets"`
}
