// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package banwatch classifies the disconnect messages workers receive from
// targets and rotates burned credentials out of the session's pools.
package banwatch

import (
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Verdict is the result of classifying a disconnect message.
type Verdict int

const (
	// VerdictNone means the message does not look like a ban.
	VerdictNone Verdict = iota

	// VerdictAccountBan means the target banned the worker's account.
	VerdictAccountBan

	// VerdictAddressBan means the target banned the worker's address. This
	// verdict wins when a message matches both pattern lists, since an
	// address ban usually produces account ban phrasing too.
	VerdictAddressBan
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccountBan:
		return "account-ban"
	case VerdictAddressBan:
		return "address-ban"
	default:
		return "none"
	}
}

// matcher matches one configured pattern, either as a compiled regular
// expression or as a literal substring when the pattern does not compile.
type matcher struct {
	re     *regexp.Regexp
	substr string
}

func (m *matcher) match(lowered string) bool {
	if m.re != nil {
		return m.re.MatchString(lowered)
	}
	return strings.Contains(lowered, m.substr)
}

// Classifier decides whether a disconnect message is an account ban, an
// address ban or neither. It is immutable once built and safe for
// concurrent use.
type Classifier struct {
	account []*matcher
	address []*matcher
}

// NewClassifier compiles the configured pattern lists. Matching is case
// insensitive. A pattern that fails to compile as a regular expression is
// kept as a literal substring match rather than rejected, so one bad entry
// does not disable classification.
func NewClassifier(logger hclog.Logger, accountPatterns, addressPatterns []string) *Classifier {
	logger = logger.Named("ban_classifier")
	return &Classifier{
		account: compile(logger, accountPatterns),
		address: compile(logger, addressPatterns),
	}
}

func compile(logger hclog.Logger, patterns []string) []*matcher {
	matchers := make([]*matcher, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Warn("pattern is not a valid regular expression, matching it as a substring",
				"pattern", p, "error", err)
			matchers = append(matchers, &matcher{substr: strings.ToLower(p)})
			continue
		}
		matchers = append(matchers, &matcher{re: re})
	}
	return matchers
}

// Classify returns the verdict for a disconnect message. Address patterns
// are checked first and short-circuit the account patterns.
func (c *Classifier) Classify(message string) Verdict {
	lowered := strings.ToLower(message)

	for _, m := range c.address {
		if m.match(lowered) {
			return VerdictAddressBan
		}
	}
	for _, m := range c.account {
		if m.match(lowered) {
			return VerdictAccountBan
		}
	}
	return VerdictNone
}
