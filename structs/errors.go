// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"strings"
)

const (
	errSessionExists   = "session already exists"
	errSessionNotFound = "session not found"
)

var (
	ErrSessionExists   = errors.New(errSessionExists)
	ErrSessionNotFound = errors.New(errSessionNotFound)
)

// IsErrSessionNotFound reports whether the error is due to an unknown
// session. Matching is by substring because the error may have crossed the
// HTTP API and lost its identity.
func IsErrSessionNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), errSessionNotFound)
}

// IsErrSessionExists reports whether the error is due to registering a
// duplicate session ID.
func IsErrSessionExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), errSessionExists)
}
