// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package pointer provides helper functions related to Go pointers.
package pointer

// Of returns a pointer to a.
func Of[A any](a A) *A {
	return &a
}

// Copy returns a new pointer to a.
func Copy[A any](a *A) *A {
	if a == nil {
		return nil
	}
	na := *a
	return &na
}

// Merge will return Copy(next) if next is not nil, otherwise Copy(previous).
//
// Used for merging pointer config values with override semantics.
func Merge[A any](previous, next *A) *A {
	if next != nil {
		return Copy(next)
	}
	return Copy(previous)
}

// Eq returns whether a and b are equal in underlying value.
//
// May be used on pointers of comparable types only.
func Eq[A comparable](a, b *A) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
