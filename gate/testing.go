// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"testing"

	"github.com/hashicorp/muster/testutil"
)

func RequireOpen(t testing.TB, g *Gate) {
	requireChannelPassing(t, g.WaitCh())
}

func RequireClosed(t testing.TB, g *Gate) {
	requireChannelBlocking(t, g.WaitCh())
}

func requireChannelPassing(t testing.TB, ch <-chan struct{}) {
	testutil.WaitForResult(func() (bool, error) {
		return !isChannelBlocking(ch), nil
	}, func(_ error) {
		t.Fatal("gate channel was blocking, should be passing")
	})
}

func requireChannelBlocking(t testing.TB, ch <-chan struct{}) {
	testutil.WaitForResult(func() (bool, error) {
		return isChannelBlocking(ch), nil
	}, func(_ error) {
		t.Fatal("gate channel was passing, should be blocking")
	})
}

func isChannelBlocking(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return false
	default:
		return true
	}
}
