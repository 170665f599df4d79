// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package interfaces

// RunnerHook is a lifecycle hook into the life cycle of a session runner.
type RunnerHook interface {
	Name() string
}

// A RunnerPrerunHook is executed before the session accepts worker traffic.
// A prerun error fails the session.
type RunnerPrerunHook interface {
	RunnerHook
	Prerun() error
}

// A RunnerPostrunHook is executed after the session ends, even when prerun
// failed. Therefore Postrun hooks must be safe to call without first calling
// Prerun hooks.
type RunnerPostrunHook interface {
	RunnerHook
	Postrun() error
}

// ShutdownHook may be implemented by runner hooks and will be called when the
// agent process is being shutdown gracefully. Unlike Postrun it must not
// block on anything but stopping the hook's own goroutines.
type ShutdownHook interface {
	RunnerHook

	Shutdown()
}
